// Package flow implements the turn orchestration state machine: risk
// short-circuit, mood estimation, the conversation-vs-advice gate, draft
// generation, the critic pass, and the final validate-and-repair stage.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CalmCompanion/CalmPipe/internal/models"
	"github.com/CalmCompanion/CalmPipe/internal/mood"
	"github.com/CalmCompanion/CalmPipe/internal/normalize"
	"github.com/CalmCompanion/CalmPipe/internal/risk"
	"github.com/CalmCompanion/CalmPipe/internal/strategy"
)

// State names for the turn state machine. Transitions are strictly forward;
// the crisis short-circuit jumps from StateStart to StateDone.
const (
	StateStart         = "START"
	StateRiskChecked   = "RISK_CHECKED"
	StateMoodEstimated = "MOOD_ESTIMATED"
	StateConversation  = "CONVERSATION_BRANCH"
	StateAdvice        = "ADVICE_BRANCH"
	StateDrafted       = "DRAFTED"
	StateCritiqued     = "CRITIQUED"
	StateRepaired      = "REPAIRED"
	StateDone          = "DONE"
)

// rankTopK is how many candidate cards the advice branch retrieves before
// the generator picks one.
const rankTopK = 3

// GenKind selects the generation behavior for a draft request.
type GenKind string

const (
	// GenKindConversation produces a reflection plus one open question,
	// with no action step.
	GenKindConversation GenKind = "conversation"
	// GenKindAdvice produces a brief reply surfacing exactly one of the
	// supplied candidate steps.
	GenKindAdvice GenKind = "advice"
	// GenKindRewrite rewrites a draft that violated length or formatting
	// constraints.
	GenKindRewrite GenKind = "rewrite"
)

// TurnContext carries the inputs a generation request may need. Fields are
// populated per kind: Cards only for advice, Draft/Strategy only for rewrite.
type TurnContext struct {
	UserText string
	Mood     models.MoodLabel
	Cards    []models.StrategyCard
	Draft    string
	Strategy string
}

// Generator drafts assistant text for a turn. Implementations must honor
// context cancellation and return errors rather than partial text.
type Generator interface {
	Generate(ctx context.Context, kind GenKind, tc TurnContext) (string, error)
}

// Critic reviews a draft against the safety and formatting contract.
// OK=false in the verdict means a hard safety violation; a non-nil error
// means the review itself could not complete and the turn must fail.
type Critic interface {
	Review(ctx context.Context, draft, strategyText string) (models.CriticVerdict, error)
}

// Orchestrator sequences one turn through the pipeline. All dependencies
// are read-only after construction, so one Orchestrator serves concurrent
// requests, each on its own TurnState.
type Orchestrator struct {
	classifier *risk.Classifier
	estimator  *mood.Estimator
	retriever  *strategy.Retriever
	generator  Generator
	critic     Critic
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClassifier overrides the default risk classifier.
func WithClassifier(c *risk.Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithEstimator overrides the default mood estimator.
func WithEstimator(e *mood.Estimator) Option {
	return func(o *Orchestrator) { o.estimator = e }
}

// WithRetriever overrides the default strategy retriever.
func WithRetriever(r *strategy.Retriever) Option {
	return func(o *Orchestrator) { o.retriever = r }
}

// NewOrchestrator wires a turn orchestrator. Generator and critic are
// required; classifier, estimator, and retriever default to the built-in
// implementations when not supplied.
func NewOrchestrator(generator Generator, critic Critic, opts ...Option) (*Orchestrator, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if critic == nil {
		return nil, fmt.Errorf("critic is required")
	}
	o := &Orchestrator{generator: generator, critic: critic}
	for _, opt := range opts {
		opt(o)
	}
	if o.classifier == nil {
		o.classifier = risk.NewClassifier()
	}
	if o.estimator == nil {
		o.estimator = mood.NewEstimator()
	}
	if o.retriever == nil {
		o.retriever = strategy.NewRetriever(nil)
	}
	return o, nil
}

// RunTurn processes one user turn to completion. The returned TurnState is
// final: risk, mood, chosen strategy, and the message have passed the
// critic and the repair stage. Generation or critic failures return an
// error with no usable state, since unreviewed text must not reach the
// caller.
func (o *Orchestrator) RunTurn(ctx context.Context, userText string, history []models.Message) (*models.TurnState, error) {
	ts := &models.TurnState{UserText: userText, History: history}
	state := StateStart

	// Risk short-circuit: a positive verdict jumps straight to Done with
	// the fixed crisis message, skipping mood, gate, and generation.
	ts.Risk = o.classifier.ClassifyWithModeration(ctx, userText)
	state = transition(state, StateRiskChecked)
	if ts.Risk != models.RiskNone {
		ts.DraftMessage = models.CrisisMessageFor(ts.Risk)
		ts.ChosenStrategy = ""
		ts.AdviceGiven = false
		transition(state, StateDone)
		slog.Info("Orchestrator.RunTurn: crisis short-circuit", "risk", ts.Risk)
		return ts, nil
	}

	ts.Mood = o.estimator.Estimate(userText, history)
	state = transition(state, StateMoodEstimated)

	allowAdvice := o.gateAllowsAdvice(userText, ts.Mood.Label)

	// Fixed replies bypass generation entirely: identity utterances and
	// low-signal first turns get canned text, never a step. A substantive
	// first turn flows through the gate like any other turn.
	if msg, ok := cannedReply(userText, history, allowAdvice); ok {
		ts.DraftMessage = msg
		state = transition(state, StateDrafted)
		return o.finishTurn(ctx, ts, state)
	}

	if allowAdvice {
		state = transition(state, StateAdvice)
		drafted, err := o.adviceDraft(ctx, ts)
		if err != nil {
			return nil, err
		}
		if !drafted {
			// Retriever came back empty: fall back to conversation.
			state = transition(state, StateConversation)
			if err := o.conversationDraft(ctx, ts); err != nil {
				return nil, err
			}
		}
	} else {
		state = transition(state, StateConversation)
		if err := o.conversationDraft(ctx, ts); err != nil {
			return nil, err
		}
	}
	state = transition(state, StateDrafted)

	return o.finishTurn(ctx, ts, state)
}

// finishTurn runs the critic and repair stages shared by every generated or
// canned draft.
func (o *Orchestrator) finishTurn(ctx context.Context, ts *models.TurnState, state string) (*models.TurnState, error) {
	verdict, err := o.critic.Review(ctx, ts.DraftMessage, ts.ChosenStrategy)
	if err != nil {
		return nil, fmt.Errorf("critic review failed: %w", err)
	}
	state = transition(state, StateCritiqued)
	if !verdict.OK {
		// The critic found crisis language in generated text. Treat it as
		// a risk hit on the output: classify the draft to pick the message
		// kind, defaulting to the self-harm message.
		r := o.classifier.Classify(ts.DraftMessage)
		if r == models.RiskNone {
			r = models.RiskSelfHarm
		}
		slog.Warn("Orchestrator.finishTurn: critic rejected draft", "reason", verdict.Reason, "risk", r)
		ts.Risk = r
		ts.DraftMessage = models.CrisisMessageFor(r)
		ts.ChosenStrategy = ""
		ts.AdviceGiven = false
		transition(state, StateDone)
		return ts, nil
	}
	ts.DraftMessage = verdict.Message

	o.repair(ts)
	state = transition(state, StateRepaired)
	transition(state, StateDone)
	return ts, nil
}

// adviceDraft retrieves candidate cards and drafts a reply surfacing one
// step. Returns false when the retriever produced nothing, so the caller
// can fall back to the conversation branch.
func (o *Orchestrator) adviceDraft(ctx context.Context, ts *models.TurnState) (bool, error) {
	cards := o.retriever.Rank(ts.UserText, ts.Mood.Label, ts.History, rankTopK)
	if len(cards) == 0 {
		slog.Debug("Orchestrator.adviceDraft: no cards retrieved, falling back to conversation")
		return false, nil
	}
	out, err := o.generator.Generate(ctx, GenKindAdvice, TurnContext{
		UserText: ts.UserText,
		Mood:     ts.Mood.Label,
		Cards:    cards,
	})
	if err != nil {
		return false, fmt.Errorf("advice generation failed: %w", err)
	}
	ts.DraftMessage = out
	ts.ChosenStrategy = chosenStep(out, cards)
	ts.AdviceGiven = ts.ChosenStrategy != ""
	return true, nil
}

func (o *Orchestrator) conversationDraft(ctx context.Context, ts *models.TurnState) error {
	out, err := o.generator.Generate(ctx, GenKindConversation, TurnContext{
		UserText: ts.UserText,
		Mood:     ts.Mood.Label,
	})
	if err != nil {
		return fmt.Errorf("conversation generation failed: %w", err)
	}
	ts.DraftMessage = out
	ts.ChosenStrategy = ""
	ts.AdviceGiven = false
	return nil
}

// chosenStep picks the card step the generated text actually referenced,
// falling back to the top-ranked card's step.
func chosenStep(out string, cards []models.StrategyCard) string {
	low := strings.ToLower(out)
	for _, c := range cards {
		if c.Step != "" && strings.Contains(low, strings.ToLower(c.Step)) {
			return c.Step
		}
		if c.Label != "" && strings.Contains(low, strings.ToLower(c.Label)) {
			return c.Step
		}
	}
	if len(cards) > 0 {
		return cards[0].Step
	}
	return ""
}

// repair enforces the final-result invariants regardless of what upstream
// stages produced. It re-classifies both the chosen strategy and the final
// message, overrides everything on an unsafe hit, guarantees the strategy
// text appears in the message exactly once when advice was given, and
// clears the strategy when it was not.
func (o *Orchestrator) repair(ts *models.TurnState) {
	for _, text := range []string{ts.ChosenStrategy, ts.DraftMessage} {
		if text == "" {
			continue
		}
		if r := o.classifier.Classify(text); r != models.RiskNone {
			slog.Warn("Orchestrator.repair: unsafe output text, forcing crisis override", "risk", r)
			ts.Risk = r
			ts.DraftMessage = models.CrisisMessageFor(r)
			ts.ChosenStrategy = ""
			ts.AdviceGiven = false
			return
		}
	}

	if ts.AdviceGiven {
		if ts.ChosenStrategy == "" {
			ts.AdviceGiven = false
			return
		}
		if !containsStrategy(ts.DraftMessage, ts.ChosenStrategy) {
			slog.Debug("Orchestrator.repair: appending missing strategy text")
			ts.DraftMessage = strings.TrimSpace(ts.DraftMessage) + " " + ts.ChosenStrategy
		}
		return
	}
	ts.ChosenStrategy = ""
}

// strategyPrefixLen bounds the normalized-prefix containment check so minor
// trailing rephrasing by the generator does not trigger a duplicate append.
const strategyPrefixLen = 30

// containsStrategy reports whether the message already carries the strategy
// text, compared on normalized forms with a bounded prefix. Truncation is on
// rune boundaries so multibyte step text never yields a broken prefix.
func containsStrategy(message, strategyText string) bool {
	m := normalize.Normalize(message)
	s := normalize.Normalize(strategyText)
	if s == "" {
		return true
	}
	if r := []rune(s); len(r) > strategyPrefixLen {
		s = strings.TrimSpace(string(r[:strategyPrefixLen]))
	}
	return strings.Contains(m, s)
}

// transition logs and returns the next state.
func transition(from, to string) string {
	slog.Debug("Orchestrator: state transition", "from", from, "to", to)
	return to
}
