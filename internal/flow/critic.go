package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/CalmCompanion/CalmPipe/internal/models"
	"github.com/CalmCompanion/CalmPipe/internal/risk"
)

// Soft-constraint limits for drafted replies.
const (
	maxDraftWords    = 70
	maxDraftNewlines = 3
)

// unsafeHints are phrases that force a rewrite even when the risk rules do
// not fire on the draft.
var unsafeHints = []string{"suicide", "kill yourself", "hurt yourself"}

var bulletRe = regexp.MustCompile(`(^|\n)\s*[-*•]\s+`)

// RuleCritic reviews drafts in two tiers. The hard tier runs the risk
// classifier on the draft; a hit fails the review outright. The soft tier
// checks unsafe hint phrases, length, and bullet lists, and repairs
// violations with a constrained rewrite through the generator.
type RuleCritic struct {
	classifier *risk.Classifier
	rewriter   Generator
}

// NewRuleCritic builds the critic. The rewriter is required; the classifier
// defaults to the built-in rule set.
func NewRuleCritic(rewriter Generator, classifier *risk.Classifier) (*RuleCritic, error) {
	if rewriter == nil {
		return nil, fmt.Errorf("rewriter is required")
	}
	if classifier == nil {
		classifier = risk.NewClassifier()
	}
	return &RuleCritic{classifier: classifier, rewriter: rewriter}, nil
}

// Review implements Critic.
func (c *RuleCritic) Review(ctx context.Context, draft, strategyText string) (models.CriticVerdict, error) {
	if r := c.classifier.Classify(draft); r != models.RiskNone {
		slog.Warn("RuleCritic.Review: crisis language in draft", "risk", r)
		return models.CriticVerdict{OK: false, Reason: "crisis_detected"}, nil
	}

	if !c.violatesSoftConstraints(draft) {
		return models.CriticVerdict{OK: true, Message: draft, Reason: "clean"}, nil
	}

	fixed, err := c.rewriter.Generate(ctx, GenKindRewrite, TurnContext{Draft: draft, Strategy: strategyText})
	if err != nil {
		return models.CriticVerdict{}, fmt.Errorf("constraint rewrite failed: %w", err)
	}
	// The rewrite is generated text too; it gets the same hard check.
	if r := c.classifier.Classify(fixed); r != models.RiskNone {
		slog.Warn("RuleCritic.Review: crisis language in rewritten draft", "risk", r)
		return models.CriticVerdict{OK: false, Reason: "crisis_detected"}, nil
	}
	return models.CriticVerdict{OK: true, Message: fixed, Reason: "rewritten"}, nil
}

func (c *RuleCritic) violatesSoftConstraints(draft string) bool {
	low := strings.ToLower(draft)
	for _, hint := range unsafeHints {
		if strings.Contains(low, hint) {
			return true
		}
	}
	if len(strings.Fields(draft)) > maxDraftWords {
		return true
	}
	if strings.Count(draft, "\n") > maxDraftNewlines {
		return true
	}
	return bulletRe.MatchString(draft)
}
