package flow

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/CalmCompanion/CalmPipe/internal/models"
	"github.com/CalmCompanion/CalmPipe/internal/normalize"
)

// minGateTokens is the utterance length floor for the advice branch. Turns
// below it stay conversational regardless of other signals, to avoid
// over-triggering on low-content input.
const minGateTokens = 3

// Mood sets for the gate policy. Support-set moods justify a step without a
// question; positive moods suppress steps unless help is explicitly asked.
var (
	supportMoods  = map[models.MoodLabel]bool{models.MoodSadness: true, models.MoodDistress: true, models.MoodAnger: true}
	positiveMoods = map[models.MoodLabel]bool{models.MoodJoy: true, models.MoodOptimism: true}
)

// gateRules holds the compiled signal patterns, built once.
type gateRules struct {
	greeting  *regexp.Regexp
	askName   *regexp.Regexp
	giveName  *regexp.Regexp
	smalltalk *regexp.Regexp
	help      *regexp.Regexp
	question  *regexp.Regexp
	distress  *regexp.Regexp
}

var gates = sync.OnceValue(func() *gateRules {
	return &gateRules{
		greeting:  regexp.MustCompile(`\b(hi|hello|hey|yo|sup)\b`),
		askName:   regexp.MustCompile(`\b(what('?s| is) your name|who are you)\b`),
		giveName:  regexp.MustCompile(`\b(your name is|i(?:'m| am) naming you|i want to give you a name|i(?:'m| am) going to call you)\b`),
		smalltalk: regexp.MustCompile(`\b(how are you|what'?s up|wyd)\b`),
		help:      regexp.MustCompile(`\b(help|what should i do|advice|suggest|tips?|how do i|can you help|how to)\b`),
		question:  regexp.MustCompile(`\b(what|how|why|when|where|who|should|could|can|would|will|do|did|am|is|are|may|might)\b`),
		distress:  regexp.MustCompile(`\b(stress|stressed|overwhelm|overwhelmed|anxious|anxiety|panic|sad|down|depress|lonely|alone|angry|upset|worried|scared|afraid|tired|exhausted|burn(?:ed|t)\b|can.?t (cope|focus|sleep))`),
	}
})

// intent classifies the utterance for the canned-reply and gate paths.
type intent string

const (
	intentGiveName  intent = "give_name"
	intentAskName   intent = "ask_name"
	intentSmalltalk intent = "smalltalk"
	intentHelp      intent = "help_request"
	intentOther     intent = "other"
)

func classifyIntent(norm string) intent {
	g := gates()
	switch {
	case g.giveName.MatchString(norm):
		return intentGiveName
	case g.askName.MatchString(norm):
		return intentAskName
	case g.greeting.MatchString(norm) || g.smalltalk.MatchString(norm):
		return intentSmalltalk
	case g.help.MatchString(norm):
		return intentHelp
	default:
		return intentOther
	}
}

// gateSignals are the boolean inputs to the advice gate, exported on the
// struct for test visibility.
type gateSignals struct {
	explicitHelp  bool
	problemQ      bool
	distress      bool
	moodSupported bool
	tooShort      bool
}

func computeGateSignals(userText string, moodLabel models.MoodLabel) gateSignals {
	g := gates()
	norm := normalize.Normalize(userText)
	in := classifyIntent(norm)
	return gateSignals{
		explicitHelp:  in == intentHelp,
		problemQ:      isProblemQuestion(userText, norm),
		distress:      g.distress.MatchString(norm),
		moodSupported: supportMoods[moodLabel],
		tooShort:      len(strings.Fields(norm)) < minGateTokens,
	}
}

// isProblemQuestion reports whether the turn is a question about the user's
// situation rather than identity chatter or smalltalk. The question mark is
// checked on the raw text since normalization may rewrite punctuation.
func isProblemQuestion(raw, norm string) bool {
	g := gates()
	if g.askName.MatchString(norm) || g.smalltalk.MatchString(norm) {
		return false
	}
	return strings.Contains(raw, "?") || g.question.MatchString(norm)
}

// gateAllowsAdvice applies the step policy: at least one of explicit help,
// a situation question, or distress language, or a support-set mood. A
// positive mood requires the explicit help signal. Very short turns never
// get a step.
func (o *Orchestrator) gateAllowsAdvice(userText string, moodLabel models.MoodLabel) bool {
	s := computeGateSignals(userText, moodLabel)
	if s.tooShort {
		return false
	}
	allow := s.explicitHelp || s.problemQ || s.distress || s.moodSupported
	if positiveMoods[moodLabel] && !s.explicitHelp {
		allow = false
	}
	slog.Debug("Orchestrator.gateAllowsAdvice: gate decision",
		"allow", allow,
		"explicit_help", s.explicitHelp,
		"problem_question", s.problemQ,
		"distress", s.distress,
		"mood_supported", s.moodSupported,
		"too_short", s.tooShort,
	)
	return allow
}
