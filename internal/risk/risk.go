// Package risk implements the deterministic crisis classifier.
//
// Classification is a fixed, ordered rule pipeline: substring fast paths,
// then the self-harm pattern battery, then the other-harm battery, then a
// coarse danger+third-party backstop. The order is load-bearing: changing it
// changes recall/precision on ambiguous phrasing, so it is covered by tests
// rather than left implicit. The rules prefer false positives over false
// negatives.
package risk

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/CalmCompanion/CalmPipe/internal/models"
	"github.com/CalmCompanion/CalmPipe/internal/normalize"
)

// ruleSet holds the compiled pattern tables. It is built exactly once and is
// safe for concurrent read-only use.
type ruleSet struct {
	selfFastPaths  []string
	otherFastPaths []string
	selfHarm       []*regexp.Regexp
	otherHarm      []*regexp.Regexp
	dangerTokens   []string
	thirdPartyRefs []string
}

var rules = sync.OnceValue(buildRuleSet)

func buildRuleSet() *ruleSet {
	return &ruleSet{
		// Declarative self-descriptions of danger. These phrasings are common
		// and easy to miss with word-boundary regex, so they get substring
		// fast paths. The other-harm checks run first: this is the only place
		// other-harm takes precedence over self-harm.
		otherFastPaths: []string{
			"danger to others",
			"danger to other people",
			"danger to everyone",
			"danger to people",
			"danger to society",
			"threat to others",
			"threat to other people",
			"threat to everyone",
			"threat to people",
			"threat to society",
		},
		selfFastPaths: []string{
			"danger to myself",
			"threat to myself",
		},
		// Ordered battery: explicit intent phrases, method references,
		// euphemisms (already expanded by the normalizer). First match wins.
		selfHarm: compile(
			`\bkill\s+myself\b`,
			`\bend\s+my\s+life\b`,
			`\btake\s+my\s+life\b`,
			`\b(hurt|cut)\s+myself\b`,
			`\bsuicide\b`,
			`\bself[-\s]*harm\b`,
			`\b(i\s+want\s+to|im\s+going\s+to|i'm\s+going\s+to|gonna)\s*(die|end\s*(it|everything)|kill\s*myself)\b`,
		),
		otherHarm: compile(
			`\bkill\s+(him|her|them|you|people|everyone)\b`,
			`\bstab\s+(him|her|them|you)\b`,
			`\bshoot\s+(him|her|them|you)\b`,
			`\bhurt\s+(him|her|them|you|someone)\b`,
			`\b(i\s+want\s+to|im\s+going\s+to|i'm\s+going\s+to|gonna)\s*(hurt|kill|stab|shoot)\b`,
			`\b(shoot|stab|attack)\s+up\s+(the|a|my)\b`,
		),
		// Coarse backstop: a danger token plus a third-party reference
		// anywhere in the text reads as other-harm.
		dangerTokens: []string{"dangerous", "danger", "threat"},
		thirdPartyRefs: []string{
			"others", "other people", "everyone", "people", "society",
			"someone", "somebody", "them", "him", "her",
		},
	}
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// False-positive contexts that share the "kms" abbreviation. Checked against
// the pre-expansion text because slang expansion rewrites the abbreviation.
var kmsGuardPhrases = []string{
	"microsoft kms",
	"key management service",
	"kms server",
	"kms license",
	"kms activation",
}

// Classifier is the deterministic risk classifier, with an optional
// moderation collaborator for a secondary opinion.
type Classifier struct {
	moderator Moderator
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithModerator attaches an optional moderation service consulted only when
// the deterministic rules return none.
func WithModerator(m Moderator) Option {
	return func(c *Classifier) { c.moderator = m }
}

// NewClassifier creates a risk classifier. The compiled rule tables are
// shared across instances and built on first use.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify runs the deterministic rule pipeline. It is pure, synchronous,
// total for any input (empty text is none), and performs no network calls.
func (c *Classifier) Classify(text string) models.RiskLabel {
	if strings.TrimSpace(text) == "" {
		return models.RiskNone
	}
	rs := rules()
	n := normalize.Normalize(text)
	e := normalize.ExpandSlang(n)

	// 1. Substring fast paths.
	for _, phrase := range rs.otherFastPaths {
		if strings.Contains(e, phrase) {
			return models.RiskOtherHarm
		}
	}
	for _, phrase := range rs.selfFastPaths {
		if strings.Contains(e, phrase) {
			return models.RiskSelfHarm
		}
	}

	// 2. Self-harm battery, with the abbreviation disambiguation guard:
	// a match that exists only because of slang expansion is suppressed when
	// the raw text carries a known false-positive context for the same
	// abbreviation.
	if matchAny(rs.selfHarm, e) {
		if !hasKMSGuardContext(n) || matchAny(rs.selfHarm, n) {
			return models.RiskSelfHarm
		}
	}

	// 3. Other-harm battery.
	if matchAny(rs.otherHarm, e) {
		return models.RiskOtherHarm
	}

	// 4. Coarse backstop: danger/threat token plus third-party reference.
	if containsAny(e, rs.dangerTokens) && containsToken(e, rs.thirdPartyRefs) {
		return models.RiskOtherHarm
	}

	// 5. Literal euphemism catch-all, same guard applies.
	if strings.Contains(e, "kill myself") && !hasKMSGuardContext(n) {
		return models.RiskSelfHarm
	}

	return models.RiskNone
}

// ClassifyWithModeration combines the rule verdict with an optional secondary
// opinion. The rules short-circuit: the moderation call happens only when
// they return none, so the unsafe-detected path stays sub-millisecond. Any
// moderation failure degrades silently to the rule verdict.
func (c *Classifier) ClassifyWithModeration(ctx context.Context, text string) models.RiskLabel {
	verdict := c.Classify(text)
	if verdict != models.RiskNone || c.moderator == nil {
		return verdict
	}
	label, err := c.moderator.ModerateText(ctx, text)
	if err != nil {
		slog.Debug("Classifier.ClassifyWithModeration: moderation unavailable, keeping rule verdict", "error", err)
		return verdict
	}
	if !models.IsValidRiskLabel(label) {
		slog.Warn("Classifier.ClassifyWithModeration: moderation returned unknown label, keeping rule verdict", "label", label)
		return verdict
	}
	return label
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// containsToken checks for whole-word presence of any reference token.
func containsToken(s string, tokens []string) bool {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '\'')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	for _, t := range tokens {
		if strings.Contains(t, " ") {
			if strings.Contains(s, t) {
				return true
			}
			continue
		}
		if set[t] {
			return true
		}
	}
	return false
}

func hasKMSGuardContext(s string) bool {
	for _, phrase := range kmsGuardPhrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}
