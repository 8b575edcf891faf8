package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/CalmCompanion/CalmPipe/internal/models"
)

func TestClassify(t *testing.T) {
	c := NewClassifier()
	cases := []struct {
		name string
		in   string
		want models.RiskLabel
	}{
		{"empty", "", models.RiskNone},
		{"whitespace only", "   \n\t", models.RiskNone},
		{"benign", "I had a long day at work", models.RiskNone},
		{"explicit self harm intent", "I want to kill myself", models.RiskSelfHarm},
		{"end my life", "sometimes I think about ending it... I want to end my life", models.RiskSelfHarm},
		{"cut myself", "I cut myself again last night", models.RiskSelfHarm},
		{"suicide mention", "I keep thinking about suicide", models.RiskSelfHarm},
		{"kms slang", "kms", models.RiskSelfHarm},
		{"kms obfuscated", "k*m*s", models.RiskSelfHarm},
		{"unalive euphemism", "i want to unalive", models.RiskSelfHarm},
		{"danger to myself fast path", "I think I'm a danger to myself", models.RiskSelfHarm},
		{"kms guard", "renewing our microsoft kms license", models.RiskNone},
		{"kms guard server", "the kms server needs a restart", models.RiskNone},
		{"guard does not mask real intent", "our kms license expired and I want to kill myself", models.RiskSelfHarm},
		{"explicit other harm", "I'm going to hurt them", models.RiskOtherHarm},
		{"kill them", "I could kill them for this", models.RiskOtherHarm},
		{"danger to others fast path", "I feel like I'm a danger to everyone", models.RiskOtherHarm},
		{"threat to society fast path", "people like me are a threat to society", models.RiskOtherHarm},
		{"backstop danger plus third party", "I am dangerous and someone will find out", models.RiskOtherHarm},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Classify(tc.in); got != tc.want {
				t.Errorf("Classify(%q) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

// Other-harm fast paths are the only place other-harm outranks self-harm.
func TestClassifyPrecedence(t *testing.T) {
	c := NewClassifier()
	if got := c.Classify("I'm a danger to everyone including myself"); got != models.RiskOtherHarm {
		t.Errorf("expected other-harm fast path to win, got %s", got)
	}
	// Outside fast paths, self-harm rules run first.
	if got := c.Classify("I want to kill myself and I could hurt someone"); got != models.RiskSelfHarm {
		t.Errorf("expected self-harm battery to win, got %s", got)
	}
}

type stubModerator struct {
	label  models.RiskLabel
	err    error
	called bool
}

func (m *stubModerator) ModerateText(ctx context.Context, text string) (models.RiskLabel, error) {
	m.called = true
	return m.label, m.err
}

func TestClassifyWithModeration_RulesShortCircuit(t *testing.T) {
	mod := &stubModerator{label: models.RiskNone}
	c := NewClassifier(WithModerator(mod))
	got := c.ClassifyWithModeration(context.Background(), "I want to kill myself")
	if got != models.RiskSelfHarm {
		t.Errorf("expected self_harm, got %s", got)
	}
	if mod.called {
		t.Error("moderation must not be consulted when rules fire")
	}
}

func TestClassifyWithModeration_SecondOpinion(t *testing.T) {
	mod := &stubModerator{label: models.RiskSelfHarm}
	c := NewClassifier(WithModerator(mod))
	got := c.ClassifyWithModeration(context.Background(), "a subtle message the rules miss")
	if got != models.RiskSelfHarm {
		t.Errorf("expected moderation opinion to be used, got %s", got)
	}
	if !mod.called {
		t.Error("moderation should be consulted when rules return none")
	}
}

func TestClassifyWithModeration_FailureKeepsRuleVerdict(t *testing.T) {
	c := NewClassifier(WithModerator(&stubModerator{err: errors.New("timeout")}))
	if got := c.ClassifyWithModeration(context.Background(), "a perfectly fine message"); got != models.RiskNone {
		t.Errorf("moderation failure must fail open to none, got %s", got)
	}

	c = NewClassifier(WithModerator(&stubModerator{label: models.RiskLabel("maybe")}))
	if got := c.ClassifyWithModeration(context.Background(), "a perfectly fine message"); got != models.RiskNone {
		t.Errorf("unknown moderation label must keep rule verdict, got %s", got)
	}
}

func TestClassifyWithModeration_NoModerator(t *testing.T) {
	c := NewClassifier()
	if got := c.ClassifyWithModeration(context.Background(), "a perfectly fine message"); got != models.RiskNone {
		t.Errorf("expected none without moderator, got %s", got)
	}
}
