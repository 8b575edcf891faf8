package flow

import (
	"context"
	"testing"

	"github.com/openai/openai-go"

	"github.com/CalmCompanion/CalmPipe/internal/models"
	"github.com/CalmCompanion/CalmPipe/internal/strategy"
)

// captureTextGen records the sampling parameters of the last call.
type captureTextGen struct {
	out         string
	messages    []openai.ChatCompletionMessageParamUnion
	temperature float64
	topP        float64
}

func (c *captureTextGen) GenerateWithSampling(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature, topP float64) (string, error) {
	c.messages = messages
	c.temperature = temperature
	c.topP = topP
	return c.out, nil
}

func TestGenerate_SamplingPerKind(t *testing.T) {
	cases := []struct {
		kind     GenKind
		tc       TurnContext
		wantTemp float64
	}{
		{GenKindConversation, TurnContext{UserText: "rough day", Mood: models.MoodSadness}, conversationTemperature},
		{GenKindAdvice, TurnContext{UserText: "any tips?", Mood: models.MoodNeutral, Cards: strategy.FallbackCards[:2]}, adviceTemperature},
		{GenKindRewrite, TurnContext{Draft: "a long draft", Strategy: "a step"}, rewriteTemperature},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			capture := &captureTextGen{out: "reply"}
			g := NewGenAIGenerator(capture)
			out, err := g.Generate(context.Background(), tc.kind, tc.tc)
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if out != "reply" {
				t.Errorf("expected client output passed through, got %q", out)
			}
			if capture.temperature != tc.wantTemp {
				t.Errorf("temperature = %v, want %v", capture.temperature, tc.wantTemp)
			}
			if capture.topP != draftTopP {
				t.Errorf("topP = %v, want %v", capture.topP, draftTopP)
			}
			if len(capture.messages) != 2 {
				t.Errorf("expected system plus user message, got %d messages", len(capture.messages))
			}
		})
	}
}

func TestGenerate_UnsupportedKind(t *testing.T) {
	g := NewGenAIGenerator(&captureTextGen{})
	if _, err := g.Generate(context.Background(), GenKind("poetry"), TurnContext{}); err == nil {
		t.Error("expected error for unsupported kind")
	}
}

func TestShortQuote(t *testing.T) {
	got := shortQuote("I have finals this week and I can't focus, any tips?")
	if got != "I have finals this week and" {
		t.Errorf("shortQuote = %q", got)
	}
	if q := shortQuote(""); q != "" {
		t.Errorf("shortQuote of empty text = %q", q)
	}
}

func TestMoodOrNeutral(t *testing.T) {
	if got := moodOrNeutral(""); got != "neutral" {
		t.Errorf("empty mood should read neutral, got %q", got)
	}
	if got := moodOrNeutral(models.MoodAnger); got != "anger" {
		t.Errorf("moodOrNeutral(anger) = %q", got)
	}
}
