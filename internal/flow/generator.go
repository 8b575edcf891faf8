package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/openai/openai-go"

	"github.com/CalmCompanion/CalmPipe/internal/models"
)

// Per-kind sampling. The rewrite pass runs cold so repaired drafts stay
// close to the original wording.
const (
	conversationTemperature = 0.6
	adviceTemperature       = 0.7
	rewriteTemperature      = 0.2
	draftTopP               = 0.9
)

// quoteWords bounds the short quote of the user's text echoed into the
// advice prompt.
const quoteWords = 6

var quoteWordRe = regexp.MustCompile(`\w[\w'-]*`)

// textGenerator is the slice of the GenAI client the flow generator needs,
// kept narrow so tests can substitute a mock.
type textGenerator interface {
	GenerateWithSampling(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature, topP float64) (string, error)
}

// GenAIGenerator drafts turn replies through the GenAI client, selecting
// the prompt and sampling by generation kind.
type GenAIGenerator struct {
	client textGenerator
}

// NewGenAIGenerator wraps a GenAI client as a flow Generator.
func NewGenAIGenerator(client textGenerator) *GenAIGenerator {
	return &GenAIGenerator{client: client}
}

// Generate implements Generator.
func (g *GenAIGenerator) Generate(ctx context.Context, kind GenKind, tc TurnContext) (string, error) {
	switch kind {
	case GenKindConversation:
		return g.client.GenerateWithSampling(ctx, []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(conversationSystem),
			openai.UserMessage(fmt.Sprintf("User said: %s\nMood guess: %s\nWrite the reply.", tc.UserText, moodOrNeutral(tc.Mood))),
		}, conversationTemperature, draftTopP)

	case GenKindAdvice:
		var bullets strings.Builder
		for _, c := range tc.Cards {
			fmt.Fprintf(&bullets, "- %s: %s\n", c.Label, c.Step)
		}
		prompt := fmt.Sprintf(
			"User said (short quote): %q. Mood guess: %s.\n"+
				"Here are a few relevant tiny, safe steps:\n%s\n"+
				"Write 2 short sentences total:\n"+
				"1) Brief reflection/validation (no judging, no diagnosis).\n"+
				"2) Offer exactly ONE of the steps above (choose the best fit) in a natural sentence, "+
				"quoting the step text as written.\n"+
				"Keep it under ~45 words. Plain text only. No emojis.",
			shortQuote(tc.UserText), moodOrNeutral(tc.Mood), bullets.String())
		return g.client.GenerateWithSampling(ctx, []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(encouragementSystem),
			openai.UserMessage(prompt),
		}, adviceTemperature, draftTopP)

	case GenKindRewrite:
		return g.client.GenerateWithSampling(ctx, []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(rewriteSystem),
			openai.UserMessage(fmt.Sprintf("Original reply:\n%s\n\nExtracted step:\n%s\n\nRewrite now.", tc.Draft, tc.Strategy)),
		}, rewriteTemperature, draftTopP)

	default:
		return "", fmt.Errorf("unsupported generation kind %q", kind)
	}
}

func moodOrNeutral(m models.MoodLabel) string {
	if m == "" {
		return string(models.MoodNeutral)
	}
	return string(m)
}

// shortQuote returns the first few words of the user's text.
func shortQuote(text string) string {
	words := quoteWordRe.FindAllString(text, quoteWords)
	return strings.Join(words, " ")
}
