// Package genai provides the OpenAI-backed text generation client used for
// drafting, critic rewrites, and the optional moderation second opinion.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/CalmCompanion/CalmPipe/internal/models"
)

// Default sampling and transport configuration.
const (
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
	DefaultTimeout     = 20 * time.Second
)

// ErrNoChoicesReturned indicates the completion response carried no choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines the minimal interface for chat completions, so tests
// can substitute a mock.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter bridges the OpenAI SDK service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI chat completion service. All calls carry a bounded
// timeout and honor caller cancellation.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	topP        float64
	timeout     time.Duration
}

// Opts holds configuration collected from options.
type Opts struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the API key, overriding the OPENAI_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel overrides the default completion model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout bounds each completion call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewClient initializes a GenAI client. The API key comes from options or
// the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	slog.Debug("genai.NewClient: client initialized", "model", model, "baseURL_set", cfg.BaseURL != "", "timeout", timeout)
	return &Client{
		chat:        completionsAdapter{svc: &cli.Chat.Completions},
		model:       model,
		temperature: DefaultTemperature,
		topP:        DefaultTopP,
		timeout:     timeout,
	}, nil
}

// GenerateWithMessages generates a completion for the given messages using
// the client's default sampling parameters.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return c.GenerateWithSampling(ctx, messages, c.temperature, c.topP)
}

// GenerateWithSampling generates a completion with explicit temperature and
// nucleus-p, under the client's bounded timeout.
func (c *Client) GenerateWithSampling(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature, topP float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: param.NewOpt(temperature),
		TopP:        param.NewOpt(topP),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// moderationSystemPrompt instructs the model to answer with exactly one
// safety label.
const moderationSystemPrompt = "You are a strict safety classifier. " +
	"Read the user's message and output ONLY one label:\n" +
	"self_harm = intent/ideation/instruction to harm self\n" +
	"other_harm = intent/ideation/instruction to harm others\n" +
	"none = neither applies\n" +
	"Return exactly one token: self_harm, other_harm, or none."

// ModerateText asks the model for a secondary safety opinion. Any transport
// failure or unparseable output returns an error, which callers treat as
// "no opinion" - it must never override the deterministic rule verdict.
func (c *Client) ModerateText(ctx context.Context, text string) (models.RiskLabel, error) {
	out, err := c.GenerateWithSampling(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(moderationSystemPrompt),
		openai.UserMessage(text),
	}, 0, 1)
	if err != nil {
		return models.RiskNone, fmt.Errorf("moderation call failed: %w", err)
	}
	label := strings.ToLower(strings.TrimSpace(out))
	switch {
	case strings.Contains(label, "self_harm") || label == "selfharm":
		return models.RiskSelfHarm, nil
	case strings.Contains(label, "other_harm") || label == "violence" || label == "violent":
		return models.RiskOtherHarm, nil
	case label == "none":
		return models.RiskNone, nil
	default:
		return models.RiskNone, fmt.Errorf("unrecognized moderation label %q", label)
	}
}
