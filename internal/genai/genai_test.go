package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/CalmCompanion/CalmPipe/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp       openai.ChatCompletion
	err        error
	lastParams openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.lastParams = params
	return m.resp, m.err
}

func testClient(mock *mockChatService) *Client {
	return &Client{
		chat:        mock,
		model:       "test-model",
		temperature: DefaultTemperature,
		topP:        DefaultTopP,
		timeout:     time.Second,
	}
}

func completionWith(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGenerateWithMessages_Success(t *testing.T) {
	mock := &mockChatService{resp: completionWith("  Hello World \n")}
	client := testClient(mock)
	out, err := client.GenerateWithMessages(context.Background(), []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("sys"),
		openai.UserMessage("usr"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected trimmed 'Hello World', got %q", out)
	}
}

func TestGenerateWithMessages_ServiceError(t *testing.T) {
	client := testClient(&mockChatService{err: errors.New("service failure")})
	_, err := client.GenerateWithMessages(context.Background(), []openai.ChatCompletionMessageParamUnion{openai.UserMessage("usr")})
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerateWithMessages_NoChoices(t *testing.T) {
	client := testClient(&mockChatService{resp: openai.ChatCompletion{}})
	_, err := client.GenerateWithMessages(context.Background(), []openai.ChatCompletionMessageParamUnion{openai.UserMessage("usr")})
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestGenerateWithSampling_PassesParameters(t *testing.T) {
	mock := &mockChatService{resp: completionWith("ok")}
	client := testClient(mock)
	if _, err := client.GenerateWithSampling(context.Background(), []openai.ChatCompletionMessageParamUnion{openai.UserMessage("usr")}, 0.2, 0.8); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := mock.lastParams.Temperature.Or(-1); got != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", got)
	}
	if got := mock.lastParams.TopP.Or(-1); got != 0.8 {
		t.Errorf("expected topP 0.8, got %v", got)
	}
	if mock.lastParams.Model != "test-model" {
		t.Errorf("expected model 'test-model', got %q", mock.lastParams.Model)
	}
}

func TestModerateText_Labels(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    models.RiskLabel
		wantErr bool
	}{
		{"self harm", "self_harm", models.RiskSelfHarm, false},
		{"other harm", "other_harm", models.RiskOtherHarm, false},
		{"none", "none", models.RiskNone, false},
		{"unparseable", "I cannot classify this", models.RiskNone, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := testClient(&mockChatService{resp: completionWith(tc.content)})
			got, err := client.ModerateText(context.Background(), "some text")
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error for unparseable label, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestModerateText_ServiceErrorFailsOpen(t *testing.T) {
	client := testClient(&mockChatService{err: errors.New("timeout")})
	_, err := client.ModerateText(context.Background(), "some text")
	if err == nil {
		t.Error("expected error so callers keep the rule verdict, got nil")
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o-mini"), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Error("expected client instance, got nil")
	}
}
