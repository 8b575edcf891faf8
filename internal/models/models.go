// Package models defines the core data structures for CalmPipe.
//
// It includes the risk and mood label vocabularies, strategy cards, and the
// per-turn pipeline state shared across modules.
package models

import (
	"errors"
	"strings"
)

// RiskLabel classifies a user utterance for crisis risk.
type RiskLabel string

const (
	// RiskNone indicates no self-harm or other-harm signal was detected.
	RiskNone RiskLabel = "none"
	// RiskSelfHarm indicates self-harm intent, ideation, or method language.
	RiskSelfHarm RiskLabel = "self_harm"
	// RiskOtherHarm indicates intent to harm a third party.
	RiskOtherHarm RiskLabel = "other_harm"
)

// IsValidRiskLabel checks if the given risk label is supported.
func IsValidRiskLabel(r RiskLabel) bool {
	switch r {
	case RiskNone, RiskSelfHarm, RiskOtherHarm:
		return true
	default:
		return false
	}
}

// MoodLabel is the application-level mood vocabulary surfaced to callers.
type MoodLabel string

const (
	MoodJoy      MoodLabel = "joy"
	MoodSadness  MoodLabel = "sadness"
	MoodAnger    MoodLabel = "anger"
	MoodDistress MoodLabel = "distress"
	MoodOptimism MoodLabel = "optimism"
	MoodNeutral  MoodLabel = "neutral"
)

// LabelScore pairs a mood label with its probability.
type LabelScore struct {
	Label       MoodLabel `json:"label"`
	Probability float64   `json:"probability"`
}

// MoodEstimate is the output of the mood estimator: the chosen label, its
// confidence, and the top-3 labels of the blended distribution.
type MoodEstimate struct {
	Label      MoodLabel    `json:"label"`
	Confidence float64      `json:"confidence"`
	Top3       []LabelScore `json:"top3,omitempty"`
}

// NeutralMood returns the estimate used for empty input.
func NeutralMood() MoodEstimate {
	return MoodEstimate{
		Label:      MoodNeutral,
		Confidence: 1.0,
		Top3:       []LabelScore{{Label: MoodNeutral, Probability: 1.0}},
	}
}

// StrategyCard is a single curated coping-action record. Cards are immutable
// once loaded; the retriever treats the corpus as a snapshot for the process
// lifetime.
type StrategyCard struct {
	ID         string   `json:"id"`
	Tag        string   `json:"tag"`
	Label      string   `json:"label"`
	Step       string   `json:"step"`
	Why        string   `json:"why,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Moods      []string `json:"moods,omitempty"`
	SourceName string   `json:"source_name,omitempty"`
	SourceURL  string   `json:"source_url,omitempty"`
}

// ResourceCard is one curated external self-help resource (video, article,
// or book). Cautions ride along so callers can surface them next to the
// link.
type ResourceCard struct {
	ID       string   `json:"id"`
	Kind     string   `json:"kind"` // "video", "article", or "book"
	Title    string   `json:"title"`
	Creator  string   `json:"creator,omitempty"`
	URL      string   `json:"url,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Moods    []string `json:"moods,omitempty"`
	Caution  string   `json:"caution,omitempty"`
}

// Message is a single prior conversation turn supplied by the caller,
// oldest-first.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// TurnState is the mutable per-request aggregate threaded through the
// pipeline stages. It is created at the start of a request, owned by one
// orchestrator instance, and discarded after the response is built.
type TurnState struct {
	UserText       string
	History        []Message
	Risk           RiskLabel
	Mood           MoodEstimate
	ChosenStrategy string
	DraftMessage   string
	AdviceGiven    bool
}

// CriticVerdict is the contract returned by the critic collaborator.
// OK=false means the draft failed a hard safety check and the turn must be
// forced to the crisis terminal.
type CriticVerdict struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Fixed crisis messages. These are the only texts ever returned on a
// confirmed-risk turn; generation is never invoked on that path.
const (
	CrisisMessageSelf = "I'm really concerned about your safety. I can't help with anything that could put you at risk. " +
		"If you're in immediate danger, please contact your local emergency number right now or go to the nearest emergency department. " +
		"If you can, reach out to someone you trust or a suicide prevention hotline in your country."

	CrisisMessageOthers = "I can't help with anything that could harm other people. " +
		"If you feel like you might hurt someone, please step away from others and seek immediate help. " +
		"Contact your local emergency number or a mental health crisis line right now, or go to the nearest emergency department."
)

// CrisisMessageFor returns the fixed message for a positive risk verdict.
// The self-harm message is the conservative default for any non-other-harm
// label.
func CrisisMessageFor(r RiskLabel) string {
	if r == RiskOtherHarm {
		return CrisisMessageOthers
	}
	return CrisisMessageSelf
}

// Validation constants for chat input.
const (
	// MaxUserTextLength defines the maximum accepted user utterance length.
	MaxUserTextLength = 4000
)

// Error variables for better error handling and testability.
var (
	ErrEmptyUserText   = errors.New("user_text cannot be empty")
	ErrUserTextTooLong = errors.New("user_text exceeds maximum length")
	ErrInvalidRole     = errors.New("history role must be 'user' or 'assistant'")
)

// ChatRequest is the inbound payload for a chat turn. History is optional;
// when omitted the server rebuilds it from the interaction log.
type ChatRequest struct {
	UserID   string    `json:"user_id,omitempty"`
	UserText string    `json:"user_text"`
	History  []Message `json:"history,omitempty"`
}

// Validate performs input validation on a ChatRequest.
func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.UserText) == "" {
		return ErrEmptyUserText
	}
	if len(r.UserText) > MaxUserTextLength {
		return ErrUserTextTooLong
	}
	for _, m := range r.History {
		if m.Role != "user" && m.Role != "assistant" {
			return ErrInvalidRole
		}
	}
	return nil
}

// StrategySource is provenance metadata for the suggested strategy so the
// caller can surface a "view source" link.
type StrategySource struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// ChatResponse is the outbound payload for a chat turn.
type ChatResponse struct {
	Mood           string          `json:"mood"`
	Strategy       string          `json:"strategy"`
	Message        string          `json:"message"`
	CrisisDetected bool            `json:"crisis_detected"`
	AdviceGiven    bool            `json:"advice_given"`
	StrategySource *StrategySource `json:"strategy_source,omitempty"`
}
