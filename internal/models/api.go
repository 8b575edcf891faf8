// Package models defines shared API response types for CalmPipe.
package models

import "time"

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	// APIStatusOK indicates a successful request.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates a failed request.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Interaction is one persisted chat turn, kept for auditing and for
// rebuilding short conversation context.
type Interaction struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	UserText       string    `json:"user_text"`
	DetectedMood   string    `json:"detected_mood"`
	ChosenStrategy string    `json:"chosen_strategy"`
	Message        string    `json:"message"`
	SafetyFlag     bool      `json:"safety_flag"`
	AdviceGiven    bool      `json:"advice_given"`
	CreatedAt      time.Time `json:"created_at"`
}
