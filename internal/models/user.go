package models

import (
	"time"

	"github.com/google/uuid"
)

// User mirrors the Supabase auth user; the id is the token's sub claim.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Credits   float64   `json:"credits"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Charge is one completed, billable chat turn.
type Charge struct {
	UserID    uuid.UUID `json:"user_id"`
	ModelID   int       `json:"model_id"`
	Usage     Usage     `json:"usage"`
	TotalCost float64   `json:"total_cost"`
	Credits   float64   `json:"credits"`
}

type UsageRecord struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	ModelID      int       `json:"model_id"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalCost    float64   `json:"total_cost"`
	Credits      float64   `json:"credits"`
	CreatedAt    time.Time `json:"created_at"`
	Attempts     int       `json:"attempts,omitempty"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type CreditsUpdate struct {
	Credits  float64 `json:"credits"`
	Deducted float64 `json:"deducted"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
