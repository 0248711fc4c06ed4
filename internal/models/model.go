package models

import "time"

type APIVendor struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Model is a persisted chat model. Token costs are dollars per million
// tokens; WebSearchCost is dollars per search call.
type Model struct {
	ID                   int       `json:"id"`
	APIName              string    `json:"api_name"`
	Name                 string    `json:"name"`
	APIVendorID          int       `json:"api_vendor_id"`
	VendorName           string    `json:"vendor_name,omitempty"`
	IsVision             bool      `json:"is_vision"`
	IsImageGeneration    bool      `json:"is_image_generation"`
	IsThinking           bool      `json:"is_thinking"`
	IsWebSearch          bool      `json:"is_web_search"`
	InputTokenCost       float64   `json:"input_token_cost"`
	OutputTokenCost      float64   `json:"output_token_cost"`
	ImageOutputTokenCost float64   `json:"image_output_token_cost"`
	WebSearchCost        float64   `json:"web_search_cost"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
}

// ModelConfig is the read-only snapshot an adapter is built from. It is
// assembled per request and never mutated afterwards.
type ModelConfig struct {
	ModelID              int
	APIName              string
	Name                 string
	VendorName           string
	IsVision             bool
	IsImageGeneration    bool
	IsThinking           bool
	IsWebSearch          bool
	InputTokenCost       float64
	OutputTokenCost      float64
	ImageOutputTokenCost float64
	WebSearchCost        float64
}

// NewModelConfig joins a model with its vendor.
func NewModelConfig(m *Model, v *APIVendor) ModelConfig {
	return ModelConfig{
		ModelID:              m.ID,
		APIName:              m.APIName,
		Name:                 m.Name,
		VendorName:           v.Name,
		IsVision:             m.IsVision,
		IsImageGeneration:    m.IsImageGeneration,
		IsThinking:           m.IsThinking,
		IsWebSearch:          m.IsWebSearch,
		InputTokenCost:       m.InputTokenCost,
		OutputTokenCost:      m.OutputTokenCost,
		ImageOutputTokenCost: m.ImageOutputTokenCost,
		WebSearchCost:        m.WebSearchCost,
	}
}

type Persona struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Prompt    string    `json:"prompt"`
	OwnerID   *string   `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type OutputFormat struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Prompt    string    `json:"prompt"`
	OwnerID   *string   `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}
