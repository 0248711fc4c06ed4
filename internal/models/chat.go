package models

import "strings"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	ContentText  = "text"
	ContentImage = "image"
)

// ContentBlock is one part of a message. Type selects which fields apply:
// "text" uses Text, "image" uses URL and, for generated images, GenerationID.
type ContentBlock struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	URL          string `json:"url,omitempty"`
	GenerationID string `json:"generationId,omitempty"`
}

type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ChatRequest is the payload of POST /api/v1/chat.
type ChatRequest struct {
	ModelID            int       `json:"modelId"`
	ResponseHistory    []Message `json:"responseHistory"`
	SystemPrompt       string    `json:"systemPrompt,omitempty"`
	MaxTokens          int       `json:"maxTokens,omitempty"`
	BudgetTokens       int       `json:"budgetTokens,omitempty"`
	UseImageGeneration bool      `json:"useImageGeneration,omitempty"`
	UseWebSearch       bool      `json:"useWebSearch,omitempty"`
	ImageData          string    `json:"imageData,omitempty"`
	PreviousResponseID string    `json:"previousResponseId,omitempty"`
	PersonaID          int       `json:"personaId,omitempty"`
	OutputFormatID     int       `json:"outputFormatId,omitempty"`
}

// LastImageBlock returns the last image block of the final message, or nil.
func (r *ChatRequest) LastImageBlock() *ContentBlock {
	if len(r.ResponseHistory) == 0 {
		return nil
	}
	last := &r.ResponseHistory[len(r.ResponseHistory)-1]
	for i := len(last.Content) - 1; i >= 0; i-- {
		if last.Content[i].Type == ContentImage {
			return &last.Content[i]
		}
	}
	return nil
}

// DropLastImageBlock removes the block LastImageBlock would return.
func (r *ChatRequest) DropLastImageBlock() {
	if len(r.ResponseHistory) == 0 {
		return
	}
	last := &r.ResponseHistory[len(r.ResponseHistory)-1]
	for i := len(last.Content) - 1; i >= 0; i-- {
		if last.Content[i].Type == ContentImage {
			last.Content = append(last.Content[:i], last.Content[i+1:]...)
			return
		}
	}
}

// Text concatenates the text blocks of a message.
func (m Message) Text() string {
	var out strings.Builder
	for _, block := range m.Content {
		if block.Type == ContentText {
			out.WriteString(block.Text)
		}
	}
	return out.String()
}
