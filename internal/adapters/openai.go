package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"snowgoose-backend/internal/models"
)

// OpenAI speaks the Responses API.
type OpenAI struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewOpenAI(apiKey, baseURL string, client *http.Client, logger *zap.Logger) *OpenAI {
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.Named("openai"),
	}
}

func (v *OpenAI) Name() string { return "openai" }

func (v *OpenAI) Bind(cfg models.ModelConfig) Adapter {
	return &openAIAdapter{vendor: v, cfg: cfg}
}

type openAIAdapter struct {
	vendor *OpenAI
	cfg    models.ModelConfig
}

func (a *openAIAdapter) Name() string               { return a.vendor.Name() }
func (a *openAIAdapter) Config() models.ModelConfig { return a.cfg }

type openAIInputPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type openAIInputMessage struct {
	Role    string            `json:"role"`
	Content []openAIInputPart `json:"content"`
}

type openAITool struct {
	Type          string `json:"type"`
	PartialImages int    `json:"partial_images,omitempty"`
}

type openAIReasoning struct {
	Effort  string `json:"effort"`
	Summary string `json:"summary"`
}

type openAIRequest struct {
	Model              string               `json:"model"`
	Input              []openAIInputMessage `json:"input"`
	Instructions       string               `json:"instructions,omitempty"`
	MaxOutputTokens    int                  `json:"max_output_tokens,omitempty"`
	Reasoning          *openAIReasoning     `json:"reasoning,omitempty"`
	Tools              []openAITool         `json:"tools,omitempty"`
	PreviousResponseID string               `json:"previous_response_id,omitempty"`
	Stream             bool                 `json:"stream"`
}

func (a *openAIAdapter) buildRequest(opts Options) openAIRequest {
	messages := opts.Messages
	// The server already holds the earlier turns of a continued response.
	if opts.PreviousResponseID != "" && len(messages) > 0 {
		messages = messages[len(messages)-1:]
	}

	req := openAIRequest{
		Model:              opts.Model,
		Instructions:       opts.SystemPrompt,
		MaxOutputTokens:    opts.MaxTokens,
		PreviousResponseID: opts.PreviousResponseID,
		Stream:             true,
	}
	for _, m := range messages {
		req.Input = append(req.Input, toOpenAIInput(m))
	}
	if opts.ThinkingMode {
		req.Reasoning = &openAIReasoning{Effort: reasoningEffort(opts.BudgetTokens), Summary: "auto"}
	}
	if opts.HasTool(ToolImageGeneration) {
		req.Tools = append(req.Tools, openAITool{Type: "image_generation", PartialImages: 2})
	}
	if opts.HasTool(ToolWebSearch) {
		req.Tools = append(req.Tools, openAITool{Type: "web_search_preview"})
	}
	return req
}

func toOpenAIInput(m models.Message) openAIInputMessage {
	out := openAIInputMessage{Role: m.Role}
	for _, block := range m.Content {
		switch block.Type {
		case models.ContentText:
			partType := "input_text"
			if m.Role == models.RoleAssistant {
				partType = "output_text"
			}
			out.Content = append(out.Content, openAIInputPart{Type: partType, Text: block.Text})
		case models.ContentImage:
			// Assistant turns cannot carry input images.
			if m.Role == models.RoleUser && block.URL != "" {
				out.Content = append(out.Content, openAIInputPart{Type: "input_image", ImageURL: block.URL})
			}
		}
	}
	return out
}

func reasoningEffort(budget int) string {
	switch {
	case budget <= 2048:
		return "low"
	case budget <= 8192:
		return "medium"
	default:
		return "high"
	}
}

type openAIEvent struct {
	Type            string `json:"type"`
	Delta           string `json:"delta"`
	ItemID          string `json:"item_id"`
	PartialImageB64 string `json:"partial_image_b64"`
	OutputFormat    string `json:"output_format"`
	Message         string `json:"message"`
	Code            string `json:"code"`
	Item            *struct {
		ID           string `json:"id"`
		Type         string `json:"type"`
		Result       string `json:"result"`
		OutputFormat string `json:"output_format"`
	} `json:"item"`
	Response *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
}

func (a *openAIAdapter) StreamResponse(ctx context.Context, opts Options) (<-chan Chunk, error) {
	req := a.buildRequest(opts)
	a.vendor.logger.Debug("starting response",
		zap.String("model", req.Model),
		zap.Int("input_messages", len(req.Input)),
		zap.Bool("continued", req.PreviousResponseID != ""))

	headers := map[string]string{"Authorization": "Bearer " + a.vendor.apiKey}
	body, err := postStream(ctx, a.vendor.client, a.Name(), a.vendor.baseURL+"/responses", headers, req)
	if err != nil {
		return nil, err
	}
	return streamSSE(ctx, body, a.Name(), a.newHandler()), nil
}

// newHandler returns the per-stream event decoder; it keeps the counters the
// final meta event needs.
func (a *openAIAdapter) newHandler() sseHandler {
	var (
		searches  int
		generated bool
	)

	return func(data []byte) ([]models.StreamEvent, error) {
		var ev openAIEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("openai: decode event: %w", err)
		}

		switch ev.Type {
		case "response.created":
			if ev.Response != nil && ev.Response.ID != "" {
				return []models.StreamEvent{models.ResponseIDEvent{ResponseID: ev.Response.ID}}, nil
			}
		case "response.output_text.delta":
			return []models.StreamEvent{models.TextDelta{Content: ev.Delta}}, nil
		case "response.reasoning_summary_text.delta":
			return []models.StreamEvent{models.ThinkingDelta{Content: ev.Delta}}, nil
		case "response.image_generation_call.in_progress":
			return []models.StreamEvent{models.ToolStatusEvent{Tool: string(ToolImageGeneration), Status: "in_progress"}}, nil
		case "response.image_generation_call.partial_image":
			return []models.StreamEvent{models.ImageDataEvent{
				GenerationID: ev.ItemID,
				Data:         ev.PartialImageB64,
				MimeType:     imageMime(ev.OutputFormat),
				Partial:      true,
			}}, nil
		case "response.output_item.done":
			if ev.Item != nil && ev.Item.Type == "image_generation_call" && ev.Item.Result != "" {
				generated = true
				return []models.StreamEvent{models.ImageDataEvent{
					GenerationID: ev.Item.ID,
					Data:         ev.Item.Result,
					MimeType:     imageMime(ev.Item.OutputFormat),
				}}, nil
			}
		case "response.web_search_call.in_progress":
			return []models.StreamEvent{models.ToolStatusEvent{Tool: string(ToolWebSearch), Status: "in_progress"}}, nil
		case "response.web_search_call.completed":
			searches++
			return []models.StreamEvent{models.ToolStatusEvent{Tool: string(ToolWebSearch), Status: "completed"}}, nil
		case "response.completed":
			if ev.Response == nil || ev.Response.Usage == nil {
				return nil, nil
			}
			usage := models.Usage{
				InputTokens:      ev.Response.Usage.InputTokens,
				OutputTokens:     ev.Response.Usage.OutputTokens,
				WebSearchCount:   searches,
				DidGenerateImage: generated,
			}
			return []models.StreamEvent{metaEvent(a.cfg, ev.Response.Model, usage)}, nil
		case "response.failed":
			if ev.Response != nil && ev.Response.Error != nil {
				return nil, &UpstreamError{Vendor: a.Name(), Code: ev.Response.Error.Code, Message: ev.Response.Error.Message}
			}
			return nil, &UpstreamError{Vendor: a.Name(), Message: "response failed"}
		case "error":
			return nil, &UpstreamError{Vendor: a.Name(), Code: ev.Code, Message: ev.Message}
		}
		return nil, nil
	}
}

func imageMime(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
