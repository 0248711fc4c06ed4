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

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
	anthropicMinBudget        = 1024
	anthropicMaxSearches      = 5
)

// Anthropic speaks the Messages API.
type Anthropic struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewAnthropic(apiKey, baseURL string, client *http.Client, logger *zap.Logger) *Anthropic {
	return &Anthropic{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.Named("anthropic"),
	}
}

func (v *Anthropic) Name() string { return "anthropic" }

func (v *Anthropic) Bind(cfg models.ModelConfig) Adapter {
	return &anthropicAdapter{vendor: v, cfg: cfg}
}

type anthropicAdapter struct {
	vendor *Anthropic
	cfg    models.ModelConfig
}

func (a *anthropicAdapter) Name() string               { return a.vendor.Name() }
func (a *anthropicAdapter) Config() models.ModelConfig { return a.cfg }

type anthropicImageSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type anthropicContent struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicTool struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	MaxUses int    `json:"max_uses,omitempty"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Thinking  *anthropicThinking `json:"thinking,omitempty"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream"`
}

func (a *anthropicAdapter) buildRequest(opts Options) anthropicRequest {
	req := anthropicRequest{
		Model:     opts.Model,
		MaxTokens: opts.MaxTokens,
		System:    opts.SystemPrompt,
		Stream:    true,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = anthropicDefaultMaxTokens
	}

	if opts.ThinkingMode {
		budget := max(opts.BudgetTokens, anthropicMinBudget)
		// max_tokens includes the thinking budget and must exceed it.
		if req.MaxTokens <= budget {
			req.MaxTokens = budget + anthropicDefaultMaxTokens
		}
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
	}
	if opts.HasTool(ToolWebSearch) {
		req.Tools = append(req.Tools, anthropicTool{Type: "web_search_20250305", Name: "web_search", MaxUses: anthropicMaxSearches})
	}

	for _, m := range opts.Messages {
		msg := anthropicMessage{Role: m.Role}
		for _, block := range m.Content {
			switch block.Type {
			case models.ContentText:
				if block.Text != "" {
					msg.Content = append(msg.Content, anthropicContent{Type: "text", Text: block.Text})
				}
			case models.ContentImage:
				if block.URL != "" {
					msg.Content = append(msg.Content, anthropicContent{
						Type:   "image",
						Source: &anthropicImageSource{Type: "url", URL: block.URL},
					})
				}
			}
		}
		if len(msg.Content) > 0 {
			req.Messages = append(req.Messages, msg)
		}
	}
	return req
}

type anthropicUsage struct {
	InputTokens   int `json:"input_tokens"`
	OutputTokens  int `json:"output_tokens"`
	ServerToolUse *struct {
		WebSearchRequests int `json:"web_search_requests"`
	} `json:"server_tool_use"`
}

type anthropicEvent struct {
	Type    string `json:"type"`
	Message *struct {
		ID    string          `json:"id"`
		Model string          `json:"model"`
		Usage *anthropicUsage `json:"usage"`
	} `json:"message"`
	ContentBlock *struct {
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *anthropicAdapter) StreamResponse(ctx context.Context, opts Options) (<-chan Chunk, error) {
	req := a.buildRequest(opts)
	a.vendor.logger.Debug("starting message",
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Bool("thinking", req.Thinking != nil))
	if opts.HasTool(ToolImageGeneration) {
		a.vendor.logger.Warn("image generation requested but not offered by vendor", zap.String("model", req.Model))
	}

	headers := map[string]string{
		"x-api-key":         a.vendor.apiKey,
		"anthropic-version": anthropicVersion,
	}
	body, err := postStream(ctx, a.vendor.client, a.Name(), a.vendor.baseURL+"/messages", headers, req)
	if err != nil {
		return nil, err
	}
	return streamSSE(ctx, body, a.Name(), a.newHandler()), nil
}

func (a *anthropicAdapter) newHandler() sseHandler {
	var (
		model string
		usage models.Usage
	)

	return func(data []byte) ([]models.StreamEvent, error) {
		var ev anthropicEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("anthropic: decode event: %w", err)
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				model = ev.Message.Model
				if ev.Message.Usage != nil {
					usage.InputTokens = ev.Message.Usage.InputTokens
					usage.OutputTokens = ev.Message.Usage.OutputTokens
				}
			}
		case "content_block_start":
			if ev.ContentBlock == nil {
				return nil, nil
			}
			switch ev.ContentBlock.Type {
			case "server_tool_use":
				if ev.ContentBlock.Name == "web_search" {
					return []models.StreamEvent{models.ToolStatusEvent{Tool: string(ToolWebSearch), Status: "in_progress"}}, nil
				}
			case "web_search_tool_result":
				return []models.StreamEvent{models.ToolStatusEvent{Tool: string(ToolWebSearch), Status: "completed"}}, nil
			}
		case "content_block_delta":
			if ev.Delta == nil {
				return nil, nil
			}
			switch ev.Delta.Type {
			case "text_delta":
				return []models.StreamEvent{models.TextDelta{Content: ev.Delta.Text}}, nil
			case "thinking_delta":
				return []models.StreamEvent{models.ThinkingDelta{Content: ev.Delta.Thinking}}, nil
			}
		case "message_delta":
			// Usage on message_delta is cumulative.
			if ev.Usage != nil {
				usage.OutputTokens = ev.Usage.OutputTokens
				if ev.Usage.InputTokens > 0 {
					usage.InputTokens = ev.Usage.InputTokens
				}
				if ev.Usage.ServerToolUse != nil {
					usage.WebSearchCount = ev.Usage.ServerToolUse.WebSearchRequests
				}
			}
		case "message_stop":
			return []models.StreamEvent{metaEvent(a.cfg, model, usage)}, nil
		case "error":
			if ev.Error != nil {
				return nil, &UpstreamError{Vendor: a.Name(), Code: ev.Error.Type, Message: ev.Error.Message}
			}
			return nil, &UpstreamError{Vendor: a.Name(), Message: "stream error"}
		}
		return nil, nil
	}
}
