package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"snowgoose-backend/internal/models"
	"snowgoose-backend/internal/storage"
)

// OpenRouter speaks the OpenAI-compatible chat completions API and reports
// the dollar cost of each turn itself.
type OpenRouter struct {
	apiKey  string
	baseURL string
	referer string
	client  *http.Client
	logger  *zap.Logger
}

func NewOpenRouter(apiKey, baseURL, referer string, client *http.Client, logger *zap.Logger) *OpenRouter {
	return &OpenRouter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		referer: referer,
		client:  client,
		logger:  logger.Named("openrouter"),
	}
}

func (v *OpenRouter) Name() string { return "openrouter" }

func (v *OpenRouter) Bind(cfg models.ModelConfig) Adapter {
	return &openRouterAdapter{vendor: v, cfg: cfg}
}

type openRouterAdapter struct {
	vendor *OpenRouter
	cfg    models.ModelConfig
}

func (a *openRouterAdapter) Name() string               { return a.vendor.Name() }
func (a *openRouterAdapter) Config() models.ModelConfig { return a.cfg }

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterMessage struct {
	Role    string           `json:"role"`
	Content []openRouterPart `json:"content"`
}

type openRouterPlugin struct {
	ID string `json:"id"`
}

type openRouterRequest struct {
	Model      string              `json:"model"`
	Messages   []openRouterMessage `json:"messages"`
	MaxTokens  int                 `json:"max_tokens,omitempty"`
	Reasoning  map[string]int      `json:"reasoning,omitempty"`
	Modalities []string            `json:"modalities,omitempty"`
	Plugins    []openRouterPlugin  `json:"plugins,omitempty"`
	Usage      map[string]bool     `json:"usage"`
	Stream     bool                `json:"stream"`
}

func (a *openRouterAdapter) buildRequest(opts Options) openRouterRequest {
	req := openRouterRequest{
		Model:     opts.Model,
		MaxTokens: opts.MaxTokens,
		Usage:     map[string]bool{"include": true},
		Stream:    true,
	}
	if opts.SystemPrompt != "" {
		req.Messages = append(req.Messages, openRouterMessage{
			Role:    "system",
			Content: []openRouterPart{{Type: "text", Text: opts.SystemPrompt}},
		})
	}
	for _, m := range opts.Messages {
		msg := openRouterMessage{Role: m.Role}
		for _, block := range m.Content {
			switch block.Type {
			case models.ContentText:
				msg.Content = append(msg.Content, openRouterPart{Type: "text", Text: block.Text})
			case models.ContentImage:
				if block.URL != "" {
					msg.Content = append(msg.Content, openRouterPart{Type: "image_url", ImageURL: &openRouterImageURL{URL: block.URL}})
				}
			}
		}
		req.Messages = append(req.Messages, msg)
	}
	if opts.ThinkingMode {
		req.Reasoning = map[string]int{"max_tokens": opts.BudgetTokens}
	}
	if opts.HasTool(ToolImageGeneration) {
		req.Modalities = []string{"image", "text"}
	}
	if opts.HasTool(ToolWebSearch) {
		req.Plugins = append(req.Plugins, openRouterPlugin{ID: "web"})
	}
	return req
}

type openRouterChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta *struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
			Images    []struct {
				ImageURL openRouterImageURL `json:"image_url"`
			} `json:"images"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int     `json:"prompt_tokens"`
		CompletionTokens int     `json:"completion_tokens"`
		Cost             float64 `json:"cost"`
	} `json:"usage"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *openRouterAdapter) StreamResponse(ctx context.Context, opts Options) (<-chan Chunk, error) {
	req := a.buildRequest(opts)
	a.vendor.logger.Debug("starting completion",
		zap.String("model", req.Model),
		zap.Int("messages", len(req.Messages)),
		zap.Strings("modalities", req.Modalities))

	headers := map[string]string{"Authorization": "Bearer " + a.vendor.apiKey}
	if a.vendor.referer != "" {
		headers["HTTP-Referer"] = a.vendor.referer
		headers["X-Title"] = "Snowgoose"
	}
	body, err := postStream(ctx, a.vendor.client, a.Name(), a.vendor.baseURL+"/chat/completions", headers, req)
	if err != nil {
		return nil, err
	}
	return streamSSE(ctx, body, a.Name(), a.newHandler()), nil
}

func (a *openRouterAdapter) newHandler() sseHandler {
	var (
		responseID string
		images     int
	)

	return func(data []byte) ([]models.StreamEvent, error) {
		var chunk openRouterChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, fmt.Errorf("openrouter: decode chunk: %w", err)
		}
		if chunk.Error != nil {
			return nil, &UpstreamError{Vendor: a.Name(), Code: fmt.Sprint(chunk.Error.Code), Message: chunk.Error.Message}
		}

		var events []models.StreamEvent
		if responseID == "" && chunk.ID != "" {
			responseID = chunk.ID
		}
		for _, choice := range chunk.Choices {
			if choice.Delta == nil {
				continue
			}
			if choice.Delta.Reasoning != "" {
				events = append(events, models.ThinkingDelta{Content: choice.Delta.Reasoning})
			}
			if choice.Delta.Content != "" {
				events = append(events, models.TextDelta{Content: choice.Delta.Content})
			}
			for _, img := range choice.Delta.Images {
				mime, payload, err := storage.ParseDataURI(img.ImageURL.URL)
				if err != nil {
					a.vendor.logger.Warn("skipping undecodable image output", zap.String("response_id", responseID), zap.Error(err))
					continue
				}
				events = append(events, models.ImageDataEvent{
					GenerationID: fmt.Sprintf("%s-%d", responseID, images),
					Data:         payload,
					MimeType:     mime,
				})
				images++
			}
		}

		if chunk.Usage != nil {
			usage := models.Usage{
				InputTokens:      chunk.Usage.PromptTokens,
				OutputTokens:     chunk.Usage.CompletionTokens,
				TotalCost:        chunk.Usage.Cost,
				DidGenerateImage: images > 0,
			}
			events = append(events, metaEvent(a.cfg, chunk.Model, usage))
		}
		return events, nil
	}
}
