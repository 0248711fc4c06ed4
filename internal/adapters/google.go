package adapters

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"snowgoose-backend/internal/models"
)

const maxFetchedImageBytes = 20 << 20

// Google streams Gemini chats through the generative-ai-go client.
type Google struct {
	client     *genai.Client
	httpClient *http.Client
	logger     *zap.Logger
	rateChan   chan struct{} // Token bucket
}

func NewGoogle(ctx context.Context, apiKey string, concurrentReqs int, httpClient *http.Client, logger *zap.Logger) (*Google, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &Google{
		client:     client,
		httpClient: httpClient,
		logger:     logger.Named("google"),
		rateChan:   rateChan,
	}, nil
}

func (v *Google) Close() {
	v.client.Close()
}

func (v *Google) Name() string { return "google" }

func (v *Google) Bind(cfg models.ModelConfig) Adapter {
	return &googleAdapter{vendor: v, cfg: cfg}
}

// acquireRate blocks until a rate slot is available
func (v *Google) acquireRate(ctx context.Context) error {
	select {
	case <-v.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *Google) releaseRate() {
	v.rateChan <- struct{}{}
}

type googleAdapter struct {
	vendor *Google
	cfg    models.ModelConfig
}

func (a *googleAdapter) Name() string               { return a.vendor.Name() }
func (a *googleAdapter) Config() models.ModelConfig { return a.cfg }

func (a *googleAdapter) StreamResponse(ctx context.Context, opts Options) (<-chan Chunk, error) {
	if len(opts.Messages) == 0 {
		return nil, errors.New("google: no messages")
	}

	model := a.vendor.client.GenerativeModel(opts.Model)
	if opts.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(opts.SystemPrompt)}}
	}
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	if opts.HasTool(ToolWebSearch) {
		a.vendor.logger.Info("web search is not available for gemini chats, ignoring", zap.String("model", opts.Model))
	}

	history := make([]*genai.Content, 0, len(opts.Messages)-1)
	for _, m := range opts.Messages[:len(opts.Messages)-1] {
		history = append(history, a.toContent(ctx, m))
	}
	last := a.toContent(ctx, opts.Messages[len(opts.Messages)-1])
	if len(last.Parts) == 0 {
		return nil, errors.New("google: last message has no content")
	}

	if err := a.vendor.acquireRate(ctx); err != nil {
		return nil, err
	}

	cs := model.StartChat()
	cs.History = history
	it := cs.SendMessageStream(ctx, last.Parts...)

	ch := make(chan Chunk)
	go func() {
		defer a.vendor.releaseRate()
		defer close(ch)

		send := func(c Chunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- c:
				return true
			}
		}

		var usage models.Usage
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				if ctx.Err() == nil {
					send(Chunk{Err: fmt.Errorf("google: stream: %w", err)})
				}
				return
			}

			for _, ev := range responseEvents(resp) {
				if _, ok := ev.(models.ImageDataEvent); ok {
					usage.DidGenerateImage = true
				}
				if !send(Chunk{Event: ev}) {
					return
				}
			}
			if resp.UsageMetadata != nil {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
		}

		send(Chunk{Event: metaEvent(a.cfg, opts.Model, usage)})
	}()
	return ch, nil
}

// responseEvents converts one streamed response into text and image events.
// Each inline image is a complete payload, so it gets its own generation id.
func responseEvents(resp *genai.GenerateContentResponse) []models.StreamEvent {
	var events []models.StreamEvent
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				if p != "" {
					events = append(events, models.TextDelta{Content: string(p)})
				}
			case genai.Blob:
				if strings.HasPrefix(p.MIMEType, "image/") {
					events = append(events, models.ImageDataEvent{
						GenerationID: uuid.New().String(),
						Data:         base64.StdEncoding.EncodeToString(p.Data),
						MimeType:     p.MIMEType,
					})
				}
			}
		}
	}
	return events
}

// toContent maps a message onto a genai turn. Image URLs are fetched and sent
// inline; an image that cannot be fetched is dropped from the turn.
func (a *googleAdapter) toContent(ctx context.Context, m models.Message) *genai.Content {
	role := "user"
	if m.Role == models.RoleAssistant {
		role = "model"
	}

	content := &genai.Content{Role: role}
	for _, block := range m.Content {
		switch block.Type {
		case models.ContentText:
			if block.Text != "" {
				content.Parts = append(content.Parts, genai.Text(block.Text))
			}
		case models.ContentImage:
			if block.URL == "" {
				continue
			}
			blob, err := a.fetchImage(ctx, block.URL)
			if err != nil {
				a.vendor.logger.Warn("dropping unreachable image from history", zap.String("url", block.URL), zap.Error(err))
				continue
			}
			content.Parts = append(content.Parts, blob)
		}
	}
	return content
}

func (a *googleAdapter) fetchImage(ctx context.Context, url string) (genai.Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return genai.Blob{}, err
	}
	resp, err := a.vendor.httpClient.Do(req)
	if err != nil {
		return genai.Blob{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return genai.Blob{}, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchedImageBytes))
	if err != nil {
		return genai.Blob{}, fmt.Errorf("fetch image: %w", err)
	}

	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return genai.Blob{MIMEType: mimeType, Data: data}, nil
}
