package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"snowgoose-backend/internal/adapters"
	"snowgoose-backend/internal/models"
	"snowgoose-backend/internal/storage"
)

// Narrow views of the repositories the chat flow reads.
type CreditReader interface {
	GetCredits(ctx context.Context, id uuid.UUID) (float64, error)
}

type ModelReader interface {
	GetByID(ctx context.Context, id int) (*models.Model, error)
	GetVendorByID(ctx context.Context, id int) (*models.APIVendor, error)
}

type PromptReader interface {
	GetPersona(ctx context.Context, id int, userID uuid.UUID) (*models.Persona, error)
	GetOutputFormat(ctx context.Context, id int, userID uuid.UUID) (*models.OutputFormat, error)
}

type StreamerSource interface {
	GetStreamer(vendorName string, cfg models.ModelConfig) (adapters.Streamer, error)
}

// PreparedChat is everything needed to open the upstream stream. Prelude
// holds frames to send before any upstream event.
type PreparedChat struct {
	Config   models.ModelConfig
	Streamer adapters.Streamer
	Options  adapters.Options
	Prelude  []models.StreamEvent
}

type ChatService struct {
	credits  CreditReader
	models   ModelReader
	prompts  PromptReader
	adapters StreamerSource
	uploader storage.Uploader
	logger   *zap.Logger
}

func NewChatService(credits CreditReader, modelRepo ModelReader, prompts PromptReader, registry StreamerSource, uploader storage.Uploader, logger *zap.Logger) *ChatService {
	return &ChatService{
		credits:  credits,
		models:   modelRepo,
		prompts:  prompts,
		adapters: registry,
		uploader: uploader,
		logger:   logger.Named("chat"),
	}
}

// Authorize checks that the caller exists and holds a positive balance. No
// credits are reserved; the turn is billed after the fact.
func (s *ChatService) Authorize(ctx context.Context, userID uuid.UUID) (float64, error) {
	if userID == uuid.Nil {
		return 0, &UnauthorizedError{Message: "Authentication required"}
	}

	balance, err := s.credits.GetCredits(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &UnauthorizedError{Message: "Unknown user"}
	}
	if err != nil {
		return 0, fmt.Errorf("read credits: %w", err)
	}
	if balance <= 0 {
		return balance, &InsufficientCreditsError{Balance: balance}
	}
	return balance, nil
}

// Prepare validates req, persists an attached image, resolves the model and
// its adapter, and builds the upstream options. req is modified in place.
func (s *ChatService) Prepare(ctx context.Context, userID uuid.UUID, req *models.ChatRequest) (*PreparedChat, error) {
	if err := validateChatRequest(req); err != nil {
		return nil, err
	}

	var prelude []models.StreamEvent
	if req.ImageData != "" {
		if ev := s.uploadAttachedImage(ctx, req); ev != nil {
			prelude = append(prelude, *ev)
		}
	}

	systemPrompt, err := s.composeSystemPrompt(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	cfg, err := s.resolveModel(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}

	streamer, err := s.adapters.GetStreamer(cfg.VendorName, cfg)
	if err != nil {
		return nil, &UnsupportedAdapterError{Vendor: cfg.VendorName, Err: err}
	}

	opts := adapters.Options{
		Model:              cfg.APIName,
		Messages:           req.ResponseHistory,
		SystemPrompt:       systemPrompt,
		MaxTokens:          req.MaxTokens,
		ThinkingMode:       req.BudgetTokens > 0 && cfg.IsThinking,
		PreviousResponseID: req.PreviousResponseID,
	}
	if opts.ThinkingMode {
		opts.BudgetTokens = req.BudgetTokens
	}
	if req.UseImageGeneration && cfg.IsImageGeneration {
		opts.Tools = append(opts.Tools, adapters.ToolImageGeneration)
	}
	if req.UseWebSearch {
		opts.Tools = append(opts.Tools, adapters.ToolWebSearch)
	}

	return &PreparedChat{Config: cfg, Streamer: streamer, Options: opts, Prelude: prelude}, nil
}

func validateChatRequest(req *models.ChatRequest) error {
	fields := make(map[string]string)
	if req.ModelID <= 0 {
		fields["modelId"] = "Model is required"
	}
	if len(req.ResponseHistory) == 0 {
		fields["responseHistory"] = "At least one message is required"
	}
	for i, m := range req.ResponseHistory {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			fields[fmt.Sprintf("responseHistory[%d].role", i)] = "Role must be user or assistant"
		}
	}
	if req.MaxTokens < 0 {
		fields["maxTokens"] = "Must not be negative"
	}
	if req.BudgetTokens < 0 {
		fields["budgetTokens"] = "Must not be negative"
	}
	if req.ImageData != "" {
		if req.LastImageBlock() == nil {
			fields["imageData"] = "The last message has no image to attach to"
		} else if _, _, err := storage.ParseDataURI(req.ImageData); err != nil {
			fields["imageData"] = "Must be a base64 data URI"
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// uploadAttachedImage replaces the inline image with its durable URL. On
// failure the image block is dropped and the returned frame explains why.
func (s *ChatService) uploadAttachedImage(ctx context.Context, req *models.ChatRequest) *models.ErrorEvent {
	mimeType, payload, _ := storage.ParseDataURI(req.ImageData)
	req.ImageData = ""

	url, err := s.uploader.Upload(ctx, payload, mimeType)
	if err != nil {
		s.logger.Error("pre-flight image upload failed", zap.String("mime_type", mimeType), zap.Error(err))
		req.DropLastImageBlock()
		return &models.ErrorEvent{
			PublicMessage: "Your image could not be uploaded and was not sent to the model.",
			Code:          "image_upload_failed",
		}
	}

	req.LastImageBlock().URL = url
	return nil
}

// composeSystemPrompt joins persona, output format and the caller's own
// system prompt, in that order.
func (s *ChatService) composeSystemPrompt(ctx context.Context, userID uuid.UUID, req *models.ChatRequest) (string, error) {
	var parts []string

	if req.PersonaID > 0 {
		persona, err := s.prompts.GetPersona(ctx, req.PersonaID, userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", &NotFoundError{Message: "Persona not found"}
		}
		if err != nil {
			return "", fmt.Errorf("load persona: %w", err)
		}
		parts = append(parts, persona.Prompt)
	}

	if req.OutputFormatID > 0 {
		format, err := s.prompts.GetOutputFormat(ctx, req.OutputFormatID, userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return "", &NotFoundError{Message: "Output format not found"}
		}
		if err != nil {
			return "", fmt.Errorf("load output format: %w", err)
		}
		parts = append(parts, format.Prompt)
	}

	if p := strings.TrimSpace(req.SystemPrompt); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, "\n\n"), nil
}

func (s *ChatService) resolveModel(ctx context.Context, modelID int) (models.ModelConfig, error) {
	m, err := s.models.GetByID(ctx, modelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ModelConfig{}, &ModelNotFoundError{ModelID: modelID}
	}
	if err != nil {
		return models.ModelConfig{}, fmt.Errorf("load model: %w", err)
	}
	if !m.IsActive {
		return models.ModelConfig{}, &ModelNotFoundError{ModelID: modelID}
	}

	vendor, err := s.models.GetVendorByID(ctx, m.APIVendorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ModelConfig{}, &ModelNotFoundError{ModelID: modelID}
	}
	if err != nil {
		return models.ModelConfig{}, fmt.Errorf("load vendor: %w", err)
	}

	return models.NewModelConfig(m, vendor), nil
}
