package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"snowgoose-backend/internal/adapters"
	"snowgoose-backend/internal/middleware"
	"snowgoose-backend/internal/models"
	"snowgoose-backend/internal/relay"
	"snowgoose-backend/internal/services"
)

const maxChatBodyBytes = 25 << 20

type chatPreparer interface {
	Authorize(ctx context.Context, userID uuid.UUID) (float64, error)
	Prepare(ctx context.Context, userID uuid.UUID, req *models.ChatRequest) (*services.PreparedChat, error)
}

type streamRelay interface {
	Run(ctx context.Context, turn relay.Turn, upstream <-chan adapters.Chunk, emit relay.Emit) error
}

type ChatHandler struct {
	chat   chatPreparer
	relay  streamRelay
	logger *zap.Logger
}

func NewChatHandler(chat chatPreparer, relay streamRelay, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, relay: relay, logger: logger.Named("chat_handler")}
}

// Stream answers POST /api/v1/chat with a stream of JSON frames. Status 200
// is only committed once the upstream stream is open; failures before that
// are plain JSON responses.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if _, err := h.chat.Authorize(r.Context(), userID); err != nil {
		h.writeSetupError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	prepared, err := h.chat.Prepare(r.Context(), userID, &req)
	if err != nil {
		h.writeSetupError(w, r, err)
		return
	}

	// Cancelling ctx tears down the upstream connection, whichever way the
	// stream ends.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	upstream, err := prepared.Streamer.StreamResponse(ctx, prepared.Options)
	if err != nil {
		h.logger.Error("failed to open upstream stream",
			zap.String("vendor", prepared.Config.VendorName),
			zap.String("model", prepared.Config.APIName),
			zap.Error(err))
		writeStreamError(w, http.StatusInternalServerError, "The model provider could not be reached. Please try again.", "upstream_unavailable")
		return
	}

	fw := newFrameWriter(w)
	fw.start()

	for _, ev := range prepared.Prelude {
		if err := fw.Write(ev); err != nil {
			return
		}
	}

	turn := relay.Turn{UserID: userID, Model: prepared.Config}
	if err := h.relay.Run(ctx, turn, upstream, fw.Write); err != nil {
		if errors.Is(err, relay.ErrClientGone) {
			h.logger.Info("client left mid-stream", zap.String("user_id", userID.String()), zap.Error(err))
			return
		}
		h.logger.Error("relay ended with error", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// writeSetupError maps errors raised before streaming. Authentication and
// validation keep the API's error envelope; the rest use the stream's
// error frame shape so the client parses one format.
func (h *ChatHandler) writeSetupError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		noCredits   *services.InsufficientCreditsError
		notFound    *services.ModelNotFoundError
		unsupported *services.UnsupportedAdapterError
		validation  *services.ValidationError
		missing     *services.NotFoundError
		unauth      *services.UnauthorizedError
	)
	switch {
	case errors.As(err, &noCredits):
		writeStreamError(w, http.StatusPaymentRequired, "You have run out of credits. Top up to keep chatting.", "insufficient_credits")
	case errors.As(err, &notFound):
		h.logger.Error("chat model unavailable", zap.Int("model_id", notFound.ModelID))
		writeStreamError(w, http.StatusInternalServerError, "The selected model is not available.", "model_not_found")
	case errors.As(err, &unsupported):
		h.logger.Error("no streaming adapter", zap.String("vendor", unsupported.Vendor), zap.Error(err))
		writeStreamError(w, http.StatusInternalServerError, "The selected model cannot stream responses.", "unsupported_adapter")
	case errors.As(err, &validation), errors.As(err, &missing), errors.As(err, &unauth):
		handleServiceError(w, r, err)
	default:
		h.logger.Error("chat setup failed", zap.Error(err))
		writeStreamError(w, http.StatusInternalServerError, "Something went wrong. Please try again.", "internal_error")
	}
}

func writeStreamError(w http.ResponseWriter, status int, publicMessage, code string) {
	writeJSON(w, status, models.ErrorEvent{PublicMessage: publicMessage, Code: code})
}

// frameWriter writes one JSON object per frame, each followed by a blank
// line, and flushes every frame.
type frameWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newFrameWriter(w http.ResponseWriter) *frameWriter {
	return &frameWriter{w: w, rc: http.NewResponseController(w)}
}

func (f *frameWriter) start() {
	// The server's write timeout is sized for plain requests.
	_ = f.rc.SetWriteDeadline(time.Time{})

	h := f.w.Header()
	h.Set("Content-Type", "application/x-ndjson")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	f.w.WriteHeader(http.StatusOK)
	_ = f.rc.Flush()
}

func (f *frameWriter) Write(ev models.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: %s frame: %v", relay.ErrFrameEncoding, ev.EventType(), err)
	}
	data = append(data, '\n', '\n')

	if _, err := f.w.Write(data); err != nil {
		return err
	}
	return f.rc.Flush()
}
