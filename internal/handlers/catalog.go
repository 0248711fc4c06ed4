package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"snowgoose-backend/internal/middleware"
	"snowgoose-backend/internal/models"
)

type modelLister interface {
	ListActive(ctx context.Context) ([]*models.Model, error)
}

type promptLister interface {
	ListPersonas(ctx context.Context, userID uuid.UUID) ([]*models.Persona, error)
	ListOutputFormats(ctx context.Context, userID uuid.UUID) ([]*models.OutputFormat, error)
}

// CatalogHandler serves the read-only lists the chat UI picks from.
type CatalogHandler struct {
	models  modelLister
	prompts promptLister
	logger  *zap.Logger
}

func NewCatalogHandler(modelRepo modelLister, prompts promptLister, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{models: modelRepo, prompts: prompts, logger: logger.Named("catalog_handler")}
}

func (h *CatalogHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	list, err := h.models.ListActive(r.Context())
	if err != nil {
		h.logger.Error("failed to list models", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list models", r))
		return
	}
	if list == nil {
		list = []*models.Model{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": list})
}

func (h *CatalogHandler) ListPersonas(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	list, err := h.prompts.ListPersonas(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list personas", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list personas", r))
		return
	}
	if list == nil {
		list = []*models.Persona{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"personas": list})
}

func (h *CatalogHandler) ListOutputFormats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	list, err := h.prompts.ListOutputFormats(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list output formats", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list output formats", r))
		return
	}
	if list == nil {
		list = []*models.OutputFormat{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"outputFormats": list})
}
