package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"snowgoose-backend/internal/middleware"
	"snowgoose-backend/internal/models"
)

type userRepository interface {
	EnsureUser(ctx context.Context, id uuid.UUID, email string) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type UserHandler struct {
	userRepo userRepository
	logger   *zap.Logger
}

func NewUserHandler(userRepo userRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{userRepo: userRepo, logger: logger.Named("user_handler")}
}

// GetMe returns the caller's profile and balance, creating the row on first
// contact.
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	email := middleware.GetUserEmail(r.Context())

	if err := h.userRepo.EnsureUser(r.Context(), userID, email); err != nil {
		h.logger.Error("failed to ensure user", zap.String("user_id", userID.String()), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
		return
	}

	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "User not found", r))
		return
	}
	writeJSON(w, http.StatusOK, user)
}
