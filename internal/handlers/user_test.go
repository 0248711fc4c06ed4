package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"snowgoose-backend/internal/middleware"
	"snowgoose-backend/internal/models"
)

type stubUserRepo struct {
	users     map[uuid.UUID]*models.User
	ensureErr error
}

func (s *stubUserRepo) EnsureUser(ctx context.Context, id uuid.UUID, email string) error {
	if s.ensureErr != nil {
		return s.ensureErr
	}
	if _, ok := s.users[id]; !ok {
		s.users[id] = &models.User{ID: id, Email: email}
	}
	return nil
}

func (s *stubUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, errors.New("no rows in result set")
	}
	return u, nil
}

func authedRequest(method, target string, userID uuid.UUID, email string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID)
	ctx = context.WithValue(ctx, middleware.UserEmailKey, email)
	return req.WithContext(ctx)
}

func TestGetMe_CreatesUserOnFirstContact(t *testing.T) {
	repo := &stubUserRepo{users: map[uuid.UUID]*models.User{}}
	h := NewUserHandler(repo, zap.NewNop())
	userID := uuid.New()

	rr := httptest.NewRecorder()
	h.GetMe(rr, authedRequest(http.MethodGet, "/api/v1/user/me", userID, "a@example.com"))

	require.Equal(t, http.StatusOK, rr.Code)
	var user models.User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &user))
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, "a@example.com", user.Email)
}

func TestGetMe_EnsureFailure(t *testing.T) {
	repo := &stubUserRepo{users: map[uuid.UUID]*models.User{}, ensureErr: errors.New("db down")}
	h := NewUserHandler(repo, zap.NewNop())

	rr := httptest.NewRecorder()
	h.GetMe(rr, authedRequest(http.MethodGet, "/api/v1/user/me", uuid.New(), ""))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

type stubCatalog struct {
	models   []*models.Model
	personas []*models.Persona
	err      error
}

func (s *stubCatalog) ListActive(ctx context.Context) ([]*models.Model, error) {
	return s.models, s.err
}

func (s *stubCatalog) ListPersonas(ctx context.Context, userID uuid.UUID) ([]*models.Persona, error) {
	return s.personas, s.err
}

func (s *stubCatalog) ListOutputFormats(ctx context.Context, userID uuid.UUID) ([]*models.OutputFormat, error) {
	return nil, s.err
}

func TestCatalog_Lists(t *testing.T) {
	catalog := &stubCatalog{
		models:   []*models.Model{{ID: 1, Name: "GPT", APIName: "gpt-test"}},
		personas: []*models.Persona{{ID: 2, Name: "Pirate"}},
	}
	h := NewCatalogHandler(catalog, catalog, zap.NewNop())
	userID := uuid.New()

	rr := httptest.NewRecorder()
	h.ListModels(rr, authedRequest(http.MethodGet, "/api/v1/models", userID, ""))
	require.Equal(t, http.StatusOK, rr.Code)
	var modelsBody struct {
		Models []models.Model `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &modelsBody))
	require.Len(t, modelsBody.Models, 1)
	assert.Equal(t, "gpt-test", modelsBody.Models[0].APIName)

	rr = httptest.NewRecorder()
	h.ListPersonas(rr, authedRequest(http.MethodGet, "/api/v1/personas", userID, ""))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Pirate")

	rr = httptest.NewRecorder()
	h.ListOutputFormats(rr, authedRequest(http.MethodGet, "/api/v1/output-formats", userID, ""))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"outputFormats":[]}`, rr.Body.String())
}

func TestCatalog_ListFailure(t *testing.T) {
	catalog := &stubCatalog{err: errors.New("db down")}
	h := NewCatalogHandler(catalog, catalog, zap.NewNop())

	rr := httptest.NewRecorder()
	h.ListModels(rr, authedRequest(http.MethodGet, "/api/v1/models", uuid.New(), ""))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
