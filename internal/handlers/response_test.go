package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snowgoose-backend/internal/models"
	"snowgoose-backend/internal/services"
)

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"modelId": "required"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", &services.NotFoundError{Message: "Persona not found"}, http.StatusNotFound, "NOT_FOUND"},
		{"wrapped not found", fmt.Errorf("compose: %w", &services.NotFoundError{Message: "Persona not found"}), http.StatusNotFound, "NOT_FOUND"},
		{"unauthorized", &services.UnauthorizedError{Message: "Unknown user"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"anything else", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Request-ID", "req-9")
			rr := httptest.NewRecorder()

			handleServiceError(rr, req, tc.err)

			assert.Equal(t, tc.wantStatus, rr.Code)
			var body models.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tc.wantCode, body.Error.Code)
			assert.Equal(t, "req-9", body.Error.RequestID)
			assert.NotContains(t, body.Error.Message, "connection reset")
		})
	}
}
