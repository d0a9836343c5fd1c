package errors

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensekit/internal/license"
	"licensekit/internal/shared/testutil"
	"licensekit/pkg/contracts/domain"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	assert.Equal(t, ContentTypeProblem, rec.Header().Get("Content-Type"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_HandleError(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Get("/license/check", func(w http.ResponseWriter, req *http.Request) {
		h.HandleError(w, req, &license.StatusError{
			Status:  domain.LicenseStatusExpired,
			Message: license.MsgExpired,
			Err:     license.ErrExpired,
		})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/license/check", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeProblem(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "expired", body["license_status"])
	assert.Equal(t, "License expired", body["message"])
	assert.NotEmpty(t, body["trace_id"])
	assert.Equal(t, float64(http.StatusForbidden), body["status"])

	testutil.AssertLogContains(t, logs, slog.LevelInfo, "request failed")
	testutil.AssertNoErrors(t, logs)
}

func TestErrorHandler_InternalErrorsLogAtErrorLevel(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, true)

	rec := httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodPost, "/license/activate", nil), errors.New("disk full"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeProblem(t, rec)
	assert.NotEmpty(t, body["stack"])
	assert.Len(t, logs.GetRecordsByLevel(slog.LevelError), 1)
}

func TestErrorHandler_Recoverer(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	handler := h.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/license/check", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeProblem(t, rec)
	assert.Equal(t, MsgInternal, body["message"])
	assert.NotContains(t, rec.Body.String(), "boom")
	testutil.AssertLogContains(t, logs, slog.LevelError, "panic recovered")
}

func TestErrorHandler_RoutingErrors(t *testing.T) {
	h := NewErrorHandler(nil, false)

	r := chi.NewRouter()
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)
	r.Post("/license/activate", func(http.ResponseWriter, *http.Request) {})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, TypeNotFound, decodeProblem(t, rec)["type"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/license/activate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, TypeMethodNotAllowed, decodeProblem(t, rec)["type"])
}

func TestProblemDetails_StandardFieldsWin(t *testing.T) {
	pd := NewProblemDetails(http.StatusBadRequest, TypeValidation, "Invalid Request", "bad", "/x").
		WithExtension("status", 999).
		WithExtension("license_status", "invalid")

	data, err := json.Marshal(pd)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, float64(http.StatusBadRequest), body["status"])
	assert.Equal(t, "invalid", body["license_status"])

	var nilExt ProblemDetails
	nilExt.WithExtension("k", "v")
	assert.Equal(t, "v", nilExt.Extensions["k"])
}
