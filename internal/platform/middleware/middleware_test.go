package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constancia/internal/platform/logger"
	dErrors "constancia/pkg/domain-errors"
)

type staticValidator struct {
	operatorID string
	err        error
}

func (v staticValidator) ValidateToken(string) (string, error) {
	return v.operatorID, v.err
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// The hand-written middleware envelopes must carry the same wire codes as the
// shared handler envelope so clients see one vocabulary.
func TestEnvelopeCodesMatchDomainErrors(t *testing.T) {
	log := logger.New()

	t.Run("panic recovery", func(t *testing.T) {
		h := Recovery(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, string(dErrors.CodeInternal), decodeEnvelope(t, rec)["code"])
	})

	t.Run("missing token", func(t *testing.T) {
		h := RequireAuth(staticValidator{}, log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, string(dErrors.CodeUnauthorized), decodeEnvelope(t, rec)["code"])
	})

	t.Run("rejected token", func(t *testing.T) {
		h := RequireAuth(staticValidator{err: errors.New("expired")}, log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		}))
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", "Bearer bad")
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, string(dErrors.CodeUnauthorized), decodeEnvelope(t, rec)["code"])
	})

	t.Run("wrong content type", func(t *testing.T) {
		h := ContentTypeJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		}))
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set("Content-Type", "text/plain")
		req.ContentLength = 4
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
		assert.Equal(t, string(dErrors.CodeBadRequest), decodeEnvelope(t, rec)["code"])
	})
}
