package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/pkg/errors"
	"watchtower/pkg/logger"
)

type stubChecker struct {
	err error
}

func (s stubChecker) Health(ctx context.Context) error { return s.err }

func TestHandler_Liveness(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(nil, logger.Get()).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ReadinessAllHealthy(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(map[string]Checker{
		"redis":  stubChecker{},
		"ledger": stubChecker{},
	}, logger.Get()).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got["redis"])
	assert.Equal(t, "ok", got["ledger"])
}

func TestHandler_ReadinessDependencyDown(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(map[string]Checker{
		"redis":  stubChecker{},
		"ledger": stubChecker{err: errors.ErrUnavailable},
	}, logger.Get()).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
