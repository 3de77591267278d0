package engine

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xela07ax/swarm-governor/internal/infra"
)

func TestReloadHandlerDispatchesByName(t *testing.T) {
	calls := map[string]int{}
	docs := map[string]infra.ReloadFunc{
		"AUTONOMY_RULES.yaml": func() error { calls["rules"]++; return nil },
		"model_config.yaml":   func() error { calls["catalog"]++; return errors.New("bad yaml") },
	}
	handle := ReloadHandler(docs, zap.NewNop())

	handle("AUTONOMY_RULES.yaml")
	assert.Equal(t, map[string]int{"rules": 1}, calls)

	handle("all")
	handle("")
	assert.Equal(t, map[string]int{"rules": 3, "catalog": 2}, calls)

	handle("unknown.yaml")
	assert.Equal(t, map[string]int{"rules": 3, "catalog": 2}, calls)
}

func TestTracingMiddleware(t *testing.T) {
	var seen string
	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = extractTraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Trace-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc", seen)
	assert.Equal(t, seen, rec.Header().Get("X-Trace-ID"))
}
