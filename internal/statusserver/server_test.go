package statusserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/engine"
	"autotrader/internal/position"
)

type fixedStatus engine.Status

func (f fixedStatus) Status() engine.Status { return engine.Status(f) }

func newTestServer() *Server {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	sources := []StatusSource{
		fixedStatus{Symbol: "MSFT", State: position.None},
		fixedStatus{Symbol: "AAPL", State: position.Open, Trades: 2},
	}
	return New(":0", sources, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), zerolog.Nop())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStatusListsSymbolsInOrder(t *testing.T) {
	rec := get(t, newTestServer(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "AAPL", out[0].Symbol)
	assert.Equal(t, position.Open, out[0].State)
	assert.Equal(t, 2, out[0].Trades)
	assert.Equal(t, "MSFT", out[1].Symbol)
}

func TestStatusForUnknownSymbol(t *testing.T) {
	rec := get(t, newTestServer(), "/status/TSLA")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, newTestServer(), "/status/MSFT")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_total 1"))
}
