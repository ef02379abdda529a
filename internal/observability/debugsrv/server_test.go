package debugsrv

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "dosebot/pkg/logx"
)

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.1.2.3:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		assert.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}

func TestWithAuth(t *testing.T) {
	t.Parallel()
	h := withAuth("s3cret", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	do := func(target, bearer string) int {
		r := httptest.NewRequest(http.MethodGet, target, nil)
		if bearer != "" {
			r.Header.Set("Authorization", "Bearer "+bearer)
		}
		w := httptest.NewRecorder()
		h(w, r)
		return w.Code
	}
	assert.Equal(t, http.StatusUnauthorized, do("/healthz", ""))
	assert.Equal(t, http.StatusUnauthorized, do("/healthz?token=nope", "s3cret"))
	assert.Equal(t, http.StatusNoContent, do("/healthz?token=s3cret", ""))
	assert.Equal(t, http.StatusNoContent, do("/healthz", "s3cret"))
}

func TestHealthReportsDegraded(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, func() (any, error) { return map[string]int{"pending": 2}, errors.New("store closed") }, logx.Nop())
	w := httptest.NewRecorder()
	s.routes(Config{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	assert.Contains(t, w.Body.String(), `"pending":2`)
}

func TestReconfigureServesMetricsAndStops(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "dosebot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := New(Config{}, reg, nil, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Cleanup(func() { s.Stop(context.Background()) })

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Pprof: true})
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "dosebot_test_total 1")

	resp, err = http.Get("http://" + addr + "/debug/pprof/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.Reconfigure(ctx, Config{Enabled: false})
	assert.Empty(t, s.Addr())
}
