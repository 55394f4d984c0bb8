package providers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockMetrics struct {
	noopMetrics
	requestEndpoint  string
	requestStatus    int
	requestCalls     int
	durationEndpoint string
	durationCalls    int
}

func (m *mockMetrics) IncRequestsTotal(endpoint string, status int) {
	m.requestEndpoint = endpoint
	m.requestStatus = status
	m.requestCalls++
}
func (m *mockMetrics) ObserveRequestDuration(endpoint string, _ time.Duration) {
	m.durationEndpoint = endpoint
	m.durationCalls++
}

func TestMetricsMiddleware_CapturesStatusAndEndpoint(t *testing.T) {
	metrics := &mockMetrics{}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	mw := MetricsMiddleware(metrics, []string{"/search", "/pair"}, handler)

	req := httptest.NewRequest(http.MethodPost, "/search", nil)
	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, req)

	assert.Equal(t, 1, metrics.requestCalls)
	assert.Equal(t, "/search", metrics.requestEndpoint)
	assert.Equal(t, http.StatusAccepted, metrics.requestStatus)
	assert.Equal(t, 1, metrics.durationCalls)
	assert.Equal(t, "/search", metrics.durationEndpoint)
}

func TestMetricsMiddleware_QueryStringIgnored(t *testing.T) {
	metrics := &mockMetrics{}
	mw := MetricsMiddleware(metrics, []string{"/partner"}, http.NotFoundHandler())

	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/partner?p=u1", nil))
	assert.Equal(t, "/partner", metrics.requestEndpoint)
	assert.Equal(t, http.StatusNotFound, metrics.requestStatus)
}

func TestMetricsMiddleware_UnknownPathCollapsed(t *testing.T) {
	metrics := &mockMetrics{}
	mw := MetricsMiddleware(metrics, []string{"/pair"}, http.NotFoundHandler())

	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))
	assert.Equal(t, UnmatchedEndpoint, metrics.requestEndpoint)
	assert.Equal(t, UnmatchedEndpoint, metrics.durationEndpoint)
}

func TestMetricsMiddleware_DefaultStatus200(t *testing.T) {
	metrics := &mockMetrics{}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	mw := MetricsMiddleware(metrics, nil, handler)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rr := httptest.NewRecorder()
	mw.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, metrics.requestStatus)
}

func TestStatusWriter_WriteHeader(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rr, status: http.StatusOK}

	sw.WriteHeader(http.StatusConflict)
	assert.Equal(t, http.StatusConflict, sw.status)
	assert.Equal(t, http.StatusConflict, rr.Code)
}
