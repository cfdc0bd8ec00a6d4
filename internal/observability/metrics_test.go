package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/chaquecarne/pesajes/internal/weighing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, "pesajes_http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, "pesajes_http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestObserveWeighIn(t *testing.T) {
	metrics := NewMetrics()

	metrics.ObserveWeighIn(weighing.ProfileServer, weighing.OutcomeRecorded, decimal.RequireFromString("1.25"))
	metrics.ObserveWeighIn(weighing.ProfileServer, weighing.OutcomeRejected, decimal.Zero)

	body := scrape(t, metrics)
	for _, want := range []string{
		`pesajes_weighins_total{outcome="recorded",profile="server"} 1`,
		`pesajes_weighins_total{outcome="rejected",profile="server"} 1`,
		`pesajes_weighin_weight_kg_count{profile="server"} 1`,
		`pesajes_weighin_weight_kg_sum{profile="server"} 1.25`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in: %s", want, body)
		}
	}
}

func TestObserveScan(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveScan("label")
	metrics.ObserveScan("label")

	if body := scrape(t, metrics); !strings.Contains(body, `pesajes_barcode_scans_total{outcome="label"} 2`) {
		t.Fatalf("expected scan counter, got: %s", body)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveScan("code")
	metrics.ObserveWeighIn(weighing.ProfileEmbedded, weighing.OutcomeFailed, decimal.Zero)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics, got %d", rr.Code)
	}
}
