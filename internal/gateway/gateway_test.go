package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smedrec/smart-logs/internal/archive"
	"github.com/smedrec/smart-logs/internal/cron"
	"github.com/smedrec/smart-logs/internal/dlq"
	"github.com/smedrec/smart-logs/internal/health"
	"github.com/smedrec/smart-logs/internal/metrics"
	"github.com/smedrec/smart-logs/internal/queue"
	"github.com/smedrec/smart-logs/pkg/audit"
)

const testToken = "test-token"

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	registry := prometheus.NewRegistry()
	g := &Gateway{
		config: Config{
			Bind: "127.0.0.1:0",
			Auth: AuthConfig{BearerToken: testToken},
		},
		logger:       slog.Default(),
		registry:     registry,
		metrics:      metrics.NewSet(registry),
		tracker:      health.NewTracker(health.NewMemStore(), nil, health.Config{}),
		dlqService:   dlq.NewService(queue.NewMemory(), nil, dlq.Config{}),
		archiveStore: archive.NewMemStore(),
	}
	return g
}

func doRequest(t *testing.T, g *Gateway, method, path string, headers map[string]string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	g.router().ServeHTTP(rec, req)
	return rec
}

func authedHeaders(role string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + testToken,
		"X-User-Id":     "user-1",
		"X-Org-Id":      "org-A",
		"X-Role":        role,
	}
}

func TestHealthz_NoAuth(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	rec := doRequest(t, g, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAPI_RequiresAuth(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)

	rec := doRequest(t, g, http.MethodGet, "/api/dlq/metrics", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no auth: status = %d", rec.Code)
	}

	rec = doRequest(t, g, http.MethodGet, "/api/dlq/metrics", map[string]string{
		"Authorization": "Bearer wrong",
		"X-Org-Id":      "org-A",
	}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d", rec.Code)
	}
}

func TestAPI_RequiresOrgHeader(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	rec := doRequest(t, g, http.MethodGet, "/api/dlq/metrics", map[string]string{
		"Authorization": "Bearer " + testToken,
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestDestinationHealth(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	ctx := context.Background()

	if _, err := g.tracker.RecordFailure(ctx, "d1", "timeout"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	rec := doRequest(t, g, http.MethodGet, "/api/destinations/d1/health", authedHeaders("viewer"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var h health.Health
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d", h.ConsecutiveFailures)
	}

	rec = doRequest(t, g, http.MethodGet, "/api/destinations/ghost/health", authedHeaders("viewer"), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing destination: status = %d", rec.Code)
	}
}

func TestDestinationDisable_RequiresAdmin(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)

	rec := doRequest(t, g, http.MethodPost, "/api/destinations/d1/disable",
		authedHeaders("viewer"), `{"reason":"maintenance"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("viewer disable: status = %d", rec.Code)
	}

	rec = doRequest(t, g, http.MethodPost, "/api/destinations/d1/disable",
		authedHeaders("admin"), `{"reason":"maintenance"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin disable: status = %d: %s", rec.Code, rec.Body)
	}

	h, err := g.tracker.Get(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h.Status != health.StatusDisabled {
		t.Errorf("status = %s", h.Status)
	}

	rec = doRequest(t, g, http.MethodPost, "/api/destinations/d1/enable",
		authedHeaders("admin"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("enable: status = %d", rec.Code)
	}
}

func TestDLQMetricsEndpoint(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	ctx := context.Background()

	_, err := g.dlqService.AddFailedEvent(ctx, audit.Record{ID: "evt-1"},
		errors.New("timeout"), "", "", nil)
	if err != nil {
		t.Fatalf("AddFailedEvent: %v", err)
	}

	rec := doRequest(t, g, http.MethodGet, "/api/dlq/metrics", authedHeaders("viewer"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var m dlq.Metrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.TotalEvents != 1 {
		t.Errorf("TotalEvents = %d", m.TotalEvents)
	}
}

func TestJobStatusesEndpoint(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)

	// No cron module loaded: the surface reports it rather than serving
	// an empty list.
	rec := doRequest(t, g, http.MethodGet, "/api/jobs", authedHeaders("viewer"), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status without scheduler = %d", rec.Code)
	}

	g.scheduler = cron.NewScheduler(slog.Default())
	if err := g.scheduler.RegisterJob(&cron.DLQSweepJob{Sweeper: &noopSweeper{}}); err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}

	rec = doRequest(t, g, http.MethodGet, "/api/jobs", authedHeaders("viewer"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var statuses []cron.JobStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Name != "dlq_sweep" {
		t.Errorf("statuses = %+v", statuses)
	}
}

type noopSweeper struct{}

func (noopSweeper) SweepAged(context.Context) (int, int, error) { return 0, 0, nil }

func TestArchiveStatsEndpoint(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	ctx := context.Background()

	engine := archive.NewEngine(archive.Config{}, g.archiveStore.(*archive.MemStore),
		archive.NewMemRecordStore(), archive.NewMemPolicyStore())
	if _, err := engine.Create(ctx, []audit.Record{{ID: "r1"}}, archive.CreateMetadata{}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := doRequest(t, g, http.MethodGet, "/api/archives/stats", authedHeaders("viewer"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var stats archiveStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Archives != 1 || stats.RecordCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
