// Package gateway exposes the ops HTTP surface: liveness, Prometheus
// metrics, and the authenticated destination/DLQ/archive endpoints. Every
// /api handler passes the caller's user context through access control.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/smedrec/smart-logs/internal/archive"
	"github.com/smedrec/smart-logs/internal/core"
	"github.com/smedrec/smart-logs/internal/cron"
	"github.com/smedrec/smart-logs/internal/dlq"
	"github.com/smedrec/smart-logs/internal/health"
	"github.com/smedrec/smart-logs/internal/metrics"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Config holds the gateway settings.
type Config struct {
	// Bind is the listen address (default 127.0.0.1:8787).
	Bind string `yaml:"bind"`

	// Auth configures the /api authentication.
	Auth AuthConfig `yaml:"auth"`
}

func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8787"
	}
}

// AuthConfig holds credentials accepted by the auth middleware.
type AuthConfig struct {
	// BearerToken, when set, enables Bearer authentication.
	BearerToken string `yaml:"bearer_token"`

	// BasicUser/BasicPass, when both set, enable Basic authentication.
	BasicUser string `yaml:"basic_user"`
	BasicPass string `yaml:"basic_pass"`
}

// Gateway is the HTTP gateway module. It is a leaf module — nothing imports
// it; dependencies resolve from the service registry at Start.
type Gateway struct {
	config   Config
	appCtx   *core.AppContext
	logger   *slog.Logger
	server   *http.Server
	registry *prometheus.Registry
	metrics  *metrics.Set

	// Resolved at Start() via the service registry.
	tracker      *health.Tracker
	dlqService   *dlq.Service
	archiveStore archive.Store
	scheduler    *cron.Scheduler // nil when the cron module is not loaded
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	return nil
}

// Provision implements core.Provisioner. The registry and collector set
// come from the telemetry.metrics module when loaded; otherwise the gateway
// runs its own.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger

	if registry, err := core.ResolveService[*prometheus.Registry](ctx, "metrics.registry"); err == nil {
		g.registry = registry
		g.metrics, _ = core.ResolveService[*metrics.Set](ctx, "metrics.set")
	} else {
		g.registry = prometheus.NewRegistry()
		g.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		g.metrics = metrics.NewSet(g.registry)
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	if g.config.Auth.BearerToken == "" && (g.config.Auth.BasicUser == "" || g.config.Auth.BasicPass == "") {
		return errors.New("gateway: no auth configured (set auth.bearer_token or auth.basic_user/basic_pass)")
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry and begins serving.
func (g *Gateway) Start() error {
	var err error
	if g.tracker, err = core.ResolveService[*health.Tracker](g.appCtx, "health.tracker"); err != nil {
		return err
	}
	if g.dlqService, err = core.ResolveService[*dlq.Service](g.appCtx, "dlq.service"); err != nil {
		return err
	}
	if g.archiveStore, err = core.ResolveService[archive.Store](g.appCtx, "archive.store"); err != nil {
		return err
	}
	g.scheduler, _ = core.ResolveService[*cron.Scheduler](g.appCtx, "cron.scheduler")

	g.server = &http.Server{
		Addr:              g.config.Bind,
		Handler:           g.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", g.config.Bind)
	if err != nil {
		return err
	}

	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve failed", "error", err)
		}
	}()

	g.logger.Info("gateway listening", "bind", g.config.Bind)
	return nil
}

// Stop implements core.Stopper.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

// router builds the chi handler tree.
func (g *Gateway) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		api.Use(authMiddleware(g.config.Auth, g.logger))
		api.Use(userContextMiddleware)

		api.Get("/destinations/{id}/health", g.handleDestinationHealth)
		api.Post("/destinations/{id}/disable", g.handleDestinationDisable)
		api.Post("/destinations/{id}/enable", g.handleDestinationEnable)
		api.Get("/dlq/metrics", g.handleDLQMetrics)
		api.Get("/archives/stats", g.handleArchiveStats)
		api.Get("/jobs", g.handleJobStatuses)
	})

	return r
}
