// Package telemetry holds the process metrics and the optional HTTP endpoint
// that exposes them.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logging.MustGetLogger("telemetry")

var (
	// BuildDuration records artifact build time by artifact (ast, symbols).
	BuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cortex_lsp_build_duration_seconds",
		Help:    "Time to build a derived artifact",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"artifact"})

	// CacheLookups counts cache lookups by artifact and result (hit, miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cortex_lsp_cache_lookups_total",
		Help: "Artifact cache lookups",
	}, []string{"artifact", "result"})

	// DegradedBuilds counts builds that fell back to a single error node.
	DegradedBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cortex_lsp_degraded_builds_total",
		Help: "Builds that failed and produced a placeholder artifact",
	}, []string{"artifact"})

	// PluginInvocations counts function invocations by plugin and outcome.
	PluginInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cortex_lsp_plugin_invocations_total",
		Help: "Plugin function invocations",
	}, []string{"plugin", "outcome"})

	// PluginState is 1 for the current state of each plugin and 0 otherwise.
	PluginState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cortex_lsp_plugin_state",
		Help: "Plugin health state",
	}, []string{"plugin", "state"})

	// OpenFiles tracks files in the workspace by origin.
	OpenFiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cortex_lsp_open_files",
		Help: "Files tracked by the workspace",
	}, []string{"origin"})

	// ToolCalls counts MCP tool calls by tool and outcome (ok, error).
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cortex_lsp_mcp_tool_calls_total",
		Help: "MCP tool calls",
	}, []string{"tool", "outcome"})
)

// States lists the label values PluginState uses.
var States = []string{"loading", "active", "degraded", "disabled"}

// SetPluginState marks state as current for plugin.
func SetPluginState(plugin, state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		PluginState.WithLabelValues(plugin, s).Set(v)
	}
}

// ForgetPlugin removes every series of plugin.
func ForgetPlugin(plugin string) {
	for _, s := range States {
		PluginState.DeleteLabelValues(plugin, s)
	}
}

// ObserveBuild records a build that started at start.
func ObserveBuild(artifact string, start time.Time) {
	BuildDuration.WithLabelValues(artifact).Observe(time.Since(start).Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("serving metrics on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
