// Package metrics exposes Prometheus counters for governance activity.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jaakkos/idumb/internal/outcome"
)

// Metrics holds the collectors. Each instance owns its registry so tests and
// multiple servers in one process do not collide.
//
// Metrics:
//   - idumb_tool_calls_total{tool,kind}
//   - idumb_governance_blocks_total{source}
//   - idumb_checkpoints_total{tool}
//   - idumb_shell_runs_total{category,result}
//   - idumb_shell_duration_seconds
//   - idumb_hook_failures_total{hook}
type Metrics struct {
	registry *prometheus.Registry

	ToolCalls     *prometheus.CounterVec
	Blocks        *prometheus.CounterVec
	Checkpoints   *prometheus.CounterVec
	ShellRuns     *prometheus.CounterVec
	ShellDuration prometheus.Histogram
	HookFailures  *prometheus.CounterVec
}

// New creates and registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idumb_tool_calls_total",
			Help: "Governance tool calls by tool and result kind",
		}, []string{"tool", "kind"}),
		Blocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idumb_governance_blocks_total",
			Help: "Governance blocks issued, by source (tool, gate, shell, delegation)",
		}, []string{"source"}),
		Checkpoints: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idumb_checkpoints_total",
			Help: "Checkpoints recorded against active tasks",
		}, []string{"tool"}),
		ShellRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idumb_shell_runs_total",
			Help: "Governed shell executions by command category and result",
		}, []string{"category", "result"}),
		ShellDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "idumb_shell_duration_seconds",
			Help:    "Wall time of governed shell executions",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}),
		HookFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idumb_hook_failures_total",
			Help: "Hook handler panics and errors that were contained",
		}, []string{"hook"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTool counts one tool call.
func (m *Metrics) ObserveTool(tool string, kind outcome.Kind) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, kind.String()).Inc()
	if kind == outcome.KindBlock {
		m.Blocks.WithLabelValues("tool").Inc()
	}
}

// ObserveBlock counts a block raised outside the tool surface.
func (m *Metrics) ObserveBlock(source string) {
	if m == nil {
		return
	}
	m.Blocks.WithLabelValues(source).Inc()
}

// ObserveCheckpoint counts one recorded checkpoint.
func (m *Metrics) ObserveCheckpoint(tool string) {
	if m == nil {
		return
	}
	m.Checkpoints.WithLabelValues(tool).Inc()
}

// Shell results.
const (
	ShellOK       = "ok"
	ShellFailed   = "failed"
	ShellTimedOut = "timeout"
	ShellDenied   = "denied"
)

// ObserveShell counts one governed shell run.
func (m *Metrics) ObserveShell(category, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ShellRuns.WithLabelValues(category, result).Inc()
	if result != ShellDenied {
		m.ShellDuration.Observe(d.Seconds())
	}
}

// ObserveHookFailure counts a contained hook failure.
func (m *Metrics) ObserveHookFailure(hook string) {
	if m == nil {
		return
	}
	m.HookFailures.WithLabelValues(hook).Inc()
}
