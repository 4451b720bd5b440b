package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/afero"

	"github.com/gwflow/gwsetup/pkg/resources"
)

// Recorder tracks fitting activity on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	fits             *prometheus.CounterVec
	diagnostics      *prometheus.CounterVec
	nodesRequested   *prometheus.GaugeVec
	resolutionErrors prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewRecorder creates a recorder with all collectors registered
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		fits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gwsetup_fits_total",
				Help: "Task placements computed, by memory request kind",
			},
			[]string{"memory"},
		),
		diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gwsetup_fit_diagnostics_total",
				Help: "Diagnostics emitted while fitting, by kind",
			},
			[]string{"kind"},
		),
		nodesRequested: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gwsetup_nodes_requested",
				Help: "Nodes requested by the last placement of each task",
			},
			[]string{"task"},
		),
		resolutionErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gwsetup_resolution_errors_total",
				Help: "Failed task validations or resolutions",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gwsetup_http_requests_total",
				Help: "HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gwsetup_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	r.registry.MustRegister(r.fits)
	r.registry.MustRegister(r.diagnostics)
	r.registry.MustRegister(r.nodesRequested)
	r.registry.MustRegister(r.resolutionErrors)
	r.registry.MustRegister(r.httpRequests)
	r.registry.MustRegister(r.httpDuration)

	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveFit records one successful placement
func (r *Recorder) ObserveFit(task string, spec resources.TaskSpec, res resources.TaskResources, diags []resources.Diagnostic) {
	r.fits.WithLabelValues(spec.MemPerProcess().Kind().String()).Inc()
	r.nodesRequested.WithLabelValues(task).Set(float64(res.NumNodes))
	r.ObserveDiagnostics(diags)
}

// ObserveDiagnostics counts diagnostics by kind
func (r *Recorder) ObserveDiagnostics(diags []resources.Diagnostic) {
	for _, d := range diags {
		r.diagnostics.WithLabelValues(string(d.Kind)).Inc()
	}
}

// ObserveResolution records a catalog resolution
func (r *Recorder) ObserveResolution(res resources.Resolution, err error) {
	if err != nil {
		r.resolutionErrors.Inc()
		return
	}
	for task, tr := range res.Resources {
		r.nodesRequested.WithLabelValues(task).Set(float64(tr.NumNodes))
	}
	r.ObserveDiagnostics(res.Diagnostics)
}

// ObserveError counts a failed validation or fit
func (r *Recorder) ObserveError() {
	r.resolutionErrors.Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency. route names the handler
// so path parameters do not explode label cardinality.
func (r *Recorder) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, req)

		r.httpRequests.WithLabelValues(req.Method, route, strconv.Itoa(sw.status)).Inc()
		r.httpDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// WriteTextfile writes the current metrics to path for the node-exporter
// textfile collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(fs afero.Fs, path string) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move metrics into place: %w", err)
	}
	return nil
}
