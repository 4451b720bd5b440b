package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gwflow/gwsetup/pkg/host"
	"github.com/gwflow/gwsetup/pkg/logging"
	"github.com/gwflow/gwsetup/pkg/memory"
	"github.com/gwflow/gwsetup/pkg/metrics"
	"github.com/gwflow/gwsetup/pkg/middleware"
	"github.com/gwflow/gwsetup/pkg/render"
	"github.com/gwflow/gwsetup/pkg/resources"
	"github.com/gwflow/gwsetup/pkg/tracing"
)

const maxBodyBytes = 1 << 20

// Handler serves the fit API
type Handler struct {
	hosts    host.Lister
	logger   *logging.Logger
	recorder *metrics.Recorder
	tracer   *tracing.Provider
}

// NewHandler creates a new handler. recorder and tracer may be nil.
func NewHandler(hosts host.Lister, logger *logging.Logger, recorder *metrics.Recorder, tracer *tracing.Provider) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{hosts: hosts, logger: logger, recorder: recorder, tracer: tracer}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	h.handle(r, "/v1/fit", "fit", h.Fit).Methods("POST")
	h.handle(r, "/v1/hosts", "hosts", h.ListHosts).Methods("GET")
	h.handle(r, "/v1/hosts/{machine}", "host", h.GetHost).Methods("GET")
	h.handle(r, "/health", "health", h.Health).Methods("GET")
	if h.recorder != nil {
		r.Handle("/metrics", h.recorder.Handler()).Methods("GET")
	}
}

func (h *Handler) handle(r *mux.Router, path, route string, fn http.HandlerFunc) *mux.Route {
	var handler http.Handler = fn
	if h.recorder != nil {
		handler = h.recorder.Middleware(route, handler)
	}
	return r.Handle(path, handler)
}

// Fit validates the posted task and computes its placement
func (h *Handler) Fit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Task == "" {
		req.Task = "task"
	}
	if req.Spec == nil {
		h.writeError(w, r, http.StatusBadRequest, errors.New("spec is required"))
		return
	}
	if (req.Machine == "") == (req.Host == nil) {
		h.writeError(w, r, http.StatusBadRequest, errors.New("exactly one of machine and host is required"))
		return
	}

	profile, err := h.resolveHost(req)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, host.ErrUnknownHost) {
			status = http.StatusNotFound
		}
		h.writeError(w, r, status, err)
		return
	}

	ctx := r.Context()
	if h.tracer != nil {
		var span trace.Span
		ctx, span = h.tracer.StartSpan(ctx, "resources.Fit",
			attribute.String("task", req.Task),
			attribute.String("host", profile.Name),
		)
		defer span.End()
	}

	spec, err := resources.Validate(req.Task, req.Spec)
	if err != nil {
		h.observeError()
		tracing.SetError(ctx, err)
		h.writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}

	var opts []resources.FitOption
	if req.MaxProcessesPerNode > 0 {
		opts = append(opts, resources.WithMaxProcessesPerNode(req.MaxProcessesPerNode))
	}
	res, diags, err := resources.Fit(req.Task, spec, profile, opts...)
	if err != nil {
		h.observeError()
		tracing.SetError(ctx, err)
		h.writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}

	if h.recorder != nil {
		h.recorder.ObserveFit(req.Task, spec, res, diags)
	}
	for _, d := range diags {
		h.logger.Warn(d.Message, d.Fields())
	}

	_, vars := resources.Variables(req.Spec)
	if diags == nil {
		diags = []resources.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, FitResponse{
		Task:        req.Task,
		Host:        profile.Name,
		Resources:   res,
		MemPerNode:  res.MemPerNode(),
		Exports:     render.Exports(res, vars),
		Diagnostics: diags,
	})
}

func (h *Handler) resolveHost(req FitRequest) (host.Profile, error) {
	if req.Machine != "" {
		return h.hosts.Lookup(req.Machine)
	}

	mb, err := memory.Parse(req.Host.MemPerNode)
	if err != nil {
		return host.Profile{}, fmt.Errorf("host.mem_per_node: %w", err)
	}
	p := host.Profile{Name: "custom", CoresPerNode: req.Host.CoresPerNode, MemPerNodeMB: mb}
	if err := p.Validate(); err != nil {
		return host.Profile{}, err
	}
	return p, nil
}

// ListHosts returns every known host profile
func (h *Handler) ListHosts(w http.ResponseWriter, r *http.Request) {
	names, err := h.hosts.List()
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	out := make([]HostResponse, 0, len(names))
	for _, name := range names {
		p, err := h.hosts.Lookup(name)
		if err != nil {
			h.logger.Warn("Skipping unreadable host profile", map[string]interface{}{"machine": name, "error": err.Error()})
			continue
		}
		out = append(out, newHostResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetHost returns one host profile
func (h *Handler) GetHost(w http.ResponseWriter, r *http.Request) {
	machine := mux.Vars(r)["machine"]
	p, err := h.hosts.Lookup(machine)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, host.ErrUnknownHost):
			status = http.StatusNotFound
		case errors.Is(err, host.ErrInvalidProfile):
			status = http.StatusUnprocessableEntity
		}
		h.writeError(w, r, status, err)
		return
	}
	writeJSON(w, http.StatusOK, newHostResponse(p))
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) observeError() {
	if h.recorder != nil {
		h.recorder.ObserveError()
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	id := middleware.GetRequestID(r.Context())
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", map[string]interface{}{"error": err.Error(), "request_id": id})
	} else {
		h.logger.Debug("request rejected", map[string]interface{}{"error": err.Error(), "status": status, "request_id": id})
	}
	writeJSON(w, status, ErrorResponse{Error: strings.TrimSpace(err.Error()), RequestID: id})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
