package api

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gwflow/gwsetup/pkg/auth"
	"github.com/gwflow/gwsetup/pkg/logging"
	"github.com/gwflow/gwsetup/pkg/middleware"
	"github.com/gwflow/gwsetup/pkg/ratelimit"
	"github.com/gwflow/gwsetup/pkg/tracing"
)

// RouterOptions select the middleware wrapped around the handler
type RouterOptions struct {
	Limiter *ratelimit.Limiter
	Tracer  *tracing.Provider
	Keys    *auth.KeyStore
	Logger  *logging.Logger
}

// NewRouter registers the handler behind request IDs, access logging,
// authentication, rate limiting and tracing, in that order
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	if opts.Logger != nil {
		r.Use(middleware.AccessLog(opts.Logger))
	}
	if opts.Keys != nil {
		r.Use(opts.Keys.Middleware("/health", "/metrics"))
	}
	if opts.Limiter != nil {
		r.Use(opts.Limiter.Middleware(ratelimit.IPKeyFunc))
	}
	if opts.Tracer != nil {
		r.Use(tracing.HTTPMiddleware(opts.Tracer))
	}
	h.RegisterRoutes(r)
	return r
}

// Server runs the fit API until its context is cancelled
type Server struct {
	srv     *http.Server
	logger  *logging.Logger
	limiter *ratelimit.Limiter
}

// NewServer creates a server on addr. tlsConfig may be nil.
func NewServer(addr string, handler http.Handler, tlsConfig *tls.Config, limiter *ratelimit.Limiter, logger *logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			TLSConfig:    tlsConfig,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger:  logger,
		limiter: limiter,
	}
}

// Run serves until ctx is done, then gives outstanding requests 30
// seconds to complete
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Fit service listening", map[string]interface{}{"addr": s.srv.Addr, "tls": s.srv.TLSConfig != nil})
		var err error
		if s.srv.TLSConfig != nil {
			err = s.srv.ListenAndServeTLS("", "")
		} else {
			err = s.srv.ListenAndServe()
		}
		errCh <- err
	}()

	if s.limiter != nil {
		go s.sweepLimiters(ctx)
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) sweepLimiters(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.CleanupOldLimiters(10 * time.Minute); n > 0 {
				s.logger.Debug("Dropped idle rate limiters", map[string]interface{}{"count": n})
			}
		}
	}
}
