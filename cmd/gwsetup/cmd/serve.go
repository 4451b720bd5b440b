package cmd

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gwflow/gwsetup/pkg/api"
	"github.com/gwflow/gwsetup/pkg/auth"
	"github.com/gwflow/gwsetup/pkg/ratelimit"
	tlsutil "github.com/gwflow/gwsetup/pkg/tls"
	"github.com/gwflow/gwsetup/pkg/tracing"
)

// Version is reported to the trace exporter.
var Version = "dev"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the fit calculation over HTTP",
	Long: `Starts the HTTP fit service on the profiles of the host directory.

Requests are rate limited per client address. When API key hashes are
configured every route except /health and /metrics requires
"Authorization: Bearer <key>".`,
	Example: `  gwsetup serve --addr :8080
  gwsetup serve --tls-self-signed --tls-cert server.crt --tls-key server.key --api-key-hash '$2a$10$...'`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.Float64("rps", 10, "requests per second allowed per client")
	f.Int("burst", 20, "request burst allowed per client")
	f.String("otlp-endpoint", "", "OTLP HTTP collector (host:port); tracing is off when empty")
	f.String("tls-cert", "", "TLS certificate file")
	f.String("tls-key", "", "TLS key file")
	f.String("tls-ca", "", "CA file for client certificates (enables mutual TLS)")
	f.Bool("tls-self-signed", false, "generate a self-signed certificate when the files do not exist")
	f.StringSlice("tls-host", nil, "extra host names or IPs for the self-signed certificate")
	f.StringSlice("api-key-hash", nil, "bcrypt hash of an accepted API key, repeatable")

	viper.BindPFlag("serve.addr", f.Lookup("addr"))
	viper.BindPFlag("serve.rps", f.Lookup("rps"))
	viper.BindPFlag("serve.burst", f.Lookup("burst"))
	viper.BindPFlag("serve.otlp_endpoint", f.Lookup("otlp-endpoint"))
	viper.BindPFlag("serve.tls.cert", f.Lookup("tls-cert"))
	viper.BindPFlag("serve.tls.key", f.Lookup("tls-key"))
	viper.BindPFlag("serve.tls.ca", f.Lookup("tls-ca"))
	viper.BindPFlag("serve.tls.self_signed", f.Lookup("tls-self-signed"))
	viper.BindPFlag("serve.tls.hosts", f.Lookup("tls-host"))
	viper.BindPFlag("serve.api_key_hashes", f.Lookup("api-key-hash"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	endpoint := viper.GetString("serve.otlp_endpoint")
	tracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "gwsetup",
		ServiceVersion: Version,
		OTLPEndpoint:   endpoint,
		Enabled:        endpoint != "",
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to flush traces", map[string]interface{}{"error": err.Error()})
		}
	}()

	var keys *auth.KeyStore
	if hashes := viper.GetStringSlice("serve.api_key_hashes"); len(hashes) > 0 {
		if keys, err = auth.NewKeyStore(hashes...); err != nil {
			return err
		}
		logger.Info("API key authentication enabled", map[string]interface{}{"keys": keys.Len()})
	}

	var tlsConfig *tls.Config
	tlsOpts := tlsutil.Options{
		CertFile:   viper.GetString("serve.tls.cert"),
		KeyFile:    viper.GetString("serve.tls.key"),
		CAFile:     viper.GetString("serve.tls.ca"),
		SelfSigned: viper.GetBool("serve.tls.self_signed"),
		Hosts:      viper.GetStringSlice("serve.tls.hosts"),
	}
	if tlsOpts.Enabled() {
		if tlsConfig, err = tlsutil.ServerConfig(tlsOpts); err != nil {
			return err
		}
	}

	limiter := ratelimit.NewLimiter(viper.GetFloat64("serve.rps"), viper.GetInt("serve.burst"))

	handler := api.NewHandler(hostProvider(), logger, recorder, tracer)
	router := api.NewRouter(handler, api.RouterOptions{
		Limiter: limiter,
		Tracer:  tracer,
		Keys:    keys,
		Logger:  logger,
	})

	return api.NewServer(viper.GetString("serve.addr"), router, tlsConfig, limiter, logger).Run(ctx)
}
