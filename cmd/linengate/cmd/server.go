package cmd

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/linenworks/linengate/auth"
	"github.com/linenworks/linengate/gate"
	"github.com/linenworks/linengate/internal/util"
	"github.com/linenworks/linengate/policy"
	"github.com/linenworks/linengate/session"
)

var (
	port       int
	dataDir    string
	tlsCert    string
	tlsKey     string
	policyFile string
)

// serverConfig holds the settings that carry secrets or deployment URLs,
// sourced from LINENGATE_* environment variables.
type serverConfig struct {
	// IdentityURL is the base URL of the external identity API.
	IdentityURL string `envconfig:"IDENTITY_URL" required:"true"`
	// UpstreamURL is the admin application the gateway fronts.
	UpstreamURL string `envconfig:"UPSTREAM_URL" required:"true"`
	// SessionSecret is the hex-encoded master secret (>= 32 bytes decoded)
	// for session cookie keys. When empty, an ephemeral secret is
	// generated and sessions do not survive a restart.
	SessionSecret string `envconfig:"SESSION_SECRET"`
	// GatewaySecret optionally authenticates the gateway to the identity
	// API on every outbound call.
	GatewaySecret string `envconfig:"GATEWAY_SECRET"`
	// IdentityTimeout bounds each outbound identity API call.
	IdentityTimeout time.Duration `envconfig:"IDENTITY_TIMEOUT" default:"10s"`
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the auth gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg serverConfig
		if err := envconfig.Process("linengate", &cfg); err != nil {
			return fmt.Errorf("reading environment config: %w", err)
		}
		upstream, err := url.Parse(cfg.UpstreamURL)
		if err != nil {
			return fmt.Errorf("parsing upstream URL: %w", err)
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		// The route policy is fatal when missing or invalid: the gate
		// must fail closed, never serve with partial policy.
		var engine *policy.Engine
		if policyFile != "" {
			engine, err = policy.LoadFile(policyFile)
		} else {
			engine, err = policy.NewEngine(policy.DefaultConfig())
		}
		if err != nil {
			return fmt.Errorf("loading route policy: %w", err)
		}

		secret, err := sessionSecret(cfg.SessionSecret, logger)
		if err != nil {
			return err
		}
		sessions, err := session.NewStore(secret)
		util.WipeBytes(secret)
		if err != nil {
			return fmt.Errorf("building session store: %w", err)
		}

		verifier := auth.NewVerifier(cfg.IdentityURL,
			auth.WithTimeout(cfg.IdentityTimeout),
			auth.WithGatewaySecret([]byte(cfg.GatewaySecret)),
		)

		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		replay, err := gate.NewBoltReplayGuardFromFile(dataDir+"/replay.db", nil)
		if err != nil {
			return fmt.Errorf("failed to open replay guard: %w", err)
		}
		defer replay.Close()

		g := gate.New(verifier, sessions, engine,
			gate.WithLogger(logger),
			gate.WithReplayGuard(replay),
			gate.WithAlertFunc(func(ev gate.AlertEvent) {
				logger.Warn("anomaly alert",
					"type", string(ev.Type),
					"message", ev.Message,
					"count", ev.Count,
					"threshold", ev.Threshold)
			}),
		)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/auth", g.Router())

		proxy := httputil.NewSingleHostReverseProxy(upstream)
		r.With(g.Gate).Handle("/*", proxy)

		var tlsConfig *tls.Config
		if tlsCert != "" && tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		} else {
			cert, err := util.GenerateSelfSignedCert()
			if err != nil {
				return fmt.Errorf("failed to generate self-signed certificate: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			fmt.Println("Using self-signed runtime generated certificate for TLS")
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting gateway on port %d (upstream: %s)...\n", port, upstream.Host)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// sessionSecret decodes the configured master secret, or generates an
// ephemeral one when none is set.
func sessionSecret(hexSecret string, logger *slog.Logger) ([]byte, error) {
	if hexSecret == "" {
		logger.Warn("LINENGATE_SESSION_SECRET not set; sessions will not survive a restart")
		return util.RandomBytes(32)
	}
	secret, err := hex.DecodeString(hexSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding session secret: %w", err)
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("session secret must decode to at least 32 bytes, got %d", len(secret))
	}
	return secret, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().StringVar(&policyFile, "policy-file", "", "Path to the route policy YAML (built-in table when empty)")
}
