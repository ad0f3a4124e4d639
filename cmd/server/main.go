package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tenderscope-ai/be-plt-accounts/internal/config"
	"github.com/tenderscope-ai/be-plt-accounts/internal/handler"
	"github.com/tenderscope-ai/be-plt-accounts/internal/identity"
	"github.com/tenderscope-ai/be-plt-accounts/internal/metrics"
	"github.com/tenderscope-ai/be-plt-accounts/internal/profile"
	"github.com/tenderscope-ai/be-plt-accounts/internal/session"
	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
	"github.com/tenderscope-ai/be-plt-accounts/internal/store/document"
	"github.com/tenderscope-ai/be-plt-accounts/internal/store/postgres"
	jwtpkg "github.com/tenderscope-ai/be-plt-accounts/pkg/jwt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Invalid configuration")
	}

	log := newLogger(cfg.LogLevel)

	// JWT configuration
	privateKeyPEM := cfg.JWTPrivateKey
	publicKeyPEM := cfg.JWTPublicKey
	if privateKeyPEM == "" || publicKeyPEM == "" {
		log.Info().Msg("Generating JWT key pair (development mode)")
		privateKeyPEM, publicKeyPEM, err = jwtpkg.GenerateKeyPair()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to generate JWT key pair")
		}
		log.Info().Msg("JWT key pair generated successfully")
	}

	jwtManager, err := jwtpkg.NewManager(privateKeyPEM, publicKeyPEM, cfg.SessionTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create JWT manager")
	}

	// Initialize storage backend
	var backend store.Store
	switch cfg.Backend {
	case config.BackendPostgres:
		log.Info().Str("database", cfg.DatabaseURL).Msg("Connecting to database")
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		pg, err := postgres.Connect(context.Background(), cfg.DatabaseURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pg.Close()
		backend = pg
	case config.BackendDocument:
		log.Info().Str("redis", cfg.RedisAddr).Msg("Connecting to redis")
		doc, err := document.Connect(context.Background(), document.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer doc.Close()
		backend = doc
	}
	log.Info().Str("backend", string(cfg.Backend)).Msg("Storage backend ready")

	// Initialize metrics and audit trail
	collector := metrics.NewCollector()
	audit := identity.NewAuditTrail(backend, log)
	defer audit.Flush()

	// Initialize federated provider when configured
	var provider *identity.FederatedProvider
	if cfg.OAuthClientID != "" {
		provider = identity.NewFederatedProvider(identity.FederatedConfig{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
		})
	} else {
		log.Warn().Msg("OAUTH_CLIENT_ID not set, federated login disabled")
	}

	// Initialize the authenticator and the profile layer
	windows := handler.NewURLMailbox()
	authenticator := identity.NewAuthenticator(identity.AuthenticatorConfig{
		Credentials:     backend,
		Tokens:          jwtManager,
		Provider:        provider,
		OpenWindow:      windows.Open,
		Audit:           audit,
		LoginsPerMinute: float64(cfg.LoginsPerMinute),
		LoginBurst:      cfg.LoginBurst,
		Logger:          log,
	})
	profiles := profile.NewService(backend, backend, log).WithRecorder(collector)
	sessions := session.New(authenticator, profiles, collector, log)

	// Restore any previous session before accepting traffic
	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := sessions.Init(initCtx); err != nil {
		log.Warn().Err(err).Msg("Session restore failed, starting signed out")
	}
	cancel()

	httpHandler := handler.New(sessions, authenticator, windows, collector, log)
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      httpHandler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "accounts-service").
		Logger()
}
