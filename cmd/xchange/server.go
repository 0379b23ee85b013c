package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/xchange/internal/config"
	"github.com/ehr/xchange/internal/platform/ccda"
	"github.com/ehr/xchange/internal/platform/codesystem"
	"github.com/ehr/xchange/internal/platform/db"
	"github.com/ehr/xchange/internal/platform/middleware"
	"github.com/ehr/xchange/internal/platform/saml"
	"github.com/ehr/xchange/internal/platform/telemetry"
	"github.com/ehr/xchange/internal/platform/xcpd"
)

// server holds everything the router needs. signer and pool are optional.
type server struct {
	cfg       *config.Config
	logger    zerolog.Logger
	telemetry *telemetry.TelemetryProvider
	signer    *saml.Signer
	pool      *pgxpool.Pool
	reports   *xcpd.AsyncReporter
}

func (s *server) router() (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(s.telemetry.TracingMiddleware())
	e.Use(s.telemetry.MetricsMiddleware())
	e.Use(middleware.Logger(s.logger))
	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.BodyLimit(s.cfg.BodyLimit))
	if s.cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(s.cfg.RequestTimeout))
	}

	e.GET("/health", db.HealthHandler(s.pool))

	apiV1 := e.Group("/api/v1")

	ccda.NewHandler(ccda.NewEncoder(codesystem.Default())).RegisterRoutes(apiV1)

	if s.signer != nil {
		saml.NewHandler(s.signer).RegisterRoutes(apiV1)
	} else {
		s.logger.Warn().Msg("no signing key configured; /api/v1/saml/sign is disabled")
	}

	otelReporter, err := xcpd.NewOTelReporter(s.telemetry.Meter())
	if err != nil {
		return nil, err
	}
	// The OTel sink annotates the request span, so it stays synchronous.
	s.reports = xcpd.NewAsyncReporter(xcpd.NewLogReporter(s.logger), 0, s.logger)
	classifier := xcpd.NewClassifier(
		xcpd.MultiReporter{otelReporter, s.reports},
		xcpd.WithLogger(s.logger),
	)
	var recorder xcpd.Recorder
	if s.pool != nil {
		recorder = xcpd.NewPGRecorder(s.pool)
	}
	xcpd.NewHandler(classifier, recorder, s.logger).RegisterRoutes(apiV1)

	return e, nil
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg, os.Stdout)

	tel, err := telemetry.NewTelemetryProvider(ctx, telemetry.TelemetryConfig{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Environment:  cfg.Env,
		SampleRate:   cfg.TraceSampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	s := &server{cfg: cfg, logger: logger, telemetry: tel}

	if cfg.SigningEnabled() {
		s.signer, err = newSigner(cfg)
		if err != nil {
			return err
		}
		logger.Info().Str("algorithm", string(s.signer.Algorithm())).Msg("signing key loaded")
	}

	// Database (optional outcome store)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return err
		}
		defer pool.Close()
		s.pool = pool
		logger.Info().Msg("connected to database")

		if err := tel.ObserveDBPool(func() (int32, int32) {
			stat := pool.Stat()
			return stat.AcquiredConns(), stat.IdleConns()
		}); err != nil {
			return err
		}
	}

	e, err := s.router()
	if err != nil {
		return err
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-quit.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := s.reports.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int64("dropped", s.reports.Dropped()).Msg("error reports not drained")
	}
	logger.Info().Msg("server stopped")
	return nil
}
