package mediatord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	bridgecfg "omnibridge/config"
	"omnibridge/observability/logging"
	telemetry "omnibridge/observability/otel"
	"omnibridge/services/mediatord/config"
	"omnibridge/services/mediatord/index"
	"omnibridge/services/mediatord/server"
	"omnibridge/services/mediatord/stream"
)

const serviceName = "mediatord"

// Run starts the bridge, the relayer loop and the HTTP API and blocks until
// ctx is cancelled.
func Run(ctx context.Context, cfg config.Config) error {
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("OMNIBRIDGE_ENV"))
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	var out io.Writer = os.Stdout
	if path := strings.TrimSpace(cfg.LogFile.Path); path != "" {
		rotated := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAge:     cfg.LogFile.MaxAgeDays,
			Compress:   cfg.LogFile.Compress,
		}
		defer rotated.Close()
		out = io.MultiWriter(os.Stdout, rotated)
	}
	logger := logging.SetupWithWriter(serviceName, env, out, level)

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.ConfigFromEnv(serviceName, env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	deployment, err := bridgecfg.Load(cfg.BridgeConfig)
	if err != nil {
		return fmt.Errorf("load bridge config: %w", err)
	}

	idx, err := index.Open(cfg.Index.DSN, logger)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()
	logger.Info("message index opened", logging.MaskField("dsn", cfg.Index.DSN))

	hub := stream.NewHub(cfg.Stream.Buffer)
	bridge, err := NewBridge(deployment, Options{
		DataDir:   cfg.DataDir,
		Index:     idx,
		Taps:      []Tap{hub},
		Logger:    logger,
		RatePerS:  cfg.Relayer.PerSecond,
		RateBurst: cfg.Relayer.Burst,
	})
	if err != nil {
		return err
	}
	defer bridge.Close()
	if cfg.Relayer.Paused {
		bridge.Relayer.Pause()
	}

	if strings.TrimSpace(cfg.Admin.JWTSecret) == "" {
		logger.Warn("admin routes disabled: no jwt secret configured")
	}
	srv, err := server.New(server.Config{
		Home:    bridge.Home,
		Foreign: bridge.Foreign,
		Bus:     bridge.Bus,
		Relayer: bridge.Relayer,
		Index:   idx,
		Stream:  hub,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Admin.JWTSecret,
			Issuer:     cfg.Admin.Issuer,
			Audience:   cfg.Admin.Audience,
			ClockSkew:  cfg.Admin.ClockSkew.Duration,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(srv.Handler(), serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	relayerDone := make(chan error, 1)
	go func() {
		relayerDone <- bridge.Relayer.Run(runCtx, cfg.Relayer.Interval.Duration)
	}()
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("mediatord listening", "addr", cfg.ListenAddress, "network", deployment.NetworkName)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var result error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		result = fmt.Errorf("serve: %w", err)
	case err := <-relayerDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			result = fmt.Errorf("relayer: %w", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
	logger.Info("mediatord stopped")
	return result
}
