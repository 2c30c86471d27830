// Command web-scanner-project runs the scan service API: it accepts scan
// submissions, drives the scanning engine and serves reconciled status.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/Vicaadrn/web-scanner-project/internal/app"
	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/server"
	"github.com/Vicaadrn/web-scanner-project/internal/telemetry"
)

var build = "develop"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	configPath := pflag.StringP("config", "c", "", "Path to a YAML config file (SCANNER_* variables override it)")
	pflag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel), "scanner-api")

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("startup", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger logging.Logger) error {
	logger.Info("startup",
		logging.Field{Key: "build", Value: build},
		logging.Field{Key: "GOMAXPROCS", Value: runtime.GOMAXPROCS(0)})

	// -------------------------------------------------------------------------
	// Tracing

	hostname, _ := os.Hostname()
	tcfg := cfg.Telemetry
	if tcfg.ResourceAttributes == nil {
		tcfg.ResourceAttributes = map[string]string{}
	}
	tcfg.ResourceAttributes["library.language"] = "go"
	tcfg.ResourceAttributes["host.name"] = hostname

	_, teardown, err := telemetry.Init(ctx, logger, tcfg)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(context.WithoutCancel(ctx))

	// -------------------------------------------------------------------------
	// Application

	a, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating application: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(ctx)
		return fmt.Errorf("starting application: %w", err)
	}

	srv, err := server.NewServer(server.ConfigFrom(cfg.Server, logger), a)
	if err != nil {
		_ = a.Shutdown(ctx)
		return fmt.Errorf("creating server: %w", err)
	}
	api := srv.HTTPServer()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("startup",
			logging.Field{Key: "status", Value: "api router started"},
			logging.Field{Key: "addr", Value: api.Addr})
		serverErrors <- api.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	select {
	case err := <-serverErrors:
		_ = a.Shutdown(ctx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("shutdown",
			logging.Field{Key: "status", Value: "shutdown started"},
			logging.Field{Key: "signal", Value: sig.String()})
		defer logger.Info("shutdown", logging.Field{Key: "status", Value: "shutdown complete"})

		sctx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(sctx); err != nil {
			_ = api.Close()
			logger.Warn("could not stop server gracefully", logging.Err(err))
		}
		if err := a.Shutdown(sctx); err != nil {
			return fmt.Errorf("stopping application: %w", err)
		}
	}
	return nil
}
