// Command markerlens-mockd serves a scripted detection service and marker
// catalog for local runs of markerlens.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/markerlens/tracker/internal/logging"
	"github.com/markerlens/tracker/internal/mockservice"
)

func main() {
	listen := pflag.String("listen", ":8000", "listen address")
	assets := pflag.Int("assets", 3, "number of catalog markers")
	period := pflag.Uint64("period", 60, "frames per marker cycle")
	visible := pflag.Uint64("visible", 40, "frames per cycle a marker is detected")
	logLevel := pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	pflag.Parse()

	slogManager := logging.NewSlogManager()
	slogManager.Setup(nil, *logLevel, nil)
	logger := slogManager.Logger()

	catalog := mockservice.GenerateAssets(*assets)
	svc := mockservice.New(mockservice.Config{
		Assets: catalog,
		Script: mockservice.Orbit(mockservice.AssetIDs(catalog), *period, *visible),
	}, logger)

	srv := &http.Server{
		Addr:              *listen,
		Handler:           svc,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.DropConnections()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Shutdown incomplete", "error", err)
		}
	}()

	logger.Info("Mock detection service listening", "addr", *listen, "assets", len(catalog))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Mock detection service stopped",
		"frames", svc.Frames(),
		"invalid", svc.Invalid(),
		"connections", svc.Accepted())
}
