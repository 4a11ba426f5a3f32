// Command wopibridge is the bridge's process entrypoint (component H,
// spec §6.1): it loads configuration, registers app adapters, and serves
// the HTTP surface until terminated.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cs3org/wopibridge/internal/adapter/markdown"
	"github.com/cs3org/wopibridge/internal/bridge"
	"github.com/cs3org/wopibridge/internal/config"
	"github.com/cs3org/wopibridge/internal/httpapi"
	"github.com/cs3org/wopibridge/internal/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "wopibridge: fatal configuration error:", err)
		os.Exit(1)
	}

	b := bridge.New(cfg)

	md := markdown.New(b.WOPI)
	if err := md.Init(os.Getenv, cfg.APIKeyPath); err != nil {
		fmt.Fprintln(os.Stderr, "wopibridge: fatal configuration error:", err)
		os.Exit(1)
	}
	b.RegisterAdapter(md, []string{".md", ".zmd"}, []string{markdown.TagMarkdown, markdown.TagSlides})

	b.Start(ctx)
	defer b.Stop()

	router := httpapi.NewRouter(b)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		logger.Infof(ctx, "[main] shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf(ctx, "[main] HTTP shutdown error: %v", err)
		}
	}()

	logger.Infof(ctx, "[main] listening on %s (root=%s)", srv.Addr, cfg.AppRoot)

	var serveErr error
	if cfg.HasCert() {
		serveErr = srv.ListenAndServeTLS(cfg.CertPath, cfg.KeyPath)
	} else {
		serveErr = srv.ListenAndServe()
	}
	if serveErr != nil && serveErr != http.ErrServerClosed {
		logger.Fatalf(ctx, "[main] server exited: %v", serveErr)
	}
}
