// Package server assembles the catalog API and scraper binaries from config
// and runs them until shutdown.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-gateway/internal/config"
	"github.com/JakeFAU/catalog-gateway/internal/httpx"
)

type closer struct {
	name string
	fn   func() error
}

// App contains one binary's dependencies.
type App struct {
	name       string
	cfg        config.Config
	logger     *zap.Logger
	handler    http.Handler
	background []func(context.Context)
	closers    []closer

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newApp(name string, cfg config.Config, logger *zap.Logger) *App {
	logger.Info("creating application",
		zap.String("app", name),
		zap.Int("server_port", cfg.Server.Port),
		zap.String("environment", cfg.Environment),
	)
	return &App{name: name, cfg: cfg, logger: logger}
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Handler returns the binary's HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Start launches background loops. They stop when ctx ends.
func (a *App) Start(ctx context.Context) {
	for _, run := range a.background {
		a.wg.Add(1)
		go func(run func(context.Context)) {
			defer a.wg.Done()
			run(ctx)
		}(run)
	}
}

// Run listens on the configured port until SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the app on ln until ctx is canceled, then releases every
// dependency.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.logger.Info("application started", zap.String("app", a.name))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.Start(ctx)

	srv := httpx.NewServer(a.cfg.Server.Port, a.handler)
	err := httpx.Serve(ctx, srv, ln, a.cfg.ShutdownTimeout(), a.logger)
	cancel()
	a.wg.Wait()
	a.Close()
	return err
}

// Close releases dependencies in reverse construction order.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			if err := c.fn(); err != nil {
				a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			}
		}
		a.logger.Info("shutdown complete", zap.String("app", a.name))
		_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
	})
}
