package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-gateway/internal/api"
	"github.com/JakeFAU/catalog-gateway/internal/catalog"
	"github.com/JakeFAU/catalog-gateway/internal/clock/system"
	"github.com/JakeFAU/catalog-gateway/internal/config"
	"github.com/JakeFAU/catalog-gateway/internal/scraperclient"
	"github.com/JakeFAU/catalog-gateway/internal/signing"
	memorystorage "github.com/JakeFAU/catalog-gateway/internal/storage/memory"
	pgstore "github.com/JakeFAU/catalog-gateway/internal/storage/postgres"
	"github.com/JakeFAU/catalog-gateway/internal/turnstile"
)

// BuildCatalogAPI wires the public catalog API.
func BuildCatalogAPI(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := newApp("catalogapi", cfg, logger)

	store, err := setupCatalogStore(ctx, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	signer := signing.NewSigner(cfg.Signing.Secret, signing.WithClock(system.New()))
	scraper := scraperclient.New(
		cfg.Scraper.BaseURL,
		signer,
		&http.Client{Timeout: time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second},
		logger,
	)

	tsCfg := turnstile.Config{
		Environment: cfg.Environment,
		SecretKey:   cfg.Turnstile.SecretKey,
		VerifyURL:   cfg.Turnstile.VerifyURL,
		Timeout:     time.Duration(cfg.Turnstile.TimeoutSeconds) * time.Second,
	}
	switch {
	case cfg.Environment == "development":
		logger.Warn("development environment, bot verification is bypassed")
	case tsCfg.SecretKey == "":
		logger.Warn("turnstile secret key is empty, bot verification is disabled")
	}
	gate := turnstile.NewGate(tsCfg, turnstile.NewClient(tsCfg, nil, logger), logger.Named("turnstile"))

	app.handler = api.NewServer(store, scraper, gate, api.Options{RequestTimeout: cfg.RequestTimeout()}, logger.Named("api")).Handler()
	return app, nil
}

func setupCatalogStore(ctx context.Context, app *App) (catalog.Store, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, serving an empty in-memory catalog")
		return memorystorage.NewCatalogStore(nil, nil), nil
	}
	pool, err := pgstore.NewPool(ctx, poolConfig(app.cfg))
	if err != nil {
		return nil, fmt.Errorf("catalog store init failed: %w", err)
	}
	app.onClose("postgres pool", func() error {
		pool.Close()
		return nil
	})
	app.logger.Info("postgres catalog store initialized")
	return pgstore.NewCatalogStore(pool), nil
}
