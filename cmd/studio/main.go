package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"posterstudio/internal/apiclient"
	"posterstudio/internal/assetstore"
	"posterstudio/internal/delivery"
	"posterstudio/internal/generate"
	"posterstudio/internal/http/handlers"
	httpapi "posterstudio/internal/http/httpapi"
	"posterstudio/internal/infra"
	"posterstudio/internal/prompts"
	"posterstudio/internal/render"
	"posterstudio/internal/session"
	"posterstudio/internal/stage1"
	"posterstudio/internal/templates"
	"posterstudio/internal/uploader"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	assets := assetstore.Open(filepath.Join(cfg.DataDir, "assets"), &logger)
	sessions := session.Open(filepath.Join(cfg.DataDir, "session"), cfg.SessionQuota, &logger)

	// A manually entered base from an earlier run joins the candidate list
	// ahead of its trust-class peers.
	savedBase, _ := sessions.Get(session.APIBaseKey)
	bases := apiclient.ResolveBases(savedBase, cfg.APIBases)
	if len(bases) == 0 {
		logger.Warn().Msg("no backend bases configured; generation and email are disabled")
	}

	api := apiclient.NewClient(apiclient.Options{
		HTTPClient:   &http.Client{},
		Logger:       &logger,
		HealthTTL:    cfg.HealthTTL,
		ProbeTimeout: cfg.ProbeTimeout,
		RetryBackoff: cfg.RetryBackoff,
		BodyLimit:    cfg.BodyLimit,
	})

	model := stage1.NewModel(sessions, assets, &logger)
	composer := prompts.NewComposer(nil, &logger)

	// Seed the composer from the preset book when the static origin answers.
	loader := prompts.NewLoader(api, cfg.StaticBase, &logger)
	if book, err := loader.Load(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("preset book unavailable at startup")
	} else {
		composer = prompts.NewComposer(book, &logger)
	}

	app := &handlers.App{
		Log:        &logger,
		Bases:      bases,
		StaticBase: cfg.StaticBase,
		Assets:     assets,
		Sessions:   sessions,
		API:        api,
		Uploader: uploader.NewUploader(uploader.Options{
			API: api, Assets: assets, Bases: bases, Logger: &logger,
		}),
		Model:      model,
		Registry:   templates.NewRegistry(api, cfg.StaticBase, &logger),
		Reconciler: templates.NewReconciler(assets, &logger),
		Composer:   composer,
		Presets:    loader,
		Renderer: render.NewRenderer(render.Options{
			Assets: assets, Logger: &logger, FontPath: cfg.FontPath,
		}),
		Orchestrator: generate.NewOrchestrator(generate.Options{
			API: api, Bases: bases, Assets: assets,
			Sessions: sessions, Model: model, Composer: composer, Logger: &logger,
		}),
		Mailer: delivery.NewMailer(api, bases, &logger),
	}

	// Pre-warm the health cache so the first generation does not pay for
	// cold probes.
	go api.WarmUp(context.Background(), bases)

	router := httpapi.NewRouter(app, cfg.AllowedOrigins)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("studio listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
