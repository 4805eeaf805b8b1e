package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/frahmantamala/asset-loan/internal/asset"
	"github.com/frahmantamala/asset-loan/internal/audit"
	"github.com/frahmantamala/asset-loan/internal/auth"
	"github.com/frahmantamala/asset-loan/internal/directory"
	"github.com/frahmantamala/asset-loan/internal/helpdesk"
	"github.com/frahmantamala/asset-loan/internal/transport"
	"github.com/frahmantamala/asset-loan/internal/transport/middleware"
	"github.com/frahmantamala/asset-loan/internal/transport/rest"
	"github.com/frahmantamala/asset-loan/internal/workflow"
)

var (
	withWorkers     bool
	validateRequest bool
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP command surface. With --with-workers the outbox relay and SLA sweep run in the same process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startHTTPServer()
	},
}

func startHTTPServer() error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer app.Close()

	router, err := setupRoutes(app)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Logger.Info("starting HTTP server", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		app.Logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if withWorkers {
		g.Go(func() error {
			return app.Relay.Run(gctx, cfg.Outbox.PollInterval)
		})
		g.Go(func() error {
			return app.Sweeper.Run(gctx, cfg.SLA.SweepInterval)
		})
	}

	if err := g.Wait(); err != nil {
		app.Logger.Error("server stopped with error", "error", err)
		return err
	}
	app.Logger.Info("server stopped")
	return nil
}

func setupRoutes(app *App) (*chi.Mux, error) {
	base := transport.NewBaseHandler(app.Logger)
	authHandler := auth.NewHandler(app.Auth)

	handlers := rest.Handlers{
		Auth:        authHandler,
		RBAC:        auth.NewRBACAuthorization(app.Logger),
		Directory:   directory.NewHandler(app.Directory),
		Asset:       asset.NewHandler(base, app.Assets),
		Loan:        workflow.NewHandler(base, app.Orchestrator),
		Audit:       audit.NewHandler(base, app.Audit),
		Helpdesk:    helpdesk.NewWebhookHandler(base, app.Orchestrator, app.Config.Security.HelpdeskCallbackKey),
		OpenAPIFile: app.Config.Server.OpenAPIFile,
	}

	if validateRequest {
		doc, err := middleware.LoadOpenAPI(context.Background(), app.Config.Server.OpenAPIFile)
		if err != nil {
			return nil, err
		}
		handlers.Validator, err = middleware.RequestValidator(doc, app.Logger)
		if err != nil {
			return nil, err
		}
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, app.SQL.DB, app.Redis, handlers, app.Logger)
	return router, nil
}

func init() {
	httpServerCmd.Flags().BoolVar(&withWorkers, "with-workers", true, "run the outbox relay and SLA sweep in this process")
	httpServerCmd.Flags().BoolVar(&validateRequest, "validate-requests", true, "validate requests against the OpenAPI document")
}
