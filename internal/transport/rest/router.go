package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/frahmantamala/asset-loan/internal/asset"
	"github.com/frahmantamala/asset-loan/internal/audit"
	"github.com/frahmantamala/asset-loan/internal/auth"
	"github.com/frahmantamala/asset-loan/internal/directory"
	"github.com/frahmantamala/asset-loan/internal/helpdesk"
	"github.com/frahmantamala/asset-loan/internal/transport/middleware"
	"github.com/frahmantamala/asset-loan/internal/transport/swagger"
	"github.com/frahmantamala/asset-loan/internal/workflow"
)

// Handlers groups what RegisterAllRoutes mounts. Nil handlers are skipped.
type Handlers struct {
	Auth      *auth.Handler
	RBAC      *auth.RBACAuthorization
	Directory *directory.Handler
	Asset     *asset.Handler
	Loan      *workflow.Handler
	Audit     *audit.Handler
	Helpdesk  *helpdesk.WebhookHandler
	// Validator checks requests against the OpenAPI document when set.
	Validator   func(http.Handler) http.Handler
	OpenAPIFile string
}

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, rdb *redis.Client, h Handlers, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db, rdb)

	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID(logger))
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, h.OpenAPIFile)
	})
	router.Handle("/swagger/*", swagger.Handler("/openapi.yml"))

	router.Route("/api/v1", func(r chi.Router) {
		if h.Validator != nil {
			r.Use(h.Validator)
		}

		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if h.Helpdesk != nil {
			r.Post("/helpdesk/callback", h.Helpdesk.HandleTicketCallback)
		}

		if h.Auth == nil {
			return
		}

		r.Route("/auth", func(sr chi.Router) {
			sr.Post("/login", h.Auth.Login)
			sr.Post("/refresh", h.Auth.RefreshToken)
			sr.Post("/logout", h.Auth.Logout)
		})

		if h.Asset != nil {
			r.With(h.Auth.OptionalAuth).Get("/assets", h.Asset.GetAssets)
			r.With(h.Auth.OptionalAuth).Get("/assets/{id}", h.Asset.GetAsset)
			r.With(h.Auth.OptionalAuth).Get("/assets/{id}/availability", h.Asset.GetAvailability)
		}

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)

			if h.Directory != nil {
				pr.Get("/users/me", h.Directory.GetCurrentUser)
			}
			if h.Asset != nil && h.RBAC != nil {
				pr.Post("/assets/{id}/restore", h.RBAC.Check(h.Asset.RestoreAsset, directory.RoleAssetManager))
			}
		})

		if h.Loan == nil || h.RBAC == nil {
			return
		}
		r.Route("/loans", func(lr chi.Router) {
			// Guests may apply and approvers may act from an emailed link.
			lr.With(h.Auth.OptionalAuth).Post("/", h.Loan.CreateApplication)
			lr.With(h.Auth.OptionalAuth).Post("/approve-by-token", h.Loan.ApproveWithToken)

			lr.Group(func(pr chi.Router) {
				pr.Use(h.Auth.AuthMiddleware)
				h.Loan.Routes(pr, func(next http.HandlerFunc) http.HandlerFunc {
					return h.RBAC.Check(next, directory.RoleAssetManager)
				})
				if h.Audit != nil {
					pr.Get("/{id}/audit", h.RBAC.Check(h.Audit.GetTrail, directory.RoleAssetManager, directory.RoleFinance))
				}
			})
		})
	})
}
