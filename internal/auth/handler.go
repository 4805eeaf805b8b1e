package auth

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/transport"
	"github.com/frahmantamala/asset-loan/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(svc ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	tokens, err := h.Service.Authenticate(r.Context(), dto)
	if err != nil {
		h.Logger.Warn("authentication failed", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, tokens)
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var dto RefreshTokenDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	if err := dto.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	tokens, err := h.Service.RefreshTokens(r.Context(), dto.RefreshToken)
	if err != nil {
		h.Logger.Warn("token refresh failed", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, tokens)
}

// Logout only checks the token; access tokens are short-lived and not
// tracked server side.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := h.ExtractTokenFromHeader(r)
	if token == "" {
		h.WriteError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	if _, err := h.Service.ValidateAccessToken(token); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AuthMiddleware rejects requests without a valid access token and binds the
// caller to the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			h.WriteError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		r, err := h.authenticate(r, token)
		if err != nil {
			h.HandleServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// OptionalAuth binds the caller when a token is present and lets anonymous
// requests through. A present but invalid token is still rejected.
func (h *Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		r, err := h.authenticate(r, token)
		if err != nil {
			h.HandleServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) authenticate(r *http.Request, token string) (*http.Request, error) {
	claims, err := h.Service.ValidateAccessToken(token)
	if err != nil {
		h.Logger.Warn("token validation failed", "error", err)
		return r, err
	}

	u, err := h.Service.CurrentUser(r.Context(), claims.UserID)
	if err != nil {
		h.Logger.Warn("auth middleware: failed to load user", "user_id", claims.UserID, "error", err)
		if internal.IsErrorCode(err, internal.ErrCodeUserNotFound) {
			return r, internal.ErrInvalidToken
		}
		return r, err
	}

	ctx := ContextWithUser(r.Context(), u)
	ctx = internal.ContextWithActorID(ctx, u.ID)
	ctx = logger.With(ctx, "user_id", u.ID)
	return r.WithContext(ctx), nil
}
