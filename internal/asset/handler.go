package asset

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/transport"
)

type ServiceAPI interface {
	ListAssets(ctx context.Context, category string) ([]*Asset, error)
	GetAsset(ctx context.Context, id string) (*Asset, error)
	IsAvailable(ctx context.Context, assetID string, start, end time.Time) (bool, error)
	Restore(ctx context.Context, id string) (*Asset, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

// GetAssets handles GET /assets
func (h *Handler) GetAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.Service.ListAssets(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.Logger.Error("GetAssets: failed to get assets", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, AssetsResponse{Assets: assets})
}

// GetAsset handles GET /assets/{id}
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.GetAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, a)
}

// GetAvailability handles GET /assets/{id}/availability?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	start, err := time.Parse(time.DateOnly, r.URL.Query().Get("start"))
	if err != nil {
		h.HandleServiceError(w, internal.NewValidationFieldError("start", "start must be a YYYY-MM-DD date", internal.ErrCodeInvalidDate))
		return
	}
	end, err := time.Parse(time.DateOnly, r.URL.Query().Get("end"))
	if err != nil {
		h.HandleServiceError(w, internal.NewValidationFieldError("end", "end must be a YYYY-MM-DD date", internal.ErrCodeInvalidDate))
		return
	}
	if end.Before(start) {
		h.HandleServiceError(w, internal.NewValidationFieldError("end", "end must not be before start", internal.ErrCodeInvalidDateRange))
		return
	}

	if _, err := h.Service.GetAsset(r.Context(), id); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	ok, err := h.Service.IsAvailable(r.Context(), id, start, end)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, AvailabilityResponse{AssetID: id, Start: start, End: end, Available: ok})
}

// RestoreAsset handles POST /assets/{id}/restore
func (h *Handler) RestoreAsset(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.Restore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, a)
}
