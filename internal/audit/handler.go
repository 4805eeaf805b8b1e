package audit

import (
	"context"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/asset-loan/internal/transport"
)

type TrailReader interface {
	Trail(ctx context.Context, aggregateID string) ([]*Entry, error)
}

type TrailResponse struct {
	ApplicationID string   `json:"application_id"`
	Entries       []*Entry `json:"entries"`
}

type Handler struct {
	*transport.BaseHandler
	Reader TrailReader
}

func NewHandler(baseHandler *transport.BaseHandler, reader TrailReader) *Handler {
	return &Handler{BaseHandler: baseHandler, Reader: reader}
}

// GetTrail handles GET /loans/{id}/audit
func (h *Handler) GetTrail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.Reader.Trail(r.Context(), id)
	if err != nil {
		h.Logger.Error("GetTrail: failed to read audit trail", "application_id", id, "error", err)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, TrailResponse{ApplicationID: id, Entries: entries})
}
