package helpdesk

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/core/common/validation"
	"github.com/frahmantamala/asset-loan/internal/transport"
)

const CallbackKeyHeader = "X-Helpdesk-Key"

type WebhookHandler struct {
	*transport.BaseHandler
	recorder    TicketRecorder
	callbackKey string
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, recorder TicketRecorder, callbackKey string) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		recorder:    recorder,
		callbackKey: callbackKey,
	}
}

type TicketCallbackRequest struct {
	ExternalID string `json:"external_id"`
	TicketID   string `json:"ticket_id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

func (r TicketCallbackRequest) Validate() error {
	v := validation.NewValidator()
	v.Field("external_id", strings.TrimSpace(r.ExternalID)).Required()
	v.Field("status", strings.ToUpper(r.Status)).Required().OneOf(string(TicketStatusOpen), string(TicketStatusFailed))
	if strings.EqualFold(r.Status, string(TicketStatusOpen)) {
		v.Field("ticket_id", strings.TrimSpace(r.TicketID)).Required()
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

type TicketCallbackResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HandleTicketCallback handles POST /helpdesk/callback
func (h *WebhookHandler) HandleTicketCallback(w http.ResponseWriter, r *http.Request) {
	if h.callbackKey != "" {
		got := r.Header.Get(CallbackKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.callbackKey)) != 1 {
			h.Logger.Warn("helpdesk callback with bad key")
			h.HandleServiceError(w, internal.NewUnauthorizedError("invalid callback key", internal.ErrCodeInvalidToken))
			return
		}
	}

	var req TicketCallbackRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("received helpdesk callback",
		"link_id", req.ExternalID,
		"ticket_id", req.TicketID,
		"status", req.Status)

	if strings.EqualFold(req.Status, string(TicketStatusFailed)) {
		h.Logger.Warn("helpdesk could not open ticket", "link_id", req.ExternalID, "reason", req.Reason)
		h.WriteJSON(w, http.StatusOK, TicketCallbackResponse{Status: "ignored", Message: "ticket creation failed on the helpdesk side"})
		return
	}

	if _, err := h.recorder.RecordHelpdeskTicket(r.Context(), req.ExternalID, req.TicketID); err != nil {
		h.Logger.Error("failed to record helpdesk ticket", "link_id", req.ExternalID, "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, TicketCallbackResponse{Status: "success", Message: "ticket recorded"})
}
