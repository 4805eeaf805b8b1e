package helpdesk

import (
	"errors"
)

type TicketStatus string

const (
	TicketStatusQueued TicketStatus = "QUEUED"
	TicketStatusOpen   TicketStatus = "OPEN"
	TicketStatusFailed TicketStatus = "FAILED"
)

// TicketRequest asks the helpdesk to open a maintenance ticket for one damage
// link. ExternalID is the link id and makes the request idempotent on the
// helpdesk side.
type TicketRequest struct {
	ExternalID        string `json:"external_id"`
	ApplicationID     string `json:"application_id"`
	ApplicationNumber string `json:"application_number"`
	AssetID           string `json:"asset_id"`
	Category          string `json:"category,omitempty"`
	Condition         string `json:"condition"`
	Description       string `json:"description,omitempty"`
	ReportedBy        string `json:"reported_by"`
	CallbackURL       string `json:"callback_url,omitempty"`
}

func (r *TicketRequest) Validate() error {
	if r.ExternalID == "" {
		return errors.New("external_id is required")
	}
	if r.AssetID == "" {
		return errors.New("asset_id is required")
	}
	if r.ApplicationID == "" {
		return errors.New("application_id is required")
	}
	return nil
}

type TicketData struct {
	ID         string       `json:"id"`
	ExternalID string       `json:"external_id"`
	Status     TicketStatus `json:"status"`
}

type TicketResponse struct {
	Data TicketData `json:"data"`
}
