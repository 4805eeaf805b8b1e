package linkage

import (
	"context"
	"strings"
	"time"

	"github.com/frahmantamala/asset-loan/internal"
)

const (
	TriggerReturnedWithDamage = "returned_with_damage"
	TriggerManual             = "manual_link"
)

type DamageInput struct {
	ApplicationNumber string
	AssetID           string
	Category          string
	Condition         string
	Description       string
	ReportedBy        string
}

// Linker records the intent to connect a loan with a helpdesk ticket. It
// never creates the ticket itself.
type Linker struct{}

func NewLinker() *Linker {
	return &Linker{}
}

// LinkOnDamage creates the single damage link for an application and asset.
// A second call for the same pair returns the existing link with created
// set to false.
func (l *Linker) LinkOnDamage(ctx context.Context, repo Repository, applicationID string, in DamageInput, at time.Time) (*Link, bool, error) {
	if strings.TrimSpace(in.AssetID) == "" {
		return nil, false, internal.NewValidationFieldError("asset_id", "damaged asset id is required", internal.ErrCodeValidationFailed)
	}

	link := newLink(LinkAssetDamageReport, applicationID, TriggerReturnedWithDamage, damageKey(applicationID, in.AssetID), at)
	assetID := in.AssetID
	link.AssetID = &assetID
	link.Snapshot = &DamageSnapshot{
		ApplicationNumber: in.ApplicationNumber,
		AssetID:           in.AssetID,
		Category:          in.Category,
		Condition:         in.Condition,
		Description:       in.Description,
		ReportedBy:        in.ReportedBy,
		ReportedAt:        at,
	}
	return repo.CreateIfAbsent(ctx, link)
}

// LinkTicket links an existing helpdesk ticket to an application, once per
// application, ticket and type.
func (l *Linker) LinkTicket(ctx context.Context, repo Repository, applicationID, ticketID string, linkType LinkType, at time.Time) (*Link, bool, error) {
	target, err := NewRef(string(ModuleHelpdesk), ticketID)
	if err != nil {
		return nil, false, err
	}
	link := newLink(linkType, applicationID, TriggerManual, ticketKey(linkType, applicationID, ticketID), at)
	link.Target = &target
	return repo.CreateIfAbsent(ctx, link)
}
