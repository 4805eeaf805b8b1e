package linkage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/asset-loan/internal"
	linkDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/linkage"
)

type LinkType string

const (
	LinkAssetDamageReport  LinkType = "asset_damage_report"
	LinkMaintenanceRequest LinkType = "maintenance_request"
	LinkAssetTicket        LinkType = "asset_ticket_link"
)

func ParseLinkType(v string) (LinkType, error) {
	switch LinkType(v) {
	case LinkAssetDamageReport, LinkMaintenanceRequest, LinkAssetTicket:
		return LinkType(v), nil
	}
	return "", internal.NewValidationFieldError("link_type", fmt.Sprintf("unknown link type %q", v), internal.ErrCodeValidationFailed)
}

// Module names the system that owns one side of a link.
type Module string

const (
	ModuleAssetLoan Module = "asset_loan"
	ModuleHelpdesk  Module = "helpdesk"
)

func ParseModule(v string) (Module, error) {
	switch Module(v) {
	case ModuleAssetLoan, ModuleHelpdesk:
		return Module(v), nil
	}
	return "", internal.NewValidationFieldError("module", fmt.Sprintf("unknown module %q", v), internal.ErrCodeValidationFailed)
}

type Ref struct {
	Module   Module `json:"module"`
	EntityID string `json:"entity_id"`
}

func NewRef(module, entityID string) (Ref, error) {
	m, err := ParseModule(module)
	if err != nil {
		return Ref{}, err
	}
	if strings.TrimSpace(entityID) == "" {
		return Ref{}, internal.NewValidationFieldError("entity_id", "entity id is required", internal.ErrCodeValidationFailed)
	}
	return Ref{Module: m, EntityID: entityID}, nil
}

// DamageSnapshot is what the helpdesk needs to open a ticket without
// reading the loan back.
type DamageSnapshot struct {
	ApplicationNumber string    `json:"application_number"`
	AssetID           string    `json:"asset_id"`
	Category          string    `json:"category,omitempty"`
	Condition         string    `json:"condition"`
	Description       string    `json:"description,omitempty"`
	ReportedBy        string    `json:"reported_by"`
	ReportedAt        time.Time `json:"reported_at"`
}

type Link struct {
	ID           string          `json:"id"`
	Type         LinkType        `json:"link_type"`
	Source       Ref             `json:"source"`
	Target       *Ref            `json:"target,omitempty"`
	AssetID      *string         `json:"asset_id,omitempty"`
	TriggerEvent string          `json:"trigger_event"`
	Snapshot     *DamageSnapshot `json:"snapshot,omitempty"`
	DedupeKey    string          `json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (l *Link) HasTicket() bool {
	return l.Target != nil && l.Target.Module == ModuleHelpdesk
}

// Repository persists links. CreateIfAbsent returns the stored link and
// whether this call created it.
type Repository interface {
	CreateIfAbsent(ctx context.Context, link *Link) (*Link, bool, error)
	GetByID(ctx context.Context, id string) (*Link, error)
	ListByApplication(ctx context.Context, applicationID string) ([]*Link, error)
	SetTarget(ctx context.Context, id string, target Ref) error
}

func damageKey(applicationID, assetID string) string {
	return fmt.Sprintf("%s:%s:asset:%s", LinkAssetDamageReport, applicationID, assetID)
}

func ticketKey(t LinkType, applicationID, ticketID string) string {
	return fmt.Sprintf("%s:%s:ticket:%s", t, applicationID, ticketID)
}

func ToDataModel(l *Link) (*linkDatamodel.Link, error) {
	row := &linkDatamodel.Link{
		ID:             l.ID,
		LinkType:       string(l.Type),
		SourceModule:   string(l.Source.Module),
		SourceEntityID: l.Source.EntityID,
		AssetID:        l.AssetID,
		TriggerEvent:   l.TriggerEvent,
		DedupeKey:      l.DedupeKey,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}
	if l.Target != nil {
		module := string(l.Target.Module)
		row.TargetModule = &module
		row.TargetEntityID = &l.Target.EntityID
	}
	if l.Snapshot != nil {
		data, err := json.Marshal(l.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("marshal damage snapshot: %w", err)
		}
		row.Snapshot = data
	}
	return row, nil
}

// FromDataModel validates module names at the storage boundary.
func FromDataModel(row *linkDatamodel.Link) (*Link, error) {
	linkType, err := ParseLinkType(row.LinkType)
	if err != nil {
		return nil, err
	}
	source, err := NewRef(row.SourceModule, row.SourceEntityID)
	if err != nil {
		return nil, err
	}
	l := &Link{
		ID:           row.ID,
		Type:         linkType,
		Source:       source,
		AssetID:      row.AssetID,
		TriggerEvent: row.TriggerEvent,
		DedupeKey:    row.DedupeKey,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.TargetModule != nil && row.TargetEntityID != nil {
		target, err := NewRef(*row.TargetModule, *row.TargetEntityID)
		if err != nil {
			return nil, err
		}
		l.Target = &target
	}
	if len(row.Snapshot) > 0 && string(row.Snapshot) != "null" {
		var snap DamageSnapshot
		if err := json.Unmarshal(row.Snapshot, &snap); err != nil {
			return nil, fmt.Errorf("decode damage snapshot: %w", err)
		}
		l.Snapshot = &snap
	}
	return l, nil
}

func newLink(t LinkType, applicationID, trigger, key string, at time.Time) *Link {
	return &Link{
		ID:           uuid.New().String(),
		Type:         t,
		Source:       Ref{Module: ModuleAssetLoan, EntityID: applicationID},
		TriggerEvent: trigger,
		DedupeKey:    key,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}
