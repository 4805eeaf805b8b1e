package asset

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/core/events"
)

type RepositoryAPI interface {
	GetAll(ctx context.Context, category string) ([]*Asset, error)
	GetByIDs(ctx context.Context, ids []string) ([]*Asset, error)
	GetByID(ctx context.Context, id string) (*Asset, error)
	Save(ctx context.Context, a *Asset) error
	// Reserved returns the ids among assetIDs held by another application
	// whose loan period overlaps [start, end].
	Reserved(ctx context.Context, assetIDs []string, start, end time.Time, excludeApplicationID string) ([]string, error)
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// ListAssets returns the lendable assets, optionally of one category.
func (s *Service) ListAssets(ctx context.Context, category string) ([]*Asset, error) {
	all, err := s.repo.GetAll(ctx, category)
	if err != nil {
		s.logger.Error("failed to get assets from repository", "error", err)
		return nil, err
	}

	out := make([]*Asset, 0, len(all))
	for _, a := range all {
		if a.IsLendable() {
			out = append(out, a)
		}
	}

	s.logger.Debug("retrieved assets", "count", len(out), "category", category)
	return out, nil
}

func (s *Service) GetAsset(ctx context.Context, id string) (*Asset, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Register(ctx context.Context, a *Asset) error {
	if a.ID == "" || a.Name == "" || a.Category == "" {
		return internal.NewValidationError("asset id, name and category are required", internal.ErrCodeValidationFailed)
	}
	if a.UnitValue.IsNegative() {
		return internal.NewValidationFieldError("unit_value", "unit_value must not be negative", internal.ErrCodeInvalidAmount)
	}
	if a.Status == "" {
		a.Status = StatusAvailable
	}
	return s.repo.Save(ctx, a)
}

// Unavailable reports, in sorted order, the assets that cannot be lent for
// [start, end]: unknown, not lendable in the catalogue, or reserved by another
// application.
func (s *Service) Unavailable(ctx context.Context, assetIDs []string, start, end time.Time, excludeApplicationID string) ([]string, error) {
	if len(assetIDs) == 0 {
		return []string{}, nil
	}

	found, err := s.repo.GetByIDs(ctx, assetIDs)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	known := make(map[string]*Asset, len(found))
	for _, a := range found {
		known[a.ID] = a
	}

	busy := map[string]struct{}{}
	for _, id := range assetIDs {
		a, ok := known[id]
		if !ok || !a.IsLendable() {
			busy[id] = struct{}{}
		}
	}

	reserved, err := s.repo.Reserved(ctx, assetIDs, start, end, excludeApplicationID)
	if err != nil {
		return nil, fmt.Errorf("check reservations: %w", err)
	}
	for _, id := range reserved {
		busy[id] = struct{}{}
	}

	out := make([]string, 0, len(busy))
	for id := range busy {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Service) IsAvailable(ctx context.Context, assetID string, start, end time.Time) (bool, error) {
	busy, err := s.Unavailable(ctx, []string{assetID}, start, end, "")
	if err != nil {
		return false, err
	}
	return len(busy) == 0, nil
}

// Restore returns a maintained asset to the lendable pool.
func (s *Service) Restore(ctx context.Context, id string) (*Asset, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusRetired {
		return nil, internal.NewConflictError("a retired asset cannot be restored", internal.ErrCodeInvalidStatus)
	}
	a.Restore(s.now())
	if err := s.repo.Save(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("asset restored", "asset_id", a.ID)
	return a, nil
}

// HandleDamageLinked takes a damaged asset out of circulation.
func (s *Service) HandleDamageLinked(ctx context.Context, event events.Event) error {
	var payload events.DamageLinked
	if err := events.DecodePayload(event, &payload); err != nil {
		return err
	}

	a, err := s.repo.GetByID(ctx, payload.AssetID)
	if err != nil {
		if internal.IsErrorCode(err, internal.ErrCodeAssetNotFound) {
			s.logger.Warn("damage reported for asset not in catalogue", "asset_id", payload.AssetID, "application_id", payload.ApplicationID)
			return nil
		}
		return err
	}
	if a.Status == StatusInMaintenance {
		return nil
	}

	a.SendToMaintenance(fmt.Sprintf("damage reported on %s", payload.ApplicationNumber), s.now())
	if err := s.repo.Save(ctx, a); err != nil {
		return err
	}
	s.logger.Info("asset sent to maintenance", "asset_id", a.ID, "application_id", payload.ApplicationID, "link_id", payload.LinkID)
	return nil
}

func (s *Service) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeDamageLinked, s.HandleDamageLinked)
}
