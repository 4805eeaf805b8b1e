package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
)

type Repository interface {
	GetByID(ctx context.Context, userID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetRoles(ctx context.Context, userID string) ([]string, error)
	ListByRole(ctx context.Context, role string) ([]*User, error)
	ListByMinGrade(ctx context.Context, minGrade int) ([]*User, error)
	Save(ctx context.Context, u *User) error
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (s *Service) GetByID(ctx context.Context, userID string) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	roles, err := s.repo.GetRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	u.Roles = roles

	return u, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}

	roles, err := s.repo.GetRoles(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	u.Roles = roles

	return u, nil
}

// Lookup returns the approver view of a user. Unknown users yield
// internal.ErrUserNotFound.
func (s *Service) Lookup(ctx context.Context, userID string) (approvalmatrix.Approver, error) {
	u, err := s.GetByID(ctx, userID)
	if err != nil {
		return approvalmatrix.Approver{}, err
	}
	return u.Approver(), nil
}

// Candidates lists the active users able to decide a level with spec, in
// id order.
func (s *Service) Candidates(ctx context.Context, spec approvalmatrix.ApproverSpec) ([]string, error) {
	var (
		pool []*User
		err  error
	)
	switch spec.Kind {
	case approvalmatrix.ApproverKindRole:
		pool, err = s.repo.ListByRole(ctx, spec.Role)
	case approvalmatrix.ApproverKindGrade:
		pool, err = s.repo.ListByMinGrade(ctx, spec.MinGrade)
	case approvalmatrix.ApproverKindIdentity:
		u, getErr := s.GetByID(ctx, spec.UserID)
		if getErr != nil {
			if internal.IsErrorCode(getErr, internal.ErrCodeUserNotFound) {
				s.logger.Warn("approver identity not in directory", "user_id", spec.UserID)
				return []string{}, nil
			}
			return nil, getErr
		}
		pool = []*User{u}
	default:
		return nil, fmt.Errorf("unknown approver kind %q", spec.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("list approver candidates: %w", err)
	}

	ids := make([]string, 0, len(pool))
	for _, u := range pool {
		if spec.IsSatisfiedBy(u.Approver()) {
			ids = append(ids, u.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Service) Save(ctx context.Context, u *User) error {
	if strings.TrimSpace(u.ID) == "" {
		return internal.NewValidationFieldError("id", "user id is required", internal.ErrCodeValidationFailed)
	}
	if strings.TrimSpace(u.Email) == "" {
		return internal.NewValidationFieldError("email", "email is required", internal.ErrCodeValidationFailed)
	}
	if err := s.repo.Save(ctx, u); err != nil {
		return err
	}
	s.logger.Info("directory user saved", "user_id", u.ID, "roles", u.Roles)
	return nil
}
