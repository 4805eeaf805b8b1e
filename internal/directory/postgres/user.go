package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/asset-loan/internal"
	dirDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/directory"
	"github.com/frahmantamala/asset-loan/internal/directory"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

var _ directory.Repository = (*UserRepository)(nil)

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*directory.User, error) {
	var row dirDatamodel.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return directory.FromDataModel(&row), nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*directory.User, error) {
	var row dirDatamodel.User
	if err := r.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(email)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return directory.FromDataModel(&row), nil
}

func (r *UserRepository) GetRoles(ctx context.Context, userID string) ([]string, error) {
	var roles []string
	err := r.db.WithContext(ctx).
		Table("roles").
		Select("roles.name").
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.name ASC").
		Pluck("roles.name", &roles).Error
	if err != nil {
		return nil, fmt.Errorf("get user roles: %w", err)
	}
	return roles, nil
}

func (r *UserRepository) ListByRole(ctx context.Context, role string) ([]*directory.User, error) {
	var rows []*dirDatamodel.User
	err := r.db.WithContext(ctx).
		Select("users.*").
		Joins("JOIN user_roles ON user_roles.user_id = users.id").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("LOWER(roles.name) = ? AND users.is_active = ?", strings.ToLower(role), true).
		Order("users.id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	return r.withRoles(ctx, rows)
}

func (r *UserRepository) ListByMinGrade(ctx context.Context, minGrade int) ([]*directory.User, error) {
	var rows []*dirDatamodel.User
	err := r.db.WithContext(ctx).
		Where("grade >= ? AND can_approve_loans = ? AND is_active = ?", minGrade, true, true).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list users by grade: %w", err)
	}
	return r.withRoles(ctx, rows)
}

func (r *UserRepository) withRoles(ctx context.Context, rows []*dirDatamodel.User) ([]*directory.User, error) {
	out := make([]*directory.User, 0, len(rows))
	for _, row := range rows {
		roles, err := r.GetRoles(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, directory.FromDataModelWithRoles(row, roles))
	}
	return out, nil
}

// Save upserts the user and replaces its role grants.
func (r *UserRepository) Save(ctx context.Context, u *directory.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := directory.ToDataModel(u)
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"email", "name", "password_hash", "department", "grade",
				"can_approve_loans", "is_active", "updated_at",
			}),
		}).Create(row).Error
		if err != nil {
			return fmt.Errorf("save user: %w", err)
		}

		if err := tx.Where("user_id = ?", u.ID).Delete(&dirDatamodel.UserRole{}).Error; err != nil {
			return fmt.Errorf("clear user roles: %w", err)
		}
		for _, name := range u.Roles {
			role := dirDatamodel.Role{Name: strings.ToLower(name)}
			if err := tx.Where("name = ?", role.Name).FirstOrCreate(&role).Error; err != nil {
				return fmt.Errorf("ensure role %s: %w", name, err)
			}
			if err := tx.Create(&dirDatamodel.UserRole{UserID: u.ID, RoleID: role.ID}).Error; err != nil {
				return fmt.Errorf("grant role %s: %w", name, err)
			}
		}
		return nil
	})
}
