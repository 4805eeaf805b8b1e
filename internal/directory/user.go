package directory

import (
	"strings"
	"time"

	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
	dirDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/directory"
)

const (
	RoleEmployee     = "employee"
	RoleSupervisor   = "supervisor"
	RoleFinance      = "finance"
	RoleAssetManager = "asset_manager"
	RoleAdmin        = "admin"
)

type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	PasswordHash    string    `json:"-"`
	Department      string    `json:"department"`
	Grade           int       `json:"grade"`
	CanApproveLoans bool      `json:"can_approve_loans"`
	IsActive        bool      `json:"is_active"`
	Roles           []string  `json:"roles,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func (u *User) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if u.HasRole(role) {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

// Approver is the view the approval matrix evaluates eligibility against.
func (u *User) Approver() approvalmatrix.Approver {
	return approvalmatrix.Approver{
		ID:              u.ID,
		Email:           u.Email,
		Roles:           append([]string(nil), u.Roles...),
		Grade:           u.Grade,
		Active:          u.IsActive,
		CanApproveLoans: u.CanApproveLoans,
	}
}

func ToDataModel(u *User) *dirDatamodel.User {
	return &dirDatamodel.User{
		ID:              u.ID,
		Email:           strings.ToLower(strings.TrimSpace(u.Email)),
		Name:            u.Name,
		PasswordHash:    u.PasswordHash,
		Department:      u.Department,
		Grade:           u.Grade,
		CanApproveLoans: u.CanApproveLoans,
		IsActive:        u.IsActive,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func FromDataModel(u *dirDatamodel.User) *User {
	return &User{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		PasswordHash:    u.PasswordHash,
		Department:      u.Department,
		Grade:           u.Grade,
		CanApproveLoans: u.CanApproveLoans,
		IsActive:        u.IsActive,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
		Roles:           []string{},
	}
}

func FromDataModelWithRoles(u *dirDatamodel.User, roles []string) *User {
	domainUser := FromDataModel(u)
	domainUser.Roles = roles
	return domainUser
}
