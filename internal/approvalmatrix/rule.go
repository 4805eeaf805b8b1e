package approvalmatrix

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/asset-loan/internal"
)

type ApproverKind string

const (
	ApproverKindRole     ApproverKind = "role"
	ApproverKindGrade    ApproverKind = "grade"
	ApproverKindIdentity ApproverKind = "identity"
)

// ApproverSpec describes who may decide one approval level.
type ApproverSpec struct {
	Level    int          `json:"level" yaml:"level"`
	Kind     ApproverKind `json:"kind" yaml:"kind"`
	Role     string       `json:"role,omitempty" yaml:"role,omitempty"`
	MinGrade int          `json:"min_grade,omitempty" yaml:"min_grade,omitempty"`
	UserID   string       `json:"user_id,omitempty" yaml:"user_id,omitempty"`
}

func (s ApproverSpec) String() string {
	switch s.Kind {
	case ApproverKindRole:
		return "role:" + s.Role
	case ApproverKindGrade:
		return fmt.Sprintf("grade:%d", s.MinGrade)
	case ApproverKindIdentity:
		return "identity:" + s.UserID
	}
	return string(s.Kind)
}

func (s ApproverSpec) Validate() error {
	if s.Level < 1 {
		return fmt.Errorf("approver level must be >= 1, got %d", s.Level)
	}
	switch s.Kind {
	case ApproverKindRole:
		if strings.TrimSpace(s.Role) == "" {
			return fmt.Errorf("level %d: role approver needs a role", s.Level)
		}
	case ApproverKindGrade:
		if s.MinGrade <= 0 {
			return fmt.Errorf("level %d: grade approver needs a positive min_grade", s.Level)
		}
	case ApproverKindIdentity:
		if strings.TrimSpace(s.UserID) == "" {
			return fmt.Errorf("level %d: identity approver needs a user_id", s.Level)
		}
	default:
		return fmt.Errorf("level %d: unknown approver kind %q", s.Level, s.Kind)
	}
	return nil
}

// Approver is what the user directory knows about a prospective approver.
type Approver struct {
	ID              string
	Email           string
	Roles           []string
	Grade           int
	Active          bool
	CanApproveLoans bool
}

// IsSatisfiedBy reports whether the approver may decide a level with this spec.
func (s ApproverSpec) IsSatisfiedBy(a Approver) bool {
	if !a.Active {
		return false
	}
	switch s.Kind {
	case ApproverKindRole:
		for _, r := range a.Roles {
			if strings.EqualFold(r, s.Role) {
				return true
			}
		}
		return false
	case ApproverKindGrade:
		return a.CanApproveLoans && a.Grade >= s.MinGrade
	case ApproverKindIdentity:
		return a.ID == s.UserID
	}
	return false
}

// Rule is one configured approval requirement. Nil bounds are unbounded; an
// empty category list matches every category.
type Rule struct {
	ID              string
	Name            string
	Priority        int
	MinValue        decimal.Decimal
	MaxValue        *decimal.Decimal
	MinGrade        *int
	MaxGrade        *int
	MinDurationDays *int
	MaxDurationDays *int
	Categories      []string
	Approvers       []ApproverSpec
	Active          bool
}

func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return invalidRule("rule id is required")
	}
	if r.MinValue.IsNegative() {
		return invalidRule(fmt.Sprintf("rule %s: min_value cannot be negative", r.ID))
	}
	if r.MaxValue != nil && r.MaxValue.LessThan(r.MinValue) {
		return invalidRule(fmt.Sprintf("rule %s: max_value is below min_value", r.ID))
	}
	if r.MinGrade != nil && r.MaxGrade != nil && *r.MaxGrade < *r.MinGrade {
		return invalidRule(fmt.Sprintf("rule %s: max_grade is below min_grade", r.ID))
	}
	if r.MinDurationDays != nil && r.MaxDurationDays != nil && *r.MaxDurationDays < *r.MinDurationDays {
		return invalidRule(fmt.Sprintf("rule %s: max_duration_days is below min_duration_days", r.ID))
	}
	if len(r.Approvers) == 0 {
		return invalidRule(fmt.Sprintf("rule %s: at least one approver is required", r.ID))
	}
	seen := make(map[int]bool, len(r.Approvers))
	for _, a := range r.Approvers {
		if err := a.Validate(); err != nil {
			return invalidRule(fmt.Sprintf("rule %s: %v", r.ID, err))
		}
		if seen[a.Level] {
			return invalidRule(fmt.Sprintf("rule %s: level %d declared twice", r.ID, a.Level))
		}
		seen[a.Level] = true
	}
	return nil
}

// Matches reports whether every criterion of the rule holds for the request.
func (r Rule) Matches(req Request) bool {
	if req.TotalValue.LessThan(r.MinValue) {
		return false
	}
	if r.MaxValue != nil && req.TotalValue.GreaterThan(*r.MaxValue) {
		return false
	}
	if r.MinGrade != nil && req.ApplicantGrade < *r.MinGrade {
		return false
	}
	if r.MaxGrade != nil && req.ApplicantGrade > *r.MaxGrade {
		return false
	}
	if r.MinDurationDays != nil && req.DurationDays < *r.MinDurationDays {
		return false
	}
	if r.MaxDurationDays != nil && req.DurationDays > *r.MaxDurationDays {
		return false
	}
	if len(r.Categories) == 0 {
		return true
	}
	for _, want := range r.Categories {
		for _, got := range req.Categories {
			if strings.EqualFold(want, got) {
				return true
			}
		}
	}
	return false
}

func invalidRule(msg string) *internal.AppError {
	return internal.NewConfigurationError(msg, internal.ErrCodeInvalidRule)
}

// Request is the snapshot of a loan request the matrix is evaluated against.
type Request struct {
	TotalValue     decimal.Decimal
	ApplicantGrade int
	DurationDays   int
	Categories     []string
}

// RequiredLevel is one approval slot produced by the resolver.
type RequiredLevel struct {
	Level  int          `json:"level"`
	Spec   ApproverSpec `json:"spec"`
	RuleID string       `json:"rule_id"`
}
