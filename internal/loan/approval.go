package loan

import (
	"fmt"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
)

// ApprovalProgress summarises the recorded decisions against the levels the
// matrix required for an application.
type ApprovalProgress struct {
	Required []approvalmatrix.RequiredLevel
	Approved map[int]*Decision
	Rejected *Decision
}

func NewApprovalProgress(required []approvalmatrix.RequiredLevel, decisions []*Decision) *ApprovalProgress {
	p := &ApprovalProgress{
		Required: required,
		Approved: make(map[int]*Decision),
	}
	for _, d := range decisions {
		switch d.Decision {
		case DecisionApprove:
			p.Approved[d.Level] = d
		case DecisionReject:
			if p.Rejected == nil {
				p.Rejected = d
			}
		}
	}
	return p
}

// Complete is true only when every required level has an approve decision.
func (p *ApprovalProgress) Complete() bool {
	if p.Rejected != nil {
		return false
	}
	for _, lvl := range p.Required {
		if p.Approved[lvl.Level] == nil {
			return false
		}
	}
	return true
}

// NextPending returns the lowest required level still waiting for a decision.
func (p *ApprovalProgress) NextPending() (approvalmatrix.RequiredLevel, bool) {
	for _, lvl := range p.Required {
		if p.Approved[lvl.Level] == nil {
			return lvl, true
		}
	}
	return approvalmatrix.RequiredLevel{}, false
}

func (p *ApprovalProgress) Level(level int) (approvalmatrix.RequiredLevel, bool) {
	for _, lvl := range p.Required {
		if lvl.Level == level {
			return lvl, true
		}
	}
	return approvalmatrix.RequiredLevel{}, false
}

// CheckDecidable verifies that a decision for level may be recorded now.
// With sequential levels every lower level must already be approved.
func (p *ApprovalProgress) CheckDecidable(level int, sequential bool) (approvalmatrix.RequiredLevel, error) {
	lvl, ok := p.Level(level)
	if !ok {
		return approvalmatrix.RequiredLevel{}, internal.NewGuardFailedError("required_level",
			fmt.Sprintf("level %d is not required for this application", level))
	}
	if p.Approved[level] != nil {
		return approvalmatrix.RequiredLevel{}, internal.NewConflictError(
			fmt.Sprintf("level %d has already been approved", level), internal.ErrCodeAlreadyDecided)
	}
	if sequential {
		if next, ok := p.NextPending(); ok && next.Level != level {
			return approvalmatrix.RequiredLevel{}, internal.NewGuardFailedError("sequential_levels",
				fmt.Sprintf("level %d must be decided before level %d", next.Level, level))
		}
	}
	return lvl, nil
}
