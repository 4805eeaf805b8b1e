package approvalmatrix

import (
	"context"
	"sort"

	"github.com/frahmantamala/asset-loan/internal"
)

// RuleSet is an immutable snapshot of the active rules, in insertion order.
type RuleSet struct {
	rules                     []Rule
	defaultNoApprovalRequired bool
}

func NewRuleSet(rules []Rule, defaultNoApprovalRequired bool) (*RuleSet, error) {
	ids := make(map[string]bool, len(rules))
	copied := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if ids[r.ID] {
			return nil, invalidRule("duplicate rule id " + r.ID)
		}
		ids[r.ID] = true

		c := r
		c.Categories = append([]string(nil), r.Categories...)
		c.Approvers = append([]ApproverSpec(nil), r.Approvers...)
		copied = append(copied, c)
	}
	return &RuleSet{rules: copied, defaultNoApprovalRequired: defaultNoApprovalRequired}, nil
}

func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

func (rs *RuleSet) DefaultNoApprovalRequired() bool {
	return rs.defaultNoApprovalRequired
}

func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Source loads the rule set active at evaluation time.
type Source interface {
	Load(ctx context.Context) (*RuleSet, error)
}

type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the ordered approval levels a request needs. An empty result
// means no approval is required and is only produced when the rule set allows
// it; otherwise a request matching no rule is a configuration error.
func (r *Resolver) Resolve(req Request, rs *RuleSet) ([]RequiredLevel, error) {
	if rs == nil {
		return nil, internal.ErrApprovalMatrixUnresolved
	}

	matching := make([]Rule, 0, len(rs.rules))
	for _, rule := range rs.rules {
		if rule.Active && rule.Matches(req) {
			matching = append(matching, rule)
		}
	}

	if len(matching) == 0 {
		if rs.defaultNoApprovalRequired {
			return []RequiredLevel{}, nil
		}
		return nil, internal.ErrApprovalMatrixUnresolved
	}

	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].Priority < matching[j].Priority
	})

	seen := make(map[int]bool)
	levels := make([]RequiredLevel, 0)
	for _, rule := range matching {
		for _, spec := range rule.Approvers {
			if seen[spec.Level] {
				continue
			}
			seen[spec.Level] = true
			levels = append(levels, RequiredLevel{Level: spec.Level, Spec: spec, RuleID: rule.ID})
		}
	}

	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].Level < levels[j].Level
	})
	return levels, nil
}
