package approvalmatrix

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Rules []ruleDefinition `yaml:"rules"`
}

// ruleDefinition keeps money bounds as strings so YAML numbers never pass
// through float64.
type ruleDefinition struct {
	ID              string         `yaml:"id"`
	Name            string         `yaml:"name"`
	Priority        int            `yaml:"priority"`
	MinValue        string         `yaml:"min_value"`
	MaxValue        *string        `yaml:"max_value"`
	MinGrade        *int           `yaml:"min_grade"`
	MaxGrade        *int           `yaml:"max_grade"`
	MinDurationDays *int           `yaml:"min_duration_days"`
	MaxDurationDays *int           `yaml:"max_duration_days"`
	Categories      []string       `yaml:"categories"`
	Approvers       []ApproverSpec `yaml:"approvers"`
	Active          *bool          `yaml:"active"`
}

func (d ruleDefinition) toRule() (Rule, error) {
	rule := Rule{
		ID:              d.ID,
		Name:            d.Name,
		Priority:        d.Priority,
		MinGrade:        d.MinGrade,
		MaxGrade:        d.MaxGrade,
		MinDurationDays: d.MinDurationDays,
		MaxDurationDays: d.MaxDurationDays,
		Categories:      d.Categories,
		Approvers:       d.Approvers,
		Active:          d.Active == nil || *d.Active,
	}

	if d.MinValue != "" {
		v, err := decimal.NewFromString(d.MinValue)
		if err != nil {
			return Rule{}, invalidRule(fmt.Sprintf("rule %s: invalid min_value %q", d.ID, d.MinValue))
		}
		rule.MinValue = v
	}
	if d.MaxValue != nil {
		v, err := decimal.NewFromString(*d.MaxValue)
		if err != nil {
			return Rule{}, invalidRule(fmt.Sprintf("rule %s: invalid max_value %q", d.ID, *d.MaxValue))
		}
		rule.MaxValue = &v
	}
	return rule, nil
}

// ParseRulesYAML decodes and validates a rule file payload.
func ParseRulesYAML(data []byte) ([]Rule, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, invalidRule("rule file is empty")
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("approvalmatrix: decode rules: %w", err)
	}

	rules := make([]Rule, 0, len(f.Rules))
	for _, d := range f.Rules {
		r, err := d.toRule()
		if err != nil {
			return nil, err
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("approvalmatrix: read %s: %w", path, err)
	}
	rules, err := ParseRulesYAML(data)
	if err != nil {
		return nil, fmt.Errorf("approvalmatrix: %s: %w", path, err)
	}
	return rules, nil
}

// FileSource reads the rule file on every Load so edits apply to the next
// evaluation without a restart.
type FileSource struct {
	path                      string
	defaultNoApprovalRequired bool
}

func NewFileSource(path string, defaultNoApprovalRequired bool) *FileSource {
	return &FileSource{path: path, defaultNoApprovalRequired: defaultNoApprovalRequired}
}

func (s *FileSource) Load(_ context.Context) (*RuleSet, error) {
	rules, err := LoadRulesFile(s.path)
	if err != nil {
		return nil, err
	}
	return NewRuleSet(rules, s.defaultNoApprovalRequired)
}

// StaticSource serves a fixed rule set.
type StaticSource struct {
	set *RuleSet
}

func NewStaticSource(set *RuleSet) *StaticSource {
	return &StaticSource{set: set}
}

func (s *StaticSource) Load(_ context.Context) (*RuleSet, error) {
	return s.set, nil
}
