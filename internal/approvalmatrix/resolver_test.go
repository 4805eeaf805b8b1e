package approvalmatrix_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
)

func TestApprovalMatrix(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Approval Matrix Suite")
}

func intPtr(v int) *int { return &v }

func decPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func laptopRequest() approvalmatrix.Request {
	return approvalmatrix.Request{
		TotalValue:     decimal.RequireFromString("3000"),
		ApplicantGrade: 41,
		DurationDays:   5,
		Categories:     []string{"laptop"},
	}
}

var _ = Describe("Resolver", func() {
	var (
		resolver  *approvalmatrix.Resolver
		valueRule approvalmatrix.Rule
		gradeRule approvalmatrix.Rule
	)

	BeforeEach(func() {
		resolver = approvalmatrix.NewResolver()
		valueRule = approvalmatrix.Rule{
			ID:       "value-up-to-5000",
			Name:     "Up to RM 5,000",
			Priority: 10,
			MaxValue: decPtr("5000"),
			Approvers: []approvalmatrix.ApproverSpec{
				{Level: 1, Kind: approvalmatrix.ApproverKindRole, Role: "approver"},
			},
			Active: true,
		}
		gradeRule = approvalmatrix.Rule{
			ID:       "junior-above-2000",
			Name:     "Junior staff above RM 2,000",
			Priority: 20,
			MinValue: decimal.RequireFromString("2000.01"),
			MaxGrade: intPtr(44),
			Approvers: []approvalmatrix.ApproverSpec{
				{Level: 2, Kind: approvalmatrix.ApproverKindGrade, MinGrade: 48},
			},
			Active: true,
		}
	})

	Context("with a single value rule", func() {
		It("returns one role level", func() {
			rs, err := approvalmatrix.NewRuleSet([]approvalmatrix.Rule{valueRule}, false)
			Expect(err).NotTo(HaveOccurred())

			levels, err := resolver.Resolve(laptopRequest(), rs)
			Expect(err).NotTo(HaveOccurred())
			Expect(levels).To(HaveLen(1))
			Expect(levels[0].Level).To(Equal(1))
			Expect(levels[0].Spec.String()).To(Equal("role:approver"))
			Expect(levels[0].RuleID).To(Equal("value-up-to-5000"))
		})
	})

	Context("with a value rule and a grade rule", func() {
		It("returns both levels in level order", func() {
			rs, err := approvalmatrix.NewRuleSet([]approvalmatrix.Rule{gradeRule, valueRule}, false)
			Expect(err).NotTo(HaveOccurred())

			levels, err := resolver.Resolve(laptopRequest(), rs)
			Expect(err).NotTo(HaveOccurred())
			Expect(levels).To(HaveLen(2))
			Expect(levels[0].Level).To(Equal(1))
			Expect(levels[1].Level).To(Equal(2))
			Expect(levels[1].Spec.String()).To(Equal("grade:48"))
		})

		It("treats the value bounds as inclusive", func() {
			rs, err := approvalmatrix.NewRuleSet([]approvalmatrix.Rule{valueRule, gradeRule}, false)
			Expect(err).NotTo(HaveOccurred())

			req := laptopRequest()
			req.TotalValue = decimal.RequireFromString("2000")
			levels, err := resolver.Resolve(req, rs)
			Expect(err).NotTo(HaveOccurred())
			Expect(levels).To(HaveLen(1))

			req.TotalValue = decimal.RequireFromString("2000.01")
			levels, err = resolver.Resolve(req, rs)
			Expect(err).NotTo(HaveOccurred())
			Expect(levels).To(HaveLen(2))

			req.TotalValue = decimal.RequireFromString("5000")
			levels, err = resolver.Resolve(req, rs)
			Expect(err).NotTo(HaveOccurred())
			Expect(levels).To(HaveLen(2))
		})

		It("skips the grade rule for senior applicants", func() {
			rs, err := approvalmatrix.NewRuleSet([]approvalmatrix.Rule{valueRule, gradeRule}, false)
			Expect(err).NotTo(HaveOccurred())

			req := laptopRequest()
			req.ApplicantGrade = 52
			levels, err := resolver.Resolve(req, rs)
			Expect(err).NotTo(HaveOccurred())
			Expect(levels).To(HaveLen(1))
		})
	})

	Context("when two rules declare the same level", func() {
		It("keeps the level from the lower priority rule", func() {
			manager := approvalmatrix.Rule{
				ID:       "manager",
				Priority: 5,
				Approvers: []approvalmatrix.ApproverSpec{
					{Level: 1, Kind: approvalmatrix.ApproverKindIdentity, UserID: "u-17"},
				},
				Active: true,
			}
			rs, err := approvalmatrix.NewRuleSet([]approvalmatrix.Rule{valueRule, manager}, false)
			Expect(err).NotTo(HaveOccurred())

			levels, err := resolver.Resolve(laptopRequest(), rs)
			Expect(err).NotTo(HaveOccurred())
			Expect(levels).To(HaveLen(1))
			Expect(levels[0].RuleID).To(Equal("manager"))
		})

		It("breaks priority ties by insertion order", func() {
			first := valueRule
			first.ID = "first"
			second := valueRule
			second.ID = "second"
			rs, err := approvalmatrix.NewRuleSet([]approvalmatrix.Rule{first, second}, false)
			Expect(err).NotTo(HaveOccurred())

			levels, err := resolver.Resolve(laptopRequest(), rs)
			Expect(err).NotTo(HaveOccurred())
			Expect(levels[0].RuleID).To(Equal("first"))
		})
	})

	Context("when no rule matches", func() {
		It("returns ApprovalMatrixUnresolved without the default flag", func() {
			rs, err := approvalmatrix.NewRuleSet(nil, false)
			Expect(err).NotTo(HaveOccurred())

			_, err = resolver.Resolve(laptopRequest(), rs)
			Expect(internal.IsErrorCode(err, internal.ErrCodeApprovalMatrixUnresolved)).To(BeTrue())
		})

		It("returns an empty list with the default flag", func() {
			rs, err := approvalmatrix.NewRuleSet([]approvalmatrix.Rule{gradeRule}, true)
			Expect(err).NotTo(HaveOccurred())

			req := laptopRequest()
			req.ApplicantGrade = 50
			levels, err := resolver.Resolve(req, rs)
			Expect(err).NotTo(HaveOccurred())
			Expect(levels).To(BeEmpty())
		})

		It("ignores inactive rules", func() {
			valueRule.Active = false
			rs, err := approvalmatrix.NewRuleSet([]approvalmatrix.Rule{valueRule}, false)
			Expect(err).NotTo(HaveOccurred())

			_, err = resolver.Resolve(laptopRequest(), rs)
			Expect(err).To(MatchError(internal.ErrApprovalMatrixUnresolved))
		})
	})

	Context("category criteria", func() {
		It("treats an empty category list as a wildcard", func() {
			req := laptopRequest()
			req.Categories = []string{"projector"}
			Expect(valueRule.Matches(req)).To(BeTrue())
		})

		It("requires an intersection when categories are declared", func() {
			valueRule.Categories = []string{"Projector", "camera"}
			Expect(valueRule.Matches(laptopRequest())).To(BeFalse())

			req := laptopRequest()
			req.Categories = []string{"laptop", "projector"}
			Expect(valueRule.Matches(req)).To(BeTrue())
		})
	})

	Context("duration criteria", func() {
		It("bounds the loan length on both sides", func() {
			valueRule.MinDurationDays = intPtr(3)
			valueRule.MaxDurationDays = intPtr(5)
			Expect(valueRule.Matches(laptopRequest())).To(BeTrue())

			req := laptopRequest()
			req.DurationDays = 6
			Expect(valueRule.Matches(req)).To(BeFalse())
		})
	})
})

var _ = Describe("RuleSet", func() {
	It("rejects duplicate rule ids", func() {
		rule := approvalmatrix.Rule{
			ID:        "dup",
			Approvers: []approvalmatrix.ApproverSpec{{Level: 1, Kind: approvalmatrix.ApproverKindRole, Role: "approver"}},
			Active:    true,
		}
		_, err := approvalmatrix.NewRuleSet([]approvalmatrix.Rule{rule, rule}, false)
		Expect(internal.IsErrorCode(err, internal.ErrCodeInvalidRule)).To(BeTrue())
	})

	It("rejects inverted value bounds", func() {
		rule := approvalmatrix.Rule{
			ID:        "inverted",
			MinValue:  decimal.RequireFromString("500"),
			MaxValue:  decPtr("100"),
			Approvers: []approvalmatrix.ApproverSpec{{Level: 1, Kind: approvalmatrix.ApproverKindRole, Role: "approver"}},
		}
		_, err := approvalmatrix.NewRuleSet([]approvalmatrix.Rule{rule}, false)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a rule declaring one level twice", func() {
		rule := approvalmatrix.Rule{
			ID: "twice",
			Approvers: []approvalmatrix.ApproverSpec{
				{Level: 1, Kind: approvalmatrix.ApproverKindRole, Role: "approver"},
				{Level: 1, Kind: approvalmatrix.ApproverKindGrade, MinGrade: 48},
			},
		}
		Expect(rule.Validate()).To(HaveOccurred())
	})

	It("is not affected by later edits to the source slice", func() {
		rules := []approvalmatrix.Rule{{
			ID:        "r1",
			Approvers: []approvalmatrix.ApproverSpec{{Level: 1, Kind: approvalmatrix.ApproverKindRole, Role: "approver"}},
			Active:    true,
		}}
		rs, err := approvalmatrix.NewRuleSet(rules, false)
		Expect(err).NotTo(HaveOccurred())

		rules[0].Approvers[0].Role = "somebody-else"
		Expect(rs.Rules()[0].Approvers[0].Role).To(Equal("approver"))
	})
})

var _ = Describe("ApproverSpec", func() {
	approver := approvalmatrix.Approver{ID: "u-1", Roles: []string{"Approver"}, Grade: 48, Active: true, CanApproveLoans: true}

	It("matches roles case-insensitively", func() {
		spec := approvalmatrix.ApproverSpec{Level: 1, Kind: approvalmatrix.ApproverKindRole, Role: "approver"}
		Expect(spec.IsSatisfiedBy(approver)).To(BeTrue())
	})

	It("requires can_approve_loans for grade approvers", func() {
		spec := approvalmatrix.ApproverSpec{Level: 2, Kind: approvalmatrix.ApproverKindGrade, MinGrade: 48}
		Expect(spec.IsSatisfiedBy(approver)).To(BeTrue())

		limited := approver
		limited.CanApproveLoans = false
		Expect(spec.IsSatisfiedBy(limited)).To(BeFalse())
	})

	It("never accepts inactive users", func() {
		spec := approvalmatrix.ApproverSpec{Level: 1, Kind: approvalmatrix.ApproverKindIdentity, UserID: "u-1"}
		inactive := approver
		inactive.Active = false
		Expect(spec.IsSatisfiedBy(approver)).To(BeTrue())
		Expect(spec.IsSatisfiedBy(inactive)).To(BeFalse())
	})
})
