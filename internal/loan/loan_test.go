package loan_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
	"github.com/frahmantamala/asset-loan/internal/loan"
)

func validCreateDTO() loan.CreateApplicationDTO {
	return loan.CreateApplicationDTO{
		ApplicantName:  "Nur Aisyah",
		ApplicantEmail: "aisyah@example.com",
		Grade:          41,
		Purpose:        "Field survey",
		StartDate:      loan.NewDate(2025, time.January, 6),
		EndDate:        loan.NewDate(2025, time.January, 10),
		TotalValue:     "3000.00",
		Items: []loan.CreateItemDTO{
			{AssetID: "LPT-001", Category: "Laptop", Quantity: 1, UnitValue: "2500.00", TotalValue: "2500.00", Condition: "good"},
			{AssetID: "PRJ-004", Category: "projector", Quantity: 2, UnitValue: "250", TotalValue: "500"},
		},
	}
}

var _ = Describe("Application", func() {
	now := time.Date(2025, time.January, 2, 9, 0, 0, 0, time.UTC)

	Describe("NewApplication", func() {
		It("builds a draft with normalised categories", func() {
			app, err := loan.NewApplication(validCreateDTO(), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(app.Status).To(Equal(loan.StatusDraft))
			Expect(app.Priority).To(Equal(loan.PriorityNormal))
			Expect(app.TotalValue.Equal(decimal.RequireFromString("3000"))).To(BeTrue())
			Expect(app.Categories()).To(Equal([]string{"laptop", "projector"}))
			Expect(*app.Items[0].ConditionBefore).To(Equal(loan.ConditionGood))
		})

		It("rejects a total that differs from the item sum", func() {
			dto := validCreateDTO()
			dto.TotalValue = "3000.01"
			_, err := loan.NewApplication(dto, now)
			Expect(internal.IsErrorCode(err, internal.ErrCodeValueMismatch)).To(BeTrue())
		})

		It("rejects an item total that is not quantity times unit value", func() {
			dto := validCreateDTO()
			dto.Items[1].TotalValue = "400"
			dto.TotalValue = "2900"
			_, err := loan.NewApplication(dto, now)
			Expect(internal.IsErrorCode(err, internal.ErrCodeValueMismatch)).To(BeTrue())
		})

		It("rejects an end date before the start date", func() {
			dto := validCreateDTO()
			dto.EndDate = loan.NewDate(2025, time.January, 5)
			_, err := loan.NewApplication(dto, now)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			details := appErr.Details.(internal.ValidationErrors)
			Expect(details.Errors[0].Field).To(Equal("loan_end_date"))
			Expect(details.Errors[0].Code).To(Equal(string(internal.ErrCodeInvalidDateRange)))
		})

		It("rejects the same asset on two lines", func() {
			dto := validCreateDTO()
			dto.Items[1] = loan.CreateItemDTO{AssetID: "LPT-001", Category: "laptop", Quantity: 1, UnitValue: "500", TotalValue: "500"}
			_, err := loan.NewApplication(dto, now)
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeValidationFailed))
			details := appErr.Details.(internal.ValidationErrors)
			Expect(details.Errors).To(HaveLen(1))
			Expect(details.Errors[0].Field).To(Equal("items[1].asset_id"))
			Expect(details.Errors[0].Message).To(ContainSubstring("items[0]"))
		})

		It("requires at least one item", func() {
			dto := validCreateDTO()
			dto.Items = nil
			dto.TotalValue = "1"
			_, err := loan.NewApplication(dto, now)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("dates", func() {
		It("counts both the first and last day", func() {
			app, err := loan.NewApplication(validCreateDTO(), now)
			Expect(err).NotTo(HaveOccurred())
			Expect(app.DurationDays()).To(Equal(5))

			kl, err := time.LoadLocation("Asia/Kuala_Lumpur")
			Expect(err).NotTo(HaveOccurred())
			Expect(app.ReturnDueAt(kl)).To(Equal(time.Date(2025, time.January, 11, 0, 0, 0, 0, kl)))
		})
	})

	Describe("MoveTo", func() {
		It("stamps lifecycle timestamps", func() {
			app, _ := loan.NewApplication(validCreateDTO(), now)
			Expect(app.MoveTo(loan.StatusSubmitted, now)).To(Succeed())
			Expect(app.SubmittedAt).NotTo(BeNil())
			Expect(app.MoveTo(loan.StatusIssued, now)).NotTo(Succeed())
			Expect(app.Status).To(Equal(loan.StatusSubmitted))
		})
	})

	Describe("governance markers", func() {
		It("only anonymizes closed applications", func() {
			app, _ := loan.NewApplication(validCreateDTO(), now)
			Expect(internal.IsErrorCode(app.Anonymize(now), internal.ErrCodeGuardFailed)).To(BeTrue())

			app.Status = loan.StatusCompleted
			Expect(app.Anonymize(now)).To(Succeed())
			Expect(app.ApplicantEmail).To(Equal("anonymized"))
			Expect(app.AnonymizedAt).NotTo(BeNil())
		})

		It("binds a guest application to one user", func() {
			app, _ := loan.NewApplication(validCreateDTO(), now)
			Expect(app.Claim("user-1", now)).To(Succeed())
			Expect(app.Claim("user-1", now)).To(Succeed())
			Expect(internal.IsErrorCode(app.Claim("user-2", now), internal.ErrCodeAlreadyClaimed)).To(BeTrue())
		})
	})
})

var _ = Describe("ApprovalProgress", func() {
	required := []approvalmatrix.RequiredLevel{
		{Level: 1, Spec: approvalmatrix.ApproverSpec{Level: 1, Kind: approvalmatrix.ApproverKindRole, Role: "approver"}},
		{Level: 2, Spec: approvalmatrix.ApproverSpec{Level: 2, Kind: approvalmatrix.ApproverKindGrade, MinGrade: 48}},
	}
	at := time.Date(2025, time.January, 2, 9, 0, 0, 0, time.UTC)

	It("is incomplete while any level is missing", func() {
		p := loan.NewApprovalProgress(required, []*loan.Decision{
			loan.NewDecision("a", 1, loan.DecisionApprove, "u1", "", at),
		})
		Expect(p.Complete()).To(BeFalse())
		next, ok := p.NextPending()
		Expect(ok).To(BeTrue())
		Expect(next.Level).To(Equal(2))
	})

	It("is complete once every level approved", func() {
		p := loan.NewApprovalProgress(required, []*loan.Decision{
			loan.NewDecision("a", 1, loan.DecisionApprove, "u1", "", at),
			loan.NewDecision("a", 2, loan.DecisionApprove, "u2", "", at),
		})
		Expect(p.Complete()).To(BeTrue())
	})

	It("enforces level order when sequential", func() {
		p := loan.NewApprovalProgress(required, nil)
		_, err := p.CheckDecidable(2, true)
		Expect(internal.IsErrorCode(err, internal.ErrCodeGuardFailed)).To(BeTrue())
		_, err = p.CheckDecidable(2, false)
		Expect(err).NotTo(HaveOccurred())
	})

	It("refuses a level that is not required", func() {
		p := loan.NewApprovalProgress(required, nil)
		_, err := p.CheckDecidable(3, false)
		Expect(err).To(HaveOccurred())
	})
})
