package workflow_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
	"github.com/frahmantamala/asset-loan/internal/auth"
	"github.com/frahmantamala/asset-loan/internal/calendar"
	linkDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/linkage"
	loanDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/loan"
	outboxDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/outbox"
	slaDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/sla"
	"github.com/frahmantamala/asset-loan/internal/core/events"
	"github.com/frahmantamala/asset-loan/internal/linkage"
	"github.com/frahmantamala/asset-loan/internal/loan"
	"github.com/frahmantamala/asset-loan/internal/sla"
	"github.com/frahmantamala/asset-loan/internal/workflow"
	"github.com/frahmantamala/asset-loan/internal/workflow/mocks"
	wfPostgres "github.com/frahmantamala/asset-loan/internal/workflow/postgres"
)

func TestWorkflow(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Workflow Suite")
}

var directoryUsers = map[string]approvalmatrix.Approver{
	"sup-1": {ID: "sup-1", Email: "sup@example.com", Roles: []string{"supervisor"}, Grade: 50, Active: true, CanApproveLoans: true},
	"fin-1": {ID: "fin-1", Email: "fin@example.com", Roles: []string{"finance"}, Grade: 55, Active: true, CanApproveLoans: true},
	"emp-1": {ID: "emp-1", Email: "mira@example.com", Roles: []string{"employee"}, Grade: 40, Active: true},
	"emp-2": {ID: "emp-2", Email: "joko@example.com", Roles: []string{"employee"}, Grade: 40, Active: true},
	"mgr-1": {ID: "mgr-1", Email: "assets@example.com", Roles: []string{"asset_manager"}, Grade: 45, Active: true},
}

func ruleSet(defaultNoApproval bool) *approvalmatrix.RuleSet {
	highValue := decimal.NewFromInt(10000)
	rs, err := approvalmatrix.NewRuleSet([]approvalmatrix.Rule{
		{
			ID:       "standard",
			Name:     "Standard loans",
			Priority: 1,
			MinValue: decimal.Zero,
			MaxValue: &highValue,
			Approvers: []approvalmatrix.ApproverSpec{
				{Level: 1, Kind: approvalmatrix.ApproverKindRole, Role: "supervisor"},
			},
			Active: true,
		},
		{
			ID:       "high-value",
			Name:     "High value loans",
			Priority: 2,
			MinValue: highValue.Add(decimal.NewFromInt(1)),
			Approvers: []approvalmatrix.ApproverSpec{
				{Level: 1, Kind: approvalmatrix.ApproverKindRole, Role: "supervisor"},
				{Level: 2, Kind: approvalmatrix.ApproverKindRole, Role: "finance"},
			},
			Active: true,
		},
	}, defaultNoApproval)
	Expect(err).NotTo(HaveOccurred())
	return rs
}

func createDTO(total string, submit bool) loan.CreateApplicationDTO {
	return loan.CreateApplicationDTO{
		ApplicantName:  "Mira Chen",
		ApplicantEmail: "mira@example.com",
		Grade:          40,
		Purpose:        "Site survey",
		StartDate:      loan.NewDate(2025, time.April, 7),
		EndDate:        loan.NewDate(2025, time.April, 9),
		TotalValue:     total,
		Items: []loan.CreateItemDTO{
			{AssetID: "CAM-1", Category: "camera", Quantity: 1, UnitValue: total, TotalValue: total},
		},
		Submit: submit,
	}
}

func as(actor string) context.Context {
	return internal.ContextWithActorID(context.Background(), actor)
}

func approvalToken(res *workflow.Result) string {
	for _, e := range res.Events {
		if e.Type != events.EventTypeApprovalRequired {
			continue
		}
		var payload events.ApprovalRequired
		Expect(events.DecodePayload(e, &payload)).To(Succeed())
		return payload.ApprovalToken
	}
	Fail("no approval_required event emitted")
	return ""
}

func codeOf(err error) internal.ErrorCode {
	appErr, ok := internal.IsAppError(err)
	Expect(ok).To(BeTrue(), "expected an AppError, got %v", err)
	return appErr.Code
}

var _ = Describe("Orchestrator", func() {
	var (
		db           *gorm.DB
		ctrl         *gomock.Controller
		directory    *mocks.MockDirectory
		availability *mocks.MockAvailabilityChecker
		clock        *calendar.FixedClock
		uow          *wfPostgres.GormUnitOfWork
		rules        *approvalmatrix.RuleSet
		orch         *workflow.Orchestrator
		start        time.Time
	)

	build := func() {
		tracker, err := sla.NewTracker(sla.Config{
			ResponseHours:        4,
			ResolutionHours:      48,
			Mode:                 sla.ModeWallClock,
			RiskThresholdPercent: 75,
		}, nil)
		Expect(err).NotTo(HaveOccurred())

		orch = workflow.NewOrchestrator(workflow.Config{
			NumberPrefix:     "LA",
			SequentialLevels: true,
			ReturnLeadWindow: 24 * time.Hour,
			Location:         time.UTC,
		}, workflow.Deps{
			UnitOfWork:   uow,
			Locker:       workflow.NewLocalLocker(),
			Rules:        approvalmatrix.NewStaticSource(rules),
			Tracker:      tracker,
			Directory:    directory,
			Availability: availability,
			Tokens:       auth.NewApprovalTokenSigner("test-secret", 72*time.Hour, 4),
			Clock:        clock,
			Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
	}

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(filepath.Join(GinkgoT().TempDir(), "orchestrator.db")), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(
			&loanDatamodel.Application{},
			&loanDatamodel.Item{},
			&loanDatamodel.Transaction{},
			&loanDatamodel.Decision{},
			&loanDatamodel.NumberSequence{},
			&slaDatamodel.Timer{},
			&linkDatamodel.Link{},
			&outboxDatamodel.Message{},
		)).To(Succeed())

		ctrl = gomock.NewController(GinkgoT())
		directory = mocks.NewMockDirectory(ctrl)
		availability = mocks.NewMockAvailabilityChecker(ctrl)

		directory.EXPECT().Lookup(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, id string) (approvalmatrix.Approver, error) {
				u, ok := directoryUsers[id]
				if !ok {
					return approvalmatrix.Approver{}, internal.ErrUserNotFound
				}
				return u, nil
			}).AnyTimes()
		directory.EXPECT().Candidates(gomock.Any(), gomock.Any()).Return([]string{"sup-1"}, nil).AnyTimes()

		start = time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)
		clock = calendar.NewFixedClock(start)
		uow = wfPostgres.NewGormUnitOfWork(db)
		rules = ruleSet(false)
		build()
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.Close()
	})

	submitted := func(total string) *loan.Application {
		res, err := orch.Create(as("emp-1"), createDTO(total, true))
		Expect(err).NotTo(HaveOccurred())
		return res.Application
	}

	issued := func() *loan.Application {
		availability.EXPECT().Unavailable(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
		app := submitted("1500")
		_, err := orch.Approve(as("sup-1"), app.ID, loan.ApproveDTO{Level: 1})
		Expect(err).NotTo(HaveOccurred())

		clock.Set(time.Date(2025, time.April, 7, 9, 0, 0, 0, time.UTC))
		res, err := orch.Issue(as("sup-1"), app.ID, loan.IssueDTO{
			Items: []loan.IssueItemDTO{{AssetID: "CAM-1", Condition: "good"}},
		})
		Expect(err).NotTo(HaveOccurred())
		return res.Application
	}

	Describe("Create", func() {
		It("stores a draft with a generated number", func() {
			res, err := orch.Create(as("emp-1"), createDTO("1500", false))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusDraft))
			Expect(res.Application.Number).To(Equal("LA2025040001"))
			Expect(res.Events).To(BeEmpty())
		})

		It("submits into review and asks the first level", func() {
			res, err := orch.Create(as("emp-1"), createDTO("1500", true))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusUnderReview))
			Expect(res.Application.RequiredLevels).To(HaveLen(1))
			Expect(res.Application.HasApprovalToken()).To(BeTrue())
			Expect(res.EventTypes()).To(Equal([]string{
				events.EventTypeStatusChanged,
				events.EventTypeApplicationSubmitted,
				events.EventTypeStatusChanged,
				events.EventTypeApprovalRequired,
			}))

			details, err := orch.Details(context.Background(), res.Application.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(details.Timers).To(HaveLen(2))
		})

		It("refuses the same asset on two lines", func() {
			dto := createDTO("1500", true)
			dto.Items = []loan.CreateItemDTO{
				{AssetID: "CAM-1", Category: "camera", Quantity: 1, UnitValue: "750", TotalValue: "750"},
				{AssetID: "CAM-1", Category: "camera", Quantity: 1, UnitValue: "750", TotalValue: "750"},
			}
			_, err := orch.Create(as("emp-1"), dto)
			Expect(codeOf(err)).To(Equal(internal.ErrCodeValidationFailed))

			list, err := orch.List(context.Background(), loan.ListQuery{})
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})

		It("rolls back the draft when no rule matches", func() {
			rules, _ = approvalmatrix.NewRuleSet(nil, false)
			build()
			_, err := orch.Create(as("emp-1"), createDTO("1500", true))
			Expect(codeOf(err)).To(Equal(internal.ErrCodeApprovalMatrixUnresolved))

			list, err := orch.List(context.Background(), loan.ListQuery{})
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})

		It("approves straight away when no approval is required", func() {
			rules, _ = approvalmatrix.NewRuleSet(nil, true)
			build()
			availability.EXPECT().Unavailable(gomock.Any(), []string{"CAM-1"}, gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)

			res, err := orch.Create(as("emp-1"), createDTO("1500", true))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusReadyIssuance))
			Expect(*res.Application.ApprovedBy).To(Equal("system"))
			Expect(res.EventTypes()).To(ContainElement(events.EventTypeApplicationApproved))
		})
	})

	Describe("Approve", func() {
		It("moves to ready for issuance once every level approved", func() {
			availability.EXPECT().Unavailable(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
			app := submitted("20000")
			Expect(app.RequiredLevels).To(HaveLen(2))

			res, err := orch.Approve(as("sup-1"), app.ID, loan.ApproveDTO{Level: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusUnderReview))
			Expect(res.EventTypes()).To(ContainElement(events.EventTypeApprovalRequired))

			res, err = orch.Approve(as("fin-1"), app.ID, loan.ApproveDTO{Level: 2, Remarks: "ok"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusReadyIssuance))
			Expect(*res.Application.ApprovedBy).To(Equal("fin-1"))
			Expect(res.Application.HasApprovalToken()).To(BeFalse())
		})

		It("refuses an approver outside the level", func() {
			app := submitted("1500")
			_, err := orch.Approve(as("fin-1"), app.ID, loan.ApproveDTO{Level: 1})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeApproverNotEligible))

			_, err = orch.Approve(as("ghost"), app.ID, loan.ApproveDTO{Level: 1})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeApproverNotEligible))
		})

		It("refuses a later level before the earlier one", func() {
			app := submitted("20000")
			_, err := orch.Approve(as("fin-1"), app.ID, loan.ApproveDTO{Level: 2})
			Expect(err).To(HaveOccurred())
		})

		It("leaves the application approved while an asset is busy", func() {
			availability.EXPECT().Unavailable(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return([]string{"CAM-1"}, nil).Times(2)
			app := submitted("1500")

			res, err := orch.Approve(as("sup-1"), app.ID, loan.ApproveDTO{Level: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusApproved))

			_, err = orch.PrepareIssuance(as("sup-1"), app.ID)
			Expect(codeOf(err)).To(Equal(internal.ErrCodeGuardFailed))
		})
	})

	Describe("ApproveWithToken", func() {
		It("approves once and rejects reuse", func() {
			availability.EXPECT().Unavailable(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
			res, err := orch.Create(as("emp-1"), createDTO("1500", true))
			Expect(err).NotTo(HaveOccurred())
			token := approvalToken(res)

			out, err := orch.ApproveWithToken(context.Background(), loan.TokenApprovalDTO{Token: token})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Application.Status).To(Equal(loan.StatusReadyIssuance))
			Expect(*out.Application.ApprovedBy).To(HavePrefix("token:"))

			_, err = orch.ApproveWithToken(context.Background(), loan.TokenApprovalDTO{Token: token})
			Expect(err).To(HaveOccurred())
		})

		It("rejects a token past its lifetime", func() {
			res, err := orch.Create(as("emp-1"), createDTO("1500", true))
			Expect(err).NotTo(HaveOccurred())
			token := approvalToken(res)

			clock.Advance(73 * time.Hour)
			_, err = orch.ApproveWithToken(context.Background(), loan.TokenApprovalDTO{Token: token})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeTokenExpired))
		})
	})

	Describe("Reject", func() {
		It("ends the review and stops every timer", func() {
			app := submitted("1500")
			res, err := orch.Reject(as("sup-1"), app.ID, loan.RejectDTO{Level: 1, Reason: "not needed"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusRejected))
			Expect(*res.Application.RejectionReason).To(Equal("not needed"))

			details, err := orch.Details(context.Background(), app.ID)
			Expect(err).NotTo(HaveOccurred())
			for _, t := range details.Timers {
				Expect(t.IsActive()).To(BeFalse())
			}
			Expect(details.Decisions).To(HaveLen(1))
			Expect(details.Decisions[0].Decision).To(Equal(loan.DecisionReject))
		})
	})

	Describe("Reject on a multi-level request", func() {
		It("lets a later level reject while an earlier one is pending", func() {
			app := submitted("20000")
			Expect(app.RequiredLevels).To(HaveLen(2))

			res, err := orch.Reject(as("fin-1"), app.ID, loan.RejectDTO{Level: 2, Reason: "over budget"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusRejected))
			Expect(res.Application.HasApprovalToken()).To(BeFalse())
			Expect(res.EventTypes()).To(ContainElement(events.EventTypeApplicationRejected))

			details, err := orch.Details(context.Background(), app.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(details.Timers).NotTo(BeEmpty())
			for _, t := range details.Timers {
				Expect(t.IsActive()).To(BeFalse())
			}

			_, err = orch.Approve(as("sup-1"), app.ID, loan.ApproveDTO{Level: 1})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeInvalidTransition))
		})
	})

	Describe("RequestInfo and ProvideInfo", func() {
		It("pauses and resumes the review", func() {
			app := submitted("1500")
			res, err := orch.RequestInfo(as("sup-1"), app.ID, loan.NoteDTO{Notes: "which site?"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusPendingInfo))

			details, err := orch.Details(context.Background(), app.ID)
			Expect(err).NotTo(HaveOccurred())
			states := map[sla.Kind]sla.State{}
			for _, t := range details.Timers {
				states[t.Kind] = t.State
			}
			Expect(states[sla.KindResolution]).To(Equal(sla.StatePaused))

			clock.Advance(2 * time.Hour)
			res, err = orch.ProvideInfo(as("emp-1"), app.ID, loan.NoteDTO{Notes: "north yard"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusUnderReview))
		})
	})

	Describe("access to someone else's application", func() {
		It("refuses a stranger on the applicant commands", func() {
			res, err := orch.Create(as("emp-1"), createDTO("1500", false))
			Expect(err).NotTo(HaveOccurred())
			Expect(*res.Application.ApplicantUserID).To(Equal("emp-1"))

			_, err = orch.Submit(as("fin-1"), res.Application.ID)
			Expect(codeOf(err)).To(Equal(internal.ErrCodeForbidden))
			_, err = orch.Submit(as("ghost"), res.Application.ID)
			Expect(codeOf(err)).To(Equal(internal.ErrCodeForbidden))

			out, err := orch.Submit(as("emp-1"), res.Application.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Application.Status).To(Equal(loan.StatusUnderReview))

			_, err = orch.RequestInfo(as("sup-1"), res.Application.ID, loan.NoteDTO{Notes: "which site?"})
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.ProvideInfo(as("emp-2"), res.Application.ID, loan.NoteDTO{Notes: "north yard"})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeForbidden))
		})

		It("refuses a stranger extending an issued loan", func() {
			app := issued()
			newEnd, err := loan.ParseDate("2025-06-30")
			Expect(err).NotTo(HaveOccurred())

			_, err = orch.Extend(as("fin-1"), app.ID, loan.ExtendDTO{NewEndDate: newEnd, Justification: "mine now"})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeForbidden))

			got, err := orch.Get(context.Background(), app.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.EndDate.Equal(app.EndDate)).To(BeTrue())
		})

		It("hides the application from strangers but not from its approvers", func() {
			app := submitted("1500")

			_, err := orch.Get(as("emp-2"), app.ID)
			Expect(codeOf(err)).To(Equal(internal.ErrCodeForbidden))
			_, err = orch.Details(as("emp-2"), app.ID)
			Expect(codeOf(err)).To(Equal(internal.ErrCodeForbidden))
			_, err = orch.GetByNumber(as("fin-1"), app.Number)
			Expect(codeOf(err)).To(Equal(internal.ErrCodeForbidden))

			_, err = orch.Get(as("emp-1"), app.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.Details(as("sup-1"), app.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.GetByNumber(as("mgr-1"), app.Number)
			Expect(err).NotTo(HaveOccurred())
		})

		It("lists only the caller's own applications unless they manage assets", func() {
			submitted("1500")

			others, err := orch.List(as("emp-2"), loan.ListQuery{})
			Expect(err).NotTo(HaveOccurred())
			Expect(others).To(BeEmpty())

			own, err := orch.List(as("emp-1"), loan.ListQuery{})
			Expect(err).NotTo(HaveOccurred())
			Expect(own).To(HaveLen(1))

			all, err := orch.List(as("mgr-1"), loan.ListQuery{})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})
	})

	Describe("commands out of order", func() {
		It("refuses issuing an application under review", func() {
			app := submitted("1500")
			_, err := orch.Issue(as("sup-1"), app.ID, loan.IssueDTO{})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeInvalidTransition))
		})

		It("reports a missing application", func() {
			_, err := orch.Submit(as("emp-1"), "missing")
			Expect(codeOf(err)).To(Equal(internal.ErrCodeApplicationNotFound))
		})
	})

	Describe("loan lifecycle", func() {
		It("issues into use with a return timer", func() {
			app := issued()
			Expect(app.Status).To(Equal(loan.StatusInUse))
			Expect(app.IssuedAt).NotTo(BeNil())

			details, err := orch.Details(context.Background(), app.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(details.Transactions).To(HaveLen(1))
			Expect(details.Transactions[0].Type).To(Equal(loan.TransactionIssue))
		})

		It("walks in use to return due to overdue on the clock", func() {
			app := issued()

			clock.Set(time.Date(2025, time.April, 9, 1, 0, 0, 0, time.UTC))
			Expect(orch.Evaluate(context.Background(), app.ID)).To(Succeed())
			got, err := orch.Get(context.Background(), app.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(loan.StatusReturnDue))

			clock.Set(time.Date(2025, time.April, 10, 0, 0, 0, 0, time.UTC))
			Expect(orch.Evaluate(context.Background(), app.ID)).To(Succeed())
			got, err = orch.Get(context.Background(), app.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(loan.StatusOverdue))
		})

		It("extends a loan back into use", func() {
			app := issued()
			clock.Set(time.Date(2025, time.April, 9, 1, 0, 0, 0, time.UTC))
			Expect(orch.Evaluate(context.Background(), app.ID)).To(Succeed())

			newEnd, err := loan.ParseDate("2025-04-14")
			Expect(err).NotTo(HaveOccurred())
			res, err := orch.Extend(as("emp-1"), app.ID, loan.ExtendDTO{NewEndDate: newEnd, Justification: "survey overran"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusInUse))
			Expect(res.Application.EndDate).To(Equal(newEnd.Time))

			_, err = orch.Extend(as("mgr-1"), app.ID, loan.ExtendDTO{NewEndDate: newEnd, Justification: "again"})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeGuardFailed))
		})

		It("refuses an issue that names an asset twice", func() {
			availability.EXPECT().Unavailable(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
			app := submitted("1500")
			_, err := orch.Approve(as("sup-1"), app.ID, loan.ApproveDTO{Level: 1})
			Expect(err).NotTo(HaveOccurred())

			_, err = orch.Issue(as("sup-1"), app.ID, loan.IssueDTO{Items: []loan.IssueItemDTO{
				{AssetID: "CAM-1", Condition: "good"},
				{AssetID: "CAM-1", Condition: "poor"},
			}})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeValidationFailed))
		})

		It("requires a condition for every item on return", func() {
			app := issued()
			_, err := orch.Return(as("sup-1"), app.ID, loan.ReturnDTO{
				Items: []loan.ReturnItemDTO{{AssetID: "OTHER", Condition: "good"}},
			})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeGuardFailed))
		})

		It("passes through returning when a return is recorded on a loan in use", func() {
			app := issued()
			res, err := orch.Return(as("sup-1"), app.ID, loan.ReturnDTO{
				Items: []loan.ReturnItemDTO{{AssetID: "CAM-1", Condition: "good"}},
			})
			Expect(err).NotTo(HaveOccurred())

			var path []string
			for _, e := range res.Events {
				if e.Type != events.EventTypeStatusChanged {
					continue
				}
				var payload events.StatusChanged
				Expect(events.DecodePayload(e, &payload)).To(Succeed())
				path = append(path, payload.From+">"+payload.To)
			}
			Expect(path).To(Equal([]string{"in_use>returning", "returning>returned"}))
		})

		It("completes a clean return", func() {
			app := issued()
			res, err := orch.Return(as("sup-1"), app.ID, loan.ReturnDTO{
				Items: []loan.ReturnItemDTO{{AssetID: "CAM-1", Condition: "good"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusReturned))
			Expect(res.Application.MaintenanceRequired).To(BeFalse())

			res, err = orch.Complete(as("sup-1"), app.ID, loan.NoteDTO{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusCompleted))

			res, err = orch.Anonymize(as("sup-1"), app.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.ApplicantEmail).To(Equal("anonymized"))
		})

		It("links damage and waits for the helpdesk ticket before completion", func() {
			app := issued()
			res, err := orch.Return(as("sup-1"), app.ID, loan.ReturnDTO{
				Items: []loan.ReturnItemDTO{{AssetID: "CAM-1", Condition: "damaged", DamageReport: "cracked lens"}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.MaintenanceRequired).To(BeTrue())
			Expect(res.EventTypes()).To(ContainElement(events.EventTypeDamageLinked))

			_, err = orch.ConfirmDamage(as("sup-1"), app.ID, loan.NoteDTO{Notes: "lens"})
			Expect(err).NotTo(HaveOccurred())

			_, err = orch.Complete(as("sup-1"), app.ID, loan.NoteDTO{})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeGuardFailed))

			details, err := orch.Details(context.Background(), app.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(details.Links).To(HaveLen(1))
			link := details.Links[0]
			Expect(link.Type).To(Equal(linkage.LinkAssetDamageReport))

			rec, err := orch.RecordHelpdeskTicket(context.Background(), link.ID, "HD-77")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Application.RelatedTicketIDs).To(ContainElement("HD-77"))

			again, err := orch.RecordHelpdeskTicket(context.Background(), link.ID, "HD-77")
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Events).To(BeEmpty())

			_, err = orch.RecordHelpdeskTicket(context.Background(), link.ID, "HD-78")
			Expect(codeOf(err)).To(Equal(internal.ErrCodeTicketAlreadyRecorded))

			res, err = orch.Complete(as("sup-1"), app.ID, loan.NoteDTO{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusCompleted))
		})

		It("recalls an active loan", func() {
			app := issued()
			res, err := orch.Recall(as("sup-1"), app.ID, loan.RecallDTO{Reason: "audit"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.Status).To(Equal(loan.StatusReturning))
		})
	})

	Describe("Evaluate", func() {
		It("emits at risk and breached once each", func() {
			app := submitted("1500")

			clock.Advance(5 * time.Hour)
			Expect(orch.Evaluate(context.Background(), app.ID)).To(Succeed())
			Expect(orch.Evaluate(context.Background(), app.ID)).To(Succeed())

			var count int64
			Expect(db.Model(&outboxDatamodel.Message{}).
				Where("aggregate_id = ? AND event_type = ?", app.ID, events.EventTypeSlaBreached).
				Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(1)))
			Expect(db.Model(&outboxDatamodel.Message{}).
				Where("aggregate_id = ? AND event_type = ?", app.ID, events.EventTypeSlaAtRisk).
				Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(1)))
		})

		It("clears an expired approval token", func() {
			app := submitted("1500")
			clock.Advance(73 * time.Hour)
			Expect(orch.Evaluate(context.Background(), app.ID)).To(Succeed())

			got, err := orch.Get(context.Background(), app.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.HasApprovalToken()).To(BeFalse())
		})
	})

	Describe("Claim", func() {
		It("binds the application to the matching directory user", func() {
			res, err := orch.Create(context.Background(), createDTO("1500", false))
			Expect(err).NotTo(HaveOccurred())

			_, err = orch.Claim(as("sup-1"), res.Application.ID)
			Expect(codeOf(err)).To(Equal(internal.ErrCodeGuardFailed))

			out, err := orch.Claim(as("emp-1"), res.Application.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(*out.Application.ApplicantUserID).To(Equal("emp-1"))

			mine, err := orch.List(as("emp-1"), loan.ListQuery{Mine: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(mine).To(HaveLen(1))
		})
	})

	Describe("LinkTicket", func() {
		It("refuses damage links by hand", func() {
			app := submitted("1500")
			_, err := orch.LinkTicket(as("sup-1"), app.ID, loan.LinkTicketDTO{TicketID: "HD-1", LinkType: string(linkage.LinkAssetDamageReport)})
			Expect(codeOf(err)).To(Equal(internal.ErrCodeValidationFailed))

			res, err := orch.LinkTicket(as("sup-1"), app.ID, loan.LinkTicketDTO{TicketID: "HD-1", LinkType: string(linkage.LinkAssetTicket)})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Application.RelatedTicketIDs).To(ConsistOf("HD-1"))
		})
	})
})
