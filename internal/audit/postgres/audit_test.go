package postgres

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/asset-loan/internal/audit"
	auditDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/audit"
	"github.com/frahmantamala/asset-loan/internal/core/events"
)

func TestAuditRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Audit Repository Suite")
}

var _ = Describe("AuditRepository", func() {
	var (
		db     *gorm.DB
		repo   *AuditRepository
		writer *audit.Writer
		ctx    context.Context
		at     time.Time
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(&auditDatamodel.Entry{})).To(Succeed())

		repo = NewAuditRepository(db)
		writer = audit.NewWriter(repo, nil)
		ctx = context.Background()
		at = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.Close()
	})

	It("stores each event once even when delivered twice", func() {
		event, err := events.NewLoanEvent(events.EventTypeApplicationApproved, "app-1", events.ApplicationApproved{
			ApplicationID: "app-1",
			ApprovedBy:    "mgr-1",
			ApprovedAt:    at,
		}, at)
		Expect(err).NotTo(HaveOccurred())

		Expect(writer.HandleEvent(ctx, event)).To(Succeed())
		Expect(writer.HandleEvent(ctx, event)).To(Succeed())

		trail, err := writer.Trail(ctx, "app-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(trail).To(HaveLen(1))
		Expect(trail[0].EventType).To(Equal(events.EventTypeApplicationApproved))
		Expect(trail[0].ActorID).To(Equal("mgr-1"))
	})

	It("never persists approval tokens", func() {
		event, err := events.NewLoanEvent(events.EventTypeApprovalRequired, "app-2", events.ApprovalRequired{
			ApplicationID: "app-2",
			Level:         1,
			ApproverSpec:  "role:supervisor",
			ApprovalToken: "secret-token",
		}, at)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.HandleEvent(ctx, event)).To(Succeed())

		trail, err := repo.ListByAggregate(ctx, "app-2")
		Expect(err).NotTo(HaveOccurred())
		Expect(trail).To(HaveLen(1))
		Expect(trail[0].Details).NotTo(HaveKey("approval_token"))
		Expect(trail[0].Details).To(HaveKeyWithValue("approver_spec", "role:supervisor"))
	})

	It("returns entries for one application in occurrence order", func() {
		first, _ := events.NewLoanEvent(events.EventTypeStatusChanged, "app-3", events.StatusChanged{
			ApplicationID: "app-3", From: "draft", To: "submitted", ActorID: "emp-1",
		}, at)
		second, _ := events.NewLoanEvent(events.EventTypeStatusChanged, "app-3", events.StatusChanged{
			ApplicationID: "app-3", From: "submitted", To: "pending_approval",
		}, at.Add(time.Minute))
		other, _ := events.NewLoanEvent(events.EventTypeStatusChanged, "app-4", events.StatusChanged{
			ApplicationID: "app-4", From: "draft", To: "submitted",
		}, at)

		Expect(writer.HandleEvent(ctx, second)).To(Succeed())
		Expect(writer.HandleEvent(ctx, other)).To(Succeed())
		Expect(writer.HandleEvent(ctx, first)).To(Succeed())

		trail, err := writer.Trail(ctx, "app-3")
		Expect(err).NotTo(HaveOccurred())
		Expect(trail).To(HaveLen(2))
		Expect(trail[0].Details).To(HaveKeyWithValue("to", "submitted"))
		Expect(trail[1].Details).To(HaveKeyWithValue("to", "pending_approval"))
		Expect(trail[0].ActorID).To(Equal("emp-1"))
	})
})
