package postgres

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/asset-loan/internal"
	linkDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/linkage"
	loanDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/loan"
	outboxDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/outbox"
	slaDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/sla"
	"github.com/frahmantamala/asset-loan/internal/core/events"
	"github.com/frahmantamala/asset-loan/internal/loan"
	"github.com/frahmantamala/asset-loan/internal/workflow"
)

func TestWorkflowPersistence(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Workflow Persistence Suite")
}

func openDB() *gorm.DB {
	path := filepath.Join(GinkgoT().TempDir(), "workflow.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
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
	return db
}

func draft(number string, now time.Time) *loan.Application {
	app, err := loan.NewApplication(loan.CreateApplicationDTO{
		ApplicantName:  "Mira Chen",
		ApplicantEmail: "mira@example.com",
		Grade:          40,
		Purpose:        "Site survey",
		StartDate:      loan.NewDate(2025, time.April, 7),
		EndDate:        loan.NewDate(2025, time.April, 9),
		TotalValue:     "1500",
		Items: []loan.CreateItemDTO{
			{AssetID: "CAM-1", Category: "camera", Quantity: 1, UnitValue: "1500", TotalValue: "1500"},
		},
	}, now)
	Expect(err).NotTo(HaveOccurred())
	app.Number = number
	return app
}

func event(eventType, aggregate string, at time.Time) *events.BaseEvent {
	e, err := events.NewLoanEvent(eventType, aggregate, events.StatusChanged{
		ApplicationID: aggregate,
		From:          "draft",
		To:            "submitted",
		ChangedAt:     at,
	}, at)
	Expect(err).NotTo(HaveOccurred())
	return e
}

var _ = Describe("GormUnitOfWork", func() {
	var (
		db  *gorm.DB
		uow *GormUnitOfWork
		ctx context.Context
		now time.Time
	)

	BeforeEach(func() {
		db = openDB()
		uow = NewGormUnitOfWork(db)
		ctx = context.Background()
		now = time.Date(2025, time.April, 1, 10, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.Close()
	})

	It("commits the application and its events together", func() {
		app := draft("LA-202504-0001", now)
		err := uow.WithinTx(ctx, func(ctx context.Context, r workflow.Repos) error {
			if err := r.Loans.Create(ctx, app); err != nil {
				return err
			}
			return r.Outbox.Append(ctx, []events.Event{event(events.EventTypeStatusChanged, app.ID, now)})
		})
		Expect(err).NotTo(HaveOccurred())

		stored, err := uow.Repos().Loans.GetByID(ctx, app.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Number).To(Equal("LA-202504-0001"))

		pending, err := uow.Repos().Outbox.Pending(ctx, 10, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(1))
	})

	It("rolls everything back when the body fails", func() {
		app := draft("LA-202504-0002", now)
		boom := errors.New("boom")
		err := uow.WithinTx(ctx, func(ctx context.Context, r workflow.Repos) error {
			if err := r.Loans.Create(ctx, app); err != nil {
				return err
			}
			if err := r.Outbox.Append(ctx, []events.Event{event(events.EventTypeStatusChanged, app.ID, now)}); err != nil {
				return err
			}
			return boom
		})
		Expect(errors.Is(err, boom)).To(BeTrue())

		_, err = uow.Repos().Loans.GetByID(ctx, app.ID)
		Expect(internal.IsErrorCode(err, internal.ErrCodeApplicationNotFound)).To(BeTrue())

		pending, err := uow.Repos().Outbox.Pending(ctx, 10, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})
})

var _ = Describe("OutboxRepository", func() {
	var (
		db   *gorm.DB
		repo *OutboxRepository
		ctx  context.Context
		now  time.Time
	)

	BeforeEach(func() {
		db = openDB()
		repo = NewOutboxRepository(db)
		ctx = context.Background()
		now = time.Date(2025, time.April, 1, 10, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.Close()
	})

	It("returns pending events in append order with their payload", func() {
		first := event(events.EventTypeStatusChanged, "app-1", now)
		second := event(events.EventTypeApplicationSubmitted, "app-2", now)
		third := event(events.EventTypeStatusChanged, "app-1", now.Add(time.Minute))
		Expect(repo.Append(ctx, []events.Event{first, second})).To(Succeed())
		Expect(repo.Append(ctx, []events.Event{third})).To(Succeed())

		pending, err := repo.Pending(ctx, 10, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(3))
		Expect(pending[0].Event.ID).To(Equal(first.ID))
		Expect(pending[1].Event.ID).To(Equal(second.ID))
		Expect(pending[2].Event.ID).To(Equal(third.ID))
		Expect(pending[0].Sequence).To(BeNumerically("<", pending[2].Sequence))

		var payload events.StatusChanged
		Expect(events.DecodePayload(pending[0].Event, &payload)).To(Succeed())
		Expect(payload.To).To(Equal("submitted"))
	})

	It("hides dispatched events and events out of attempts", func() {
		Expect(repo.Append(ctx, []events.Event{
			event(events.EventTypeStatusChanged, "app-1", now),
			event(events.EventTypeStatusChanged, "app-2", now),
		})).To(Succeed())
		pending, err := repo.Pending(ctx, 10, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(2))

		Expect(repo.MarkDispatched(ctx, pending[0].Sequence, now)).To(Succeed())
		Expect(repo.MarkFailed(ctx, pending[1].Sequence, errors.New("subscriber down"))).To(Succeed())

		again, err := repo.Pending(ctx, 10, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(HaveLen(1))
		Expect(again[0].Attempts).To(Equal(1))

		Expect(repo.MarkFailed(ctx, pending[1].Sequence, errors.New("subscriber down"))).To(Succeed())
		again, err = repo.Pending(ctx, 10, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(BeEmpty())

		var row outboxDatamodel.Message
		Expect(db.Where("sequence = ?", pending[1].Sequence).First(&row).Error).To(Succeed())
		Expect(row.LastError).NotTo(BeNil())
		Expect(*row.LastError).To(Equal("subscriber down"))
	})

	It("looks events up by id and by application", func() {
		e := event(events.EventTypeStatusChanged, "app-9", now)
		Expect(repo.Append(ctx, []events.Event{e})).To(Succeed())

		got, err := repo.Get(ctx, e.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Type).To(Equal(events.EventTypeStatusChanged))
		Expect(got.AggregateID()).To(Equal("app-9"))

		list, err := repo.ListByAggregate(ctx, "app-9")
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(1))

		_, err = repo.Get(ctx, "missing")
		Expect(internal.IsErrorCode(err, internal.ErrCodeEventNotFound)).To(BeTrue())
	})
})
