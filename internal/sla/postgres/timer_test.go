package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	loanDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/loan"
	slaDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/sla"
	"github.com/frahmantamala/asset-loan/internal/sla"
)

func TestTimerRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "SLA Timer Repository Suite")
}

var _ = Describe("TimerRepository", func() {
	var (
		db   *gorm.DB
		sdb  *sqlx.DB
		repo *TimerRepository
		ctx  context.Context
		now  time.Time
	)

	BeforeEach(func() {
		path := filepath.Join(GinkgoT().TempDir(), "sla.db")
		var err error
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(&slaDatamodel.Timer{}, &loanDatamodel.Application{}, &loanDatamodel.Item{})).To(Succeed())

		sdb, err = openSQLX(path)
		Expect(err).NotTo(HaveOccurred())

		repo = NewTimerRepository(db)
		ctx = context.Background()
		now = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.Close()
		sdb.Close()
	})

	It("returns nil for a missing timer", func() {
		t, err := repo.Get(ctx, "nope", sla.KindResponse)
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(BeNil())
	})

	It("upserts by application and kind", func() {
		t := &sla.Timer{
			ApplicationID: "app-1",
			Kind:          sla.KindResponse,
			Mode:          sla.ModeBusinessHours,
			State:         sla.StateRunning,
			StartedAt:     now,
			DueAt:         now.Add(8 * time.Hour),
			WindowMinutes: 480,
			LastLevel:     sla.LevelOK,
		}
		Expect(repo.Save(ctx, t)).To(Succeed())

		t.LastLevel = sla.LevelAtRisk
		Expect(repo.Save(ctx, t)).To(Succeed())

		timers, err := repo.ListByApplication(ctx, "app-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(timers).To(HaveLen(1))
		Expect(timers[0].LastLevel).To(Equal(sla.LevelAtRisk))
		Expect(timers[0].DueAt.Equal(now.Add(8 * time.Hour))).To(BeTrue())
	})

	Describe("SnapshotReader", func() {
		It("lists applications with running timers or expired approval tokens", func() {
			for _, t := range []*sla.Timer{
				{ApplicationID: "running", Kind: sla.KindResponse, Mode: sla.ModeWallClock, State: sla.StateRunning, StartedAt: now, DueAt: now, LastLevel: sla.LevelOK},
				{ApplicationID: "stopped", Kind: sla.KindResponse, Mode: sla.ModeWallClock, State: sla.StateStopped, StartedAt: now, DueAt: now, LastLevel: sla.LevelOK},
			} {
				Expect(repo.Save(ctx, t)).To(Succeed())
			}

			expired := now.Add(-time.Hour)
			fresh := now.Add(time.Hour)
			for _, app := range []loanDatamodel.Application{
				{ID: "token-expired", Number: "LA2025010001", ApplicantName: "a", ApplicantEmail: "a@x", Priority: "normal", Status: "under_review", ApprovalTokenExpiresAt: &expired, StartDate: now, EndDate: now},
				{ID: "token-fresh", Number: "LA2025010002", ApplicantName: "b", ApplicantEmail: "b@x", Priority: "normal", Status: "under_review", ApprovalTokenExpiresAt: &fresh, StartDate: now, EndDate: now},
			} {
				app := app
				Expect(db.Create(&app).Error).To(Succeed())
			}

			ids, err := NewSnapshotReader(sdb).DueApplicationIDs(ctx, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(ConsistOf("running", "token-expired"))
		})
	})
})

func openSQLX(path string) (*sqlx.DB, error) {
	return sqlx.Open("sqlite3", path)
}
