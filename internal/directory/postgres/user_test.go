package postgres

import (
	"context"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
	dirDatamodel "github.com/frahmantamala/asset-loan/internal/core/datamodel/directory"
	"github.com/frahmantamala/asset-loan/internal/directory"
)

func TestUserRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Directory Repository Suite")
}

var _ = Describe("Directory backed by UserRepository", func() {
	var (
		db      *gorm.DB
		repo    *UserRepository
		service *directory.Service
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		dsn := filepath.Join(GinkgoT().TempDir(), "directory.db")
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(&dirDatamodel.User{}, &dirDatamodel.Role{}, &dirDatamodel.UserRole{})).To(Succeed())

		repo = NewUserRepository(db)
		service = directory.NewService(repo, nil)
		ctx = context.Background()

		users := []*directory.User{
			{ID: "sup-1", Email: "Sari@Example.com", Name: "Sari", Grade: 5, CanApproveLoans: true, IsActive: true, Roles: []string{"supervisor"}},
			{ID: "sup-2", Email: "budi@example.com", Name: "Budi", Grade: 4, IsActive: false, Roles: []string{"supervisor"}},
			{ID: "fin-1", Email: "fina@example.com", Name: "Fina", Grade: 7, CanApproveLoans: true, IsActive: true, Roles: []string{"finance", "supervisor"}},
			{ID: "emp-1", Email: "mira@example.com", Name: "Mira", Grade: 2, IsActive: true, Roles: []string{"employee"}},
		}
		for _, u := range users {
			Expect(service.Save(ctx, u)).To(Succeed())
		}
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.Close()
	})

	It("loads a user with its roles", func() {
		u, err := service.GetByID(ctx, "fin-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(u.Email).To(Equal("fina@example.com"))
		Expect(u.Roles).To(Equal([]string{"finance", "supervisor"}))
	})

	It("stores emails lower-cased and finds them case-insensitively", func() {
		u, err := service.GetByEmail(ctx, " SARI@example.COM ")
		Expect(err).NotTo(HaveOccurred())
		Expect(u.ID).To(Equal("sup-1"))
		Expect(u.Email).To(Equal("sari@example.com"))
	})

	It("reports unknown users with the user-not-found code", func() {
		_, err := service.Lookup(ctx, "ghost")
		Expect(internal.IsErrorCode(err, internal.ErrCodeUserNotFound)).To(BeTrue())
	})

	It("exposes the approver view used for eligibility", func() {
		a, err := service.Lookup(ctx, "sup-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(a.Active).To(BeTrue())
		Expect(a.Grade).To(Equal(5))
		Expect(a.CanApproveLoans).To(BeTrue())
		Expect(a.Roles).To(ConsistOf("supervisor"))
	})

	Context("Candidates", func() {
		It("lists active holders of a role", func() {
			ids, err := service.Candidates(ctx, approvalmatrix.ApproverSpec{Level: 1, Kind: approvalmatrix.ApproverKindRole, Role: "supervisor"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(Equal([]string{"fin-1", "sup-1"}))
		})

		It("lists approvers at or above a grade", func() {
			ids, err := service.Candidates(ctx, approvalmatrix.ApproverSpec{Level: 1, Kind: approvalmatrix.ApproverKindGrade, MinGrade: 6})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(Equal([]string{"fin-1"}))
		})

		It("returns the named identity only while it is active", func() {
			ids, err := service.Candidates(ctx, approvalmatrix.ApproverSpec{Level: 1, Kind: approvalmatrix.ApproverKindIdentity, UserID: "sup-2"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(BeEmpty())

			ids, err = service.Candidates(ctx, approvalmatrix.ApproverSpec{Level: 1, Kind: approvalmatrix.ApproverKindIdentity, UserID: "nobody"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(BeEmpty())
		})
	})

	It("replaces role grants on save", func() {
		u, err := service.GetByID(ctx, "emp-1")
		Expect(err).NotTo(HaveOccurred())
		u.Roles = []string{"asset_manager"}
		Expect(service.Save(ctx, u)).To(Succeed())

		reloaded, err := service.GetByID(ctx, "emp-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.Roles).To(Equal([]string{"asset_manager"}))
		Expect(reloaded.HasRole("employee")).To(BeFalse())
	})

	It("rejects a user without an email", func() {
		err := service.Save(ctx, &directory.User{ID: "x"})
		Expect(internal.IsErrorCode(err, internal.ErrCodeValidationFailed)).To(BeTrue())
	})
})
