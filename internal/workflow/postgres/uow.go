package postgres

import (
	"context"

	"gorm.io/gorm"

	linkPostgres "github.com/frahmantamala/asset-loan/internal/linkage/postgres"
	loanPostgres "github.com/frahmantamala/asset-loan/internal/loan/postgres"
	slaPostgres "github.com/frahmantamala/asset-loan/internal/sla/postgres"
	"github.com/frahmantamala/asset-loan/internal/workflow"
)

// GormUnitOfWork binds every store to the same gorm transaction.
type GormUnitOfWork struct {
	db *gorm.DB
}

func NewGormUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{db: db}
}

var _ workflow.UnitOfWork = (*GormUnitOfWork)(nil)

func (u *GormUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, r workflow.Repos) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, reposFor(tx))
	})
}

func (u *GormUnitOfWork) Repos() workflow.Repos {
	return reposFor(u.db)
}

func reposFor(db *gorm.DB) workflow.Repos {
	return workflow.Repos{
		Loans:  loanPostgres.NewLoanRepository(db),
		Timers: slaPostgres.NewTimerRepository(db),
		Links:  linkPostgres.NewLinkRepository(db),
		Outbox: NewOutboxRepository(db),
	}
}
