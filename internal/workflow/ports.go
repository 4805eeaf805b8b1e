package workflow

import (
	"context"
	"time"

	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
	"github.com/frahmantamala/asset-loan/internal/auth"
	"github.com/frahmantamala/asset-loan/internal/core/events"
	"github.com/frahmantamala/asset-loan/internal/linkage"
	"github.com/frahmantamala/asset-loan/internal/loan"
	"github.com/frahmantamala/asset-loan/internal/sla"
)

//go:generate mockgen -source=ports.go -destination=mocks/ports_mock.go -package=mocks

// Directory resolves what the user directory knows about an identity.
type Directory interface {
	Lookup(ctx context.Context, userID string) (approvalmatrix.Approver, error)
	Candidates(ctx context.Context, spec approvalmatrix.ApproverSpec) ([]string, error)
}

// AvailabilityChecker reports the assets that are not free for a date range.
// Loans of excludeApplicationID are ignored.
type AvailabilityChecker interface {
	Unavailable(ctx context.Context, assetIDs []string, start, end time.Time, excludeApplicationID string) ([]string, error)
}

// ApprovalTokens signs and checks out-of-band approval links.
type ApprovalTokens interface {
	Issue(applicationID string, level int, now time.Time) (auth.IssuedToken, error)
	Parse(token string, now time.Time) (*auth.ApprovalClaims, error)
	Matches(claims *auth.ApprovalClaims, hash string) bool
}

// Locker serialises commands per application. The returned func releases
// the lock and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// OutboxStore holds events until the relay hands them to subscribers.
type OutboxStore interface {
	Append(ctx context.Context, evts []events.Event) error
	Pending(ctx context.Context, limit, maxAttempts int) ([]OutboxMessage, error)
	MarkDispatched(ctx context.Context, sequence int64, at time.Time) error
	MarkFailed(ctx context.Context, sequence int64, cause error) error
}

// Repos are the stores bound to one transaction.
type Repos struct {
	Loans  loan.Repository
	Timers sla.Store
	Links  linkage.Repository
	Outbox OutboxStore
}

type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
	// Repos returns stores outside any transaction for reads.
	Repos() Repos
}
