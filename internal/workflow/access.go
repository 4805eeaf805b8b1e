package workflow

import (
	"context"
	"strings"

	"github.com/frahmantamala/asset-loan/internal"
	"github.com/frahmantamala/asset-loan/internal/approvalmatrix"
	"github.com/frahmantamala/asset-loan/internal/directory"
	"github.com/frahmantamala/asset-loan/internal/loan"
)

// managerRoles may act on any application.
var managerRoles = []string{directory.RoleAssetManager, directory.RoleAdmin}

type access int

const (
	// accessOwner is the applicant or a manager.
	accessOwner access = iota
	// accessReader also lets approvers of a required level in.
	accessReader
)

// authorize refuses actors that neither applied for app nor manage assets.
// Commands without an actor come from workers and the CLI and pass.
func (o *Orchestrator) authorize(ctx context.Context, app *loan.Application, mode access) error {
	actor := internal.ActorIDFromContext(ctx)
	if actor == "" {
		return nil
	}
	if app.ApplicantUserID != nil && *app.ApplicantUserID == actor {
		return nil
	}

	user, err := o.directory.Lookup(ctx, actor)
	if err != nil {
		if internal.IsErrorCode(err, internal.ErrCodeUserNotFound) {
			return internal.ErrNotApplicationOwner
		}
		return err
	}
	if isManager(user) {
		return nil
	}
	if mode == accessReader {
		for _, lvl := range app.RequiredLevels {
			if lvl.Spec.IsSatisfiedBy(user) {
				return nil
			}
		}
	}
	return internal.ErrNotApplicationOwner
}

func isManager(a approvalmatrix.Approver) bool {
	if !a.Active {
		return false
	}
	for _, have := range a.Roles {
		for _, want := range managerRoles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}
