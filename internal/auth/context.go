package auth

import (
	"context"

	"github.com/frahmantamala/asset-loan/internal/directory"
)

type ctxKey string

const ContextUserKey ctxKey = "user"

func UserFromContext(ctx context.Context) (*directory.User, bool) {
	u, ok := ctx.Value(ContextUserKey).(*directory.User)
	return u, ok && u != nil
}

func ContextWithUser(ctx context.Context, u *directory.User) context.Context {
	return context.WithValue(ctx, ContextUserKey, u)
}
