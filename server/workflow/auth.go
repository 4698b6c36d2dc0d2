package workflow

import (
	"context"
	"fmt"

	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
)

// Authorizer decides whether principal may perform op on an entity owned by owner.
type Authorizer interface {
	Authorize(ctx context.Context, principal string, op string, owner string) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, principal string, op string, owner string) error

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, principal string, op string, owner string) error {
	return f(ctx, principal, op, owner)
}

// OwnerOnly admits the owner of an entity and nobody else.
var OwnerOnly = AuthorizerFunc(func(_ context.Context, principal string, op string, owner string) error {
	if principal == "" || principal != owner {
		return fmt.Errorf("%s by %q on entity owned by %q: %w", op, principal, owner, errors.ErrPermissionDenied)
	}
	return nil
})

// AllowAll admits everybody.
var AllowAll = AuthorizerFunc(func(context.Context, string, string, string) error { return nil })
