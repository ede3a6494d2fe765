package authcore

import (
	"context"

	"github.com/infodancer/authd/internal/passdb"
)

// Dispatcher resolves a passdb lookup for a request, performing whatever
// inline-vs-worker-pool routing spec.md §4.5 requires (a non-blocking
// passdb is called inline; a blocking one is routed to the worker pool).
// Implemented by internal/runtime, which owns the configured passdb chain
// and worker pool; authcore depends only on this narrow interface to
// avoid importing either.
type Dispatcher interface {
	VerifyPlain(ctx context.Context, req passdb.Request, password string) (passdb.Result, string, error)
	LookupCredentials(ctx context.Context, req passdb.Request, kind string) (passdb.Result, string, error)
}
