package runtime

import (
	"context"

	"github.com/infodancer/authd/internal/passdb"
)

// poolDispatcher is the narrow shape internal/worker.Pool exposes; kept
// local so this package depends only on method shapes, not on
// internal/worker, mirroring internal/authcore.Dispatcher's own
// avoidance of importing internal/worker.
type poolDispatcher interface {
	VerifyPlain(ctx context.Context, req passdb.Request, password string) (passdb.Result, string, error)
	LookupCredentials(ctx context.Context, req passdb.Request, kind string) (passdb.Result, string, error)
}

// dispatcher implements both authcore.Dispatcher and master.Dispatcher. It
// tries the inline (non-blocking) passdb chain first and falls through to
// the worker pool exactly as passdb.Chain falls through between its own
// backends (spec.md §3 "Passdb": "multiple instances may be chained"),
// generalizing that fall-through rule across the inline/worker boundary
// spec.md §4.5 describes.
type dispatcher struct {
	inline passdb.Chain
	pool   poolDispatcher // nil if no blocking backend is configured
}

func newDispatcher(inline passdb.Chain, pool poolDispatcher) *dispatcher {
	return &dispatcher{inline: inline, pool: pool}
}

func (d *dispatcher) VerifyPlain(ctx context.Context, req passdb.Request, password string) (passdb.Result, string, error) {
	if len(d.inline) > 0 {
		res, user, err := d.inline.VerifyPlain(ctx, req, password)
		if err != nil || res == passdb.ResultOK || res == passdb.ResultInternalError {
			return res, user, err
		}
		if d.pool == nil {
			return res, user, err
		}
	}
	if d.pool == nil {
		return passdb.ResultInternalError, "", errNoBackends
	}
	return d.pool.VerifyPlain(ctx, req, password)
}

func (d *dispatcher) LookupCredentials(ctx context.Context, req passdb.Request, kind string) (passdb.Result, string, error) {
	if len(d.inline) > 0 {
		res, cred, err := d.inline.LookupCredentials(ctx, req, kind)
		if err != nil || res == passdb.ResultOK || res == passdb.ResultInternalError {
			return res, cred, err
		}
		if d.pool == nil {
			return res, cred, err
		}
	}
	if d.pool == nil {
		return passdb.ResultInternalError, "", errNoBackends
	}
	return d.pool.LookupCredentials(ctx, req, kind)
}
