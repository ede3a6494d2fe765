package runtime

import (
	"github.com/infodancer/authd/internal/passdb"
	_ "github.com/infodancer/authd/internal/passdb/passwdfile" // registers "passwdfile"
)

// Importing this package (directly, or transitively via cmd/authd's
// daemon and worker entry points both importing it) is what makes every
// shipped passdb backend available to passdb.New: each backend package
// is blank-imported here purely for its init() side effect of calling
// passdb.Register, the same convention github.com/infodancer/auth/passwd
// uses for its own pluggable credential backends. Adding a new backend
// means adding its blank import here, not a new map entry.

// splitByBlocking partitions a chain into the subset safe to call inline
// on the event-loop goroutine and the subset that must be routed to the
// worker pool (spec.md §4.5: "a non-blocking passdb is called inline, a
// blocking one is routed to the worker pool").
func splitByBlocking(chain passdb.Chain) (inline, blocking passdb.Chain) {
	for _, db := range chain {
		if db.Blocking() {
			blocking = append(blocking, db)
		} else {
			inline = append(inline, db)
		}
	}
	return inline, blocking
}
