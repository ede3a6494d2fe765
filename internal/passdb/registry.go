package passdb

// registry holds a backend factory per name, populated by each backend
// package's init() function (see internal/passdb/passwdfile). This
// blank-import self-registration convention is grounded on
// github.com/infodancer/auth/passwd, the teacher's own pluggable
// credential-backend package: cmd/pop3d/main.go imports it purely for
// side effect (`_ "github.com/infodancer/auth/passwd" // Register passwd
// backend`), then resolves a concrete backend later from a
// config-supplied type string via auth.OpenAuthAgent(agentConfig). A
// passdb backend here registers itself the same way instead of being
// looked up from a hand-maintained map of names to instances.
var registry = map[string]func() Passdb{}

// Register adds factory under name. Call from a backend package's
// init(), mirroring internal/scheme.Register and internal/mech.Register.
func Register(name string, factory func() Passdb) {
	registry[name] = factory
}

// New constructs a fresh instance of the backend registered under name,
// or reports ok=false if no backend with that name has registered
// itself (e.g. its package was never blank-imported).
func New(name string) (db Passdb, ok bool) {
	factory, ok := registry[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}
