package authcore

import (
	"time"

	"github.com/infodancer/authd/internal/mech"
)

// Request is one in-flight authentication attempt (spec.md §3 "Auth
// request"). Its lifetime is bounded by its connection, whose request map
// indexes it by id. A mechanism state reaches the request only through the
// requestAuthenticator adapter it was created with, which holds a pointer
// to it.
type Request struct {
	ID             uint32
	Mechanism      string
	Service        string
	RemoteIP       string
	LocalIP        string
	User           string
	CredentialKind string
	CreatedAt      time.Time

	state mech.State
	token Token // failure-delay token, set only while a FAIL is pending
	done  bool
}
