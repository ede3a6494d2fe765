// Package master implements the master-protocol connection (spec.md
// §4.6): a line-oriented USER-lookup channel served only on MASTER-kind
// listeners, sharing the same VERSION handshake and major-version check
// as the client protocol but with no SASL state at all, grounded on
// original_source/src/auth/auth-request.c's userdb lookup path and
// internal/authcore.Connection's state machine shape.
package master

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/infodancer/authd/internal/passdb"
)

// ConnState mirrors authcore.ConnState without the SASL-specific READY
// substates; master connections go straight from the handshake to ready.
type ConnState int

const (
	StateAwaitingVersion ConnState = iota
	StateReady
	StateClosing
)

const protocolMajor = 1
const protocolMinor = 0

// Dispatcher resolves userdb attributes for a user, independent of
// internal/worker so this package never imports it (spec.md §3 "Master
// connection": "responses include uid/gid/home/other userdb fields").
// Implementations reuse passdb.Passdb.LookupCredentials with kind="USER",
// treating the returned credential string as a ";"-joined "k=v" attribute
// blob rather than a scheme-tagged password — the same narrow-projection
// trick internal/authcore.Dispatcher uses to avoid a second backend
// abstraction for what is, at the wire level, just another named lookup.
type Dispatcher interface {
	LookupCredentials(ctx context.Context, req passdb.Request, kind string) (passdb.Result, string, error)
}

// userLookupKind is the kind string passed to Dispatcher.LookupCredentials
// for a master-protocol USER request.
const userLookupKind = "USER"

// Connection is one accepted master-protocol stream (spec.md §4.6).
type Connection struct {
	RemoteIP string
	LocalIP  string

	dispatcher Dispatcher
	logger     *slog.Logger

	out chan string

	mu    sync.Mutex
	state ConnState
}

// NewConnection constructs a Connection and queues its VERSION handshake
// line. Unlike the client protocol, there is no MECH advertisement.
func NewConnection(remoteIP, localIP string, dispatcher Dispatcher, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		RemoteIP:   remoteIP,
		LocalIP:    localIP,
		dispatcher: dispatcher,
		logger:     logger,
		out:        make(chan string, 4),
		state:      StateAwaitingVersion,
	}
	c.out <- fmt.Sprintf("VERSION\t%d\t%d", protocolMajor, protocolMinor)
	return c
}

// Output returns the channel of lines to write back to the peer.
func (c *Connection) Output() <-chan string { return c.out }

// HandleLine feeds one input line through the master connection's state
// machine (spec.md §4.6, §4.7).
func (c *Connection) HandleLine(ctx context.Context, line string) error {
	fields := strings.Split(line, "\t")
	if len(fields) == 0 || fields[0] == "" {
		return errMalformedLine
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateAwaitingVersion:
		return c.handleVersion(fields)
	case StateReady:
		return c.handleUser(ctx, fields)
	default:
		return errNotReady
	}
}

func (c *Connection) handleVersion(fields []string) error {
	if fields[0] == "USER" {
		return errNotReady
	}
	if fields[0] != "VERSION" || len(fields) < 3 {
		return errMalformedLine
	}
	major, err := strconv.Atoi(fields[1])
	if err != nil {
		return errMalformedLine
	}
	if major != protocolMajor {
		return errVersionMismatch
	}
	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()
	return nil
}

// handleUser parses `USER\t<id>\t<user>\t<service>[\tk=v...]` and replies
// with `USER\t<id>\t<user>[\tk=v...]`, `NOTFOUND\t<id>`, or `FAIL\t<id>`
// (spec.md §4.6). The user field echoes the requested name as given;
// Dispatcher.LookupCredentials returns no canonical form of it.
func (c *Connection) handleUser(ctx context.Context, fields []string) error {
	if fields[0] != "USER" {
		return errMalformedLine
	}
	if len(fields) < 4 {
		return errMalformedLine
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return errMalformedLine
	}
	user := fields[2]
	service := fields[3]

	req := passdb.Request{
		User:     user,
		Service:  service,
		RemoteIP: c.RemoteIP,
		LocalIP:  c.LocalIP,
	}

	res, blob, err := c.dispatcher.LookupCredentials(ctx, req, userLookupKind)
	if err != nil {
		c.logger.Error("userdb backend failure", "request_id", id, "error", err)
		c.out <- fmt.Sprintf("FAIL\t%d", id)
		return nil
	}

	switch res {
	case passdb.ResultOK:
		reply := fmt.Sprintf("USER\t%d\t%s", id, user)
		for k, v := range parseAttributes(blob) {
			reply += fmt.Sprintf("\t%s=%s", k, v)
		}
		c.out <- reply
	case passdb.ResultUserUnknown:
		c.out <- fmt.Sprintf("NOTFOUND\t%d", id)
	default:
		c.out <- fmt.Sprintf("FAIL\t%d", id)
	}
	return nil
}

// parseAttributes splits a ";"-joined "k=v" userdb attribute blob, as
// returned by a passdb backend's LookupCredentials for kind="USER".
func parseAttributes(blob string) map[string]string {
	attrs := make(map[string]string)
	if blob == "" {
		return attrs
	}
	for _, pair := range strings.Split(blob, ";") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		attrs[k] = v
	}
	return attrs
}

// Close transitions the connection to CLOSING and closes its output
// channel (spec.md §4.7).
func (c *Connection) Close() {
	c.mu.Lock()
	c.state = StateClosing
	c.mu.Unlock()
	close(c.out)
}
