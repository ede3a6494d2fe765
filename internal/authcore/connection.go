// Package authcore implements the request-handler core (spec.md §4.4):
// per-client-connection request arena, SASL mechanism dispatch, the
// client-protocol line grammar, and the connection lifecycle state
// machine (spec.md §4.7).
package authcore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/infodancer/authd/internal/mech"
	"github.com/infodancer/authd/internal/passdb"
)

// ConnState is a client connection's lifecycle state (spec.md §4.7).
type ConnState int

const (
	// StateAwaitingHandshake is the state immediately after accept, before
	// the server's own VERSION/MECH lines have been sent.
	StateAwaitingHandshake ConnState = iota
	// StateAwaitingVersion is entered once the server's handshake lines
	// are queued; the connection awaits the client's VERSION line.
	StateAwaitingVersion
	// StateReady is entered once a compatible VERSION line is received;
	// AUTH/CONT/CANCEL requests are accepted.
	StateReady
	// StateClosing is entered on protocol error or EOF; outstanding
	// requests are cancelled and the socket closed.
	StateClosing
)

// protocolMajor is the client/master protocol's major version; a client
// VERSION line naming a different major version is rejected (spec.md
// §4.6: "a mismatch in major version terminates the connection").
const protocolMajor = 1
const protocolMinor = 0

// Connection is one accepted client-protocol stream (spec.md §3 "Client
// connection"): an input line buffer (owned by the caller, which feeds
// lines via HandleLine), a request arena keyed by request id, the
// negotiated protocol version, and the connection lifecycle state.
type Connection struct {
	RemoteIP string
	LocalIP  string

	dispatcher     Dispatcher
	failq          *FailureDelayQueue
	requestTimeout time.Duration
	logger         *slog.Logger

	out chan string

	mu         sync.Mutex
	state      ConnState
	requests   map[uint32]*Request
	failTokens map[uint32]Token // requests past failNow, awaiting their delayed FAIL
}

// NewConnection constructs a Connection and queues its server-side
// handshake lines (VERSION followed by one MECH line per registered
// mechanism, spec.md §6) onto its Output channel.
func NewConnection(remoteIP, localIP string, dispatcher Dispatcher, failq *FailureDelayQueue, requestTimeout time.Duration, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		RemoteIP:       remoteIP,
		LocalIP:        localIP,
		dispatcher:     dispatcher,
		failq:          failq,
		requestTimeout: requestTimeout,
		logger:         logger,
		out:            make(chan string, 16),
		state:          StateAwaitingHandshake,
		requests:       make(map[uint32]*Request),
		failTokens:     make(map[uint32]Token),
	}
	c.sendGreeting()
	return c
}

// Output returns the channel of lines to write back to the client, in
// emission order. The caller (internal/listener) drains it until Close.
func (c *Connection) Output() <-chan string { return c.out }

func (c *Connection) sendGreeting() {
	c.mu.Lock()
	c.state = StateAwaitingVersion
	c.mu.Unlock()

	c.out <- fmt.Sprintf("VERSION\t%d\t%d", protocolMajor, protocolMinor)
	for _, m := range mech.Advertised() {
		c.out <- fmt.Sprintf("MECH\t%s\t%s", m.Name(), m.Flags().String())
	}
}

// HandleLine feeds one input line through the connection's state machine.
// A non-nil error is always a protocol error (spec.md §7): the caller
// must disconnect without emitting any further reply for the line that
// caused it.
func (c *Connection) HandleLine(ctx context.Context, line string) error {
	fields := strings.Split(line, "\t")
	if len(fields) == 0 || fields[0] == "" {
		return ErrMalformedLine
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateAwaitingVersion:
		return c.handleVersion(fields)
	case StateReady:
		return c.handleReady(ctx, fields)
	default:
		return ErrNotReady
	}
}

func (c *Connection) handleVersion(fields []string) error {
	if fields[0] != "VERSION" || len(fields) < 3 {
		return ErrMalformedLine
	}
	major, err := strconv.Atoi(fields[1])
	if err != nil {
		return ErrMalformedLine
	}
	if major != protocolMajor {
		return ErrVersionMismatch
	}
	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()
	return nil
}

func (c *Connection) handleReady(ctx context.Context, fields []string) error {
	switch fields[0] {
	case "AUTH":
		return c.handleAuth(ctx, fields)
	case "CONT":
		return c.handleCont(ctx, fields)
	case "CANCEL":
		return c.handleCancel(fields)
	default:
		return ErrMalformedLine
	}
}

// handleAuth parses `AUTH\t<id>\t<mech>\t<service>[\tk=v ...]` (spec.md
// §4.4), creates the request and its mechanism state, and drives the first
// Continue step inline: with the decoded `resp=<base64>` initial response
// if one was supplied, otherwise with empty input.
func (c *Connection) handleAuth(ctx context.Context, fields []string) error {
	if len(fields) < 4 {
		return ErrMalformedLine
	}
	id, err := parseRequestID(fields[1])
	if err != nil {
		return err
	}
	mechName := strings.ToUpper(fields[2])
	service := fields[3]
	kv := parseKV(fields[4:])

	c.mu.Lock()
	if _, exists := c.requests[id]; exists {
		c.mu.Unlock()
		return ErrDuplicateRequestID
	}
	req := &Request{
		ID:        id,
		Mechanism: mechName,
		Service:   service,
		RemoteIP:  c.RemoteIP,
		LocalIP:   c.LocalIP,
		CreatedAt: time.Now(),
	}
	c.requests[id] = req
	c.mu.Unlock()

	m, ok := mech.Lookup(mechName)
	if !ok {
		c.failNow(req, "")
		return nil
	}

	req.state = m.Create(&requestAuthenticator{dispatcher: c.dispatcher, req: req})

	initial := []byte{}
	if resp, ok := kv["resp"]; ok {
		decoded, err := decodeResponse(resp)
		if err != nil {
			c.removeRequest(id)
			return ErrMalformedLine
		}
		initial = decoded
	}
	c.step(ctx, req, initial)
	return nil
}

func (c *Connection) handleCont(ctx context.Context, fields []string) error {
	if len(fields) < 3 {
		return ErrMalformedLine
	}
	id, err := parseRequestID(fields[1])
	if err != nil {
		return err
	}
	c.mu.Lock()
	req, ok := c.requests[id]
	c.mu.Unlock()
	if !ok {
		return ErrUnknownRequestID
	}
	decoded, err := decodeResponse(fields[2])
	if err != nil {
		c.removeRequest(id)
		return ErrMalformedLine
	}
	c.step(ctx, req, decoded)
	return nil
}

// handleCancel implements spec.md §4.4: "On CANCEL, mechanism state is
// freed and the request is removed with no reply."
func (c *Connection) handleCancel(fields []string) error {
	if len(fields) < 2 {
		return ErrMalformedLine
	}
	id, err := parseRequestID(fields[1])
	if err != nil {
		return err
	}
	c.removeRequest(id)
	return nil
}

// step drives one mechanism Continue call and translates its outcome
// into client-protocol output (spec.md §4.3, §4.4).
func (c *Connection) step(ctx context.Context, req *Request, clientBytes []byte) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if c.requestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	challenge, outcome, err := req.state.Continue(reqCtx, clientBytes)
	switch outcome {
	case mech.OutcomeContinue:
		c.out <- fmt.Sprintf("CONT\t%d\t%s", req.ID, encodeChallenge(challenge))

	case mech.OutcomeSuccess:
		c.removeRequest(req.ID)
		c.out <- fmt.Sprintf("OK\t%d\tuser=%s", req.ID, req.state.Username())

	case mech.OutcomeInternalError:
		c.removeRequest(req.ID)
		c.logger.Error("passdb backend failure", "request_id", req.ID, "error", err)
		c.out <- fmt.Sprintf("FAIL\t%d\treason=temp", req.ID)

	case mech.OutcomeFailure:
		c.failNow(req, req.state.Username())
	}
}

// failNow enqueues a FAIL reply on the shared failure-delay queue
// (spec.md §4.4: "the reply is not emitted immediately... fixed
// configured interval"), removing the request from the live map
// immediately so a racing CANCEL or duplicate AUTH behaves correctly
// while the reply is still pending. The pending token is also tracked in
// failTokens so Close can still cancel it if the connection goes away
// before the delay elapses (spec.md §4.4: "dropped silently").
func (c *Connection) failNow(req *Request, user string) {
	c.mu.Lock()
	delete(c.requests, req.ID)
	id := req.ID
	token := c.failq.Enqueue(func() {
		c.mu.Lock()
		delete(c.failTokens, id)
		c.mu.Unlock()
		if user != "" {
			c.out <- fmt.Sprintf("FAIL\t%d\tuser=%s\treason=", id, user)
		} else {
			c.out <- fmt.Sprintf("FAIL\t%d\treason=", id)
		}
	})
	c.failTokens[id] = token
	c.mu.Unlock()
	req.token = token
}

func (c *Connection) removeRequest(id uint32) {
	c.mu.Lock()
	req, ok := c.requests[id]
	if ok {
		delete(c.requests, id)
	}
	c.mu.Unlock()
	if ok {
		req.token.Cancel()
	}
}

// Close transitions the connection to CLOSING, cancelling every
// outstanding request with no reply, including requests already past
// failNow and merely waiting out the failure delay (spec.md §4.4: "If
// the connection closes before the deadline, the entry is dropped
// silently"; spec.md §4.7).
func (c *Connection) Close() {
	c.mu.Lock()
	c.state = StateClosing
	pending := c.requests
	c.requests = make(map[uint32]*Request)
	failTokens := c.failTokens
	c.failTokens = make(map[uint32]Token)
	c.mu.Unlock()

	for _, req := range pending {
		req.token.Cancel()
	}
	for _, token := range failTokens {
		token.Cancel()
	}
	close(c.out)
}

func parseRequestID(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, ErrMalformedLine
	}
	return uint32(v), nil
}

func parseKV(fields []string) map[string]string {
	kv := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		kv[k] = v
	}
	return kv
}

// requestAuthenticator adapts a Connection's Dispatcher to the narrow
// mech.Authenticator interface for one request, translating passdb
// results to the ok/err convention mechanisms expect.
type requestAuthenticator struct {
	dispatcher Dispatcher
	req        *Request
}

func (a *requestAuthenticator) VerifyPlain(ctx context.Context, user, password string) (bool, string, error) {
	a.req.User = user
	res, canonical, err := a.dispatcher.VerifyPlain(ctx, passdb.Request{
		User:     user,
		Service:  a.req.Service,
		RemoteIP: a.req.RemoteIP,
		LocalIP:  a.req.LocalIP,
	}, password)
	if err != nil {
		return false, "", err
	}
	switch res {
	case passdb.ResultOK:
		return true, canonical, nil
	case passdb.ResultInternalError:
		return false, "", fmt.Errorf("authcore: passdb internal error for user %q", user)
	default:
		return false, "", nil
	}
}

func (a *requestAuthenticator) LookupCredentials(ctx context.Context, user, kind string) (string, bool, error) {
	a.req.User = user
	res, cred, err := a.dispatcher.LookupCredentials(ctx, passdb.Request{
		User:     user,
		Service:  a.req.Service,
		RemoteIP: a.req.RemoteIP,
		LocalIP:  a.req.LocalIP,
	}, kind)
	if err != nil {
		return "", false, err
	}
	switch res {
	case passdb.ResultOK:
		return cred, true, nil
	case passdb.ResultInternalError:
		return "", false, fmt.Errorf("authcore: passdb internal error for user %q", user)
	default:
		return "", false, nil
	}
}
