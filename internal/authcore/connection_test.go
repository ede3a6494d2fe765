package authcore

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/authd/internal/passdb"
)

// fakeDispatcher is an in-memory Dispatcher for tests, avoiding any
// dependency on a real passdb backend or worker pool.
type fakeDispatcher struct {
	users map[string]string // user -> stored password (cleartext, for test simplicity)
	delay time.Duration
	fail  bool // forces ResultInternalError
}

func (f *fakeDispatcher) VerifyPlain(ctx context.Context, req passdb.Request, password string) (passdb.Result, string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return passdb.ResultInternalError, "", errBackend
	}
	stored, ok := f.users[req.User]
	if !ok {
		return passdb.ResultUserUnknown, "", nil
	}
	if stored != password {
		return passdb.ResultPasswordMismatch, "", nil
	}
	return passdb.ResultOK, req.User, nil
}

func (f *fakeDispatcher) LookupCredentials(ctx context.Context, req passdb.Request, kind string) (passdb.Result, string, error) {
	stored, ok := f.users[req.User]
	if !ok {
		return passdb.ResultUserUnknown, "", nil
	}
	return passdb.ResultOK, stored, nil
}

var errBackend = &testError{"backend unreachable"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func drain(t *testing.T, c *Connection, n int) []string {
	t.Helper()
	var lines []string
	for i := 0; i < n; i++ {
		select {
		case line := <-c.Output():
			lines = append(lines, line)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for output line %d/%d, got %v", i+1, n, lines)
		}
	}
	return lines
}

func plainInitialResponse(identity, user, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(identity + "\x00" + user + "\x00" + password))
}

func TestGreetingAdvertisesMechAndVersion(t *testing.T) {
	disp := &fakeDispatcher{users: map[string]string{}}
	failq := NewFailureDelayQueue(2 * time.Second)
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, failq, 30*time.Second, nil)

	first := <-c.Output()
	if first != "VERSION\t1\t0" {
		t.Fatalf("got %q", first)
	}
	sawPlain := false
	for i := 0; i < 10; i++ {
		select {
		case line := <-c.Output():
			if strings.HasPrefix(line, "MECH\tPLAIN\t") {
				sawPlain = true
			}
		case <-time.After(time.Second):
			i = 10
		}
	}
	if !sawPlain {
		t.Fatal("expected MECH\\tPLAIN advertisement")
	}
}

func TestPlainSuccessScenario(t *testing.T) {
	disp := &fakeDispatcher{users: map[string]string{"foo": "bar"}}
	failq := NewFailureDelayQueue(2 * time.Second)
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, failq, 30*time.Second, nil)
	drainGreeting(c)

	if err := c.HandleLine(context.Background(), "VERSION\t1\t0"); err != nil {
		t.Fatal(err)
	}

	resp := plainInitialResponse("", "foo", "bar")
	if err := c.HandleLine(context.Background(), "AUTH\t1\tPLAIN\timap\tresp="+resp); err != nil {
		t.Fatal(err)
	}

	got := drain(t, c, 1)[0]
	if got != "OK\t1\tuser=foo" {
		t.Fatalf("got %q", got)
	}
}

func TestPlainMismatchScenario(t *testing.T) {
	disp := &fakeDispatcher{users: map[string]string{"foo": "baz"}}
	failq := NewFailureDelayQueue(2 * time.Second)
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, failq, 30*time.Second, nil)
	drainGreeting(c)
	mustReady(t, c)

	resp := plainInitialResponse("", "foo", "bar")
	start := time.Now()
	if err := c.HandleLine(context.Background(), "AUTH\t1\tPLAIN\timap\tresp="+resp); err != nil {
		t.Fatal(err)
	}

	got := drain(t, c, 1)[0]
	elapsed := time.Since(start)
	if elapsed < 2*time.Second {
		t.Fatalf("FAIL arrived after only %v, want >= 2s", elapsed)
	}
	if !strings.HasPrefix(got, "FAIL\t1\tuser=foo\treason=") {
		t.Fatalf("got %q", got)
	}
}

func TestCramMD5Scenario(t *testing.T) {
	disp := &fakeDispatcher{users: map[string]string{"u": "tanstaaftanstaaf"}}
	failq := NewFailureDelayQueue(2 * time.Second)
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, failq, 30*time.Second, nil)
	drainGreeting(c)
	mustReady(t, c)

	if err := c.HandleLine(context.Background(), "AUTH\t2\tCRAM-MD5\timap"); err != nil {
		t.Fatal(err)
	}
	contLine := drain(t, c, 1)[0]
	if !strings.HasPrefix(contLine, "CONT\t2\t") {
		t.Fatalf("got %q", contLine)
	}
}

func TestCancelProducesNoReply(t *testing.T) {
	disp := &fakeDispatcher{users: map[string]string{"foo": "bar"}}
	failq := NewFailureDelayQueue(2 * time.Second)
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, failq, 30*time.Second, nil)
	drainGreeting(c)
	mustReady(t, c)

	resp := plainInitialResponse("", "foo", "bar")
	if err := c.HandleLine(context.Background(), "AUTH\t3\tPLAIN\timap\tresp="+resp); err != nil {
		t.Fatal(err)
	}
	// PLAIN completes in one round trip, so drain its OK before cancelling
	// an already-finished id is a no-op; verify cancel on a still-pending
	// multi-step mechanism instead.
	drain(t, c, 1)

	if err := c.HandleLine(context.Background(), "AUTH\t4\tCRAM-MD5\timap"); err != nil {
		t.Fatal(err)
	}
	drain(t, c, 1) // CONT challenge

	if err := c.HandleLine(context.Background(), "CANCEL\t4"); err != nil {
		t.Fatal(err)
	}

	select {
	case line := <-c.Output():
		t.Fatalf("expected no reply after CANCEL, got %q", line)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWorkerCrashYieldsTempfail(t *testing.T) {
	disp := &fakeDispatcher{fail: true}
	failq := NewFailureDelayQueue(2 * time.Second)
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, failq, 30*time.Second, nil)
	drainGreeting(c)
	mustReady(t, c)

	resp := plainInitialResponse("", "foo", "bar")
	start := time.Now()
	if err := c.HandleLine(context.Background(), "AUTH\t4\tPLAIN\timap\tresp="+resp); err != nil {
		t.Fatal(err)
	}
	got := drain(t, c, 1)[0]
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("TEMPFAIL must not be delayed")
	}
	if got != "FAIL\t4\treason=temp" {
		t.Fatalf("got %q", got)
	}
}

func TestDuplicateRequestIDDisconnects(t *testing.T) {
	disp := &fakeDispatcher{users: map[string]string{"foo": "bar"}}
	failq := NewFailureDelayQueue(2 * time.Second)
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, failq, 30*time.Second, nil)
	drainGreeting(c)
	mustReady(t, c)

	// PLAIN with an initial response completes inline and frees id 5, so
	// keep id 5 active with a multi-step mechanism still awaiting its CONT.
	if err := c.HandleLine(context.Background(), "AUTH\t5\tCRAM-MD5\timap"); err != nil {
		t.Fatal(err)
	}

	if err := c.HandleLine(context.Background(), "AUTH\t5\tLOGIN\timap"); err != ErrDuplicateRequestID {
		t.Fatalf("got err=%v, want ErrDuplicateRequestID", err)
	}
}

func TestUnknownMechanismFails(t *testing.T) {
	disp := &fakeDispatcher{users: map[string]string{}}
	failq := NewFailureDelayQueue(10 * time.Millisecond)
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, failq, 30*time.Second, nil)
	drainGreeting(c)
	mustReady(t, c)

	if err := c.HandleLine(context.Background(), "AUTH\t9\tDIGEST-MD5\timap"); err != nil {
		t.Fatal(err)
	}
	got := drain(t, c, 1)[0]
	if !strings.HasPrefix(got, "FAIL\t9\t") {
		t.Fatalf("got %q", got)
	}
}

func TestVersionMismatchRejected(t *testing.T) {
	disp := &fakeDispatcher{users: map[string]string{}}
	failq := NewFailureDelayQueue(2 * time.Second)
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, failq, 30*time.Second, nil)
	drainGreeting(c)

	if err := c.HandleLine(context.Background(), "VERSION\t2\t0"); err != ErrVersionMismatch {
		t.Fatalf("got %v, want ErrVersionMismatch", err)
	}
}

// drainGreeting drains the VERSION + MECH lines sent on connection
// construction (the exact count varies with the registered mechanism
// set, so this drains generously and then proceeds).
func drainGreeting(c *Connection) {
	for {
		select {
		case <-c.Output():
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func mustReady(t *testing.T, c *Connection) {
	t.Helper()
	if err := c.HandleLine(context.Background(), "VERSION\t1\t0"); err != nil {
		t.Fatal(err)
	}
}
