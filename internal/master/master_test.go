package master

import (
	"context"
	"testing"
	"time"

	"github.com/infodancer/authd/internal/passdb"
)

type fakeDispatcher struct {
	result passdb.Result
	blob   string
	err    error
}

func (f *fakeDispatcher) LookupCredentials(ctx context.Context, req passdb.Request, kind string) (passdb.Result, string, error) {
	return f.result, f.blob, f.err
}

func drain(t *testing.T, c *Connection, n int) []string {
	t.Helper()
	var lines []string
	for i := 0; i < n; i++ {
		select {
		case line := <-c.Output():
			lines = append(lines, line)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for line %d/%d", i+1, n)
		}
	}
	return lines
}

func TestHandshakeThenUserFound(t *testing.T) {
	disp := &fakeDispatcher{result: passdb.ResultOK, blob: "uid=5000;gid=5000;home=/home/alice"}
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, nil)

	greeting := drain(t, c, 1)
	if greeting[0] != "VERSION\t1\t0" {
		t.Fatalf("got %q", greeting[0])
	}

	if err := c.HandleLine(context.Background(), "VERSION\t1\t0"); err != nil {
		t.Fatal(err)
	}
	if err := c.HandleLine(context.Background(), "USER\t1\talice\timap"); err != nil {
		t.Fatal(err)
	}
	reply := drain(t, c, 1)[0]
	if reply[:len("USER\t1\talice")] != "USER\t1\talice" {
		t.Fatalf("got %q", reply)
	}
}

func TestUserNotFound(t *testing.T) {
	disp := &fakeDispatcher{result: passdb.ResultUserUnknown}
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, nil)
	drain(t, c, 1)

	if err := c.HandleLine(context.Background(), "VERSION\t1\t0"); err != nil {
		t.Fatal(err)
	}
	if err := c.HandleLine(context.Background(), "USER\t2\tghost\timap"); err != nil {
		t.Fatal(err)
	}
	if got := drain(t, c, 1)[0]; got != "NOTFOUND\t2" {
		t.Fatalf("got %q", got)
	}
}

func TestVersionMismatchRejected(t *testing.T) {
	disp := &fakeDispatcher{}
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, nil)
	drain(t, c, 1)

	if err := c.HandleLine(context.Background(), "VERSION\t2\t0"); err != errVersionMismatch {
		t.Fatalf("got %v", err)
	}
}

func TestUserBeforeHandshakeRejected(t *testing.T) {
	disp := &fakeDispatcher{}
	c := NewConnection("127.0.0.1", "127.0.0.1", disp, nil)
	drain(t, c, 1)

	if err := c.HandleLine(context.Background(), "USER\t1\talice\timap"); err != errNotReady {
		t.Fatalf("got %v", err)
	}
}
