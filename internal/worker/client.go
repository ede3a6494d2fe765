package worker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrWorkerGone is returned to any request in flight when its worker's
// connection closes before a reply arrives (spec.md §4.5: "If a worker
// socket closes with outstanding requests, each outstanding request
// completes with TEMPFAIL").
var ErrWorkerGone = errors.New("worker: connection closed with request outstanding")

type reply struct {
	result Result
	fields map[string]string
	err    error
}

// client is the daemon-side handle to one worker subprocess: a stream
// connection plus a table of in-flight requests keyed by tag (spec.md §3
// "Worker client/server pair"). load is the live count of in-flight
// requests, read by the pool to pick the least-loaded worker.
type client struct {
	conn io.ReadWriteCloser

	mu      sync.Mutex
	pending map[uint64]chan reply
	nextTag uint64
	load    int32

	done chan struct{}
}

func newClient(conn io.ReadWriteCloser) *client {
	c := &client{
		conn:    conn,
		pending: make(map[uint64]chan reply),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *client) readLoop() {
	defer close(c.done)
	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		tag, result, fields, err := decodeReply(scanner.Text())
		if err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[tag]
		if ok {
			delete(c.pending, tag)
		}
		c.mu.Unlock()
		if ok {
			ch <- reply{result: result, fields: fields}
		}
	}

	c.mu.Lock()
	outstanding := c.pending
	c.pending = make(map[uint64]chan reply)
	c.mu.Unlock()
	for _, ch := range outstanding {
		ch <- reply{err: ErrWorkerGone}
	}
}

// Load returns the current number of in-flight requests.
func (c *client) Load() int32 { return atomic.LoadInt32(&c.load) }

// Dead reports whether the worker's connection has closed.
func (c *client) Dead() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// call sends one request and waits for its reply, bounded by ctx: a
// worker that accepts a request and then stalls without closing its
// connection (so Dead stays false) must still yield to the caller's
// deadline instead of hanging it forever (spec.md §5 "per-request
// absolute deadline ... after which the request completes as
// TEMPFAIL"). The pending entry is dropped on timeout so a late reply
// from the stalled worker is discarded rather than leaking the slot.
func (c *client) call(ctx context.Context, op Op, fields map[string]string) (Result, map[string]string, error) {
	atomic.AddInt32(&c.load, 1)
	defer atomic.AddInt32(&c.load, -1)

	tag := atomic.AddUint64(&c.nextTag, 1)
	ch := make(chan reply, 1)
	c.mu.Lock()
	c.pending[tag] = ch
	c.mu.Unlock()

	if _, err := io.WriteString(c.conn, encodeRequest(tag, op, fields)); err != nil {
		c.mu.Lock()
		delete(c.pending, tag)
		c.mu.Unlock()
		return "", nil, ErrWorkerGone
	}

	select {
	case r := <-ch:
		return r.result, r.fields, r.err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, tag)
		c.mu.Unlock()
		return "", nil, ctx.Err()
	}
}

func (c *client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
