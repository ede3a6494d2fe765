package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/infodancer/authd/internal/passdb"
	"golang.org/x/sys/unix"
)

// ErrPoolOverloaded is returned when the bounded pending-request budget
// is exhausted (spec.md §4.5: "Pending requests are bounded; exceeding
// the bound yields TEMPFAIL to the caller").
var ErrPoolOverloaded = errors.New("worker: pool overloaded")

const workerServerFDEnv = "WORKER_SERVER_FD"

// workerServerFD is the fixed fd number a worker subprocess is told to
// read its end of the socketpair from (spec.md §4.5, §6): ExtraFiles
// slots start at fd 3, and a pool spawns each worker with exactly one
// extra file.
const workerServerFD = 3

// minBackoff/maxBackoff bound the respawn delay after a worker exits
// immediately and repeatedly (spec.md §4.5: "capped at 1 per second").
const (
	minBackoff = 50 * time.Millisecond
	maxBackoff = time.Second
)

// Pool is the daemon-side worker pool (spec.md §4.5): it forks a bounded
// set of worker subprocesses, dispatches PASSV/PASSL calls to the
// least-loaded one, and respawns any worker whose connection closes.
// Pool itself satisfies the same VerifyPlain/LookupCredentials shape as
// internal/authcore.Dispatcher so internal/runtime can hand it directly
// to a Connection without either package importing the other.
type Pool struct {
	execPath   string
	workerArgs []string
	size       int
	maxPending int
	logger     *slog.Logger

	sem chan struct{} // bounds total in-flight requests across the pool

	mu      sync.Mutex
	workers []*client
	closing bool
}

// NewPool constructs a pool of size worker subprocesses, each invoked as
// `execPath workerArgs...` with WORKER_SERVER_FD set in its environment.
// maxPending bounds total in-flight requests across all workers.
func NewPool(execPath string, workerArgs []string, size, maxPending int, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		execPath:   execPath,
		workerArgs: workerArgs,
		size:       size,
		maxPending: maxPending,
		logger:     logger,
		sem:        make(chan struct{}, maxPending),
	}
	for i := 0; i < size; i++ {
		c, err := p.spawn()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("worker: spawn %d/%d: %w", i+1, size, err)
		}
		p.mu.Lock()
		p.workers = append(p.workers, c)
		p.mu.Unlock()
		go p.monitor(i)
	}
	return p, nil
}

// spawn creates a socketpair, starts the worker subprocess with one end
// passed as fd workerServerFD, and wraps the daemon's end in a client.
func (p *Pool) spawn() (*client, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	parentFile := os.NewFile(uintptr(fds[0]), "authd-worker-parent")
	childFile := os.NewFile(uintptr(fds[1]), "authd-worker-child")

	cmd := exec.Command(p.execPath, p.workerArgs...)
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", workerServerFDEnv, workerServerFD))
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		parentFile.Close()
		childFile.Close()
		return nil, err
	}
	childFile.Close() // the child owns its copy now

	go func() {
		if err := cmd.Wait(); err != nil {
			p.logger.Debug("worker exited", "pid", cmd.Process.Pid, "error", err)
		} else {
			p.logger.Debug("worker exited", "pid", cmd.Process.Pid)
		}
		parentFile.Close()
	}()

	return newClient(parentFile), nil
}

// monitor watches the worker at index i and respawns it, with capped
// exponential backoff, whenever its connection closes.
func (p *Pool) monitor(i int) {
	backoff := minBackoff
	for {
		p.mu.Lock()
		if p.closing {
			p.mu.Unlock()
			return
		}
		c := p.workers[i]
		p.mu.Unlock()
		started := time.Now()

		<-c.done // blocks until this worker's connection closes

		p.mu.Lock()
		if p.closing {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		if time.Since(started) >= maxBackoff {
			backoff = minBackoff // the worker stayed up: not an immediate failure
		}
		p.logger.Warn("worker crashed, respawning", "index", i, "backoff", backoff)
		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		nc, err := p.spawn()
		if err != nil {
			p.logger.Error("failed to respawn worker", "index", i, "error", err)
			p.mu.Lock()
			p.workers[i] = newDeadClient()
			p.mu.Unlock()
			continue
		}

		p.mu.Lock()
		p.workers[i] = nc
		p.mu.Unlock()
	}
}

// newDeadClient returns a client whose done channel is already closed, a
// placeholder occupying a pool slot between a failed respawn attempt and
// the next retry.
func newDeadClient() *client {
	c := &client{pending: make(map[uint64]chan reply), done: make(chan struct{})}
	close(c.done)
	return c
}

// pick returns the live worker with the fewest in-flight requests.
func (p *Pool) pick() (*client, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *client
	for _, c := range p.workers {
		if c.Dead() {
			continue
		}
		if best == nil || c.Load() < best.Load() {
			best = c
		}
	}
	return best, best != nil
}

func (p *Pool) acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrPoolOverloaded
	}
}

func (p *Pool) release() { <-p.sem }

// VerifyPlain dispatches a PASSV request to the least-loaded worker.
func (p *Pool) VerifyPlain(ctx context.Context, req passdb.Request, password string) (passdb.Result, string, error) {
	if err := p.acquire(ctx); err != nil {
		return passdb.ResultInternalError, "", ErrPoolOverloaded
	}
	defer p.release()

	c, ok := p.pick()
	if !ok {
		return passdb.ResultInternalError, "", ErrPoolOverloaded
	}

	fields := map[string]string{
		"user": req.User, "service": req.Service,
		"remoteip": req.RemoteIP, "localip": req.LocalIP,
		"password": password,
	}
	result, rfields, err := c.call(ctx, OpVerifyPlain, fields)
	if err != nil {
		return passdb.ResultInternalError, "", err
	}
	return fromWireResult(result), rfields["user"], nil
}

// LookupCredentials dispatches a PASSL request to the least-loaded
// worker.
func (p *Pool) LookupCredentials(ctx context.Context, req passdb.Request, kind string) (passdb.Result, string, error) {
	if err := p.acquire(ctx); err != nil {
		return passdb.ResultInternalError, "", ErrPoolOverloaded
	}
	defer p.release()

	c, ok := p.pick()
	if !ok {
		return passdb.ResultInternalError, "", ErrPoolOverloaded
	}

	fields := map[string]string{
		"user": req.User, "service": req.Service,
		"remoteip": req.RemoteIP, "localip": req.LocalIP,
		"kind": kind,
	}
	result, rfields, err := c.call(ctx, OpLookupCredentials, fields)
	if err != nil {
		return passdb.ResultInternalError, "", err
	}
	return fromWireResult(result), rfields["credential"], nil
}

func fromWireResult(r Result) passdb.Result {
	switch r {
	case ResultOK:
		return passdb.ResultOK
	case ResultNotfound:
		return passdb.ResultUserUnknown
	case ResultFail:
		return passdb.ResultPasswordMismatch
	default:
		return passdb.ResultInternalError
	}
}

// Close terminates every worker connection. It does not wait for
// subprocesses to exit; their reaper goroutines (started in spawn) do so
// independently.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closing = true
	workers := p.workers
	p.mu.Unlock()
	for _, c := range workers {
		c.Close()
	}
}
