// Package listener implements the listener set and per-connection accept
// loop (spec.md §4.2): accepting a connection constructs either a
// client-connection or master-connection object based on the listener's
// kind, drains its output channel to the socket, and feeds input lines
// back through its state machine until EOF, protocol error, or inactivity
// timeout. The teacher's single-threaded, non-blocking event loop
// (internal/server.Server/Listener) is translated to one goroutine per
// connection, matching the goroutine-per-connection decision already
// made for internal/authcore.Connection.
package listener

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/infodancer/authd/internal/authcore"
	"github.com/infodancer/authd/internal/config"
	"github.com/infodancer/authd/internal/master"
	"github.com/infodancer/authd/internal/metrics"
)

// Endpoint is one bound-and-listening socket the Set accepts on, plus the
// bookkeeping needed to unlink it on shutdown (spec.md §3 "Listener").
type Endpoint struct {
	Kind config.ListenerKind
	Path string
	Ln   net.Listener
}

// Set owns a collection of Endpoints and runs one accept loop per
// endpoint (spec.md §4.2: "The listener set maintains a collection of
// Listener records").
type Set struct {
	endpoints  []Endpoint
	limiter    *ConnectionLimiter
	logger     *slog.Logger
	inactivity time.Duration

	clientDispatcher authcore.Dispatcher
	masterDispatcher master.Dispatcher
	failq            *authcore.FailureDelayQueue
	requestTimeout   time.Duration
	metrics          metrics.Collector

	wg sync.WaitGroup
}

// Config bundles everything a Set needs to accept and serve connections
// on every configured Endpoint.
type Config struct {
	Endpoints        []Endpoint
	ClientDispatcher authcore.Dispatcher
	MasterDispatcher master.Dispatcher
	FailureDelay     *authcore.FailureDelayQueue
	RequestTimeout   time.Duration
	Inactivity       time.Duration
	MaxConnections   int
	Metrics          metrics.Collector
	Logger           *slog.Logger
}

// NewSet constructs a Set ready to Run.
func NewSet(c Config) *Set {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := c.Metrics
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Set{
		endpoints:        c.Endpoints,
		limiter:          NewConnectionLimiter(c.MaxConnections),
		logger:           logger,
		inactivity:       c.Inactivity,
		clientDispatcher: c.ClientDispatcher,
		masterDispatcher: c.MasterDispatcher,
		failq:            c.FailureDelay,
		requestTimeout:   c.RequestTimeout,
		metrics:          collector,
	}
}

// Run starts one accept loop per endpoint and blocks until ctx is
// cancelled; it then closes every endpoint's listener and waits for the
// accept loops and open connections to finish.
func (s *Set) Run(ctx context.Context) error {
	for _, ep := range s.endpoints {
		ep := ep
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.acceptLoop(ctx, ep)
		}()
	}

	<-ctx.Done()
	for _, ep := range s.endpoints {
		ep.Ln.Close()
	}
	s.wg.Wait()
	return ctx.Err()
}

func (s *Set) acceptLoop(ctx context.Context, ep Endpoint) {
	s.logger.Info("listening", "path", ep.Path, "kind", ep.Kind)
	for {
		conn, err := ep.Ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("accept failed", "path", ep.Path, "error", err)
			return
		}

		if !s.limiter.TryAcquire() {
			s.logger.Warn("connection limit reached, rejecting", "path", ep.Path)
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.limiter.Release()
			s.serve(ctx, ep, conn)
		}()
	}
}

func (s *Set) serve(ctx context.Context, ep Endpoint, conn net.Conn) {
	defer conn.Close()

	kind := string(ep.Kind)
	s.metrics.ConnectionOpened(kind)
	defer s.metrics.ConnectionClosed(kind)

	remoteIP := hostOf(conn.RemoteAddr())
	localIP := hostOf(conn.LocalAddr())

	switch ep.Kind {
	case config.KindMaster:
		s.serveMaster(ctx, conn, remoteIP, localIP)
	default:
		s.serveClient(ctx, conn, remoteIP, localIP)
	}
}

func (s *Set) serveClient(ctx context.Context, conn net.Conn, remoteIP, localIP string) {
	c := authcore.NewConnection(remoteIP, localIP, s.clientDispatcher, s.failq, s.requestTimeout, s.logger)
	defer c.Close()

	done := make(chan struct{})
	go writeLoop(conn, c.Output(), done)
	defer func() { <-done }()

	s.readLoop(ctx, conn, func(line string) error {
		return c.HandleLine(ctx, line)
	})
}

func (s *Set) serveMaster(ctx context.Context, conn net.Conn, remoteIP, localIP string) {
	c := master.NewConnection(remoteIP, localIP, s.masterDispatcher, s.logger)
	defer c.Close()

	done := make(chan struct{})
	go writeLoop(conn, c.Output(), done)
	defer func() { <-done }()

	s.readLoop(ctx, conn, func(line string) error {
		return c.HandleLine(ctx, line)
	})
}

// readLoop scans input lines, enforcing the per-connection inactivity
// timeout (spec.md §4.4: "A per-connection inactivity timeout disconnects
// clients that fail to advance within a configured window") via a read
// deadline refreshed before every line.
func (s *Set) readLoop(ctx context.Context, conn net.Conn, handle func(line string) error) {
	scanner := bufio.NewScanner(conn)
	for {
		if s.inactivity > 0 {
			conn.SetReadDeadline(time.Now().Add(s.inactivity))
		}
		if !scanner.Scan() {
			return
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if err := handle(line); err != nil {
			s.logger.Debug("protocol error, disconnecting", "error", err)
			return
		}
	}
}

func writeLoop(conn net.Conn, out <-chan string, done chan<- struct{}) {
	defer close(done)
	for line := range out {
		if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
			return
		}
	}
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
