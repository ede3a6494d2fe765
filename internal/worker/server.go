package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/infodancer/authd/internal/passdb"
)

// Server is the subprocess-side worker loop (spec.md §4.5): it reads
// request frames from the single inherited WORKER_SERVER_FD connection
// and executes them against the passdb chain configured for this worker,
// one request at a time (workers are themselves single-threaded, spec.md
// §5).
type Server struct {
	chain  passdb.Chain
	logger *slog.Logger
}

// NewServer constructs a worker Server over chain.
func NewServer(chain passdb.Chain, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{chain: chain, logger: logger}
}

// Serve reads frames from conn until EOF or ctx is cancelled, replying to
// each in turn. It returns when the connection closes — matching spec.md
// §4.5: "Worker processes... read only from that one fd, and exit when
// it closes."
func (s *Server) Serve(ctx context.Context, conn io.ReadWriter) error {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		reply := s.handle(ctx, scanner.Text())
		if _, err := io.WriteString(conn, reply); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, line string) string {
	tag, op, fields, err := decodeRequest(line)
	if err != nil {
		s.logger.Warn("malformed worker request", "error", err)
		return encodeReply(0, ResultFail, nil)
	}

	req := passdb.Request{
		User:     fields["user"],
		Service:  fields["service"],
		RemoteIP: fields["remoteip"],
		LocalIP:  fields["localip"],
	}

	switch op {
	case OpVerifyPlain:
		res, canonical, err := s.chain.VerifyPlain(ctx, req, fields["password"])
		return encodeReply(tag, toWireResult(res, err), resultFields(canonical, ""))

	case OpLookupCredentials:
		res, cred, err := s.chain.LookupCredentials(ctx, req, fields["kind"])
		return encodeReply(tag, toWireResult(res, err), resultFields("", cred))

	default:
		return encodeReply(tag, ResultFail, map[string]string{"reason": fmt.Sprintf("unknown op %q", op)})
	}
}

func resultFields(user, credential string) map[string]string {
	fields := make(map[string]string, 2)
	if user != "" {
		fields["user"] = user
	}
	if credential != "" {
		fields["credential"] = credential
	}
	return fields
}

func toWireResult(res passdb.Result, err error) Result {
	if err != nil {
		return ResultTempfail
	}
	switch res {
	case passdb.ResultOK:
		return ResultOK
	case passdb.ResultUserUnknown:
		return ResultNotfound
	case passdb.ResultPasswordMismatch:
		return ResultFail
	default:
		return ResultTempfail
	}
}
