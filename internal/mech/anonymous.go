package mech

import "context"

func init() {
	Register(anonymousMechanism{})
}

// anonymousMechanism implements ANONYMOUS (RFC 4505): the client sends a
// trace token (often an email address) as its only message; no passdb
// lookup occurs.
type anonymousMechanism struct{}

func (anonymousMechanism) Name() string { return "ANONYMOUS" }
func (anonymousMechanism) Flags() Flag  { return FlagAnonymous }

func (anonymousMechanism) Create(auth Authenticator) State {
	return &anonymousState{}
}

type anonymousState struct {
	trace string
	done  bool
}

func (s *anonymousState) Continue(ctx context.Context, clientBytes []byte) ([]byte, Outcome, error) {
	if s.done {
		return nil, OutcomeFailure, nil
	}
	s.trace = string(clientBytes)
	s.done = true
	return nil, OutcomeSuccess, nil
}

func (s *anonymousState) Username() string { return s.trace }
