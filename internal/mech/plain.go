package mech

import (
	"context"

	"github.com/emersion/go-sasl"
)

func init() {
	Register(plainMechanism{})
}

// plainMechanism implements PLAIN (RFC 4616) on top of
// github.com/emersion/go-sasl's sasl.NewPlainServer, the same dependency
// internal/pop3/auth_commands.go wires for its AUTH command.
type plainMechanism struct{}

func (plainMechanism) Name() string { return "PLAIN" }
func (plainMechanism) Flags() Flag  { return FlagPlaintext }

func (plainMechanism) Create(auth Authenticator) State {
	s := &plainState{auth: auth}
	s.server = sasl.NewPlainServer(func(identity, username, password string) error {
		s.username = username
		ok, canonical, err := auth.VerifyPlain(s.ctx, username, password)
		if err != nil {
			s.internalErr = err
			return err
		}
		if !ok {
			return errMismatch
		}
		s.username = canonical
		return nil
	})
	return s
}

type plainState struct {
	auth        Authenticator
	server      sasl.Server
	username    string
	internalErr error
	ctx         context.Context
}

// sasl.Server.Next carries no context parameter, so the context passed to
// Continue is stashed here for the duration of the call so the
// authenticator callback above can forward it to VerifyPlain.
func (s *plainState) Continue(ctx context.Context, clientBytes []byte) ([]byte, Outcome, error) {
	s.ctx = ctx
	challenge, done, err := s.server.Next(clientBytes)
	if s.internalErr != nil {
		return nil, OutcomeInternalError, s.internalErr
	}
	if err != nil {
		return nil, OutcomeFailure, nil
	}
	if done {
		return challenge, OutcomeSuccess, nil
	}
	return challenge, OutcomeContinue, nil
}

func (s *plainState) Username() string { return s.username }
