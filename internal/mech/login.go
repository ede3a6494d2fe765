package mech

import "context"

func init() {
	Register(loginMechanism{})
}

// loginMechanism implements the legacy LOGIN mechanism: a two-step
// exchange of "Username:" / "Password:" challenges with cleartext
// responses. Not standardized by an RFC but widely deployed; flagged
// PLAINTEXT like PLAIN.
type loginMechanism struct{}

func (loginMechanism) Name() string { return "LOGIN" }
func (loginMechanism) Flags() Flag  { return FlagPlaintext }

func (loginMechanism) Create(auth Authenticator) State {
	return &loginState{auth: auth, step: loginStepInit}
}

// loginStep tracks the server-first exchange: the request handler's first
// Continue call carries whatever initial response the client supplied
// (ordinarily none, since LOGIN is server-first), and that call always
// yields the "Username:" prompt rather than consuming the bytes as data.
type loginStep int

const (
	loginStepInit loginStep = iota
	loginStepUsername
	loginStepPassword
	loginStepDone
)

func (s *loginState) Continue(ctx context.Context, clientBytes []byte) ([]byte, Outcome, error) {
	switch s.step {
	case loginStepInit:
		s.step = loginStepUsername
		return []byte("Username:"), OutcomeContinue, nil

	case loginStepUsername:
		s.username = string(clientBytes)
		s.step = loginStepPassword
		return []byte("Password:"), OutcomeContinue, nil

	case loginStepPassword:
		s.step = loginStepDone
		password := string(clientBytes)
		ok, canonical, err := s.auth.VerifyPlain(ctx, s.username, password)
		if err != nil {
			return nil, OutcomeInternalError, err
		}
		if !ok {
			return nil, OutcomeFailure, nil
		}
		s.username = canonical
		return nil, OutcomeSuccess, nil

	default:
		return nil, OutcomeFailure, nil
	}
}

type loginState struct {
	auth     Authenticator
	step     loginStep
	username string
}

func (s *loginState) Username() string { return s.username }
