package mech

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/infodancer/authd/internal/scheme"
)

func init() {
	Register(crammd5Mechanism{})
}

// crammd5Mechanism implements CRAM-MD5 (RFC 2195): the server issues a
// challenge string, the client replies "user hexdigest" where digest is
// HMAC-MD5(secret, challenge). Requires the passdb to hand back the
// stored secret itself (FlagPassCredentials) since the server must
// recompute the same HMAC rather than compare a client-submitted hash.
// A "{PLAIN}" tag on the stored credential is stripped before use; a
// credential tagged with any other scheme fails the exchange.
type crammd5Mechanism struct{}

func (crammd5Mechanism) Name() string { return "CRAM-MD5" }
func (crammd5Mechanism) Flags() Flag  { return FlagDictionary | FlagPassCredentials }

func (crammd5Mechanism) Create(auth Authenticator) State {
	return &crammd5State{auth: auth}
}

type crammd5Step int

const (
	crammd5StepChallenge crammd5Step = iota
	crammd5StepVerify
	crammd5StepDone
)

type crammd5State struct {
	auth      Authenticator
	step      crammd5Step
	challenge string
	username  string
}

func (s *crammd5State) Continue(ctx context.Context, clientBytes []byte) ([]byte, Outcome, error) {
	switch s.step {
	case crammd5StepChallenge:
		var nonce [16]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, OutcomeInternalError, err
		}
		s.challenge = fmt.Sprintf("<%x@authd>", nonce)
		s.step = crammd5StepVerify
		return []byte(s.challenge), OutcomeContinue, nil

	case crammd5StepVerify:
		s.step = crammd5StepDone
		parts := strings.SplitN(string(clientBytes), " ", 2)
		if len(parts) != 2 {
			return nil, OutcomeFailure, nil
		}
		user, digestHex := parts[0], parts[1]
		s.username = user

		credential, found, err := s.auth.LookupCredentials(ctx, user, "CRAM-MD5")
		if err != nil {
			return nil, OutcomeInternalError, err
		}
		if !found {
			return nil, OutcomeFailure, nil
		}
		if name, secret, tagged := scheme.SplitTag(credential); tagged {
			if !strings.EqualFold(name, "PLAIN") {
				return nil, OutcomeFailure, nil
			}
			credential = secret
		}

		mac := hmac.New(md5.New, []byte(credential))
		mac.Write([]byte(s.challenge))
		expected := hex.EncodeToString(mac.Sum(nil))

		if !hmac.Equal([]byte(expected), []byte(strings.ToLower(digestHex))) {
			return nil, OutcomeFailure, nil
		}
		return nil, OutcomeSuccess, nil

	default:
		return nil, OutcomeFailure, nil
	}
}

func (s *crammd5State) Username() string { return s.username }
