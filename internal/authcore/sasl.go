package authcore

import "encoding/base64"

// decodeResponse decodes a base64-encoded client response, the same
// helper internal/pop3/sasl.go provides for the POP3 AUTH command.
func decodeResponse(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

// encodeChallenge encodes a server challenge to base64 for the CONT line.
func encodeChallenge(challenge []byte) string {
	return base64.StdEncoding.EncodeToString(challenge)
}
