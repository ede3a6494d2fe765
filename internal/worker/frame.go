// Package worker implements the worker protocol (spec.md §4.5): the
// line-oriented, tab-delimited frame format exchanged between the daemon
// and a worker subprocess over a pre-created socketpair, plus the
// daemon-side pool (client.go, pool.go) and the subprocess-side loop
// (server.go).
package worker

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Op identifies the operation a request frame carries.
type Op string

const (
	// OpVerifyPlain checks a cleartext password (passdb.VerifyPlain).
	OpVerifyPlain Op = "PASSV"
	// OpLookupCredentials returns the stored, scheme-tagged credential
	// (passdb.LookupCredentials).
	OpLookupCredentials Op = "PASSL"
	// OpUserLookup resolves userdb attributes; reserved for the master
	// protocol's user-lookup path (spec.md §4.6), not dispatched by
	// internal/authcore today.
	OpUserLookup Op = "USER"
)

// Result is a reply frame's outcome tag.
type Result string

const (
	ResultOK       Result = "OK"
	ResultFail     Result = "FAIL"
	ResultNotfound Result = "NOTFOUND"
	ResultTempfail Result = "TEMPFAIL"
)

var errMalformedFrame = errors.New("worker: malformed frame")

// encodeRequest renders `<tag>\t<op>\tk1=v1\tk2=v2...\n` (spec.md §4.5).
// Values are base64-encoded so that arbitrary passwords or usernames
// containing tabs or newlines cannot corrupt framing.
func encodeRequest(tag uint64, op Op, fields map[string]string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(tag, 10))
	b.WriteByte('\t')
	b.WriteString(string(op))
	for k, v := range fields {
		b.WriteByte('\t')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(base64.StdEncoding.EncodeToString([]byte(v)))
	}
	b.WriteByte('\n')
	return b.String()
}

// decodeRequest parses a request frame, the worker server side's inverse
// of encodeRequest.
func decodeRequest(line string) (tag uint64, op Op, fields map[string]string, err error) {
	parts := strings.Split(line, "\t")
	if len(parts) < 2 {
		return 0, "", nil, errMalformedFrame
	}
	tag, err = strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", nil, errMalformedFrame
	}
	op = Op(parts[1])
	fields, err = decodeFields(parts[2:])
	if err != nil {
		return 0, "", nil, err
	}
	return tag, op, fields, nil
}

// encodeReply renders `<tag>\t<result>[\tk=v...]\n`.
func encodeReply(tag uint64, result Result, fields map[string]string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(tag, 10))
	b.WriteByte('\t')
	b.WriteString(string(result))
	for k, v := range fields {
		b.WriteByte('\t')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(base64.StdEncoding.EncodeToString([]byte(v)))
	}
	b.WriteByte('\n')
	return b.String()
}

// decodeReply parses a reply frame, the client side's inverse of
// encodeReply.
func decodeReply(line string) (tag uint64, result Result, fields map[string]string, err error) {
	parts := strings.Split(line, "\t")
	if len(parts) < 2 {
		return 0, "", nil, errMalformedFrame
	}
	tag, err = strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", nil, errMalformedFrame
	}
	result = Result(parts[1])
	fields, err = decodeFields(parts[2:])
	if err != nil {
		return 0, "", nil, err
	}
	return tag, result, fields, nil
}

func decodeFields(parts []string) (map[string]string, error) {
	fields := make(map[string]string, len(parts))
	for _, p := range parts {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("%w: field %q missing '='", errMalformedFrame, p)
		}
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", errMalformedFrame, k, err)
		}
		fields[k] = string(decoded)
	}
	return fields, nil
}
