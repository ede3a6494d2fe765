package privilege

import (
	"errors"
	"net"
	"os"
	"syscall"
)

// isAddrInUse unwraps a net.Listen error looking for EADDRINUSE, the
// condition original_source's create_unix_listener retries on.
func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) {
			return errors.Is(sysErr.Err, syscall.EADDRINUSE)
		}
	}
	return errors.Is(err, syscall.EADDRINUSE)
}

// isConnRefused reports whether err is ECONNREFUSED, the signal
// original_source uses to decide a leftover socket path is stale.
func isConnRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) {
			return errors.Is(sysErr.Err, syscall.ECONNREFUSED)
		}
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
