//go:build windows

package protocol

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// listen opens a named pipe at path. Windows named pipes have their own
// ACL-based security model (set via PipeConfig.SecurityDescriptor in a
// hardened deployment); the 0600-equivalent owner-only restriction that
// POSIX enforces via Chmod is out of scope for the default configuration
// here, mirroring the existing Windows/POSIX split between
// ensure_darwin.go and its Windows counterparts.
func listen(path string) (net.Listener, error) {
	return winio.ListenPipe(path, nil)
}

// dial connects to a named pipe at path.
func dial(path string) (net.Conn, error) {
	return winio.DialPipe(path, nil)
}

// DefaultSocketPath returns the well-known coordinator named-pipe path.
func DefaultSocketPath() (string, error) {
	return `\\.\pipe\poppobuilder-daemon`, nil
}
