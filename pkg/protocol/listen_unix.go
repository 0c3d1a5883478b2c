//go:build !windows

package protocol

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// listen opens a Unix domain socket at path, removing any stale socket
// file left by a prior unclean shutdown and setting owner-only (0600)
// permissions so only the owning user may connect.
func listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// dial connects to a Unix domain socket at path.
func dial(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}

// DefaultSocketPath returns <user-home>/.poppobuilder/daemon.sock.
func DefaultSocketPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".poppobuilder", "daemon.sock"), nil
}
