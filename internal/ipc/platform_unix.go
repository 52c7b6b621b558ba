//go:build !windows
// +build !windows

package ipc

import (
	"fmt"
	"net"
	"os"
)

// DefaultEndpoint is a Unix domain socket; it has lower latency than TCP
// for local IPC.
const DefaultEndpoint = "unix:///tmp/microbiome.sock"

func listenUnix(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("cleanup socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix: %w", err)
	}

	if err := os.Chmod(path, 0666); err != nil {
		listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return listener, nil
}
