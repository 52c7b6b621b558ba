//go:build windows
// +build windows

package ipc

import (
	"fmt"
	"net"
)

// DefaultEndpoint is TCP on localhost. Windows doesn't support Unix
// domain sockets reliably, and localhost TCP is still sub-millisecond.
const DefaultEndpoint = "tcp://127.0.0.1:5556"

func listenUnix(path string) (net.Listener, error) {
	return nil, fmt.Errorf("unix socket %s not supported on windows, use a tcp:// endpoint", path)
}
