package ipc

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// ParseEndpoint splits a zmq-style endpoint into a net network and
// address. Accepted forms: unix:///path, ipc:///path and tcp://host:port.
// An empty endpoint selects the platform default.
func ParseEndpoint(endpoint string) (network, address string, err error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	scheme, rest, ok := strings.Cut(endpoint, "://")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("invalid endpoint %q: want unix:///path or tcp://host:port", endpoint)
	}
	switch scheme {
	case "unix", "ipc":
		return "unix", rest, nil
	case "tcp":
		if _, _, err := net.SplitHostPort(rest); err != nil {
			return "", "", fmt.Errorf("invalid tcp endpoint %q: %w", endpoint, err)
		}
		return "tcp", rest, nil
	default:
		return "", "", fmt.Errorf("unsupported endpoint scheme %q", scheme)
	}
}

// CreateListener binds the endpoint. Unix socket files left over from a
// previous run are removed first.
func CreateListener(endpoint string) (net.Listener, error) {
	network, address, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if network == "unix" {
		return listenUnix(address)
	}
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", address, err)
	}
	return ln, nil
}

// Dial connects to the endpoint once.
func Dial(endpoint string, timeout time.Duration) (net.Conn, error) {
	network, address, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return net.DialTimeout(network, address, timeout)
}

// CleanupSocket removes the socket file for a unix endpoint, if present.
func CleanupSocket(endpoint string) error {
	network, address, err := ParseEndpoint(endpoint)
	if err != nil || network != "unix" {
		return err
	}
	if _, err := os.Stat(address); err == nil {
		return os.Remove(address)
	}
	return nil
}
