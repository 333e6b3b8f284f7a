package utils

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	DefaultHttpPort = "8080"
	DefaultGrpcPort = "9090"
)

// Parses a listen address of the form tcp://<host>[:<port>] into host:port.
// An empty host listens on all interfaces.
func parseTcpUrl(urlstr, defaultPort string) (string, error) {
	uri, err := url.Parse(urlstr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	if uri.Scheme != "tcp" {
		return "", fmt.Errorf("%w: unsupported protocol %q in %q", ErrBadRequest, uri.Scheme, urlstr)
	}

	if uri.Path != "" && uri.Path != "/" {
		return "", fmt.Errorf("%w: unexpected path in %q", ErrBadRequest, urlstr)
	}

	port := uri.Port()
	if port == "" {
		port = defaultPort
	}

	return net.JoinHostPort(uri.Hostname(), port), nil
}

// Parses an HTTP listen address, tcp://<host>[:<port>].
// The port defaults to 8080.
func ParseHttpUrl(urlstr string) (string, error) {
	return parseTcpUrl(urlstr, DefaultHttpPort)
}

// Parses a gRPC listen address, tcp://<host>[:<port>].
// The port defaults to 9090.
func ParseGrpcUrl(urlstr string) (string, error) {
	return parseTcpUrl(urlstr, DefaultGrpcPort)
}

// Parses the address of a remote gRPC server. Both tcp://<host>[:<port>]
// and a bare <host>[:<port>] are accepted. The host defaults to localhost.
func ParseGrpcTarget(target string) (string, error) {
	if !strings.Contains(target, "://") {
		target = "tcp://" + target
	}

	address, err := ParseGrpcUrl(target)
	if err != nil {
		return "", err
	}

	host, port, _ := net.SplitHostPort(address)
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port), nil
}
