// ABOUTME: Parses the relay_url setting into a gRPC dial target
// ABOUTME: Accepts bare host:port or grpc:// and grpcs:// URLs

package relayclient

import (
	"fmt"
	"net"
	"strings"
)

// DefaultPort is used when relay_url names a host without a port.
const DefaultPort = "50051"

// ParseRelayURL returns the host:port to dial and whether TLS is implied
// by the scheme. A grpcs:// scheme implies TLS; grpc:// and bare addresses
// do not.
func ParseRelayURL(raw string) (addr string, useTLS bool, err error) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "grpcs://"):
		s, useTLS = strings.TrimPrefix(s, "grpcs://"), true
	case strings.HasPrefix(s, "grpc://"):
		s = strings.TrimPrefix(s, "grpc://")
	case strings.Contains(s, "://"):
		return "", false, fmt.Errorf("relay_url %q: unsupported scheme, use grpc:// or grpcs://", raw)
	}
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return "", false, fmt.Errorf("relay_url %q: missing host", raw)
	}

	if _, _, err := net.SplitHostPort(s); err != nil {
		s = net.JoinHostPort(strings.Trim(s, "[]"), DefaultPort)
	}
	return s, useTLS, nil
}
