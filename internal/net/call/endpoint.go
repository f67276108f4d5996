package call

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// Endpoint is a dialable address of a serving process.
type Endpoint interface {
	Dial(ctx context.Context) (net.Conn, error)

	Address() string
}

func TCP(address string) NetEndpoint {
	return NetEndpoint{"tcp", address}
}

func Unix(address string) NetEndpoint {
	return NetEndpoint{"unix", address}
}

type NetEndpoint struct {
	Net  string // "tcp" or "unix"
	Addr string // e.g., "localhost:8000"
}

func (n NetEndpoint) Dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{}
	return dialer.DialContext(ctx, n.Net, n.Addr)
}

func (n NetEndpoint) Address() string {
	return fmt.Sprintf("%s://%s", n.Net, n.Addr)
}

func ParseNetEndpoint(endpoint string) (NetEndpoint, error) {
	n, addr, ok := strings.Cut(endpoint, "://")
	if !ok {
		return NetEndpoint{}, fmt.Errorf("%q does not have format <network>://<address>", endpoint)
	}
	switch n {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return NetEndpoint{}, fmt.Errorf("%q: unsupported network %q", endpoint, n)
	}
	return NetEndpoint{n, addr}, nil
}
