package clamd

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Client issues one-shot admin commands (PING, VERSION) to clamd. Each
// command opens its own connection; clamd closes the socket after replying
// to a z-terminated command, so connections are not reused.
type Client struct {
	network string
	addr    string
	timeout time.Duration
}

// New creates a client for the given daemon address. Accepted forms are
// "tcp://host:port", "unix:///path/to/clamd.sock", or a bare "host:port"
// which is treated as TCP.
func New(address string, timeout time.Duration) (*Client, error) {
	network, addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return &Client{network: network, addr: addr, timeout: timeout}, nil
}

// ParseAddress splits a daemon address into a dial network and address.
func ParseAddress(address string) (network, addr string, err error) {
	switch {
	case address == "":
		return "", "", fmt.Errorf("empty clamd address")
	case strings.HasPrefix(address, "tcp://"):
		return "tcp", strings.TrimPrefix(address, "tcp://"), nil
	case strings.HasPrefix(address, "unix://"):
		return "unix", strings.TrimPrefix(address, "unix://"), nil
	case strings.Contains(address, "://"):
		return "", "", fmt.Errorf("unsupported clamd address scheme in %q", address)
	default:
		return "tcp", address, nil
	}
}

// Network returns the dial network ("tcp" or "unix").
func (c *Client) Network() string { return c.network }

// Addr returns the dial address.
func (c *Client) Addr() string { return c.addr }

// Ping checks daemon liveness.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.command(ctx, "PING")
	if err != nil {
		return err
	}
	if resp != "PONG" {
		return fmt.Errorf("unexpected PING response %q", resp)
	}
	return nil
}

// Version fetches and parses the daemon's VERSION reply.
func (c *Client) Version(ctx context.Context) (Version, error) {
	resp, err := c.command(ctx, "VERSION")
	if err != nil {
		return Version{}, err
	}
	return ParseVersion(resp), nil
}

func (c *Client) command(ctx context.Context, cmd string) (string, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, c.network, c.addr)
	if err != nil {
		return "", fmt.Errorf("dial clamd %s %s: %w", c.network, c.addr, err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}

	if _, err := conn.Write([]byte("z" + cmd + "\x00")); err != nil {
		return "", fmt.Errorf("clamd write: %w", err)
	}
	body, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("clamd read: %w", err)
	}
	return strings.TrimRight(string(body), "\x00\n"), nil
}
