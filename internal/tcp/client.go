// Package tcp implements the framed JSON TCP client (C1) and callback server
// (C2) from spec.md §4.1–§4.2: both directions exchange UTF-8 JSON values
// with no explicit length prefix — the reader accumulates bytes and decodes
// greedily, succeeding on the first fully-decodable JSON value.
package tcp

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// ClientConfig configures a framed JSON TCP client.
type ClientConfig struct {
	Host       string
	Port       int
	ReadTimeout time.Duration
	BufferSize int
}

// DefaultBufferSize matches spec.md §4.1's "buffer_size≈8KiB".
const DefaultBufferSize = 8 * 1024

// Client is a synchronous, stateless request/response client: every Send
// dials a fresh connection, matching the original's "blocking client"
// semantics (no shared mutable connection state between calls).
type Client struct {
	cfg ClientConfig
}

// NewClient returns a Client for cfg, filling in buffer-size/timeout
// defaults when unset.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	return &Client{cfg: cfg}
}

// Addr returns the "host:port" dial target.
func (c *Client) Addr() string {
	return fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
}

// Send writes payload's JSON encoding, then reads until exactly one complete
// JSON value decodes, returning its raw bytes. See spec.md §4.1 for the
// ErrTimeout/ErrConnection/ErrProtocol taxonomy.
func (c *Client) Send(payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("tcp: marshal request: %w", err)
	}

	conn, err := net.DialTimeout("tcp", c.Addr(), c.cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.ReadTimeout)); err == nil {
		if _, err := conn.Write(body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}

	deadline := time.Now().Add(c.cfg.ReadTimeout)
	buf := make([]byte, 0, c.cfg.BufferSize)
	chunk := make([]byte, c.cfg.BufferSize)

	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnection, err)
		}
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if value, _, ok := decodePrefix(buf); ok {
				return value, nil
			}
		}
		if err != nil {
			if ne, isNetErr := err.(net.Error); isNetErr && ne.Timeout() {
				return nil, ErrTimeout
			}
			// EOF or any other read error: peer went away before a
			// decodable value arrived.
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
	}
}
