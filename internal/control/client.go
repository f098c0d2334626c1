package control

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrNotRunning means the session socket could not be reached.
var ErrNotRunning = errors.New("no running session")

// Client issues one-shot control requests against the session socket.
type Client struct {
	socket  string
	timeout time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socket: socketPath, timeout: 30 * time.Second}
}

// SetTimeout bounds the dial and the full round trip. Ask callers
// raise it above the generation timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SendCommand builds a request for command with params and sends it.
func (c *Client) SendCommand(command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.Send(req)
}

// Send performs one request/response exchange over a fresh connection.
func (c *Client) Send(req *Request) (*Response, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send control request: %w", err)
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read control response: %w", err)
	}
	return &resp, nil
}

// dial connects to the session socket with the round-trip deadline
// already applied. A refused dial reports ErrNotRunning; the session
// either exited or never started.
func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socket, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w at %s; start one with: scriptorium run", ErrNotRunning, c.socket)
	}
	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	return conn, nil
}
