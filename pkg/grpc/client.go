package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const defaultDialTimeout = 2 * time.Second

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("rpc client closed")

// RemoteError is an error reported by the server's handler. The connection
// stays usable after one.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc %s: %s", e.Method, e.Message)
}

type clientResponse struct {
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Client is a lightweight JSON-over-TCP RPC client. It holds one connection
// and redials lazily after a transport failure.
type Client struct {
	addr        string
	dialTimeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	closed  bool
	nextID  atomic.Int64
}

// Dial connects to an RPC server at the given address.
func Dial(addr string) (*Client, error) {
	return DialContext(context.Background(), addr, defaultDialTimeout)
}

// DialContext connects to addr, giving up after dialTimeout.
func DialContext(ctx context.Context, addr string, dialTimeout time.Duration) (*Client, error) {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	c := &Client{addr: addr, dialTimeout: dialTimeout}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewLazy returns a client that connects on its first call.
func NewLazy(addr string, dialTimeout time.Duration) *Client {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &Client{addr: addr, dialTimeout: dialTimeout}
}

// Addr returns the server address.
func (c *Client) Addr() string { return c.addr }

func (c *Client) connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.addr, err)
	}
	c.conn = conn
	c.encoder = json.NewEncoder(conn)
	c.decoder = json.NewDecoder(conn)
	return nil
}

func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.encoder, c.decoder = nil, nil, nil
}

// Call invokes the named RPC method with params and decodes the response
// into result. Call is safe for concurrent use.
func (c *Client) Call(method string, params any, result any) error {
	return c.CallContext(context.Background(), method, params, result)
}

// CallContext is Call bounded by ctx. The context deadline becomes the
// connection deadline; cancellation without a deadline is checked before
// the request is sent. A transport error drops the connection so the next
// call redials.
func (c *Client) CallContext(ctx context.Context, method string, params any, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.conn == nil {
		if err := c.connect(ctx); err != nil {
			return err
		}
	}

	conn := c.conn
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		c.drop()
		return fmt.Errorf("setting deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	id := strconv.FormatInt(c.nextID.Add(1), 10)
	req := Request{Method: method, ID: id, Params: raw}
	if err := c.encoder.Encode(req); err != nil {
		c.drop()
		return c.transportError(ctx, "sending request", err)
	}

	var resp clientResponse
	if err := c.decoder.Decode(&resp); err != nil {
		c.drop()
		return c.transportError(ctx, "reading response", err)
	}
	if resp.ID != id {
		c.drop()
		return fmt.Errorf("response id %q does not match request %q", resp.ID, id)
	}
	if resp.Error != "" {
		return &RemoteError{Method: method, Message: resp.Error}
	}
	if result != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("unmarshaling into result: %w", err)
		}
	}
	return nil
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if _, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Close closes the underlying TCP connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
