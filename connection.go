package tidekv

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/tidekv/tidekv/wire"
)

// Connection wraps one TCP connection to a server. It is not safe for
// concurrent use; the pool hands a connection to one caller at a time.
type Connection struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

// NewConnection wraps an established net.Conn. Nagle's algorithm is
// disabled so single small requests flush immediately.
func NewConnection(netConn net.Conn) *Connection {
	if tc, ok := netConn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &Connection{
		conn:   netConn,
		reader: bufio.NewReader(netConn),
		writer: bufio.NewWriter(netConn),
	}
}

// Close closes the underlying connection.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// Send performs one request/response exchange. The context deadline, if
// any, is applied to the whole exchange.
func (c *Connection) Send(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	resps, err := c.SendBatch(ctx, []*wire.Request{req})
	if err != nil {
		return nil, err
	}
	return resps[0], nil
}

// SendBatch pipelines several requests: all frames are written and flushed
// before the responses are read back in order. The server processes frames
// on one connection strictly in arrival order, so responses[i] answers
// reqs[i].
func (c *Connection) SendBatch(ctx context.Context, reqs []*wire.Request) ([]*wire.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	} else {
		if err := c.conn.SetDeadline(time.Time{}); err != nil {
			return nil, err
		}
	}

	for _, req := range reqs {
		payload, err := req.EncodePayload()
		if err != nil {
			return nil, err
		}
		if err := wire.WriteFrame(c.writer, byte(req.Op), payload); err != nil {
			return nil, err
		}
	}
	if err := c.writer.Flush(); err != nil {
		return nil, err
	}

	resps := make([]*wire.Response, len(reqs))
	for i := range reqs {
		status, payload, err := wire.ReadFrame(c.reader, 0)
		if err != nil {
			return nil, err
		}
		resps[i] = &wire.Response{Status: wire.Status(status), Payload: payload}
	}
	return resps, nil
}

// Ping sends a PING and checks for the PONG payload.
func (c *Connection) Ping(ctx context.Context) error {
	resp, err := c.Send(ctx, &wire.Request{Op: wire.OpPing})
	if err != nil {
		return err
	}
	if !resp.IsOK() || string(resp.Payload) != wire.PongPayload {
		return &ServerError{Token: wire.TokenGeneric, Message: "unexpected ping response"}
	}
	return nil
}
