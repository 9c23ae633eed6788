package rpc

import (
	"context"
	"net"
	"net/rpc/jsonrpc"
	"time"

	"github.com/xiaot623/campusconnect/internal/domain"
)

// Client calls the Conversation service.
type Client struct {
	addr        string
	dialTimeout time.Duration
	callTimeout time.Duration
}

// NewClient creates a client for the RPC server at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		addr:        addr,
		dialTimeout: 5 * time.Second,
		callTimeout: 60 * time.Second,
	}
}

// Chat sends one message.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ResponseEnvelope, error) {
	var resp domain.ResponseEnvelope
	if err := c.call(ctx, ServiceName+".Chat", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Context fetches the last n messages of a session.
func (c *Client) Context(ctx context.Context, sessionID string, n int) ([]domain.Message, error) {
	var resp ContextReply
	if err := c.call(ctx, ServiceName+".Context", &ContextArgs{SessionID: sessionID, N: n}, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Session fetches a full session record.
func (c *Client) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	var resp domain.Session
	if err := c.call(ctx, ServiceName+".Session", &SessionArgs{SessionID: sessionID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if c.callTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.callTimeout))
	}

	client := jsonrpc.NewClient(conn)
	defer client.Close()

	call := client.Go(method, args, reply, nil)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-call.Done:
		return res.Error
	}
}
