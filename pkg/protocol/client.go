package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultRequestTimeout is the implicit per-request deadline,
// §4.5, overridable per call via context.
const defaultRequestTimeout = 30 * time.Second

// pending tracks one in-flight request awaiting its correlated response.
type pending struct {
	ch chan *Envelope
}

// Client is a framed-socket client used by cmd/coordinatorctl and by
// integration tests, replacing a gRPC+mTLS client with a
// plain connection over C5's wire protocol. Requests are correlated by
// envelope id so a single connection can have several commands in flight
// at once, mirroring the per-call context.WithTimeout idiom from
// pkg/client/client.go.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader

	mu      sync.Mutex
	pending map[string]*pending
	events  chan *Envelope

	closeOnce sync.Once
	done      chan struct{}
}

// Connect dials the control-channel socket at path, completes the welcome
// handshake, and authenticates with token if the server requires it.
func Connect(path, token string) (*Client, error) {
	conn, err := dial(path)
	if err != nil {
		return nil, fmt.Errorf("protocol: dial: %w", err)
	}

	c := &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		pending: make(map[string]*pending),
		events:  make(chan *Envelope, 64),
		done:    make(chan struct{}),
	}

	welcome, err := ReadFrame(c.reader)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("protocol: read welcome: %w", err)
	}
	var wp WelcomePayload
	if err := json.Unmarshal(welcome.Payload, &wp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("protocol: decode welcome: %w", err)
	}

	if wp.AuthRequired {
		authEnv, err := newEnvelope(TypeAuth, AuthPayload{Token: token})
		if err != nil {
			conn.Close()
			return nil, err
		}
		authEnv.ID = uuid.New().String()
		if err := WriteFrame(conn, authEnv); err != nil {
			conn.Close()
			return nil, err
		}
		resp, err := ReadFrame(c.reader)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("protocol: read auth response: %w", err)
		}
		if resp.Type == TypeError {
			conn.Close()
			var ep ErrorPayload
			_ = json.Unmarshal(resp.Payload, &ep)
			return nil, fmt.Errorf("protocol: auth rejected: %s", ep.Message)
		}
	}

	go c.readLoop()
	return c, nil
}

// readLoop demultiplexes incoming frames: responses are routed to their
// waiting Call, events are delivered on the Events channel (best-effort —
// when the buffer is full the incoming event is dropped rather than
// blocking the loop).
func (c *Client) readLoop() {
	for {
		env, err := ReadFrame(c.reader)
		if err != nil {
			c.failAllPending()
			return
		}
		switch env.Type {
		case TypeResponse, TypeError:
			c.mu.Lock()
			p, ok := c.pending[env.ID]
			if ok {
				delete(c.pending, env.ID)
			}
			c.mu.Unlock()
			if ok {
				p.ch <- env
			}
		case TypeEvent:
			select {
			case c.events <- env:
			default:
			}
		}
	}
}

func (c *Client) failAllPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		close(p.ch)
		delete(c.pending, id)
	}
}

// Events returns the channel of event envelopes pushed by the server.
func (c *Client) Events() <-chan *Envelope {
	return c.events
}

// Call sends a command and blocks for its correlated response, respecting
// ctx's deadline if set, else the 30s default.
func (c *Client) Call(ctx context.Context, command string, args interface{}) (json.RawMessage, error) {
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	argsRaw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	env, err := newEnvelope(TypeCommand, CommandPayload{Command: command, Args: argsRaw})
	if err != nil {
		return nil, err
	}
	env.ID = uuid.New().String()

	p := &pending{ch: make(chan *Envelope, 1)}
	c.mu.Lock()
	c.pending[env.ID] = p
	c.mu.Unlock()

	if err := WriteFrame(c.conn, env); err != nil {
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-p.ch:
		if !ok {
			return nil, fmt.Errorf("protocol: connection closed while awaiting response")
		}
		var rp ResponsePayload
		if err := json.Unmarshal(resp.Payload, &rp); err != nil {
			return nil, err
		}
		if !rp.Success {
			if rp.Error != nil {
				return nil, fmt.Errorf("protocol: %s: %s", rp.Error.Code, rp.Error.Message)
			}
			return nil, fmt.Errorf("protocol: command failed")
		}
		return rp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
		return nil, fmt.Errorf("protocol: %w", ctx.Err())
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
