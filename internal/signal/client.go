package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/genbalink/genbalink/internal/util"
)

// ErrIDConflict is returned when the rendezvous service rejects our peer id
// because another live session already holds it. This is terminal for the
// session: callers must not retry.
var ErrIDConflict = errors.New("peer id already registered with rendezvous service")

// registerTimeout bounds the register → registered/conflict handshake.
const registerTimeout = 10 * time.Second

// Client is one endpoint's connection to the rendezvous service. It registers
// a peer id, relays envelopes to the counterpart, and feeds inbound envelopes
// to a single handler. A Client is single-use: after Run returns, dial again.
type Client struct {
	localID string
	conn    *websocket.Conn

	writeMu sync.Mutex
}

// Dial connects to the rendezvous WebSocket URL, registers localID, and waits
// for the server's verdict. A conflict verdict yields ErrIDConflict.
func Dial(ctx context.Context, url, localID, token string) (*Client, error) {
	header := map[string][]string{}
	if token != "" {
		header["Authorization"] = []string{"Bearer " + token}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial rendezvous service: %w", err)
	}

	c := &Client{localID: localID, conn: conn}

	if err := c.Send(Envelope{Type: TypeRegister, From: localID}); err != nil {
		conn.Close()
		return nil, err
	}

	// The first inbound envelope is the registration verdict.
	_ = conn.SetReadDeadline(time.Now().Add(registerTimeout))
	var verdict Envelope
	if err := conn.ReadJSON(&verdict); err != nil {
		conn.Close()
		return nil, fmt.Errorf("await registration verdict: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch verdict.Type {
	case TypeRegistered:
		util.LogDebug("registered %q with rendezvous service", localID)
		return c, nil
	case TypeConflict:
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrIDConflict, verdict.Reason)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected registration reply %q", verdict.Type)
	}
}

// LocalID returns the peer id this client registered.
func (c *Client) LocalID() string { return c.localID }

// Send writes an envelope to the rendezvous service, guarded by a mutex so
// concurrent callers do not interleave WebSocket frames.
func (c *Client) Send(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

// Run reads envelopes until the connection drops or ctx is cancelled, passing
// each to handle. A late conflict (the server revoked our id) returns
// ErrIDConflict; any other exit is an ordinary transport drop.
func (c *Client) Run(ctx context.Context, handle func(Envelope)) error {
	// Unblock ReadJSON when ctx is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-stop:
		}
	}()

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("rendezvous connection lost: %w", err)
		}

		if env.Type == TypeConflict {
			return fmt.Errorf("%w: %s", ErrIDConflict, env.Reason)
		}
		handle(env)
	}
}

// Close tears down the WebSocket connection. Safe to call more than once.
func (c *Client) Close() error {
	return c.conn.Close()
}
