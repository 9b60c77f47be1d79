// Package transporttest provides in-memory transport.Dialer and
// transport.Conn implementations for tests.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wa-gateway/internal/transport"
)

// Sent records one message handed to Conn.Send.
type Sent struct {
	To  string
	Msg transport.Message
}

// Conn is a scripted transport.Conn. Tests push events with Emit.
type Conn struct {
	UserID string
	Creds  transport.Credentials

	events chan transport.Event

	mu        sync.Mutex
	sent      []Sent
	sendErr   error
	loggedOut bool
	closed    bool
}

// NewConn creates an idle Conn.
func NewConn(userID string, creds *transport.Credentials) *Conn {
	c := &Conn{UserID: userID, events: make(chan transport.Event, 64)}
	if creds != nil {
		c.Creds = *creds
	}
	return c
}

// Emit queues ev for the consumer.
func (c *Conn) Emit(ev transport.Event) {
	c.events <- ev
}

// Events implements transport.Conn.
func (c *Conn) Events() <-chan transport.Event {
	return c.events
}

// FailSends makes every following Send return err.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Send implements transport.Conn.
func (c *Conn) Send(_ context.Context, to string, msg transport.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", transport.ErrConnectionClosed
	}
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, Sent{To: to, Msg: msg})
	return fmt.Sprintf("MSG-%d", len(c.sent)), nil
}

// Sent returns the messages sent so far.
func (c *Conn) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Logout implements transport.Conn.
func (c *Conn) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

// LoggedOut reports whether Logout was called.
func (c *Conn) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

// Close implements transport.Conn.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dialer hands out Conns and records every dial and purge.
type Dialer struct {
	mu      sync.Mutex
	conns   []*Conn
	purged  []string
	dialErr error
	onDial  func(*Conn)
	dialed  chan *Conn
}

// NewDialer creates a Dialer.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Conn, 64)}
}

// OnDial registers a hook that runs on every new Conn before Dial returns.
func (d *Dialer) OnDial(fn func(*Conn)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDial = fn
}

// FailDials makes every following Dial return err. A nil err restores
// normal dialing.
func (d *Dialer) FailDials(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(_ context.Context, userID string, creds *transport.Credentials) (transport.Conn, error) {
	d.mu.Lock()
	if d.dialErr != nil {
		err := d.dialErr
		d.mu.Unlock()
		return nil, err
	}
	c := NewConn(userID, creds)
	d.conns = append(d.conns, c)
	hook := d.onDial
	d.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	d.dialed <- c
	return c, nil
}

// Purge implements transport.Dialer.
func (d *Dialer) Purge(_ context.Context, creds *transport.Credentials) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if creds.Registered() {
		d.purged = append(d.purged, creds.JID)
	}
	return nil
}

// Dials returns how many connections were opened.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Purged returns the device JIDs passed to Purge.
func (d *Dialer) Purged() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.purged...)
}

// ErrNoDial is returned by Next when no dial happened in time.
var ErrNoDial = errors.New("no dial")

// Next waits up to timeout for the next dialed Conn.
func (d *Dialer) Next(timeout time.Duration) (*Conn, error) {
	select {
	case c := <-d.dialed:
		return c, nil
	case <-time.After(timeout):
		return nil, ErrNoDial
	}
}

var (
	_ transport.Conn   = (*Conn)(nil)
	_ transport.Dialer = (*Dialer)(nil)
)
