// Package session orchestrates tenant sessions: it serializes pairing
// handshakes per tenant, keeps the table of live connection handles, bounds
// the login flow, and reconciles in-memory state with persisted status.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"wa-gateway/internal/service/connector"
	"wa-gateway/internal/transport"
)

// ErrUnavailable is returned when a tenant has no live connection.
var ErrUnavailable = errors.New("session not available")

// Status is the externally visible state of a tenant session.
type Status string

const (
	StatusNotFound     Status = "not_found"
	StatusConnecting   Status = "connecting"
	StatusQRPending    Status = "qr_pending"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusTimeout      Status = "timeout"
)

func parseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusNotFound, StatusConnecting, StatusQRPending, StatusConnected, StatusDisconnected, StatusTimeout:
		return st, true
	}
	return "", false
}

// Result is the outcome of CreateSession.
type Result struct {
	QR     string
	Status Status
}

// Info is the outcome of GetSessionStatus.
type Info struct {
	Status    Status
	QR        string
	Connected bool
}

// Connector opens supervised connections.
type Connector interface {
	Open(ctx context.Context, userID string, cb connector.Callbacks) (*connector.Link, error)
	ClearCredentials(ctx context.Context, userID string) error
}

// StatusStore persists status values and pairing payloads.
type StatusStore interface {
	SetStatus(ctx context.Context, userID, status string, ttl time.Duration) error
	GetStatus(ctx context.Context, userID string) (string, error)
	DeleteStatus(ctx context.Context, userID string) error
	SetQR(ctx context.Context, userID, payload string) error
	GetQR(ctx context.Context, userID string) (string, error)
	DeleteQR(ctx context.Context, userID string) error
}

// Timings bounds the waits of the session lifecycle.
type Timings struct {
	// PairingWait is how long CreateSession waits for a QR or an open.
	PairingWait time.Duration
	// ConcurrentWait is how long a create waits on a handshake already in
	// flight.
	ConcurrentWait time.Duration
	// LoginTimeout ends a handshake that never reached open.
	LoginTimeout time.Duration
	// StatusRefresh is the interval at which live handles re-persist
	// connected. Zero disables refreshing.
	StatusRefresh time.Duration
}

// handshake is one pairing attempt. ready is closed on the first QR, on
// open, or when the attempt ends for good.
type handshake struct {
	ready chan struct{}
	once  sync.Once

	mu      sync.Mutex
	payload string
}

func newHandshake() *handshake {
	return &handshake{ready: make(chan struct{})}
}

func (h *handshake) setPayload(p string) {
	h.mu.Lock()
	h.payload = p
	h.mu.Unlock()
}

func (h *handshake) latest() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.payload
}

func (h *handshake) resolve() {
	h.once.Do(func() { close(h.ready) })
}

// tenant is the in-memory record of one userID.
type tenant struct {
	mu sync.Mutex

	// gen changes whenever the current link is replaced or discarded, so
	// callbacks of an old link become no-ops.
	gen     uint64
	removed bool

	link  *connector.Link
	conn  transport.Conn // non-nil only while open
	seq   uint64         // order in which conn was registered
	hs    *handshake     // non-nil while a pairing handshake is in flight
	login *time.Timer
}

func (t *tenant) handle() transport.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *tenant) inflight() *handshake {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hs
}

func (t *tenant) stopLoginTimer() {
	if t.login != nil {
		t.login.Stop()
		t.login = nil
	}
}
