// Package connector opens tenant connections and keeps them alive. It turns
// the transport's event stream into callbacks, persists credential changes,
// and reconnects after unexpected closes.
package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-gateway/internal/store"
	"wa-gateway/internal/transport"
	"wa-gateway/internal/utils/retry"
)

// Callbacks receive a tenant's lifecycle events, in order, from a single
// goroutine.
type Callbacks struct {
	// OnPairingPayload receives each QR payload verbatim.
	OnPairingPayload func(payload string)

	// OnConnectionState receives connecting, open and closed transitions.
	// reason is only meaningful for closed.
	OnConnectionState func(conn transport.Conn, state transport.State, reason transport.CloseReason)
}

// Adapter opens connections through a transport.Dialer using the tenant's
// stored credentials.
type Adapter struct {
	dialer transport.Dialer
	creds  *store.CredentialStore
	delay  time.Duration
	log    waLog.Logger
}

// New creates an Adapter that waits reconnectDelay before every reconnect.
func New(dialer transport.Dialer, creds *store.CredentialStore, reconnectDelay time.Duration, log waLog.Logger) *Adapter {
	return &Adapter{
		dialer: dialer,
		creds:  creds,
		delay:  reconnectDelay,
		log:    log.Sub("Connector"),
	}
}

// Link is the supervised connection of one tenant. Across reconnects the
// Link stays the same while the underlying Conn changes.
type Link struct {
	userID string
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn transport.Conn
}

// Conn returns the current connection.
func (l *Link) Conn() transport.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *Link) setConn(c transport.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = c
}

// Stop ends supervision and closes the current connection without further
// callbacks. It blocks until the supervising goroutine has exited, so it
// must not be called from inside a callback.
func (l *Link) Stop() {
	l.cancel()
	<-l.done
}

// Done is closed once the link is no longer supervised.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Open dials userID and starts supervising the connection. The dial itself
// is synchronous; everything after it is delivered through cb.
func (a *Adapter) Open(ctx context.Context, userID string, cb Callbacks) (*Link, error) {
	conn, persist, err := a.dial(ctx, userID)
	if err != nil {
		return nil, err
	}

	linkCtx, cancel := context.WithCancel(context.Background())
	l := &Link{
		userID: userID,
		cancel: cancel,
		done:   make(chan struct{}),
		conn:   conn,
	}
	go a.supervise(linkCtx, l, persist, cb)
	return l, nil
}

// ClearCredentials purges the transport's key material for userID and then
// deletes every stored credential entry.
func (a *Adapter) ClearCredentials(ctx context.Context, userID string) error {
	creds, err := a.loadCredentials(ctx, userID)
	if err != nil {
		a.log.Warnf("Could not load credentials of %s before clearing: %v", userID, err)
	} else if err := a.dialer.Purge(ctx, creds); err != nil {
		a.log.Warnf("Failed to purge device of %s: %v", userID, err)
	}
	return a.creds.Clear(ctx, userID)
}

// loadCredentials returns the stored blob, falling back to the device key
// entries when the blob is gone but the entries survived.
func (a *Adapter) loadCredentials(ctx context.Context, userID string) (*transport.Credentials, error) {
	creds, _, err := a.creds.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if creds.Registered() {
		return creds, nil
	}
	return a.recoverDevice(ctx, userID, creds), nil
}

func (a *Adapter) recoverDevice(ctx context.Context, userID string, creds *transport.Credentials) *transport.Credentials {
	keys, err := a.creds.ReadKeys(ctx, userID, "device", []string{"jid", "lid", "platform"})
	if err != nil {
		a.log.Warnf("Failed to read device keys of %s: %v", userID, err)
		return creds
	}
	if len(keys["jid"]) == 0 {
		return creds
	}
	a.log.Infof("Recovered device of %s from key entries", userID)
	creds.JID = string(keys["jid"])
	creds.LID = string(keys["lid"])
	creds.Platform = string(keys["platform"])
	return creds
}

func (a *Adapter) dial(ctx context.Context, userID string) (transport.Conn, store.PersistFunc, error) {
	creds, persist, err := a.creds.Load(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if !creds.Registered() {
		creds = a.recoverDevice(ctx, userID, creds)
	}

	conn, err := a.dialer.Dial(ctx, userID, creds)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open connection: %w", err)
	}
	return conn, persist, nil
}

// supervise pumps events of the current connection and reconnects after
// non-terminal closes until the link is stopped.
func (a *Adapter) supervise(ctx context.Context, l *Link, persist store.PersistFunc, cb Callbacks) {
	defer close(l.done)

	conn := l.Conn()
	for {
		reason, ok := a.pump(ctx, l.userID, conn, persist, cb)
		conn.Close()
		if !ok {
			return
		}
		if reason.Terminal() {
			a.log.Infof("Connection of %s ended for good: %s", l.userID, reason)
			return
		}

		a.log.Infof("Connection of %s closed (%s), reconnecting in %s", l.userID, reason, a.delay)
		err := retry.Forever(ctx, a.delay, func() error {
			next, nextPersist, err := a.dial(ctx, l.userID)
			if err != nil {
				a.log.Warnf("Reconnect of %s failed: %v", l.userID, err)
				return err
			}
			conn, persist = next, nextPersist
			return nil
		})
		if err != nil {
			return
		}
		l.setConn(conn)
	}
}

// pump consumes events until the connection closes or ctx is done. It
// reports the close reason, or false when the link was stopped.
func (a *Adapter) pump(ctx context.Context, userID string, conn transport.Conn, persist store.PersistFunc, cb Callbacks) (transport.CloseReason, bool) {
	for {
		select {
		case <-ctx.Done():
			return transport.CloseUnknown, false

		case ev := <-conn.Events():
			switch ev.Kind {
			case transport.EventPairingPayload:
				if cb.OnPairingPayload != nil {
					cb.OnPairingPayload(ev.Payload)
				}

			case transport.EventCredentialsChanged:
				a.saveCredentials(ctx, userID, ev, persist)

			case transport.EventConnectionState:
				if ev.State == transport.StateClosed && ev.Reason == transport.CloseLoggedOut {
					if err := a.ClearCredentials(ctx, userID); err != nil {
						a.log.Errorf("Failed to clear credentials of %s: %v", userID, err)
					}
				}
				if cb.OnConnectionState != nil {
					cb.OnConnectionState(conn, ev.State, ev.Reason)
				}
				if ev.State == transport.StateClosed {
					return ev.Reason, true
				}
			}
		}
	}
}

func (a *Adapter) saveCredentials(ctx context.Context, userID string, ev transport.Event, persist store.PersistFunc) {
	if ev.Credentials != nil {
		if err := persist(ctx, ev.Credentials); err != nil {
			a.log.Errorf("Failed to persist credentials of %s: %v", userID, err)
		}
	}
	if len(ev.Keys) > 0 {
		if err := a.creds.WriteKeys(ctx, userID, ev.Keys); err != nil {
			a.log.Errorf("Failed to persist keys of %s: %v", userID, err)
		}
	}
}
