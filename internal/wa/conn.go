package wa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-gateway/internal/transport"
)

const eventBuffer = 16

// conn adapts one whatsmeow client to transport.Conn.
type conn struct {
	client *whatsmeow.Client
	userID string
	log    waLog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events    chan transport.Event
	finished  atomic.Bool
	closeOnce sync.Once

	credsMu sync.Mutex
	creds   transport.Credentials
}

func newConn(client *whatsmeow.Client, userID string, creds *transport.Credentials, log waLog.Logger) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		client: client,
		userID: userID,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan transport.Event, eventBuffer),
	}
	if creds != nil {
		c.creds = *creds
	}
	return c
}

// Events implements transport.Conn.
func (c *conn) Events() <-chan transport.Event {
	return c.events
}

// emit delivers ev unless the connection already reported its close. The
// first closed event wins; everything after it is dropped.
func (c *conn) emit(ev transport.Event) {
	if ev.Kind == transport.EventConnectionState && ev.State == transport.StateClosed {
		if !c.finished.CompareAndSwap(false, true) {
			return
		}
	} else if c.finished.Load() {
		return
	}

	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// pumpQR forwards pairing codes until the channel finishes.
func (c *conn) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			c.log.Debugf("New pairing code, valid for %s", item.Timeout)
			c.emit(transport.PairingPayload(item.Code))
		case "success":
			c.log.Infof("Pairing succeeded")
		case "timeout":
			c.log.Warnf("Pairing codes exhausted")
			c.emit(transport.Closed(transport.CloseTimedOut, errors.New("qr code timeout")))
		case "err-client-outdated":
			c.log.Errorf("Client version rejected during pairing")
			c.emit(transport.Closed(transport.CloseConnectionFailure, errors.New("client outdated")))
		case "error":
			c.log.Errorf("Pairing failed: %v", item.Error)
			c.emit(transport.Closed(transport.CloseBadSession, item.Error))
		default:
			c.log.Warnf("Pairing ended with %s", item.Event)
			c.emit(transport.Closed(transport.CloseBadSession, fmt.Errorf("pairing ended: %s", item.Event)))
		}
	}
}

// handleEvent translates whatsmeow events into transport events.
func (c *conn) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		c.log.Infof("Connected")
		c.refreshPushName()
		c.emit(transport.Opened())

	case *events.PairSuccess:
		c.log.Infof("Paired as %s (%s)", e.ID, e.Platform)
		c.credsMu.Lock()
		c.creds = transport.Credentials{
			JID:      e.ID.String(),
			LID:      e.LID.String(),
			Platform: e.Platform,
			PushName: e.BusinessName,
			PairedAt: time.Now(),
		}
		creds := c.creds
		c.credsMu.Unlock()
		c.emit(transport.CredentialsChanged(&creds, transport.KeyUpdate{
			"device": {
				"jid":      []byte(creds.JID),
				"lid":      []byte(creds.LID),
				"platform": []byte(creds.Platform),
			},
		}))

	case *events.KeepAliveTimeout:
		c.log.Warnf("Keepalive timeout (%d failures)", e.ErrorCount)

	default:
		if reason, ok := closeReason(evt); ok {
			c.log.Warnf("Connection closed: %s", reason)
			c.emit(transport.Closed(reason, fmt.Errorf("%T", evt)))
		}
	}
}

// refreshPushName reports the account's display name once the server has
// sent it.
func (c *conn) refreshPushName() {
	name := c.client.Store.PushName
	c.credsMu.Lock()
	if !c.creds.Registered() || name == "" || name == c.creds.PushName {
		c.credsMu.Unlock()
		return
	}
	c.creds.PushName = name
	creds := c.creds
	c.credsMu.Unlock()
	c.emit(transport.CredentialsChanged(&creds, nil))
}

// closeReason maps whatsmeow's terminal connection events to a close reason.
func closeReason(evt interface{}) (transport.CloseReason, bool) {
	switch e := evt.(type) {
	case *events.LoggedOut:
		return transport.CloseLoggedOut, true
	case *events.ClientOutdated, *events.TemporaryBan:
		return transport.CloseConnectionFailure, true
	case *events.StreamReplaced:
		return transport.CloseConnectionReplaced, true
	case *events.Disconnected:
		return transport.CloseConnectionClosed, true
	case *events.ConnectFailure:
		switch {
		case e.Reason.IsLoggedOut():
			return transport.CloseLoggedOut, true
		case e.Reason == events.ConnectFailureClientOutdated,
			e.Reason == events.ConnectFailureTempBanned,
			e.Reason == events.ConnectFailureBadUserAgent:
			return transport.CloseConnectionFailure, true
		default:
			return transport.CloseReason(e.Reason), true
		}
	}
	return transport.CloseUnknown, false
}

// Send implements transport.Conn.
func (c *conn) Send(ctx context.Context, to string, msg transport.Message) (string, error) {
	if c.finished.Load() || !c.client.IsConnected() {
		return "", transport.ErrConnectionClosed
	}

	jid, err := ParseRecipient(to)
	if err != nil {
		return "", err
	}

	waMsg, err := buildMessage(ctx, c.client, msg)
	if err != nil {
		return "", mapSendError(err)
	}

	resp, err := c.client.SendMessage(ctx, jid, waMsg)
	if err != nil {
		return "", mapSendError(fmt.Errorf("failed to send message: %w", err))
	}
	return resp.ID, nil
}

func mapSendError(err error) error {
	if errors.Is(err, whatsmeow.ErrNotConnected) || errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return fmt.Errorf("%w: %v", transport.ErrConnectionClosed, err)
	}
	return err
}

// Logout implements transport.Conn.
func (c *conn) Logout(ctx context.Context) error {
	if err := c.client.Logout(ctx); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

// Close implements transport.Conn.
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.client.Disconnect()
	})
}

var _ transport.Conn = (*conn)(nil)
