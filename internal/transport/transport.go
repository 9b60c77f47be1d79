// Package transport defines the contract between the session layer and the
// messaging network client. Implementations translate their native event
// streams into Event values delivered on a per-connection channel.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrConnectionClosed is returned by Conn.Send when the underlying connection
// is already closed.
var ErrConnectionClosed = errors.New("connection closed")

// ErrInvalidRecipient is returned by Conn.Send when the recipient is neither
// a phone number nor an address the network understands.
var ErrInvalidRecipient = errors.New("invalid recipient")

// State is a connection lifecycle state.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// CloseReason is the numeric cause attached to a closed connection.
type CloseReason int

const (
	CloseUnknown             CloseReason = 0
	CloseLoggedOut           CloseReason = 401
	CloseForbidden           CloseReason = 403
	CloseConnectionFailure   CloseReason = 405
	CloseTimedOut            CloseReason = 408
	CloseMultideviceMismatch CloseReason = 411
	CloseConnectionClosed    CloseReason = 428
	CloseConnectionReplaced  CloseReason = 440
	CloseBadSession          CloseReason = 500
	CloseUnavailable         CloseReason = 503
	CloseRestartRequired     CloseReason = 515
)

// String returns a short label for logging.
func (r CloseReason) String() string {
	switch r {
	case CloseLoggedOut:
		return "logged out"
	case CloseForbidden:
		return "forbidden"
	case CloseConnectionFailure:
		return "connection failure"
	case CloseTimedOut:
		return "timed out"
	case CloseMultideviceMismatch:
		return "multidevice mismatch"
	case CloseConnectionClosed:
		return "connection closed"
	case CloseConnectionReplaced:
		return "connection replaced"
	case CloseBadSession:
		return "bad session"
	case CloseUnavailable:
		return "service unavailable"
	case CloseRestartRequired:
		return "restart required"
	default:
		return "unknown"
	}
}

// Terminal reports whether the reason must never trigger an automatic
// reconnect.
func (r CloseReason) Terminal() bool {
	return r == CloseLoggedOut || r == CloseConnectionFailure
}

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventPairingPayload EventKind = iota + 1
	EventCredentialsChanged
	EventConnectionState
)

// Event is a single lifecycle notification from a connection.
type Event struct {
	Kind EventKind

	// EventPairingPayload
	Payload string

	// EventCredentialsChanged
	Credentials *Credentials
	Keys        KeyUpdate

	// EventConnectionState
	State  State
	Reason CloseReason
	Err    error
}

// PairingPayload builds a pairing event.
func PairingPayload(payload string) Event {
	return Event{Kind: EventPairingPayload, Payload: payload}
}

// CredentialsChanged builds a credentials event.
func CredentialsChanged(creds *Credentials, keys KeyUpdate) Event {
	return Event{Kind: EventCredentialsChanged, Credentials: creds, Keys: keys}
}

// Connecting builds a connecting state event.
func Connecting() Event {
	return Event{Kind: EventConnectionState, State: StateConnecting}
}

// Opened builds an open state event.
func Opened() Event {
	return Event{Kind: EventConnectionState, State: StateOpen}
}

// Closed builds a closed state event.
func Closed(reason CloseReason, err error) Event {
	return Event{Kind: EventConnectionState, State: StateClosed, Reason: reason, Err: err}
}

// Credentials is the persisted authentication blob of one tenant. The heavy
// key material stays inside the transport's own device store; this blob only
// records which device belongs to the tenant.
type Credentials struct {
	JID      string    `json:"jid,omitempty"`
	LID      string    `json:"lid,omitempty"`
	Platform string    `json:"platform,omitempty"`
	PushName string    `json:"push_name,omitempty"`
	PairedAt time.Time `json:"paired_at,omitempty"`
}

// Registered reports whether the credentials belong to a paired device.
func (c *Credentials) Registered() bool {
	return c != nil && c.JID != ""
}

// KeyUpdate is a batch of category -> id -> value key entries.
type KeyUpdate map[string]map[string][]byte

// MessageKind selects the outbound content type.
type MessageKind int

const (
	MessageText MessageKind = iota + 1
	MessageImage
	MessageAudio
)

// Message is an outbound payload.
type Message struct {
	Kind      MessageKind
	Text      string
	Caption   string
	Data      []byte
	MimeType  string
	VoiceNote bool
}

// Conn is a live connection handle.
type Conn interface {
	// Events delivers lifecycle events in the order they happened. The channel
	// is never closed; a StateClosed event is the last one a Conn emits.
	Events() <-chan Event

	// Send delivers msg to the recipient and returns the message ID.
	Send(ctx context.Context, to string, msg Message) (string, error)

	// Logout unlinks the device from the account.
	Logout(ctx context.Context) error

	// Close ends the connection without unlinking.
	Close()
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, userID string, creds *Credentials) (Conn, error)

	// Purge removes transport-side key material for the credentials.
	Purge(ctx context.Context, creds *Credentials) error
}
