package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa-gateway/internal/infra/logger"
	"wa-gateway/internal/store"
	"wa-gateway/internal/transport"
	"wa-gateway/internal/transport/transporttest"
)

const waitFor = 2 * time.Second

type recorder struct {
	mu       sync.Mutex
	payloads []string
	states   []transport.State
	reasons  []transport.CloseReason
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnPairingPayload: func(p string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.payloads = append(r.payloads, p)
		},
		OnConnectionState: func(_ transport.Conn, s transport.State, reason transport.CloseReason) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
			r.reasons = append(r.reasons, reason)
		},
	}
}

func (r *recorder) snapshot() ([]string, []transport.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...), append([]transport.State(nil), r.states...)
}

type fixture struct {
	mr      *miniredis.Miniredis
	creds   *store.CredentialStore
	dialer  *transporttest.Dialer
	adapter *Adapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	creds := store.NewCredentialStore(store.NewKV(rdb, "whatsapp:"), time.Hour, time.Hour, logger.Nop())
	dialer := transporttest.NewDialer()
	return &fixture{
		mr:      mr,
		creds:   creds,
		dialer:  dialer,
		adapter: New(dialer, creds, 10*time.Millisecond, logger.Nop()),
	}
}

func (f *fixture) open(t *testing.T, rec *recorder) (*Link, *transporttest.Conn) {
	t.Helper()
	link, err := f.adapter.Open(context.Background(), "u1", rec.callbacks())
	require.NoError(t, err)
	conn, err := f.dialer.Next(waitFor)
	require.NoError(t, err)
	return link, conn
}

func TestCallbacksArriveInOrder(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	link, conn := f.open(t, rec)
	defer link.Stop()

	conn.Emit(transport.Connecting())
	conn.Emit(transport.PairingPayload("2@first"))
	conn.Emit(transport.PairingPayload("2@second"))
	conn.Emit(transport.Opened())

	require.Eventually(t, func() bool {
		_, states := rec.snapshot()
		return len(states) == 2
	}, waitFor, 5*time.Millisecond)

	payloads, states := rec.snapshot()
	assert.Equal(t, []string{"2@first", "2@second"}, payloads)
	assert.Equal(t, []transport.State{transport.StateConnecting, transport.StateOpen}, states)
	assert.Same(t, conn, link.Conn())
}

func TestCredentialChangesArePersisted(t *testing.T) {
	f := newFixture(t)
	link, conn := f.open(t, &recorder{})
	defer link.Stop()

	conn.Emit(transport.CredentialsChanged(
		&transport.Credentials{JID: "62811:3@s.whatsapp.net"},
		transport.KeyUpdate{"device": {"jid": []byte("62811:3@s.whatsapp.net")}},
	))

	require.Eventually(t, func() bool {
		return f.mr.Exists("whatsapp:auth:u1:creds") && f.mr.Exists("whatsapp:auth:u1:device-jid")
	}, waitFor, 5*time.Millisecond)

	creds, _, err := f.creds.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "62811:3@s.whatsapp.net", creds.JID)
}

func TestReconnectsAfterRetryableClose(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	link, first := f.open(t, rec)
	defer link.Stop()

	first.Emit(transport.Closed(transport.CloseConnectionClosed, nil))

	second, err := f.dialer.Next(waitFor)
	require.NoError(t, err)
	assert.True(t, first.Closed())
	require.Eventually(t, func() bool { return link.Conn() == transport.Conn(second) }, waitFor, 5*time.Millisecond)

	second.Emit(transport.Opened())
	require.Eventually(t, func() bool {
		_, states := rec.snapshot()
		return len(states) == 2
	}, waitFor, 5*time.Millisecond)
	_, states := rec.snapshot()
	assert.Equal(t, []transport.State{transport.StateClosed, transport.StateOpen}, states)
}

func TestReconnectKeepsTryingWhileDialFails(t *testing.T) {
	f := newFixture(t)
	link, first := f.open(t, &recorder{})
	defer link.Stop()

	f.dialer.FailDials(errors.New("network down"))
	first.Emit(transport.Closed(transport.CloseTimedOut, nil))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.Dials())

	f.dialer.FailDials(nil)
	_, err := f.dialer.Next(waitFor)
	require.NoError(t, err)
	assert.Equal(t, 2, f.dialer.Dials())
}

func TestNoReconnectAfterPolicyClose(t *testing.T) {
	f := newFixture(t)
	_, persist, err := f.creds.Load(context.Background(), "u1")
	require.NoError(t, err)
	require.NoError(t, persist(context.Background(), &transport.Credentials{JID: "62811@s.whatsapp.net"}))

	rec := &recorder{}
	link, conn := f.open(t, rec)

	conn.Emit(transport.Closed(transport.CloseConnectionFailure, nil))

	select {
	case <-link.Done():
	case <-time.After(waitFor):
		t.Fatal("link still supervised after a policy close")
	}
	assert.Equal(t, 1, f.dialer.Dials())
	assert.True(t, conn.Closed())
	// credentials survive a policy close
	assert.True(t, f.mr.Exists("whatsapp:auth:u1:creds"))
	_, states := rec.snapshot()
	assert.Equal(t, []transport.State{transport.StateClosed}, states)
}

func TestLoggedOutClearsCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, persist, err := f.creds.Load(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, persist(ctx, &transport.Credentials{JID: "62811@s.whatsapp.net"}))
	require.NoError(t, f.creds.WriteKeys(ctx, "u1", transport.KeyUpdate{"session": {"a": []byte("1")}}))

	link, conn := f.open(t, &recorder{})
	assert.Equal(t, "62811@s.whatsapp.net", conn.Creds.JID)

	conn.Emit(transport.Closed(transport.CloseLoggedOut, nil))
	<-link.Done()

	assert.False(t, f.mr.Exists("whatsapp:auth:u1:creds"))
	assert.False(t, f.mr.Exists("whatsapp:auth:u1:session-a"))
	assert.Equal(t, []string{"62811@s.whatsapp.net"}, f.dialer.Purged())
	assert.Equal(t, 1, f.dialer.Dials())
}

func TestStopSilencesLink(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	link, conn := f.open(t, rec)

	link.Stop()
	assert.True(t, conn.Closed())

	conn.Emit(transport.Closed(transport.CloseConnectionClosed, nil))
	time.Sleep(30 * time.Millisecond)

	_, states := rec.snapshot()
	assert.Empty(t, states)
	assert.Equal(t, 1, f.dialer.Dials())
}

func TestDeviceRecoveredFromKeyEntries(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.creds.WriteKeys(context.Background(), "u1", transport.KeyUpdate{
		"device": {"jid": []byte("62811:2@s.whatsapp.net"), "platform": []byte("android")},
	}))

	link, conn := f.open(t, &recorder{})
	defer link.Stop()

	assert.Equal(t, "62811:2@s.whatsapp.net", conn.Creds.JID)
	assert.Equal(t, "android", conn.Creds.Platform)
}

func TestOpenFailsWhenDialFails(t *testing.T) {
	f := newFixture(t)
	f.dialer.FailDials(errors.New("refused"))

	_, err := f.adapter.Open(context.Background(), "u1", Callbacks{})
	assert.Error(t, err)
}
