package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"wa-gateway/internal/service/connector"
	"wa-gateway/internal/transport"
)

// qrPollInterval is how often a create polls for a QR produced by a
// handshake this process does not own.
const qrPollInterval = 100 * time.Millisecond

// Manager owns every tenant session of the process.
type Manager struct {
	connector Connector
	status    StatusStore
	timings   Timings
	log       waLog.Logger

	mu      sync.RWMutex
	tenants map[string]*tenant
	seq     atomic.Uint64
}

// NewManager creates a Manager.
func NewManager(conn Connector, status StatusStore, timings Timings, log waLog.Logger) *Manager {
	return &Manager{
		connector: conn,
		status:    status,
		timings:   timings,
		log:       log.Sub("Session"),
		tenants:   make(map[string]*tenant),
	}
}

func (m *Manager) tenantFor(userID string) *tenant {
	m.mu.RLock()
	t, ok := m.tenants[userID]
	m.mu.RUnlock()
	if ok {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok = m.tenants[userID]; !ok {
		t = &tenant{}
		m.tenants[userID] = t
	}
	return t
}

func (m *Manager) lookup(userID string) *tenant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenants[userID]
}

// CreateSession starts or resumes the session of userID. It returns
// connected when a live handle exists, qr_pending with the payload to scan,
// connecting when another handshake has not produced a QR yet, or timeout
// when nothing happened within the pairing wait.
func (m *Manager) CreateSession(ctx context.Context, userID string) (Result, error) {
	for {
		t := m.tenantFor(userID)
		if hs := t.inflight(); hs != nil {
			return m.awaitOther(ctx, userID, t, hs)
		}

		raw, err := m.status.GetStatus(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		status, _ := parseStatus(raw)

		// A handshake owned by another process, or a stale marker left
		// by a previous run.
		if status == StatusConnecting {
			if qr := m.pollQR(ctx, userID); qr != "" {
				return Result{QR: qr, Status: StatusQRPending}, nil
			}
		}

		if t.handle() != nil {
			if status == StatusConnected {
				return Result{Status: StatusConnected}, nil
			}
			qr, err := m.status.GetQR(ctx, userID)
			if err != nil {
				return Result{}, err
			}
			if qr != "" {
				return Result{QR: qr, Status: StatusQRPending}, nil
			}
		}

		res, retry, err := m.startHandshake(ctx, userID, t)
		if retry {
			continue
		}
		return res, err
	}
}

// startHandshake opens a new connection for t and waits for its first
// signal. retry is true when t was removed before the handshake could be
// claimed.
func (m *Manager) startHandshake(ctx context.Context, userID string, t *tenant) (Result, bool, error) {
	t.mu.Lock()
	if t.removed {
		t.mu.Unlock()
		return Result{}, true, nil
	}
	if hs := t.hs; hs != nil {
		t.mu.Unlock()
		res, err := m.awaitOther(ctx, userID, t, hs)
		return res, false, err
	}
	old := t.link
	t.gen++
	gen := t.gen
	hs := newHandshake()
	t.hs = hs
	t.link = nil
	t.conn = nil
	t.stopLoginTimer()
	t.mu.Unlock()

	if old != nil {
		old.Stop()
	}

	m.setStatus(ctx, userID, StatusConnecting)

	link, err := m.connector.Open(ctx, userID, m.callbacks(userID, t, gen))
	if err != nil {
		t.mu.Lock()
		if t.gen == gen {
			t.hs = nil
		}
		t.mu.Unlock()
		hs.resolve()
		m.setStatus(context.WithoutCancel(ctx), userID, StatusDisconnected)
		return Result{}, false, fmt.Errorf("failed to open session: %w", err)
	}

	t.mu.Lock()
	if t.gen != gen {
		// removed or expired while dialing
		t.mu.Unlock()
		link.Stop()
		return Result{Status: StatusDisconnected}, false, nil
	}
	t.link = link
	if t.hs == hs {
		t.login = time.AfterFunc(m.timings.LoginTimeout, func() { m.expireLogin(userID, t, gen) })
	}
	t.mu.Unlock()

	m.log.Infof("Handshake started for %s", userID)

	select {
	case <-hs.ready:
	case <-time.After(m.timings.PairingWait):
	case <-ctx.Done():
		return Result{}, false, ctx.Err()
	}

	if t.handle() != nil {
		return Result{Status: StatusConnected}, false, nil
	}
	if qr := hs.latest(); qr != "" {
		return Result{QR: qr, Status: StatusQRPending}, false, nil
	}

	raw, err := m.status.GetStatus(ctx, userID)
	if err != nil {
		return Result{}, false, err
	}
	if Status(raw) == StatusConnected {
		t.mu.Lock()
		if t.gen == gen && t.conn == nil && t.link != nil {
			t.conn = t.link.Conn()
			t.seq = m.seq.Add(1)
		}
		t.mu.Unlock()
		return Result{Status: StatusConnected}, false, nil
	}
	return Result{Status: StatusTimeout}, false, nil
}

// awaitOther waits briefly on a handshake started by another caller instead
// of racing it.
func (m *Manager) awaitOther(ctx context.Context, userID string, t *tenant, hs *handshake) (Result, error) {
	select {
	case <-hs.ready:
	case <-time.After(m.timings.ConcurrentWait):
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	if t.handle() != nil {
		return Result{Status: StatusConnected}, nil
	}
	if qr := hs.latest(); qr != "" {
		return Result{QR: qr, Status: StatusQRPending}, nil
	}
	qr, err := m.status.GetQR(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if qr != "" {
		return Result{QR: qr, Status: StatusQRPending}, nil
	}
	return Result{Status: StatusConnecting}, nil
}

// pollQR waits up to the concurrent wait for a persisted QR.
func (m *Manager) pollQR(ctx context.Context, userID string) string {
	deadline := time.NewTimer(m.timings.ConcurrentWait)
	defer deadline.Stop()
	tick := time.NewTicker(qrPollInterval)
	defer tick.Stop()

	for {
		qr, err := m.status.GetQR(ctx, userID)
		if err != nil {
			m.log.Warnf("Failed to read QR of %s: %v", userID, err)
		} else if qr != "" {
			return qr
		}

		select {
		case <-ctx.Done():
			return ""
		case <-deadline.C:
			return ""
		case <-tick.C:
		}
	}
}

// callbacks binds connector events to t for the link of generation gen.
func (m *Manager) callbacks(userID string, t *tenant, gen uint64) connector.Callbacks {
	current := func() (*handshake, bool) {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.hs, t.gen == gen
	}

	return connector.Callbacks{
		OnPairingPayload: func(payload string) {
			hs, ok := current()
			if !ok {
				return
			}
			ctx := context.Background()
			if err := m.status.SetQR(ctx, userID, payload); err != nil {
				m.log.Errorf("Failed to store QR of %s: %v", userID, err)
			}
			m.setStatus(ctx, userID, StatusQRPending)
			if hs != nil {
				hs.setPayload(payload)
				hs.resolve()
			}
			m.log.Infof("QR ready for %s", userID)
		},

		OnConnectionState: func(conn transport.Conn, state transport.State, reason transport.CloseReason) {
			switch state {
			case transport.StateConnecting:
				m.log.Debugf("Connecting %s", userID)
			case transport.StateOpen:
				m.opened(userID, t, gen, conn)
			case transport.StateClosed:
				m.closed(userID, t, gen, reason)
			}
		},
	}
}

func (m *Manager) opened(userID string, t *tenant, gen uint64, conn transport.Conn) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	if t.conn == nil {
		t.seq = m.seq.Add(1)
	}
	t.conn = conn
	hs := t.hs
	t.hs = nil
	t.stopLoginTimer()
	t.mu.Unlock()

	ctx := context.Background()
	if err := m.status.DeleteQR(ctx, userID); err != nil {
		m.log.Warnf("Failed to delete QR of %s: %v", userID, err)
	}
	m.setStatus(ctx, userID, StatusConnected)
	if hs != nil {
		hs.resolve()
	}
	m.log.Infof("Session %s connected", userID)
}

func (m *Manager) closed(userID string, t *tenant, gen uint64, reason transport.CloseReason) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	var hs *handshake
	if reason.Terminal() {
		hs = t.hs
		t.hs = nil
		t.stopLoginTimer()
	}
	t.mu.Unlock()

	m.setStatus(context.Background(), userID, StatusDisconnected)
	if hs != nil {
		hs.resolve()
	}
	m.log.Infof("Session %s closed: %s", userID, reason)
}

// expireLogin ends a handshake that never reached open. Credentials are
// dropped together with the connection.
func (m *Manager) expireLogin(userID string, t *tenant, gen uint64) {
	m.mu.Lock()
	t.mu.Lock()
	if t.gen != gen || t.conn != nil || t.hs == nil {
		t.mu.Unlock()
		m.mu.Unlock()
		return
	}
	t.gen++
	t.removed = true
	link, hs := t.link, t.hs
	t.link, t.hs, t.login = nil, nil, nil
	if m.tenants[userID] == t {
		delete(m.tenants, userID)
	}
	t.mu.Unlock()
	m.mu.Unlock()

	m.log.Warnf("Login of %s timed out", userID)
	if link != nil {
		link.Stop()
	}
	hs.resolve()

	ctx := context.Background()
	if err := m.status.DeleteQR(ctx, userID); err != nil {
		m.log.Warnf("Failed to delete QR of %s: %v", userID, err)
	}
	if err := m.connector.ClearCredentials(ctx, userID); err != nil {
		m.log.Errorf("Failed to clear credentials of %s: %v", userID, err)
	}
	m.setStatus(ctx, userID, StatusDisconnected)
}

func (m *Manager) setStatus(ctx context.Context, userID string, status Status) {
	if err := m.status.SetStatus(ctx, userID, string(status), 0); err != nil {
		m.log.Errorf("Failed to persist status %s of %s: %v", status, userID, err)
	}
}

// GetSession returns the live connection of userID.
func (m *Manager) GetSession(userID string) (transport.Conn, error) {
	t := m.lookup(userID)
	if t == nil {
		return nil, ErrUnavailable
	}
	if conn := t.handle(); conn != nil {
		return conn, nil
	}
	return nil, ErrUnavailable
}

// GetSessionStatus returns the reconciled status of userID. A persisted
// connected without a live handle is demoted to disconnected.
func (m *Manager) GetSessionStatus(ctx context.Context, userID string) (Info, error) {
	raw, err := m.status.GetStatus(ctx, userID)
	if err != nil {
		return Info{}, err
	}
	if raw == "" {
		return Info{Status: StatusNotFound}, nil
	}

	status, known := parseStatus(raw)
	if status == StatusConnected {
		if t := m.lookup(userID); t == nil || t.handle() == nil {
			m.log.Infof("Demoting stale connected status of %s", userID)
			if err := m.status.SetStatus(ctx, userID, string(StatusDisconnected), 0); err != nil {
				return Info{}, err
			}
			return Info{Status: StatusDisconnected}, nil
		}
		return Info{Status: StatusConnected, Connected: true}, nil
	}

	qr, err := m.status.GetQR(ctx, userID)
	if err != nil {
		return Info{}, err
	}
	if qr != "" {
		return Info{Status: StatusQRPending, QR: qr}, nil
	}
	if !known {
		return Info{Status: StatusDisconnected}, nil
	}
	return Info{Status: status}, nil
}

// GetQRCode returns the pending pairing payload of userID, or "".
func (m *Manager) GetQRCode(ctx context.Context, userID string) (string, error) {
	return m.status.GetQR(ctx, userID)
}

// ClearSessionOnError drops the handle of userID after a failed send and
// persists disconnected. Credentials are kept so the next create resumes
// without pairing.
func (m *Manager) ClearSessionOnError(ctx context.Context, userID string) error {
	if t := m.lookup(userID); t != nil {
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
	}
	m.log.Warnf("Cleared handle of %s after a send error", userID)
	return m.status.SetStatus(ctx, userID, string(StatusDisconnected), 0)
}

// RemoveSession logs userID out and forgets everything stored about it.
func (m *Manager) RemoveSession(ctx context.Context, userID string) error {
	var (
		conn transport.Conn
		link *connector.Link
		hs   *handshake
	)

	m.mu.Lock()
	if t, ok := m.tenants[userID]; ok {
		delete(m.tenants, userID)
		t.mu.Lock()
		t.gen++
		t.removed = true
		conn, link, hs = t.conn, t.link, t.hs
		t.conn, t.link, t.hs = nil, nil, nil
		t.stopLoginTimer()
		t.mu.Unlock()
	}
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Logout(ctx); err != nil {
			m.log.Warnf("Logout of %s failed: %v", userID, err)
		}
	}
	if link != nil {
		link.Stop()
	}
	if hs != nil {
		hs.resolve()
	}

	if err := m.status.DeleteQR(ctx, userID); err != nil {
		return err
	}
	if err := m.connector.ClearCredentials(ctx, userID); err != nil {
		return err
	}
	if err := m.status.DeleteStatus(ctx, userID); err != nil {
		return err
	}
	m.log.Infof("Session %s removed", userID)
	return nil
}

// GetActiveSessions lists the userIDs with a live handle, oldest first.
func (m *Manager) GetActiveSessions() []string {
	type entry struct {
		userID string
		seq    uint64
	}

	m.mu.RLock()
	active := make([]entry, 0, len(m.tenants))
	for userID, t := range m.tenants {
		t.mu.Lock()
		if t.conn != nil {
			active = append(active, entry{userID, t.seq})
		}
		t.mu.Unlock()
	}
	m.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool { return active[i].seq < active[j].seq })
	ids := make([]string, len(active))
	for i, e := range active {
		ids[i] = e.userID
	}
	return ids
}

// Run re-persists connected for every live handle until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.timings.StatusRefresh <= 0 {
		return
	}
	tick := time.NewTicker(m.timings.StatusRefresh)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			for _, userID := range m.GetActiveSessions() {
				m.setStatus(ctx, userID, StatusConnected)
			}
		}
	}
}

// Close stops every link without touching stored state, so sessions resume
// on the next start.
func (m *Manager) Close() {
	m.mu.Lock()
	links := make([]*connector.Link, 0, len(m.tenants))
	for userID, t := range m.tenants {
		t.mu.Lock()
		t.gen++
		t.removed = true
		if t.link != nil {
			links = append(links, t.link)
		}
		if t.hs != nil {
			t.hs.resolve()
		}
		t.link, t.conn, t.hs = nil, nil, nil
		t.stopLoginTimer()
		t.mu.Unlock()
		delete(m.tenants, userID)
	}
	m.mu.Unlock()

	for _, l := range links {
		l.Stop()
	}
}
