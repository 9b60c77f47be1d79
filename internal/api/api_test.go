package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa-gateway/internal/infra/logger"
	"wa-gateway/internal/service/connector"
	"wa-gateway/internal/service/send"
	"wa-gateway/internal/service/session"
	"wa-gateway/internal/store"
	"wa-gateway/internal/transport"
	"wa-gateway/internal/transport/transporttest"
)

type memBlobs map[string][]byte

func (m memBlobs) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m[key]
	return ok, nil
}

func (m memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	return m[key], nil
}

type fixture struct {
	mr      *miniredis.Miniredis
	dialer  *transporttest.Dialer
	manager *session.Manager
	server  *Server
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.Nop()
	kv := store.NewKV(rdb, "whatsapp:")
	creds := store.NewCredentialStore(kv, time.Hour, time.Hour, log)
	status := store.NewStatusStore(kv, time.Hour, 300*time.Second)
	dialer := transporttest.NewDialer()

	manager := session.NewManager(
		connector.New(dialer, creds, 10*time.Millisecond, log),
		status,
		session.Timings{PairingWait: 300 * time.Millisecond, ConcurrentWait: 100 * time.Millisecond, LoginTimeout: time.Minute},
		log,
	)
	t.Cleanup(manager.Close)

	sender := send.NewSendService(manager, memBlobs{"img/a.png": []byte("\x89PNG\r\n\x1a\n")}, log)
	return &fixture{
		mr:      mr,
		dialer:  dialer,
		manager: manager,
		server:  New(manager, sender, token, log),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (f *fixture) connect(t *testing.T, userID string) *transporttest.Conn {
	t.Helper()
	f.dialer.OnDial(func(c *transporttest.Conn) { c.Emit(transport.Opened()) })
	rec, body := f.do(t, http.MethodPost, "/sessions/"+userID+"/create", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "connected", body["status"])
	conn, err := f.dialer.Next(time.Second)
	require.NoError(t, err)
	return conn
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "token")
	rec, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "whatsapp-gateway", body["service"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestCreateSessionWithQR(t *testing.T) {
	f := newFixture(t, "")
	f.dialer.OnDial(func(c *transporttest.Conn) { c.Emit(transport.PairingPayload("2@scan-me")) })

	rec, body := f.do(t, http.MethodPost, "/sessions/u1/create", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"qr": "2@scan-me", "status": "qr_pending"}, body)

	rec, body = f.do(t, http.MethodGet, "/sessions/u1/qr", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2@scan-me", body["qr"])
	assert.Equal(t, "qr_pending", body["status"])
	assert.True(t, strings.HasPrefix(body["qrImage"].(string), "data:image/png;base64,"))

	rec, _ = f.do(t, http.MethodGet, "/sessions/u1/qr.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))

	rec, body = f.do(t, http.MethodGet, "/sessions/u1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "qr_pending", "qr": "2@scan-me", "connected": false, "userId": "u1"}, body)
}

func TestCreateSessionTimeout(t *testing.T) {
	f := newFixture(t, "")

	rec, body := f.do(t, http.MethodPost, "/sessions/u1/create", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"qr": nil, "status": "timeout"}, body)
}

func TestQRNotAvailable(t *testing.T) {
	f := newFixture(t, "")

	rec, body := f.do(t, http.MethodGet, "/sessions/u1/qr", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "QR code not available", body["error"])

	rec, _ = f.do(t, http.MethodGet, "/sessions/u1/qr.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusLifecycle(t *testing.T) {
	f := newFixture(t, "")

	_, body := f.do(t, http.MethodGet, "/sessions/u1/status", "")
	assert.Equal(t, "not_found", body["status"])

	f.connect(t, "u1")

	_, body = f.do(t, http.MethodGet, "/sessions/u1/status", "")
	assert.Equal(t, map[string]any{"status": "connected", "qr": nil, "connected": true, "userId": "u1"}, body)

	_, body = f.do(t, http.MethodGet, "/sessions", "")
	assert.Equal(t, map[string]any{"sessions": []any{"u1"}}, body)

	rec, body := f.do(t, http.MethodDelete, "/sessions/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": true}, body)

	_, body = f.do(t, http.MethodGet, "/sessions/u1/status", "")
	assert.Equal(t, "not_found", body["status"])

	_, body = f.do(t, http.MethodGet, "/sessions", "")
	assert.Equal(t, map[string]any{"sessions": []any{}}, body)
}

func TestSendText(t *testing.T) {
	f := newFixture(t, "")
	conn := f.connect(t, "u1")

	rec, body := f.do(t, http.MethodPost, "/send-text", `{"sessionUserId":"u1","to":"62811","message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": true, "messageId": "MSG-1"}, body)
	require.Len(t, conn.Sent(), 1)
	assert.Equal(t, "hi", conn.Sent()[0].Msg.Text)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t, "")

	for path, payload := range map[string]string{
		"/send-text":  `{"sessionUserId":"u1","to":"62811"}`,
		"/send-image": `{"sessionUserId":"u1","imageKey":"img/a.png"}`,
		"/send-audio": `{"to":"62811","audioKey":"a.ogg"}`,
	} {
		rec, body := f.do(t, http.MethodPost, path, payload)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Contains(t, body["error"], "Missing required fields", path)
	}
}

func TestSendWithoutSession(t *testing.T) {
	f := newFixture(t, "")

	rec, _ := f.do(t, http.MethodPost, "/send-text", `{"sessionUserId":"u1","to":"62811","message":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMissingMedia(t *testing.T) {
	f := newFixture(t, "")
	f.connect(t, "u1")

	rec, body := f.do(t, http.MethodPost, "/send-audio", `{"sessionUserId":"u1","to":"62811","audioKey":"none.ogg"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Media not found", body["error"])

	rec, _ = f.do(t, http.MethodPost, "/send-image", `{"sessionUserId":"u1","to":"62811","imageKey":"img/a.png"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSendOnClosedConnection(t *testing.T) {
	f := newFixture(t, "")
	conn := f.connect(t, "u1")
	conn.FailSends(transport.ErrConnectionClosed)

	rec, body := f.do(t, http.MethodPost, "/send-text", `{"sessionUserId":"u1","to":"62811","message":"hi"}`)
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)
	assert.Equal(t, "CONNECTION_CLOSED", body["code"])

	// the handle is gone and the status says so
	_, body = f.do(t, http.MethodGet, "/sessions/u1/status", "")
	assert.Equal(t, "disconnected", body["status"])
	_, body = f.do(t, http.MethodGet, "/sessions", "")
	assert.Equal(t, map[string]any{"sessions": []any{}}, body)

	rec, _ = f.do(t, http.MethodPost, "/send-text", `{"sessionUserId":"u1","to":"62811","message":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendOtherFailure(t *testing.T) {
	f := newFixture(t, "")
	conn := f.connect(t, "u1")
	conn.FailSends(assert.AnError)

	rec, body := f.do(t, http.MethodPost, "/send-text", `{"sessionUserId":"u1","to":"62811","message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to send message", body["error"])
	_, err := f.manager.GetSession("u1")
	assert.NoError(t, err)
}

func TestTokenRequired(t *testing.T) {
	f := newFixture(t, "s3cret")

	rec, _ := f.do(t, http.MethodGet, "/sessions", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	out := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)
}
