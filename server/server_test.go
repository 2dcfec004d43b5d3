package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jeremygit/gummi-nfc/nfc"
	"github.com/jeremygit/gummi-nfc/nfc/tagsession"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeController records calls and publishes snapshots to subscribers.
type fakeController struct {
	mu       sync.Mutex
	snap     tagsession.Snapshot
	startErr error
	starts   []tagsession.Mode
	subs     []chan tagsession.Snapshot
}

func newFakeController() *fakeController {
	return &fakeController{snap: tagsession.Snapshot{State: tagsession.StateIdle, ReadBuffer: []string{}}}
}

func (f *fakeController) publishLocked() {
	for _, ch := range f.subs {
		select {
		case ch <- f.snap:
		default:
		}
	}
}

func (f *fakeController) Start(mode tagsession.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts = append(f.starts, mode)
	f.snap.Mode = mode
	f.snap.State = tagsession.StateScanning
	f.publishLocked()
	return nil
}

func (f *fakeController) Cancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.snap.State.Live() {
		return false
	}
	f.snap.State = tagsession.StateInvalidated
	f.snap.LastError = nfc.ErrCancelled
	f.publishLocked()
	return true
}

func (f *fakeController) SetPendingWritePayload(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.PendingWritePayload = text
	f.publishLocked()
	return nil
}

func (f *fakeController) ClearReadBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.ReadBuffer = []string{}
	f.publishLocked()
	return nil
}

func (f *fakeController) Snapshot() tagsession.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Subscribe() (<-chan tagsession.Snapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan tagsession.Snapshot, 16)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeController) Starts() []tagsession.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tagsession.Mode(nil), f.starts...)
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	cfg.DisableMDNS = true
	cfg.Logger = log.New(io.Discard, "", 0)
	s := New(cfg)
	ts := httptest.NewServer(s.Routes())

	ctx, cancel := context.WithCancel(context.Background())
	s.handlerRegistry.StartLifecycleHandlers(ctx)
	t.Cleanup(func() {
		cancel()
		s.Stop()
		ts.Close()
	})
	return s, ts
}

// snapshotBody mirrors the JSON form of tagsession.Snapshot.
type snapshotBody struct {
	Mode                string   `json:"mode"`
	State               string   `json:"state"`
	ReadBuffer          []string `json:"readBuffer"`
	PendingWritePayload string   `json:"pendingWritePayload"`
	LastError           string   `json:"lastError"`
}

func doJSON(t *testing.T, method, url, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, Config{Session: newFakeController()})

	resp, body := doJSON(t, http.MethodGet, ts.URL+RouteHealth, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CORSAllowOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+RouteHealth, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPreflightRequest(t *testing.T) {
	_, ts := newTestServer(t, Config{Session: newFakeController()})

	resp, _ := doJSON(t, http.MethodOptions, ts.URL+RouteSession, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CORSAllowMethods, resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestSessionEndpoints(t *testing.T) {
	ctrl := newFakeController()
	_, ts := newTestServer(t, Config{Session: ctrl})

	resp, body := doJSON(t, http.MethodPut, ts.URL+RoutePayload, `{"text":"hello"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap snapshotBody
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "hello", snap.PendingWritePayload)

	resp, body = doJSON(t, http.MethodPost, ts.URL+RouteSession, `{"mode":"write"}`, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "scanning", snap.State)
	assert.Equal(t, "write", snap.Mode)
	assert.Equal(t, []tagsession.Mode{tagsession.ModeWrite}, ctrl.Starts())

	resp, body = doJSON(t, http.MethodPost, ts.URL+RouteSessionCancel, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"cancelled":true`)
	assert.Contains(t, string(body), `"lastError":"Cancelled"`)

	resp, body = doJSON(t, http.MethodPost, ts.URL+RouteBufferClear, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Empty(t, snap.ReadBuffer)

	resp, body = doJSON(t, http.MethodGet, ts.URL+RouteState, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "invalidated", snap.State)
}

func TestStartSessionErrors(t *testing.T) {
	tests := []struct {
		name       string
		startErr   error
		body       string
		wantStatus int
		wantCode   string
	}{
		{"busy", nfc.NewError(nfc.ErrSessionBusy, "Start", nil), `{"mode":"read"}`, http.StatusConflict, ErrCodeSessionBusy},
		{"no radio", nfc.NewError(nfc.ErrScanningUnavailable, "Start", nil), `{"mode":"read"}`, http.StatusServiceUnavailable, ErrCodeScanningUnavailable},
		{"stopped", tagsession.ErrRunnerStopped, `{"mode":"read"}`, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"bad mode", nil, `{"mode":"erase"}`, http.StatusBadRequest, ErrCodeInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController()
			ctrl.startErr = tt.startErr
			_, ts := newTestServer(t, Config{Session: ctrl})

			resp, body := doJSON(t, http.MethodPost, ts.URL+RouteSession, tt.body, nil)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, string(body), `"code":"`+tt.wantCode+`"`)
			assert.Empty(t, ctrl.Starts())
		})
	}
}

func TestHandshakeWithAPISecret(t *testing.T) {
	ctrl := newFakeController()
	_, ts := newTestServer(t, Config{Session: ctrl, APISecret: "test-secret"})

	// Mutations need a token.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+RouteSession, `{"mode":"read"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Reads do not.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+RouteState, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+RouteHandshake, `{"secret":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, ts.URL+RouteHandshake, `{"secret":"test-secret"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var handshake struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &handshake))
	require.NotEmpty(t, handshake.Token)

	// A second client cannot claim the token.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+RouteHandshake, `{"secret":"test-secret"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	auth := http.Header{"Authorization": {AuthorizationScheme + handshake.Token}}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+RouteSession, `{"mode":"read"}`, auth)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []tagsession.Mode{tagsession.ModeRead}, ctrl.Starts())

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+RouteHandshake, "", auth)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+RouteSessionCancel, "", auth)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + RouteWebSocket + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntil reads frames until one satisfies match.
func readUntil(t *testing.T, ws *websocket.Conn, match func(map[string]json.RawMessage) bool) map[string]json.RawMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg map[string]json.RawMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func hasType(typ string) func(map[string]json.RawMessage) bool {
	return func(msg map[string]json.RawMessage) bool {
		return string(msg["type"]) == `"`+typ+`"`
	}
}

func TestWebSocketInitialStateAndBroadcast(t *testing.T) {
	ctrl := newFakeController()
	s, ts := newTestServer(t, Config{Session: ctrl})
	ws := dialWS(t, ts, "")

	first := readUntil(t, ws, hasType(WSMessageTypeState))
	assert.Contains(t, string(first["payload"]), `"state":"idle"`)

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, ctrl.Start(tagsession.ModeRead))

	update := readUntil(t, ws, hasType(WSMessageTypeState))
	assert.Contains(t, string(update["payload"]), `"state":"scanning"`)
}

func TestWebSocketRequests(t *testing.T) {
	ctrl := newFakeController()
	_, ts := newTestServer(t, Config{Session: ctrl})
	ws := dialWS(t, ts, "")

	require.NoError(t, ws.WriteJSON(map[string]any{
		"id":      "req-1",
		"type":    WSMessageTypeSetPayload,
		"payload": map[string]any{"text": "hi"},
	}))
	resp := readUntil(t, ws, hasType(WSMessageTypeResponse))
	assert.Equal(t, `"req-1"`, string(resp["id"]))
	assert.Equal(t, "true", string(resp["success"]))
	assert.Equal(t, "hi", ctrl.Snapshot().PendingWritePayload)

	require.NoError(t, ws.WriteJSON(map[string]any{
		"id":      "req-2",
		"type":    WSMessageTypeStartSession,
		"payload": map[string]any{"mode": "write"},
	}))
	resp = readUntil(t, ws, hasType(WSMessageTypeResponse))
	assert.Equal(t, `"req-2"`, string(resp["id"]))
	assert.Equal(t, []tagsession.Mode{tagsession.ModeWrite}, ctrl.Starts())

	require.NoError(t, ws.WriteJSON(map[string]any{"id": "req-3", "type": "format"}))
	errResp := readUntil(t, ws, hasType(WSMessageTypeError))
	assert.Equal(t, `"req-3"`, string(errResp["id"]))
	assert.Contains(t, string(errResp["payload"]), ErrCodeUnknownType)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errResp = readUntil(t, ws, hasType(WSMessageTypeError))
	assert.Contains(t, string(errResp["payload"]), ErrCodeParse)
}

func TestWebSocketRequiresToken(t *testing.T) {
	_, ts := newTestServer(t, Config{Session: newFakeController(), APISecret: "s3cret"})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + RouteWebSocket
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, body := doJSON(t, http.MethodPost, ts.URL+RouteHandshake, `{"secret":"s3cret"}`, nil)
	var handshake struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &handshake))

	ws := dialWS(t, ts, "?"+TokenQueryParam+"="+handshake.Token)
	readUntil(t, ws, hasType(WSMessageTypeState))
}

func TestCustomWebSocketHandlerTakesOver(t *testing.T) {
	var hits int
	var mu sync.Mutex
	takeover := handlerFunc(func(s HandlerServer) {
		s.HandleWebSocket(
			func(r *http.Request) bool { return r.URL.Query().Get("mode") == "device" },
			func(w http.ResponseWriter, r *http.Request) bool {
				mu.Lock()
				hits++
				mu.Unlock()
				w.WriteHeader(http.StatusTeapot)
				return true
			},
		)
	})
	_, ts := newTestServer(t, Config{Session: newFakeController(), Handlers: []ServerHandler{takeover}})

	resp, _ := doJSON(t, http.MethodGet, ts.URL+RouteWebSocket+"?mode=device", "", nil)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	mu.Lock()
	assert.Equal(t, 1, hits)
	mu.Unlock()
}

// handlerFunc adapts a function to ServerHandler.
type handlerFunc func(s HandlerServer)

func (f handlerFunc) Register(s HandlerServer) { f(s) }

func TestSendErrorResponse(t *testing.T) {
	var buf bytes.Buffer
	w := jsonWriterFunc(func(v any) error { return json.NewEncoder(&buf).Encode(v) })

	require.NoError(t, SendErrorResponse(w, "42", ErrCodeSessionBusy, "busy"))
	assert.JSONEq(t, `{"id":"42","type":"error","success":false,"error":"busy","payload":{"code":"SESSION_BUSY"}}`, buf.String())
}

type jsonWriterFunc func(v any) error

func (f jsonWriterFunc) WriteJSON(v any) error { return f(v) }
