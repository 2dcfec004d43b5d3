package phonenfc

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jeremygit/gummi-nfc/nfc"
	"github.com/jeremygit/gummi-nfc/nfc/tagsession"
	"github.com/jeremygit/gummi-nfc/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

var quietLogger = log.New(io.Discard, "", 0)

func newTestBridge(t *testing.T) (*Bridge, *nfc.FakeClock) {
	t.Helper()
	clock := nfc.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBridge(0, clock)
	b.SetLogger(quietLogger)
	t.Cleanup(b.Close)
	return b, clock
}

// newTestServer mounts the bridge on an agent server.
func newTestServer(t *testing.T, b *Bridge) *httptest.Server {
	t.Helper()
	srv := server.New(server.Config{
		Handlers:    []server.ServerHandler{b},
		DisableMDNS: true,
		Logger:      quietLogger,
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

// phone is the test's side of a phone connection.
type phone struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialPhone(t *testing.T, ts *httptest.Server) *phone {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + server.RouteWebSocket + "?mode=device"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &phone{t: t, ws: ws}
}

func (p *phone) send(msgType string, payload any) {
	p.t.Helper()
	require.NoError(p.t, p.ws.WriteJSON(map[string]any{"type": msgType, "payload": payload}))
}

// frame is a decoded agent message.
type frame struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
}

func (p *phone) expect(msgType string, payload any) frame {
	p.t.Helper()
	p.ws.SetReadDeadline(time.Now().Add(waitFor))
	var f frame
	require.NoError(p.t, p.ws.ReadJSON(&f))
	require.Equal(p.t, msgType, f.Type, "unexpected frame: %s", f.Payload)
	if payload != nil {
		require.NoError(p.t, json.Unmarshal(f.Payload, payload))
	}
	return f
}

func (p *phone) register(readingAvailable bool) string {
	p.t.Helper()
	p.send(MessageTypeRegisterDevice, DeviceRegistrationRequest{
		DeviceName:       "Test iPhone",
		Platform:         "ios",
		AppVersion:       "1.0.0",
		ReadingAvailable: readingAvailable,
	})
	var resp DeviceRegistrationResponse
	f := p.expect(MessageTypeRegisterDeviceResponse, &resp)
	require.True(p.t, f.Success)
	require.NotEmpty(p.t, resp.DeviceID)
	return resp.DeviceID
}

// recorder collects delivered events.
type recorder struct {
	events chan tagsession.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan tagsession.Event, 16)}
}

func (r *recorder) deliver(ev tagsession.Event) { r.events <- ev }

func (r *recorder) next(t *testing.T) tagsession.Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		return tagsession.Event{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected event %s", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridgeWriteSession(t *testing.T) {
	b, _ := newTestBridge(t)
	ts := newTestServer(t, b)
	p := dialPhone(t, ts)

	assert.False(t, b.ReadingAvailable())
	p.register(true)
	require.Eventually(t, b.ReadingAvailable, waitFor, time.Millisecond)

	rec := newRecorder()
	id := uuid.New()
	handle, err := b.BeginScanning(id, "Hold phone near tag", rec.deliver)
	require.NoError(t, err)

	var begin BeginScanningPayload
	p.expect(MessageTypeBeginScanning, &begin)
	assert.Equal(t, BeginScanningPayload{Session: id.String(), Prompt: "Hold phone near tag"}, begin)

	p.send(MessageTypeTagsDetected, TagsDetectedPayload{
		Session: id.String(),
		Tags:    []TagData{{UID: "04a1b2c3", Type: "NTAG215"}, {UID: "bogus"}},
	})
	ev := rec.next(t)
	assert.Equal(t, tagsession.EventTagsDetected, ev.Kind)
	assert.Equal(t, id, ev.Session)
	assert.Equal(t, []tagsession.TagRef{{UID: "04:A1:B2:C3", Type: "NTAG215"}}, ev.Tags)
	tag := ev.Tags[0]

	handle.Connect(tag)
	var connect TagCommandPayload
	p.expect(MessageTypeConnect, &connect)
	assert.Equal(t, "04:A1:B2:C3", connect.Tag.UID)
	p.send(MessageTypeConnectResult, ConnectResultPayload{Session: id.String()})
	ev = rec.next(t)
	assert.Equal(t, tagsession.EventConnectResult, ev.Kind)
	assert.NoError(t, ev.Err)

	handle.QueryStatus(tag)
	p.expect(MessageTypeQueryStatus, nil)
	p.send(MessageTypeStatusResult, StatusResultPayload{Session: id.String(), Status: StatusReadWrite, Capacity: 496})
	ev = rec.next(t)
	assert.Equal(t, nfc.CapabilityReadWrite, nfc.Classify(ev.Status))
	assert.Equal(t, 496, ev.Status.Capacity)

	handle.SetAlert("Writing tag...")
	var alert SetAlertPayload
	p.expect(MessageTypeSetAlert, &alert)
	assert.Equal(t, "Writing tag...", alert.Text)

	record, err := nfc.EncodeText("hello")
	require.NoError(t, err)
	msg, err := nfc.NewMessage(record)
	require.NoError(t, err)
	handle.WriteMessage(tag, msg)

	var write WriteNDEFPayload
	p.expect(MessageTypeWriteNDEF, &write)
	written, err := ConvertNDEFMessageData(write.Message)
	require.NoError(t, err)
	text, ok := nfc.DecodeText(written.Records()[0])
	assert.True(t, ok)
	assert.Equal(t, "hello", text)

	p.send(MessageTypeOperationResult, OperationResultPayload{Session: id.String()})
	ev = rec.next(t)
	assert.Equal(t, tagsession.EventOperationResult, ev.Kind)
	assert.NoError(t, ev.Err)

	handle.Invalidate("Wrote data.")
	var inv InvalidatePayload
	p.expect(MessageTypeInvalidate, &inv)
	assert.Equal(t, "Wrote data.", inv.FinalPrompt)

	// Late callbacks for the finished session are rejected.
	p.send(MessageTypeOperationResult, OperationResultPayload{Session: id.String()})
	p.expect(MessageTypeError, nil)
	rec.none(t)
}

func TestBridgeReadResult(t *testing.T) {
	b, _ := newTestBridge(t)
	p := dialPhone(t, newTestServer(t, b))
	p.register(true)

	rec := newRecorder()
	id := uuid.New()
	handle, err := b.BeginScanning(id, "scan", rec.deliver)
	require.NoError(t, err)
	p.expect(MessageTypeBeginScanning, nil)

	handle.ReadMessages(tagsession.TagRef{UID: "04:A1"})
	p.expect(MessageTypeReadNDEF, nil)

	record, err := nfc.EncodeText("hi")
	require.NoError(t, err)
	msg, err := nfc.NewMessage(record)
	require.NoError(t, err)
	p.send(MessageTypeOperationResult, OperationResultPayload{
		Session:  id.String(),
		Messages: []NDEFMessageData{NDEFMessageDataFrom(msg), {}},
	})

	ev := rec.next(t)
	require.NoError(t, ev.Err)
	require.Len(t, ev.Messages, 1)
	text, ok := nfc.DecodeText(ev.Messages[0].Records()[0])
	assert.True(t, ok)
	assert.Equal(t, "hi", text)
}

func TestBridgeReadingUnavailable(t *testing.T) {
	b, _ := newTestBridge(t)
	p := dialPhone(t, newTestServer(t, b))
	p.register(false)

	_, ok := b.Device()
	assert.True(t, ok)
	assert.False(t, b.ReadingAvailable())
}

func TestBridgeNoDevice(t *testing.T) {
	b, _ := newTestBridge(t)

	_, err := b.BeginScanning(uuid.New(), "scan", newRecorder().deliver)
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestBridgeRejectsSecondPhone(t *testing.T) {
	b, _ := newTestBridge(t)
	ts := newTestServer(t, b)
	first := dialPhone(t, ts)
	first.register(true)

	second := dialPhone(t, ts)
	second.send(MessageTypeRegisterDevice, DeviceRegistrationRequest{DeviceName: "Pixel", Platform: "android"})
	f := second.expect(MessageTypeError, nil)
	assert.Contains(t, string(f.Payload), "DEVICE_ALREADY_CONNECTED")
}

func TestBridgeRegistrationValidation(t *testing.T) {
	tests := []struct {
		name string
		req  DeviceRegistrationRequest
	}{
		{"missing name", DeviceRegistrationRequest{Platform: "ios"}},
		{"bad platform", DeviceRegistrationRequest{DeviceName: "Phone", Platform: "symbian"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBridge(t)
			p := dialPhone(t, newTestServer(t, b))
			p.send(MessageTypeRegisterDevice, tt.req)
			f := p.expect(MessageTypeError, nil)
			assert.Contains(t, string(f.Payload), "INVALID_REQUEST")

			_, ok := b.Device()
			assert.False(t, ok)
		})
	}
}

func TestBridgeDisconnectFailsPendingCommand(t *testing.T) {
	b, _ := newTestBridge(t)
	p := dialPhone(t, newTestServer(t, b))
	p.register(true)

	rec := newRecorder()
	id := uuid.New()
	handle, err := b.BeginScanning(id, "scan", rec.deliver)
	require.NoError(t, err)
	p.expect(MessageTypeBeginScanning, nil)

	handle.Connect(tagsession.TagRef{UID: "04:A1"})
	p.expect(MessageTypeConnect, nil)
	p.ws.Close()

	ev := rec.next(t)
	assert.Equal(t, tagsession.EventConnectResult, ev.Kind)
	assert.ErrorIs(t, ev.Err, ErrDeviceDisconnect)
	assert.False(t, b.ReadingAvailable())

	// Invalidate after a disconnect still releases the session.
	handle.Invalidate("Some tag error.")
	rec.none(t)
}

func TestBridgeDisconnectWhileScanning(t *testing.T) {
	b, _ := newTestBridge(t)
	p := dialPhone(t, newTestServer(t, b))
	p.register(true)

	rec := newRecorder()
	id := uuid.New()
	_, err := b.BeginScanning(id, "scan", rec.deliver)
	require.NoError(t, err)
	p.expect(MessageTypeBeginScanning, nil)
	p.ws.Close()

	ev := rec.next(t)
	assert.Equal(t, tagsession.EventTagsDetected, ev.Kind)
	assert.Empty(t, ev.Tags)
}

// fakeConn is a jsonConn whose writes fail once failAfter frames were sent.
type fakeConn struct {
	mu        sync.Mutex
	sent      []server.WebsocketMessage
	failAfter int
	closed    bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) >= c.failAfter {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, v.(server.WebsocketMessage))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func attachFake(t *testing.T, b *Bridge, conn *fakeConn) *Device {
	t.Helper()
	d := NewDevice("dev-1", DeviceRegistrationRequest{DeviceName: "Fake", Platform: "ios", ReadingAvailable: true}, conn, b.clock.Now())
	require.NoError(t, b.attach(d))
	return d
}

func TestBridgeSendFailureDeliveredAsResult(t *testing.T) {
	b, _ := newTestBridge(t)
	attachFake(t, b, &fakeConn{failAfter: 1})

	rec := newRecorder()
	id := uuid.New()
	handle, err := b.BeginScanning(id, "scan", rec.deliver)
	require.NoError(t, err)

	handle.QueryStatus(tagsession.TagRef{UID: "04:A1"})
	ev := rec.next(t)
	assert.Equal(t, tagsession.EventStatusResult, ev.Kind)
	assert.Error(t, ev.Status.Err)
}

func TestBridgeBeginScanningSendFailure(t *testing.T) {
	b, _ := newTestBridge(t)
	attachFake(t, b, &fakeConn{failAfter: 0})

	_, err := b.BeginScanning(uuid.New(), "scan", newRecorder().deliver)
	assert.Error(t, err)
}

func TestBridgeCleanupInactiveDevice(t *testing.T) {
	b, clock := newTestBridge(t)
	conn := &fakeConn{failAfter: 100}
	attachFake(t, b, conn)

	clock.Advance(CleanupInterval)
	assert.True(t, b.ReadingAvailable())

	clock.Advance(2 * CleanupInterval)
	require.Eventually(t, conn.Closed, waitFor, time.Millisecond)
	assert.False(t, b.ReadingAvailable())
}
