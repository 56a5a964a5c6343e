package realtime

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a Transport double that never touches the network: tests
// drive it directly via Connect/deliver and inspect everything it was asked
// to Send.
type fakeTransport struct {
	mu       sync.Mutex
	sent     [][]byte
	closed   bool
	closeErr error

	onOpen    func()
	onMessage func(data []byte, isBinary bool)
	onClose   func(code int, reason string)
	onError   func(error)
}

func (f *fakeTransport) OnOpen(cb func())                              { f.onOpen = cb }
func (f *fakeTransport) OnMessage(cb func(data []byte, isBinary bool)) { f.onMessage = cb }
func (f *fakeTransport) OnClose(cb func(code int, reason string))      { f.onClose = cb }
func (f *fakeTransport) OnError(cb func(error))                        { f.onError = cb }

func (f *fakeTransport) Connect() error {
	if f.onOpen != nil {
		f.onOpen()
	}
	return nil
}

func (f *fakeTransport) Send(data []byte, isBinary bool) error {
	f.mu.Lock()
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	if f.onClose != nil {
		f.onClose(code, reason)
	}
	return f.closeErr
}

func (f *fakeTransport) deliver(data []byte, isBinary bool) {
	if f.onMessage != nil {
		f.onMessage(data, isBinary)
	}
}

func newFakeClient() (*Client, *fakeTransport) {
	ft := &fakeTransport{}
	c := NewClient("wss://example.invalid/realtime/v1/websocket",
		WithTransportFactory(func(url string, subprotocols []string) Transport { return ft }),
		WithHeartbeatInterval(time.Hour), // disable the ticker racing the test
	)
	return c, ft
}

func TestNextRefIsMonotonicAndWraps(t *testing.T) {
	c, _ := newFakeClient()
	c.ref = refWrap - 1

	first := c.nextRef()
	second := c.nextRef()

	assert.Equal(t, "18014398509481983", first)
	assert.Equal(t, "0", second)
}

func TestDialURLMergesParams(t *testing.T) {
	c, _ := newFakeClient()
	c.params["apikey"] = "secret"
	got := c.dialURL()
	assert.Contains(t, got, "apikey=secret")
	assert.Contains(t, got, "vsn=1.0.0")
}

func TestConnectFlushesBufferedSendsOnOpen(t *testing.T) {
	c, ft := newFakeClient()

	err := c.push(&Frame{Topic: "phoenix", Event: "heartbeat", Ref: "1", Payload: map[string]any{}})
	require.NoError(t, err)
	require.Len(t, ft.sent, 0, "a push made before Connect must be buffered, not sent")

	require.NoError(t, c.Connect())
	assert.True(t, c.isConnected())
	assert.Len(t, ft.sent, 1, "the buffered push should flush once the transport opens")
}

func TestHeartbeatReplyClearsPendingMarker(t *testing.T) {
	c, _ := newFakeClient()
	require.NoError(t, c.Connect())

	c.sendHeartbeat()
	ref := c.pendingHeartbeat
	require.NotEmpty(t, ref)

	data, isBinary, err := EncodeFrame(&Frame{Topic: phoenixTopic, Event: replyEvent, Ref: ref, Payload: map[string]any{"status": "ok", "response": map[string]any{}}})
	require.NoError(t, err)
	c.handleMessage(data, isBinary)

	assert.Empty(t, c.pendingHeartbeat)
}

func TestHeartbeatTimeoutClosesTransport(t *testing.T) {
	c, ft := newFakeClient()
	require.NoError(t, c.Connect())

	c.pendingHeartbeat = "stale-ref"
	c.sendHeartbeat()

	assert.True(t, ft.closed, "a missed heartbeat reply should close the transport")
}

func TestExplicitDisconnectSuppressesReconnect(t *testing.T) {
	c, ft := newFakeClient()
	require.NoError(t, c.Connect())

	require.NoError(t, c.Disconnect())
	ft.onClose(1000, "client disconnect")

	// reconnectTimer.reset() inside Disconnect, then handleClose would only
	// reschedule if explicitDisconnect were false.
	c.mu.Lock()
	tries := c.reconnectTimer.tries
	c.mu.Unlock()
	assert.Equal(t, 0, tries)
}

func TestServerCloseTriggersPhxErrorOnJoinedChannels(t *testing.T) {
	c, _ := newFakeClient()
	ch := c.Channel("room:lobby")
	ch.Subscribe(nil)
	ch.trigger(&Frame{Event: replyEvent, Ref: ch.joinRef(), Topic: "room:lobby", Payload: map[string]any{"status": "ok", "response": map[string]any{}}})
	require.Equal(t, ChannelJoined, ch.State())

	require.NoError(t, c.Connect())
	c.handleClose(1006, "abnormal closure")

	assert.Equal(t, ChannelErrored, ch.State())
}

func TestChannelRejoinsAfterSocketDrop(t *testing.T) {
	ft := &fakeTransport{}
	c := NewClient("wss://example.invalid/realtime/v1/websocket",
		WithTransportFactory(func(url string, subprotocols []string) Transport { return ft }),
		WithHeartbeatInterval(time.Hour),
		WithRejoinAfter(func(tries int) time.Duration { return 10 * time.Millisecond }),
	)
	ch := c.Channel("room:lobby")
	ch.Subscribe(nil)
	ch.trigger(&Frame{Event: replyEvent, Ref: ch.joinRef(), Topic: "room:lobby", Payload: map[string]any{"status": "ok", "response": map[string]any{}}})
	require.Equal(t, ChannelJoined, ch.State())

	firstJoinRef := ch.joinRef()
	ch.trigger(&Frame{Event: eventErrorEvt, Topic: "room:lobby", JoinRef: firstJoinRef})
	require.Equal(t, ChannelErrored, ch.State())

	require.Eventually(t, func() bool {
		return ch.State() == ChannelJoining
	}, time.Second, 5*time.Millisecond, "expected the channel's rejoin backoff to fire and resend the join push")
}

func TestChannelBroadcastFallsBackToHTTPWhenNotJoined(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient("wss://example.invalid/realtime/v1/websocket", WithHTTPEndpoint(srv.URL))
	ch := c.Channel("room:lobby")

	p, err := ch.Broadcast("chat", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Nil(t, p, "an unjoined channel's broadcast should go through HTTP, returning no Push")
	assert.Equal(t, "/api/broadcast", gotPath)
}
