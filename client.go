package realtime

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/markb/realtime-go/internal/rlog"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultTimeout           = 10 * time.Second
	phoenixTopic             = "phoenix"
	// refWrap mirrors the source protocol's JS safe-integer boundary so ref
	// values stay representable the same way across client implementations.
	refWrap = uint64(1) << 53
)

// Client owns one logical connection: the transport, every joined Channel,
// the heartbeat loop, and reconnect backoff. The zero value is not usable;
// build one with NewClient.
type Client struct {
	mu sync.Mutex

	// id identifies this client instance in its own log lines, mirroring the
	// teacher's per-connection id used to correlate a hub's log output.
	id string

	endpointURL      string
	httpEndpoint     string
	apiKey           string
	params           map[string]string
	transportFactory TransportFactory
	transport        Transport

	heartbeatInterval time.Duration
	pushTimeoutD      time.Duration

	accessToken         string
	accessTokenProvider func(context.Context) (string, error)

	reconnectBackoff backoffFunc
	rejoinBackoff    backoffFunc
	reconnectTimer   *backoffTimer

	logger   *rlog.Logger
	logLevel string

	channels map[string]*Channel

	ref                uint64
	connected          bool
	explicitDisconnect bool
	pendingHeartbeat   string
	heartbeatStop      chan struct{}

	sendBuffer []pendingSend

	// messageHook, if set, transforms every non-empty decoded payload before
	// dispatch. Returning an empty map for a non-empty input is a contract
	// violation — almost always a hook that forgot an early return — and is
	// reported via OnError rather than silently dropping the frame.
	messageHook func(event string, payload map[string]any) map[string]any

	broadcaster *httpBroadcaster

	onOpenHooks      []func()
	onCloseHooks     []func(code int, reason string)
	onErrorHooks     []func(error)
	onHeartbeatHooks []func(status string, err error)
}

type pendingSend struct {
	data     []byte
	isBinary bool
}

// NewClient builds a Client dialing endpointURL (its websocket origin, e.g.
// "wss://project.supabase.co/realtime/v1/websocket") when Connect is called.
func NewClient(endpointURL string, opts ...Option) *Client {
	c := &Client{
		id:                uuid.New().String(),
		endpointURL:       endpointURL,
		params:            map[string]string{"vsn": "1.0.0"},
		transportFactory:  newWSTransport,
		heartbeatInterval: defaultHeartbeatInterval,
		pushTimeoutD:      defaultTimeout,
		reconnectBackoff:  defaultReconnectBackoff,
		rejoinBackoff:     defaultRejoinBackoff,
		channels:          make(map[string]*Channel),
		logLevel:          "info",
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = rlog.New(&rlog.Config{Level: c.logLevel, Format: "text", BufferSize: 200})
	}
	if c.httpEndpoint == "" {
		c.httpEndpoint = deriveHTTPEndpoint(endpointURL)
	}
	c.broadcaster = newHTTPBroadcaster(c.httpEndpoint, c.apiKey, c.currentAccessToken)
	c.reconnectTimer = newBackoffTimer(c.reconnectBackoff, c.reconnectAfterBackoff)
	return c
}

func deriveHTTPEndpoint(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = strings.TrimSuffix(u.Path, "/websocket")
	u.RawQuery = ""
	return u.String()
}

func (c *Client) dialURL() string {
	u, err := url.Parse(c.endpointURL)
	if err != nil {
		return c.endpointURL
	}
	q := u.Query()
	c.mu.Lock()
	for k, v := range c.params {
		q.Set(k, v)
	}
	c.mu.Unlock()
	u.RawQuery = q.Encode()
	return u.String()
}

// nextRef returns a fresh, monotonically increasing ref as a string,
// wrapping at refWrap rather than overflowing.
func (c *Client) nextRef() string {
	c.mu.Lock()
	c.ref = (c.ref + 1) % refWrap
	r := c.ref
	c.mu.Unlock()
	return strconv.FormatUint(r, 10)
}

func (c *Client) currentAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) pushTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pushTimeoutD
}

func (c *Client) rejoinAfter() backoffFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejoinBackoff
}

// Channel constructs a new Channel for topic and registers it, first
// unsubscribing any existing channel on that same topic that is still
// joined or joining (the server allows only one live subscription per topic
// at a time). Unlike a cache lookup, calling this twice for the same topic
// always yields two distinct Channels — rejoining with different config
// means building a new one rather than reconfiguring the old.
func (c *Client) Channel(topic string, opts ...ChannelOption) *Channel {
	c.leaveOpenTopic(topic)

	ch := newChannel(c, topic, opts...)
	c.mu.Lock()
	c.channels[topic] = ch
	c.mu.Unlock()
	return ch
}

// leaveOpenTopic unsubscribes any channel already registered on topic whose
// join is still live, per the protocol's _leave_open_topic.
func (c *Client) leaveOpenTopic(topic string) {
	c.mu.Lock()
	existing, ok := c.channels[topic]
	c.mu.Unlock()
	if !ok {
		return
	}
	switch existing.State() {
	case ChannelJoined, ChannelJoining:
		existing.Unsubscribe()
	}
}

func (c *Client) registerChannel(ch *Channel) {
	c.mu.Lock()
	c.channels[ch.topic] = ch
	c.mu.Unlock()
}

func (c *Client) removeChannel(ch *Channel) {
	c.mu.Lock()
	if cur, ok := c.channels[ch.topic]; ok && cur == ch {
		delete(c.channels, ch.topic)
	}
	c.mu.Unlock()
}

func (c *Client) httpBroadcast(topic, event string, payload map[string]any, private bool) error {
	return c.broadcaster.send(context.Background(), topic, event, payload, private)
}

// Connect dials the transport. It is idempotent while already connected.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.explicitDisconnect = false
	transport := c.transportFactory(c.dialURL(), []string{})
	c.transport = transport
	c.mu.Unlock()

	transport.OnOpen(c.handleOpen)
	transport.OnMessage(c.handleMessage)
	transport.OnClose(c.handleClose)
	transport.OnError(c.handleError)

	return transport.Connect()
}

// Disconnect closes the transport and suppresses the automatic reconnect
// that would otherwise follow.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.explicitDisconnect = true
	transport := c.transport
	c.mu.Unlock()

	c.reconnectTimer.reset()
	c.stopHeartbeat()

	if transport == nil {
		return nil
	}
	return transport.Close(1000, "client disconnect")
}

func (c *Client) handleOpen() {
	c.mu.Lock()
	c.connected = true
	buffered := c.sendBuffer
	c.sendBuffer = nil
	transport := c.transport
	c.mu.Unlock()

	c.reconnectTimer.reset()
	c.logger.Info("realtime: connected", "client_id", c.id)

	for _, f := range buffered {
		transport.Send(f.data, f.isBinary)
	}

	c.startHeartbeat()

	for _, h := range c.onOpenHooks {
		h()
	}
}

func (c *Client) handleClose(code int, reason string) {
	c.mu.Lock()
	c.connected = false
	explicit := c.explicitDisconnect
	chans := c.channelsSnapshot()
	c.mu.Unlock()

	c.stopHeartbeat()
	c.logger.Warn("realtime: connection closed", "client_id", c.id, "code", code, "reason", reason)

	for _, ch := range chans {
		ch.trigger(&Frame{Topic: ch.topic, Event: eventErrorEvt, Payload: map[string]any{"reason": reason}})
	}

	for _, h := range c.onCloseHooks {
		h(code, reason)
	}

	if !explicit {
		c.reconnectTimer.scheduleTimer()
	}
}

func (c *Client) handleError(err error) {
	c.logger.Error("realtime: transport error", "error", err.Error())
	for _, h := range c.onErrorHooks {
		h(err)
	}
}

func (c *Client) reconnectAfterBackoff() {
	c.mu.Lock()
	explicit := c.explicitDisconnect
	c.mu.Unlock()
	if explicit {
		return
	}
	if err := c.Connect(); err != nil {
		c.logger.Warn("realtime: reconnect attempt failed", "error", err.Error())
		c.reconnectTimer.scheduleTimer()
	}
}

func (c *Client) channelsSnapshot() []*Channel {
	out := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

// handleMessage decodes one incoming frame and routes it: heartbeat replies
// clear the pending marker, everything else dispatches to the channel whose
// topic matches.
func (c *Client) handleMessage(data []byte, isBinary bool) {
	f, err := DecodeFrame(data, isBinary)
	if err != nil {
		c.logger.Debug("realtime: dropping unparseable frame", "error", err.Error())
		return
	}

	if f.Topic == phoenixTopic && f.Event == replyEvent {
		c.mu.Lock()
		matched := f.Ref != "" && f.Ref == c.pendingHeartbeat
		if matched {
			c.pendingHeartbeat = ""
		}
		c.mu.Unlock()
		if matched {
			c.fireHeartbeat("ok", nil)
		}
		return
	}

	c.mu.Lock()
	hook := c.messageHook
	c.mu.Unlock()
	if hook != nil {
		if payload, ok := f.Payload.(map[string]any); ok && len(payload) > 0 {
			out := hook(f.Event, payload)
			if len(out) == 0 {
				c.handleError(fmt.Errorf("%w: event %q", ErrHookContract, f.Event))
				return
			}
			f.Payload = out
		}
	}

	c.mu.Lock()
	ch, ok := c.channels[f.Topic]
	c.mu.Unlock()
	if ok {
		ch.trigger(f)
	}
}

// push encodes and sends f, buffering it while disconnected so a caller's
// push issued just before a reconnect isn't silently lost.
func (c *Client) push(f *Frame) error {
	data, isBinary, err := EncodeFrame(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.connected || c.transport == nil {
		c.sendBuffer = append(c.sendBuffer, pendingSend{data: data, isBinary: isBinary})
		c.mu.Unlock()
		return nil
	}
	transport := c.transport
	c.mu.Unlock()

	return transport.Send(data, isBinary)
}

// OnOpen, OnClose, and OnError register connection-lifecycle observers,
// distinct from any one channel's own status callback.
func (c *Client) OnOpen(h func())                         { c.onOpenHooks = append(c.onOpenHooks, h) }
func (c *Client) OnClose(h func(code int, reason string)) { c.onCloseHooks = append(c.onCloseHooks, h) }
func (c *Client) OnError(h func(error))                   { c.onErrorHooks = append(c.onErrorHooks, h) }

// OnHeartbeat registers an observer of the heartbeat lifecycle: status is
// one of "sent", "ok", "timeout", or "error".
func (c *Client) OnHeartbeat(h func(status string, err error)) {
	c.mu.Lock()
	c.onHeartbeatHooks = append(c.onHeartbeatHooks, h)
	c.mu.Unlock()
}

func (c *Client) fireHeartbeat(status string, err error) {
	c.mu.Lock()
	hooks := append([]func(string, error){}, c.onHeartbeatHooks...)
	c.mu.Unlock()
	for _, h := range hooks {
		h(status, err)
	}
}

// RecentLogs returns the last n lines captured by the client's logger.
func (c *Client) RecentLogs(n int) []string {
	return c.logger.RecentLines(n)
}

func (c *Client) startHeartbeat() {
	c.mu.Lock()
	c.heartbeatStop = make(chan struct{})
	stop := c.heartbeatStop
	interval := c.heartbeatInterval
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sendHeartbeat()
			case <-stop:
				return
			}
		}
	}()
}

func (c *Client) stopHeartbeat() {
	c.mu.Lock()
	stop := c.heartbeatStop
	c.heartbeatStop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (c *Client) sendHeartbeat() {
	c.mu.Lock()
	if c.pendingHeartbeat != "" {
		transport := c.transport
		c.mu.Unlock()
		c.logger.Warn("realtime: heartbeat timeout, closing connection")
		c.fireHeartbeat("timeout", nil)
		if transport != nil {
			transport.Close(1000, "heartbeat timeout")
		}
		return
	}
	c.mu.Unlock()

	c.refreshAccessToken()

	ref := c.nextRef()
	c.mu.Lock()
	c.pendingHeartbeat = ref
	c.mu.Unlock()

	if err := c.push(&Frame{Topic: phoenixTopic, Event: "heartbeat", Ref: ref, Payload: map[string]any{}}); err != nil {
		c.fireHeartbeat("error", err)
		return
	}
	c.fireHeartbeat("sent", nil)
}

// refreshAccessToken fetches a fresh token from the configured provider, if
// any (keeping the current token when there is none or it fails), logs its
// expiry for visibility, and propagates it to every joined channel via an
// access_token push so the server's session renews without a rejoin. Nothing
// is pushed while no token is set.
func (c *Client) refreshAccessToken() {
	c.mu.Lock()
	provider := c.accessTokenProvider
	token := c.accessToken
	c.mu.Unlock()

	if provider != nil {
		fresh, err := provider(context.Background())
		if err != nil {
			c.logger.Warn("realtime: access token refresh failed, keeping current token", "error", err.Error())
		} else {
			token = fresh
		}
	}
	if token == "" {
		return
	}

	if tok, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{}); err == nil {
		if exp, err := tok.Claims.GetExpirationTime(); err == nil && exp != nil {
			c.logger.Debug("realtime: refreshed access token", "expires_at", exp.Time.Format(time.RFC3339))
		}
	}

	c.mu.Lock()
	c.accessToken = token
	chans := c.channelsSnapshot()
	c.mu.Unlock()

	for _, ch := range chans {
		if ch.State() != ChannelJoined {
			continue
		}
		ch.push("access_token", func() map[string]any {
			return map[string]any{"access_token": token}
		}, c.pushTimeout())
	}
}
