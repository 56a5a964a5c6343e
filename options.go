package realtime

import (
	"context"
	"time"

	"github.com/markb/realtime-go/internal/rlog"
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithParams attaches static query parameters (e.g. "apikey", "vsn") to
// every dial URL.
func WithParams(params map[string]string) Option {
	return func(c *Client) {
		for k, v := range params {
			c.params[k] = v
		}
	}
}

// WithAPIKey sets the project API key sent both as a dial query parameter
// and as the "apikey" header on the HTTP broadcast fallback.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
		c.params["apikey"] = key
	}
}

// WithTransportFactory overrides the default gorilla/websocket transport,
// chiefly for tests.
func WithTransportFactory(f TransportFactory) Option {
	return func(c *Client) { c.transportFactory = f }
}

// WithHeartbeatInterval overrides the default 30s heartbeat cadence.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) { c.heartbeatInterval = d }
}

// WithTimeout overrides the default push timeout new Pushes inherit.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.pushTimeoutD = d }
}

// WithAccessToken sets a static bearer token sent with every join and
// refreshed heartbeat.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.accessToken = token }
}

// WithAccessTokenProvider installs a callback invoked before each heartbeat
// to fetch a fresh token — for short-lived tokens that need periodic
// renewal without the caller managing a timer themselves.
func WithAccessTokenProvider(fn func(context.Context) (string, error)) Option {
	return func(c *Client) { c.accessTokenProvider = fn }
}

// WithReconnectAfter overrides the socket reconnect backoff schedule.
func WithReconnectAfter(fn func(tries int) time.Duration) Option {
	return func(c *Client) { c.reconnectBackoff = fn }
}

// WithRejoinAfter overrides the per-channel rejoin backoff schedule applied
// to channels created after this option is set.
func WithRejoinAfter(fn func(tries int) time.Duration) Option {
	return func(c *Client) { c.rejoinBackoff = fn }
}

// WithLogger installs a caller-supplied logger instead of the client's
// default console+ring-buffer logger.
func WithLogger(l *rlog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithLogLevel configures the default logger's level ("debug", "info",
// "warn", "error"). Ignored if WithLogger was also given.
func WithLogLevel(level string) Option {
	return func(c *Client) { c.logLevel = level }
}

// WithMessageHook installs a transform run on every non-empty decoded
// payload before it reaches channel dispatch — e.g. to redact fields or
// normalize server-specific extensions. The hook must return a non-empty
// map for a non-empty input; returning an empty map surfaces
// ErrHookContract via OnError instead of silently dropping the frame.
func WithMessageHook(fn func(event string, payload map[string]any) map[string]any) Option {
	return func(c *Client) { c.messageHook = fn }
}

// WithHTTPEndpoint overrides the HTTP origin used for the broadcast
// fallback. By default it's derived from the websocket endpoint URL.
func WithHTTPEndpoint(url string) Option {
	return func(c *Client) { c.httpEndpoint = url }
}
