package realtime

import "errors"

// Sentinel errors surfaced by the protocol core. Internally recoverable
// faults (transport drops, push timeouts, token-provider failures) never
// escape as errors; these are the ones that do.
var (
	// ErrBadFrame is returned by the codec when a frame cannot be decoded:
	// an unknown binary kind, a declared length past end-of-buffer, or a
	// text frame that isn't a well-formed 5-tuple or an object frame with a
	// topic or event.
	ErrBadFrame = errors.New("realtime: bad frame")

	// ErrHookContract is delivered synchronously to the client's OnError
	// observers when the message hook installed by WithMessageHook returns an
	// empty payload for a non-empty incoming payload; the frame is dropped.
	// This signals a programming error in the hook, not a protocol fault.
	ErrHookContract = errors.New("realtime: on-message hook returned empty payload for non-empty input")

	// ErrChannelClosed is passed with "CHANNEL_ERROR" to a channel's
	// Subscribe status callback when a phx_error (from the server, or
	// synthesized on a socket close) errors the channel.
	ErrChannelClosed = errors.New("realtime: channel is closed")

	// ErrAlreadyJoinedOnce is returned by Subscribe when joined_once has
	// already latched; a channel may never be resubscribed after its first
	// join attempt.
	ErrAlreadyJoinedOnce = errors.New("realtime: channel has already been subscribed once")

	// ErrPostgresChangesMismatch indicates the server's postgres_changes
	// acknowledgement didn't line up positionally with the client's
	// requested filters during the join handshake.
	ErrPostgresChangesMismatch = errors.New("realtime: postgres_changes subscription mismatch between client and server")

	// ErrPushTimeout is passed with "TIMED_OUT" to a channel's Subscribe
	// status callback when its join push times out.
	ErrPushTimeout = errors.New("realtime: push timed out")

	// ErrNotConnected is returned by the default websocket transport's Send
	// once that transport has closed.
	ErrNotConnected = errors.New("realtime: client is not connected")
)
