package realtime

// Transport abstracts the underlying socket so Client can be driven by the
// default websocket implementation, or by a substitute (tests use a fake).
// OnMessage reports each message's bytes together with whether it arrived as
// a binary message: text frames decode as JSON, binary frames as the compact
// binary codec.
type Transport interface {
	// Connect dials the transport. It must not block past the dial itself —
	// ongoing I/O happens on whatever goroutines the implementation starts,
	// delivered through the On* callbacks.
	Connect() error

	// Send writes one already-encoded frame. isBinary selects the
	// transport's binary vs. text message type.
	Send(data []byte, isBinary bool) error

	// Close closes the transport with a given code and reason, following the
	// the websocket close-frame convention regardless of the underlying
	// transport.
	Close(code int, reason string) error

	// OnOpen, OnMessage, OnClose, and OnError register the transport's
	// lifecycle callbacks. Client calls each exactly once, before Connect.
	OnOpen(func())
	OnMessage(func(data []byte, isBinary bool))
	OnClose(func(code int, reason string))
	OnError(func(err error))
}

// TransportFactory builds a fresh Transport for one connection attempt,
// given the dial URL (with query parameters already applied) and the
// subprotocols to negotiate.
type TransportFactory func(url string, subprotocols []string) Transport
