package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Send buffer size for outbound frames queued faster than the write pump
// can drain them, and the ping/pong cadence keeping a dial alive behind
// idle proxies. Mirrors the server-side connection's own pump timings.
const (
	wsSendBufferSize = 256
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 30 * time.Second
	wsPingPeriod     = 25 * time.Second
	wsMaxMessageSize = 512 * 1024
)

// wsTransport is the default Transport: a gorilla/websocket dial with a
// bounded send channel and a dedicated read/write pump pair, the same shape
// the server side of this protocol uses for its own connections.
type wsTransport struct {
	url          string
	subprotocols []string

	mu   sync.Mutex
	conn *websocket.Conn
	send chan wsFrame
	done chan struct{}
	once sync.Once

	onOpen    func()
	onMessage func(data []byte, isBinary bool)
	onClose   func(code int, reason string)
	onError   func(err error)
}

type wsFrame struct {
	data     []byte
	isBinary bool
}

func newWSTransport(url string, subprotocols []string) Transport {
	return &wsTransport{
		url:          url,
		subprotocols: subprotocols,
		send:         make(chan wsFrame, wsSendBufferSize),
		done:         make(chan struct{}),
	}
}

func (t *wsTransport) OnOpen(cb func())                              { t.onOpen = cb }
func (t *wsTransport) OnMessage(cb func(data []byte, isBinary bool)) { t.onMessage = cb }
func (t *wsTransport) OnClose(cb func(code int, reason string))      { t.onClose = cb }
func (t *wsTransport) OnError(cb func(err error))                    { t.onError = cb }

func (t *wsTransport) Connect() error {
	dialer := websocket.Dialer{
		Subprotocols:     t.subprotocols,
		HandshakeTimeout: wsWriteWait,
	}
	conn, _, err := dialer.Dial(t.url, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if t.onOpen != nil {
		t.onOpen()
	}

	go t.readPump()
	go t.writePump()
	return nil
}

func (t *wsTransport) Send(data []byte, isBinary bool) error {
	select {
	case t.send <- wsFrame{data: data, isBinary: isBinary}:
		return nil
	case <-t.done:
		return ErrNotConnected
	}
}

func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	var err error
	if conn != nil {
		deadline := time.Now().Add(wsWriteWait)
		msg := websocket.FormatCloseMessage(code, reason)
		conn.WriteControl(websocket.CloseMessage, msg, deadline)
		err = conn.Close()
	}

	t.closeWithReason(code, reason)
	return err
}

func (t *wsTransport) readPump() {
	defer t.closeWithReason(websocket.CloseNormalClosure, "read loop ended")

	t.conn.SetReadLimit(wsMaxMessageSize)
	t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.onError != nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				t.onError(err)
			}
			return
		}
		if t.onMessage != nil {
			t.onMessage(data, kind == websocket.BinaryMessage)
		}
	}
}

func (t *wsTransport) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-t.send:
			if !ok {
				return
			}
			t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			kind := websocket.TextMessage
			if frame.isBinary {
				kind = websocket.BinaryMessage
			}
			if err := t.conn.WriteMessage(kind, frame.data); err != nil {
				if t.onError != nil {
					t.onError(err)
				}
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-t.done:
			return
		}
	}
}

// closeWithReason tears the transport down exactly once: closing done (which
// unblocks Send and the write pump) and firing onClose are coupled under the
// same sync.Once so a racing explicit Close and a dying read loop can't both
// report the close to the caller.
func (t *wsTransport) closeWithReason(code int, reason string) {
	t.once.Do(func() {
		close(t.done)
		if t.onClose != nil {
			t.onClose(code, reason)
		}
	})
}
