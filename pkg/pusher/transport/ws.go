package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 1 << 20
	sendQueueSize  = 256
)

type frameKind int

const (
	frameText frameKind = iota
	framePing
	frameClose
)

type wsFrame struct {
	kind frameKind
	data string
}

// WS is the default Transport, backed by gorilla/websocket. Grounded on
// the teacher's own client-side dialer (a reader/writer goroutine pair
// driven by a bounded command channel, with try-send semantics on the
// public send methods and deadline-based pong tracking on the reader).
type WS struct {
	log zerolog.Logger

	conn *websocket.Conn
	send chan wsFrame

	closeOnce sync.Once
	closed    chan struct{}

	onMessage func(text string)
	onClose   func(code int, reason string)
	onError   func(description string)
}

// New builds a WS transport. Call Connect before sending.
func New(log zerolog.Logger) *WS {
	return &WS{
		log:    log.With().Str("component", "transport").Logger(),
		send:   make(chan wsFrame, sendQueueSize),
		closed: make(chan struct{}),
	}
}

func (w *WS) OnMessage(fn func(text string))           { w.onMessage = fn }
func (w *WS) OnClose(fn func(code int, reason string)) { w.onClose = fn }
func (w *WS) OnError(fn func(description string))      { w.onError = fn }

func (w *WS) Connect(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", url, err)
	}
	w.conn = conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readPump()
	go w.writePump()
	return nil
}

func (w *WS) readPump() {
	defer w.Close()
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			code, reason := -1, ""
			if ce, ok := err.(*websocket.CloseError); ok {
				code, reason = ce.Code, ce.Text
			}
			select {
			case <-w.closed:
				return // closed locally via Close; not reported through onClose
			default:
			}
			if w.onClose != nil {
				w.onClose(code, reason)
			}
			return
		}
		if w.onMessage != nil {
			w.onMessage(string(data))
		}
	}
}

func (w *WS) writePump() {
	defer w.conn.Close()
	for {
		select {
		case frame := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			switch frame.kind {
			case frameText:
				if err := w.conn.WriteMessage(websocket.TextMessage, []byte(frame.data)); err != nil {
					w.reportError(err)
					return
				}
			case framePing:
				if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					w.reportError(err)
					return
				}
			case frameClose:
				w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		case <-w.closed:
			return
		}
	}
}

func (w *WS) reportError(err error) {
	w.log.Warn().Err(err).Msg("transport write failed")
	if w.onError != nil {
		w.onError(err.Error())
	}
}

// SendText enqueues a text frame without blocking; returns false if the
// send queue is full or the transport has been closed.
func (w *WS) SendText(text string) bool { return w.trySend(wsFrame{kind: frameText, data: text}) }

// SendPing enqueues a WebSocket-level ping control frame.
func (w *WS) SendPing() bool { return w.trySend(wsFrame{kind: framePing}) }

func (w *WS) trySend(f wsFrame) bool {
	select {
	case <-w.closed:
		return false
	default:
	}
	select {
	case w.send <- f:
		return true
	default:
		return false
	}
}

// Close stops both goroutines and closes the socket. Safe to call more
// than once or before Connect.
func (w *WS) Close() {
	w.closeOnce.Do(func() {
		close(w.closed)
		select {
		case w.send <- wsFrame{kind: frameClose}:
		default:
		}
	})
}
