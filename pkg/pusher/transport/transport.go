// Package transport defines the bidirectional WebSocket collaborator
// the connection state machine drives, plus its default implementation.
package transport

import "context"

// Transport is the narrow contract spec.md §6 describes for the
// WebSocket collaborator: connect, three outbound operations, and
// three inbound callbacks. Implementations do not interpret frame
// content; they move UTF-8 text frames and report transport-level
// lifecycle events.
type Transport interface {
	// Connect dials url and starts the transport's internal reader and
	// writer goroutines. It blocks until the handshake completes or
	// fails.
	Connect(ctx context.Context, url string) error

	// SendText enqueues a text frame for the writer goroutine. It never
	// blocks: if the internal send queue is full, it returns false.
	SendText(text string) bool

	// SendPing enqueues a ping control frame. Same non-blocking contract
	// as SendText.
	SendPing() bool

	// Close tears down the connection and stops both goroutines. Safe
	// to call more than once.
	Close()

	// OnMessage registers the callback invoked for every inbound text
	// frame, on the transport's reader goroutine.
	OnMessage(fn func(text string))

	// OnClose registers the callback invoked once when the connection
	// closes other than through Close, carrying the WebSocket close code
	// and reason when the peer supplied one.
	OnClose(fn func(code int, reason string))

	// OnError registers the callback invoked on transport-level errors
	// that do not by themselves close the connection (e.g. a single
	// malformed frame from the peer).
	OnError(fn func(description string))
}
