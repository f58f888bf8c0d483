package pusher

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/radu-cendars/sockudo-client/internal/metrics"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/channels"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/events"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/protocol"
	"github.com/rs/zerolog"
)

// fakeTransport implements transport.Transport entirely in memory, so
// the connection state machine and frame router can be exercised
// without a real network. sent records every frame handed to SendText
// in order.
type fakeTransport struct {
	sent      []string
	connected bool
	onMessage func(string)
	onClose   func(int, string)
	onError   func(string)
}

func (f *fakeTransport) Connect(ctx context.Context, url string) error {
	f.connected = true
	return nil
}
func (f *fakeTransport) SendText(text string) bool {
	if !f.connected {
		return false
	}
	f.sent = append(f.sent, text)
	return true
}
func (f *fakeTransport) SendPing() bool               { return f.SendText(`{"event":"pusher:ping"}`) }
func (f *fakeTransport) Close()                       { f.connected = false }
func (f *fakeTransport) OnMessage(fn func(string))    { f.onMessage = fn }
func (f *fakeTransport) OnClose(fn func(int, string)) { f.onClose = fn }
func (f *fakeTransport) OnError(fn func(string))      { f.onError = fn }

// deliver simulates the fake transport receiving a frame from the
// server.
func (f *fakeTransport) deliver(raw string) {
	if f.onMessage != nil {
		f.onMessage(raw)
	}
}

func newClientWithFakeTransport() (*Client, *fakeTransport) {
	c := New(Options{AppKey: "app-key", WSHost: "localhost", WSPort: 6001}, nil, zerolog.Nop())
	ft := &fakeTransport{connected: true}
	c.transport = ft
	ft.OnMessage(c.handleFrame)
	ft.OnClose(c.handleUnexpectedClose)
	ft.OnError(func(string) {})
	return c, ft
}

// TestHandshakeReachesConnected mirrors scenario 2: a
// pusher:connection_established frame should produce Connected state, a
// populated socket id, and a "connected" dispatcher event.
func TestHandshakeReachesConnected(t *testing.T) {
	c, ft := newClientWithFakeTransport()
	c.cell.set(Connecting)

	connectedFired := make(chan struct{}, 1)
	c.Bind("connected", func(events.Event) { connectedFired <- struct{}{} })

	ft.deliver(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"21234.41256\",\"activity_timeout\":120}"}`)

	if c.State() != Connected {
		t.Fatalf("state = %v", c.State())
	}
	if c.SocketID() != "21234.41256" {
		t.Fatalf("socket id = %q", c.SocketID())
	}
	select {
	case <-connectedFired:
	default:
		t.Fatal("expected \"connected\" event to fire")
	}
	c.stopHeartbeat()
}

func TestHandshakeRequestsDeltaCompressionWhenEnabled(t *testing.T) {
	c, ft := newClientWithFakeTransport()
	c.opts.DeltaCompression = true
	c.cell.set(Connecting)

	ft.deliver(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"1.1\",\"activity_timeout\":120}"}`)

	found := false
	for _, s := range ft.sent {
		if strings.Contains(s, protocol.EventEnableDeltaCompression) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an enable_delta_compression frame, sent = %v", ft.sent)
	}
	c.stopHeartbeat()
}

func TestPingRepliesWithPong(t *testing.T) {
	_, ft := newClientWithFakeTransport()
	ft.deliver(`{"event":"pusher:ping"}`)

	if len(ft.sent) != 1 {
		t.Fatalf("sent = %v", ft.sent)
	}
	if !strings.Contains(ft.sent[0], protocol.EventPong) {
		t.Fatalf("expected a pong reply, got %q", ft.sent[0])
	}
}

func TestMalformedFrameIsDroppedNotPanicking(t *testing.T) {
	_, ft := newClientWithFakeTransport()
	ft.deliver(`not json`)
	if len(ft.sent) != 0 {
		t.Fatalf("expected no reply to malformed frame, sent = %v", ft.sent)
	}
}

func TestProtocolErrorFrameEmitsErrorEvent(t *testing.T) {
	c, ft := newClientWithFakeTransport()
	errFired := make(chan events.Event, 1)
	c.Bind("error", func(ev events.Event) { errFired <- ev })

	ft.deliver(`{"event":"pusher:error","data":"{\"message\":\"boom\",\"code\":4200}"}`)

	select {
	case <-errFired:
	default:
		t.Fatal("expected \"error\" event to fire")
	}
}

func TestProtocolErrorDuringHandshakeWithRefusedCodeGoesFailed(t *testing.T) {
	c, ft := newClientWithFakeTransport()
	c.cell.set(Connecting)
	ft.deliver(`{"event":"pusher:error","data":"{\"message\":\"app does not exist\",\"code\":4001}"}`)
	if c.State() != Failed {
		t.Fatalf("state = %v", c.State())
	}
}

func TestProtocolErrorDuringHandshakeWithRetryableCodeGoesUnavailable(t *testing.T) {
	c, ft := newClientWithFakeTransport()
	c.cell.set(Connecting)
	ft.deliver(`{"event":"pusher:error","data":"{\"message\":\"over capacity\",\"code\":4100}"}`)
	if c.State() != Unavailable {
		t.Fatalf("state = %v", c.State())
	}
}

func TestProtocolErrorOutsideHandshakeDoesNotChangeState(t *testing.T) {
	c, ft := newClientWithFakeTransport()
	c.cell.set(Connected)
	ft.deliver(`{"event":"pusher:error","data":"{\"message\":\"rate limited\",\"code\":4301}"}`)
	if c.State() != Connected {
		t.Fatalf("state = %v, want unchanged Connected", c.State())
	}
}

func TestUnexpectedCloseWithRefusedCodeGoesFailed(t *testing.T) {
	c, ft := newClientWithFakeTransport()
	c.cell.set(Connected)
	ft.onClose(4001, "app does not exist")
	if c.State() != Failed {
		t.Fatalf("state = %v", c.State())
	}
}

func TestUnexpectedCloseWithRetryableCodeGoesUnavailable(t *testing.T) {
	c, ft := newClientWithFakeTransport()
	c.cell.set(Connected)
	ft.onClose(1006, "abnormal closure")
	if c.State() != Unavailable {
		t.Fatalf("state = %v", c.State())
	}
}

func TestSetMetricsKeepsRegistryUsable(t *testing.T) {
	c, _ := newClientWithFakeTransport()
	c.SetMetrics(metrics.New(prometheus.NewRegistry()))

	ch, err := c.registry.Add("public-channel")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ch.Kind() != channels.Public {
		t.Fatalf("kind = %v", ch.Kind())
	}
}
