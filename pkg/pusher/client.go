// Package pusher implements a client for the Pusher Channels realtime
// protocol v7 over a single WebSocket connection: connection lifecycle,
// the four channel variants, a thread-safe event dispatcher, and an
// optional delta-compression engine.
package pusher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/radu-cendars/sockudo-client/internal/metrics"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/channels"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/delta"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/events"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/protocol"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/transport"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client is the user-facing shape of spec.md §6: connect/disconnect,
// per-channel subscribe variants, global bind/unbind, state queries,
// and delta-compression stats.
type Client struct {
	optsMu sync.RWMutex
	opts   Options

	transport  transport.Transport
	authorizer channels.Authorizer

	dispatcher *events.Dispatcher
	registry   *channels.Registry
	delta      *delta.Manager

	cell *stateCell
	log  zerolog.Logger

	hbMu sync.Mutex
	hb   *heartbeat

	activityMu   sync.RWMutex
	lastActivity time.Time

	reconnectAttempt atomic.Int32
	reconnectLimiter *rate.Limiter

	closeOnce sync.Once

	metrics *metrics.Metrics
}

// New constructs a Client against opts; Connect creates the default
// gorilla/websocket transport. No authorizer is supplied by default:
// pass one (e.g. pkg/pusher/authhttp.New) for Private/Presence/Encrypted
// channels; a nil authorizer is only valid if every channel subscribed
// is Public.
func New(opts Options, authorizer channels.Authorizer, log zerolog.Logger) *Client {
	c := &Client{
		opts:       opts,
		authorizer: authorizer,
		dispatcher: events.New(log),
		cell:       newStateCell(),
		log:        log.With().Str("component", "pusher").Logger(),
	}
	c.delta = delta.New(senderFunc(c.sendRaw), opts.DeltaAlgorithms, c.log)
	c.registry = channels.NewRegistry(authorizer, channels.SenderFunc(c.sendProtocol), c.SocketID, c.log)

	initial := opts.ReconnectInitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	c.reconnectLimiter = rate.NewLimiter(rate.Every(initial), 1)

	return c
}

// SetMetrics wires a Prometheus-backed metrics sink; m may be nil to
// disable metrics (the default). Call before Connect.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
	c.delta.SetHooks(
		func(channel string, err error) {
			c.metrics.ObserveDeltaMessage(channel, true, c.delta.Stats().Snapshot(channel).BandwidthSavedPercent())
		},
		func(channel string, stats delta.ChannelStats) {
			c.metrics.ObserveDeltaMessage(channel, false, stats.BandwidthSavedPercent())
		},
	)
}

// senderFunc adapts Client.sendRaw to delta.Sender without creating an
// import-time dependency between delta and channels.
type senderFunc func(protocol.Message) bool

func (f senderFunc) Send(m protocol.Message) bool { return f(m) }

func (c *Client) sendProtocol(m protocol.Message) bool { return c.sendRaw(m) }

func (c *Client) sendRaw(m protocol.Message) bool {
	text := mustEncodeFrame(m)
	if text == "" {
		return false
	}
	c.metrics.ObserveFrameSent(m.Event)
	return c.transport.SendText(text)
}

// Connect dials the server and blocks until the WebSocket handshake
// completes; the Pusher protocol handshake (connection_established)
// completes asynchronously and is observed via State()/bind("connected")
// or WaitForConnection.
func (c *Client) Connect(ctx context.Context) error {
	c.optsMu.RLock()
	opts := c.opts
	c.optsMu.RUnlock()

	url, err := opts.DeriveWSURL()
	if err != nil {
		c.setState(Failed)
		return newError(ErrConfiguration, "derive connect url", err)
	}

	c.setState(Connecting)
	c.touchActivity()

	c.transport = transport.New(c.log)
	c.transport.OnMessage(c.handleFrame)
	c.transport.OnClose(c.handleUnexpectedClose)
	c.transport.OnError(func(desc string) { c.log.Warn().Str("error", desc).Msg("transport error") })

	if err := c.transport.Connect(ctx, url); err != nil {
		c.setState(Unavailable)
		return newError(ErrConnection, "connect", err)
	}

	c.scheduleUnavailableTimeout(opts.UnavailableTimeout)
	return nil
}

// scheduleUnavailableTimeout bounds how long Connecting may persist
// without a Pusher-level handshake (spec.md §5's "Unavailable timeout").
// If the handshake has not completed by d, the connection is treated as
// unavailable and a reconnect is scheduled.
func (c *Client) scheduleUnavailableTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	time.AfterFunc(d, func() {
		if c.State() == Connecting {
			c.log.Warn().Msg("unavailable timeout: handshake did not complete in time")
			c.handleUnexpectedClose(-1, "unavailable timeout")
		}
	})
}

// Disconnect is the sole cancellation primitive (spec.md §5): it stops
// the heartbeat, forces every channel to Unsubscribed, clears delta
// cache state, closes the transport, and clears the socket id (spec.md
// §4's "present only while Connected or transitioning to it"). It never
// fails.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.stopHeartbeat()
		c.registry.Disconnect()
		c.delta.Reset()
		if c.transport != nil {
			c.transport.Close()
		}
		c.cell.reset()
		c.setState(Disconnected)
	})
}

func (c *Client) setState(s ConnectionState) {
	prev := c.cell.set(s)
	if prev == s {
		return
	}
	c.metrics.ObserveStateChange(int(s), s.String())
	c.dispatcher.Emit(events.Event{Name: "state_change", Data: stateChangeData(prev, s)})
	c.dispatcher.Emit(events.Event{Name: s.String()})
}

func stateChangeData(prev, next ConnectionState) []byte {
	return []byte(fmt.Sprintf(`{"previous":%q,"current":%q}`, prev, next))
}

// State returns the current connection state.
func (c *Client) State() ConnectionState { return c.cell.get() }

// IsConnected reports whether State() == Connected.
func (c *Client) IsConnected() bool { return c.State() == Connected }

// SocketID returns the socket id assigned by the handshake, or "" if
// not yet connected.
func (c *Client) SocketID() string { return c.cell.getSocketID() }

// Bind registers a client-level callback for name (e.g. "connected",
// "state_change", "error").
func (c *Client) Bind(name string, cb events.Callback) int64 { return c.dispatcher.Bind(name, cb) }

// BindGlobal registers a callback for every client-level event.
func (c *Client) BindGlobal(cb events.Callback) int64 { return c.dispatcher.BindGlobal(cb) }

// Unbind removes a client-level callback.
func (c *Client) Unbind(name string, id int64) { c.dispatcher.Unbind(name, id) }

// Subscribe subscribes to a public, private, or presence channel by
// name (variant determined by prefix); for presence channels prefer
// SubscribePresence for the member-accessor return type clarity.
func (c *Client) Subscribe(ctx context.Context, name string) (*channels.Channel, error) {
	ch, err := c.registry.Add(name)
	if err != nil {
		return nil, newError(ErrInvalidChannel, "add channel", err)
	}
	if err := ch.Subscribe(ctx); err != nil {
		return ch, newError(ErrChannel, "subscribe "+name, err)
	}
	c.metrics.SetSubscriptions(len(c.registry.All()))
	return ch, nil
}

// SubscribeWithFilter subscribes with a server-side tags filter applied
// (spec.md §6's "tags_filter").
func (c *Client) SubscribeWithFilter(ctx context.Context, name string, filter protocol.Filter) (*channels.Channel, error) {
	ch, err := c.registry.Add(name)
	if err != nil {
		return nil, newError(ErrInvalidChannel, "add channel", err)
	}
	ch.SetFilter(filter)
	if err := ch.Subscribe(ctx); err != nil {
		return ch, newError(ErrChannel, "subscribe "+name, err)
	}
	return ch, nil
}

// SubscribePresence subscribes to a presence- channel.
func (c *Client) SubscribePresence(ctx context.Context, name string) (*channels.Channel, error) {
	ch, err := c.Subscribe(ctx, name)
	if err != nil {
		return ch, err
	}
	if ch.Kind() != channels.Presence {
		return ch, newError(ErrInvalidChannel, name+" is not a presence channel", nil)
	}
	return ch, nil
}

// Unsubscribe unsubscribes from name, if subscribed.
func (c *Client) Unsubscribe(name string) {
	if ch, ok := c.registry.Get(name); ok {
		ch.Unsubscribe()
		c.registry.Remove(name)
		c.metrics.SetSubscriptions(len(c.registry.All()))
	}
}

// Channel returns the channel handle for name, if one has been added.
func (c *Client) Channel(name string) (*channels.Channel, bool) { return c.registry.Get(name) }

// AllChannels returns a snapshot of every currently registered channel.
func (c *Client) AllChannels() []*channels.Channel { return c.registry.All() }

// DeltaStats returns a snapshot of delta-compression effectiveness for
// channel.
func (c *Client) DeltaStats(channel string) delta.ChannelStats { return c.delta.Stats().Snapshot(channel) }

// AllDeltaStats returns a snapshot of delta-compression effectiveness
// for every tracked channel.
func (c *Client) AllDeltaStats() map[string]delta.ChannelStats { return c.delta.Stats().All() }
