package channels

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/radu-cendars/sockudo-client/pkg/pusher/events"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/protocol"
	"github.com/rs/zerolog"
)

// State is a channel's subscription state (spec.md §3).
type State int

const (
	Unsubscribed State = iota
	Subscribing
	Subscribed
	Failed
)

func (s State) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// AuthResponse is the authorization collaborator's response shape
// (spec.md §6): a mandatory opaque auth string, optional channel_data
// (required for Presence/Encrypted), and shared_secret (required for
// Encrypted only).
type AuthResponse struct {
	Auth         string
	ChannelData  string
	SharedSecret string
}

// Authorizer is the narrow external collaborator consulted before
// subscribing to a Private, Presence, or Encrypted channel.
type Authorizer interface {
	Authorize(ctx context.Context, channelName, socketID string) (AuthResponse, error)
}

// AuthorizerFunc adapts a function to an Authorizer.
type AuthorizerFunc func(ctx context.Context, channelName, socketID string) (AuthResponse, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, channelName, socketID string) (AuthResponse, error) {
	return f(ctx, channelName, socketID)
}

// Sender transmits an outbound frame without blocking; it returns false
// if the frame could not be queued (e.g. not connected, send buffer
// full).
type Sender interface {
	Send(protocol.Message) bool
}

// SenderFunc adapts a function to a Sender.
type SenderFunc func(protocol.Message) bool

func (f SenderFunc) Send(m protocol.Message) bool { return f(m) }

// Channel is the shared core for all four protocol variants (spec.md
// §4.3, §9). Rather than one type per variant through inheritance, a
// single tagged core carries every variant's state; a Kind() getter and
// variant-only accessors (Members) are the only places variant
// knowledge leaks through.
type Channel struct {
	name string
	kind Kind

	mu                  sync.RWMutex
	state               State
	filter              *protocol.Filter
	subscriptionCount   *int
	socketIDAtSubscribe string

	dispatcher *events.Dispatcher

	// Presence only.
	members *Members

	// Encrypted only. Guarded separately from mu so the decrypt hot path
	// (which may run concurrently with a Bind/State call) never blocks
	// on the broader state lock.
	encMu sync.RWMutex
	key   []byte

	authorizer Authorizer
	sender     Sender
	socketID   func() string
	log        zerolog.Logger
}

// New constructs a Channel for name, determining its variant by prefix
// (spec.md §3). It does not send any frame; call Subscribe to do so.
func New(name string, authorizer Authorizer, sender Sender, socketID func() string, log zerolog.Logger) (*Channel, error) {
	kind := KindOf(name)
	if err := ValidateName(name, kind); err != nil {
		return nil, err
	}
	c := &Channel{
		name:       name,
		kind:       kind,
		dispatcher: events.New(log),
		authorizer: authorizer,
		sender:     sender,
		socketID:   socketID,
		log:        log.With().Str("channel", name).Logger(),
	}
	if kind == Presence {
		c.members = newMembers()
	}
	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Kind returns the channel variant.
func (c *Channel) Kind() Kind { return c.kind }

// State returns the current subscription state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// StaleSubscribing reports whether the channel is stuck in Subscribing
// against a socket id that is no longer current: the connection dropped
// and (re)connected — possibly with a fresh socket id, possibly with
// none while Disconnected/Unavailable/Failed — after Subscribe sent its
// frame but before a subscription_succeeded arrived. currentSocketID is
// the client's present socket id ("" counts as not current, since a
// live Subscribing handshake is never against an empty id).
func (c *Channel) StaleSubscribing(currentSocketID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == Subscribing && (currentSocketID == "" || c.socketIDAtSubscribe != currentSocketID)
}

// SubscriptionCount returns the last count reported by the server, and
// whether one has been reported yet.
func (c *Channel) SubscriptionCount() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subscriptionCount == nil {
		return 0, false
	}
	return *c.subscriptionCount, true
}

// Members returns the presence members table, or nil for non-presence
// channels.
func (c *Channel) Members() *Members { return c.members }

// SetFilter installs the tags filter sent on the next Subscribe call.
func (c *Channel) SetFilter(f protocol.Filter) {
	c.mu.Lock()
	c.filter = &f
	c.mu.Unlock()
}

// Bind registers a callback for event name on this channel's dispatcher.
func (c *Channel) Bind(name string, cb events.Callback) int64 {
	return c.dispatcher.Bind(name, cb)
}

// BindGlobal registers a callback that receives every event on this
// channel.
func (c *Channel) BindGlobal(cb events.Callback) int64 {
	return c.dispatcher.BindGlobal(cb)
}

// Unbind removes callbacks per the (name, id) cross-product rule
// (spec.md §4.2).
func (c *Channel) Unbind(name string, id int64) {
	c.dispatcher.Unbind(name, id)
}

// Subscribe runs the subscribe protocol of spec.md §4.3. If the client
// has no socket id yet, the attempt is deferred: state stays
// Unsubscribed and a later call (from the connection's resubscribe
// sweep, once connected) completes it. Calling Subscribe while already
// Subscribing or Subscribed is a no-op.
func (c *Channel) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Subscribed, Subscribing:
		c.mu.Unlock()
		return nil
	}
	sid := c.socketID()
	if sid == "" {
		c.state = Unsubscribed
		c.mu.Unlock()
		return nil
	}
	c.state = Subscribing
	c.socketIDAtSubscribe = sid
	c.mu.Unlock()

	var auth AuthResponse
	if c.kind.RequiresAuth() {
		resp, err := c.authorizer.Authorize(ctx, c.name, sid)
		if err != nil {
			c.setState(Failed)
			return &AuthError{Name: c.name, Err: err}
		}
		auth = resp
	}

	if c.kind == Encrypted {
		key, err := decodeSharedSecret(auth.SharedSecret)
		if err != nil {
			c.setState(Failed)
			return &EncryptionError{Name: c.name, Reason: "shared_secret must decode to exactly 32 bytes", Err: err}
		}
		c.encMu.Lock()
		c.key = key
		c.encMu.Unlock()
	}

	if c.kind == Presence {
		myID, err := extractUserID(auth.ChannelData)
		if err != nil {
			c.setState(Failed)
			return &ChannelError{Name: c.name, Reason: "channel_data missing user_id"}
		}
		c.members.SetMyID(myID)
	}

	msg, err := c.buildSubscribeMessage(auth)
	if err != nil {
		c.setState(Failed)
		return err
	}
	if !c.sender.Send(msg) {
		// The frame never reached the wire (queue full, or the
		// connection dropped between Authorize and here). Falling back
		// to Unsubscribed rather than staying Subscribing lets the next
		// resubscribe sweep retry it instead of wedging it forever.
		c.setState(Unsubscribed)
		return &ChannelError{Name: c.name, Reason: "subscribe frame could not be sent"}
	}
	return nil
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) buildSubscribeMessage(auth AuthResponse) (protocol.Message, error) {
	payload := map[string]interface{}{"channel": c.name}
	if auth.Auth != "" {
		payload["auth"] = auth.Auth
	}
	if auth.ChannelData != "" {
		payload["channel_data"] = auth.ChannelData
	}
	c.mu.RLock()
	filter := c.filter
	c.mu.RUnlock()
	if filter != nil {
		tf, err := protocol.SerializeTagsFilter(*filter)
		if err != nil {
			return protocol.Message{}, fmt.Errorf("channel %q: %w", c.name, err)
		}
		payload["tags_filter"] = tf
	}
	data, err := protocol.EncodeData(payload)
	if err != nil {
		return protocol.Message{}, err
	}
	return protocol.Message{Event: protocol.EventSubscribe, Data: data}, nil
}

// Unsubscribe is allowed from any state and is idempotent from
// Unsubscribed: it only sends a wire frame if the channel was Subscribed
// or Subscribing. The encrypted key is cleared; the presence members
// table is reset.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	prev := c.state
	c.state = Unsubscribed
	c.mu.Unlock()

	if prev == Subscribed || prev == Subscribing {
		data, _ := protocol.EncodeData(map[string]interface{}{"channel": c.name})
		c.sender.Send(protocol.Message{Event: protocol.EventUnsubscribe, Data: data})
	}
	if c.kind == Encrypted {
		c.encMu.Lock()
		c.key = nil
		c.encMu.Unlock()
	}
	if c.kind == Presence {
		c.members.Reset()
	}
}

// Disconnect forces the channel to Unsubscribed without sending a wire
// frame (the socket is already gone). Presence members are reset; the
// encrypted key is preserved so it survives reconnection.
func (c *Channel) Disconnect() {
	c.setState(Unsubscribed)
	if c.kind == Presence {
		c.members.Reset()
	}
}

// Trigger sends a client-initiated event (spec.md §4.3's "Client
// events"). The name must start with "client-"; the variant must
// support client events; the channel should normally be Subscribed
// (Subscribing is permitted with a logged warning, per spec.md's
// documented open-question resolution).
func (c *Channel) Trigger(name string, data interface{}) error {
	if !strings.HasPrefix(name, protocol.ClientEventPrefix) {
		return &ChannelError{Name: c.name, Reason: `client event name must start with "client-"`}
	}
	if !c.kind.SupportsClientEvents() {
		return &ChannelError{Name: c.name, Reason: fmt.Sprintf("%s channels do not support client events", c.kind)}
	}

	switch c.State() {
	case Subscribed:
	case Subscribing:
		c.log.Warn().Str("event", name).Msg("sending client event while still subscribing")
	default:
		return &ChannelError{Name: c.name, Reason: "channel is not subscribed"}
	}

	encoded, err := protocol.EncodeData(data)
	if err != nil {
		return fmt.Errorf("channel %q: %w", c.name, err)
	}
	msg := protocol.Message{Event: name, Channel: c.name, Data: encoded}
	if !c.sender.Send(msg) {
		return &ChannelError{Name: c.name, Reason: "send queue full"}
	}
	return nil
}

// HandleEvent routes one incoming frame addressed to this channel:
// internal pusher_internal:* bookkeeping events are handled here and
// re-emitted under their public pusher: name; everything else is a user
// event (decrypted first, for Encrypted channels) dispatched verbatim.
func (c *Channel) HandleEvent(ctx context.Context, msg protocol.Message) {
	switch msg.Event {
	case protocol.EventSubscriptionSucceededInternal:
		c.handleSubscriptionSucceeded(msg)
		return
	case protocol.EventSubscriptionCountInternal:
		c.handleSubscriptionCount(msg)
		return
	case protocol.EventMemberAddedInternal:
		if c.kind == Presence {
			c.handleMemberAdded(msg)
		}
		return
	case protocol.EventMemberRemovedInternal:
		if c.kind == Presence {
			c.handleMemberRemoved(msg)
		}
		return
	}

	if strings.HasPrefix(msg.Event, protocol.InternalEventPrefix) {
		return
	}

	if c.kind == Encrypted && !strings.HasPrefix(msg.Event, protocol.PusherEventPrefix) {
		c.handleEncryptedUserEvent(ctx, msg)
		return
	}

	c.dispatcher.Emit(events.Event{Name: msg.Event, Channel: c.name, Data: msg.Data})
}

func decodeSharedSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty shared_secret")
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("shared_secret decoded to %d bytes, want 32", len(key))
	}
	return key, nil
}
