package channels

import (
	"context"
	"sync"

	"github.com/radu-cendars/sockudo-client/pkg/pusher/protocol"
	"github.com/rs/zerolog"
)

// Registry is the name-keyed channel map, generalizing the teacher's
// hub client-registration map (go-server/pkg/websocket/hub.go) from
// sockets to logical channel subscriptions. Add is idempotent; Remove
// only detaches the registry's hold, the *Channel itself lives on as
// long as the caller's own handle does (Go's GC stands in for the
// spec's manual reference counting).
type Registry struct {
	mu         sync.RWMutex
	channels   map[string]*Channel
	authorizer Authorizer
	sender     Sender
	socketID   func() string
	log        zerolog.Logger
}

// NewRegistry constructs an empty Registry. authorizer and sender are
// shared by every channel created through Add.
func NewRegistry(authorizer Authorizer, sender Sender, socketID func() string, log zerolog.Logger) *Registry {
	return &Registry{
		channels:   make(map[string]*Channel),
		authorizer: authorizer,
		sender:     sender,
		socketID:   socketID,
		log:        log.With().Str("component", "registry").Logger(),
	}
}

// Add returns the existing channel for name if one exists, else creates
// the correct variant (by prefix) and registers it. It never sends a
// wire frame; call Subscribe on the result to do that.
func (r *Registry) Add(name string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[name]; ok {
		return ch, nil
	}
	ch, err := New(name, r.authorizer, r.sender, r.socketID, r.log)
	if err != nil {
		return nil, err
	}
	r.channels[name] = ch
	return ch, nil
}

// Get looks up a channel by name without creating one.
func (r *Registry) Get(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Remove detaches name from the registry. The channel itself is not
// torn down here: any handle the caller still holds stays valid.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.channels, name)
	r.mu.Unlock()
}

// All returns a snapshot of every currently registered channel.
func (r *Registry) All() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// Route dispatches an incoming frame to the channel it is addressed to,
// per spec.md §4.3's "Incoming event routing per channel". Frames for
// channels the registry no longer holds are dropped.
func (r *Registry) Route(ctx context.Context, msg protocol.Message) {
	if msg.Channel == "" {
		return
	}
	ch, ok := r.Get(msg.Channel)
	if !ok {
		return
	}
	ch.HandleEvent(ctx, msg)
}

// Disconnect forces every registered channel to Unsubscribed without
// sending wire frames (spec.md §4.3's "Disconnect handling").
func (r *Registry) Disconnect() {
	for _, ch := range r.All() {
		ch.Disconnect()
	}
}

// ResubscribeAll re-attempts Subscribe on every channel still
// Unsubscribed, plus every channel stuck Subscribing against a stale
// socket id (spec.md §4.3/§4.4's "Resubscription sweep"): mere registry
// presence is remembered user-intent. A stale Subscribing channel is
// reset to Unsubscribed first — its in-flight subscribe was against a
// connection that is already gone, so Subscribe's own
// already-Subscribing no-op guard must not see it. Each channel's auth
// round-trip runs concurrently, since they are independent HTTP calls.
func (r *Registry) ResubscribeAll(ctx context.Context) {
	current := r.socketID()
	var wg sync.WaitGroup
	for _, ch := range r.All() {
		stale := ch.StaleSubscribing(current)
		if ch.State() != Unsubscribed && !stale {
			continue
		}
		if stale {
			r.log.Warn().Str("channel", ch.Name()).Msg("resetting stale subscribing channel before resubscribe")
			ch.Disconnect()
		}
		wg.Add(1)
		go func(c *Channel) {
			defer wg.Done()
			if err := c.Subscribe(ctx); err != nil {
				r.log.Warn().Err(err).Str("channel", c.Name()).Msg("resubscribe failed")
			}
		}(ch)
	}
	wg.Wait()
}
