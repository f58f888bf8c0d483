package channels

import (
	"context"
	"testing"

	"github.com/radu-cendars/sockudo-client/pkg/pusher/protocol"
	"github.com/rs/zerolog"
)

func protocolSubSuccMsg(channel string) protocol.Message {
	return protocol.Message{Event: protocol.EventSubscriptionSucceededInternal, Channel: channel}
}

func TestRegistryAddIsIdempotent(t *testing.T) {
	sender := &fakeSender{}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{}, nil
	})
	reg := NewRegistry(auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	a, err := reg.Add("my-channel")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	b, err := reg.Add("my-channel")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if a != b {
		t.Fatal("expected same handle on second Add")
	}
}

func TestRegistryRouteDropsUnknownChannel(t *testing.T) {
	sender := &fakeSender{}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{}, nil
	})
	reg := NewRegistry(auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	// Should not panic.
	reg.Route(context.Background(), protocolSubSuccMsg("nonexistent"))
}

func TestRegistryDisconnectAndResubscribe(t *testing.T) {
	sender := &fakeSender{}
	authCalls := 0
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		authCalls++
		return AuthResponse{}, nil
	})
	reg := NewRegistry(auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	ch, _ := reg.Add("my-channel")
	_ = ch.Subscribe(context.Background())
	ch.HandleEvent(context.Background(), protocolSubSuccMsg("my-channel"))
	if ch.State() != Subscribed {
		t.Fatalf("state = %v", ch.State())
	}

	reg.Disconnect()
	if ch.State() != Unsubscribed {
		t.Fatalf("state after disconnect = %v", ch.State())
	}

	reg.ResubscribeAll(context.Background())
	if ch.State() != Subscribing {
		t.Fatalf("state after resubscribe = %v", ch.State())
	}
}
