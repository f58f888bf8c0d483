package channels

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"

	"github.com/radu-cendars/sockudo-client/pkg/pusher/events"
	"github.com/radu-cendars/sockudo-client/pkg/pusher/protocol"
	"github.com/rs/zerolog"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (f *fakeSender) Send(m protocol.Message) bool {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	return true
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) last() protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func fixedSocketID(id string) func() string {
	return func() string { return id }
}

func TestKindOfPrefixTable(t *testing.T) {
	cases := map[string]Kind{
		"foo":                         Public,
		"private-foo":                 Private,
		"presence-foo":                Presence,
		"private-encrypted-foo":       Encrypted,
		"private-encrypted-foo-private-": Encrypted,
	}
	for name, want := range cases {
		if got := KindOf(name); got != want {
			t.Errorf("KindOf(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestValidateNameRejectsHash(t *testing.T) {
	if err := ValidateName("#foo", Public); err == nil {
		t.Fatal("expected error for name starting with #")
	}
}

func TestPublicSubscribeNoAuth(t *testing.T) {
	sender := &fakeSender{}
	authCalled := false
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		authCalled = true
		return AuthResponse{}, nil
	})
	ch, err := New("my-channel", auth, sender, fixedSocketID("123.456"), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ch.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if authCalled {
		t.Fatal("public channel must not call authorizer")
	}
	if ch.State() != Subscribing {
		t.Fatalf("state = %v, want Subscribing", ch.State())
	}
	if sender.count() != 1 {
		t.Fatalf("sent %d frames, want 1", sender.count())
	}
	if sender.last().Event != protocol.EventSubscribe {
		t.Fatalf("event = %q", sender.last().Event)
	}
}

func TestSubscribeTwiceIsNoOp(t *testing.T) {
	sender := &fakeSender{}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{}, nil
	})
	ch, _ := New("my-channel", auth, sender, fixedSocketID("123.456"), zerolog.Nop())
	_ = ch.Subscribe(context.Background())
	_ = ch.Subscribe(context.Background())
	if sender.count() != 1 {
		t.Fatalf("sent %d subscribe frames, want 1", sender.count())
	}
}

func TestSubscribeDeferredWithoutSocketID(t *testing.T) {
	sender := &fakeSender{}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{}, nil
	})
	ch, _ := New("my-channel", auth, sender, fixedSocketID(""), zerolog.Nop())
	if err := ch.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ch.State() != Unsubscribed {
		t.Fatalf("state = %v, want Unsubscribed (deferred)", ch.State())
	}
	if sender.count() != 0 {
		t.Fatalf("sent %d frames, want 0", sender.count())
	}
}

func TestSubscriptionSucceededTransitionsAndReemits(t *testing.T) {
	sender := &fakeSender{}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{}, nil
	})
	ch, _ := New("my-channel", auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	_ = ch.Subscribe(context.Background())

	var gotEvent events.Event
	ch.Bind(protocol.EventSubscriptionSucceeded, func(ev events.Event) { gotEvent = ev })

	ch.HandleEvent(context.Background(), protocol.Message{
		Event:   protocol.EventSubscriptionSucceededInternal,
		Channel: "my-channel",
	})

	if ch.State() != Subscribed {
		t.Fatalf("state = %v, want Subscribed", ch.State())
	}
	if gotEvent.Name != protocol.EventSubscriptionSucceeded {
		t.Fatalf("reemitted event = %q", gotEvent.Name)
	}
}

func TestPrivateChannelAuthFailureGoesFailed(t *testing.T) {
	sender := &fakeSender{}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{}, errBoom
	})
	ch, _ := New("private-foo", auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	err := ch.Subscribe(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if ch.State() != Failed {
		t.Fatalf("state = %v, want Failed", ch.State())
	}
	if sender.count() != 0 {
		t.Fatalf("sent %d frames, want 0 after auth failure", sender.count())
	}
}

func TestClientEventGating(t *testing.T) {
	sender := &fakeSender{}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{Auth: "sig"}, nil
	})

	pub, _ := New("public-chan", auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	if err := pub.Trigger("client-test", nil); err == nil {
		t.Fatal("expected error: public channels refuse client events")
	}

	priv, _ := New("private-foo", auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	if err := priv.Trigger("not-client-prefixed", nil); err == nil {
		t.Fatal("expected error: bad event name prefix")
	}
	if err := priv.Trigger("client-test", nil); err == nil {
		t.Fatal("expected error: not subscribed yet")
	}
	_ = priv.Subscribe(context.Background())
	priv.HandleEvent(context.Background(), protocol.Message{Event: protocol.EventSubscriptionSucceededInternal})
	if err := priv.Trigger("client-test", map[string]string{"a": "b"}); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
}

func TestPresenceMembersFromSubscriptionSucceeded(t *testing.T) {
	sender := &fakeSender{}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{Auth: "sig", ChannelData: `{"user_id":"me"}`}, nil
	})
	ch, _ := New("presence-room", auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	if err := ch.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var reemit map[string]json.RawMessage
	ch.Bind(protocol.EventSubscriptionSucceeded, func(ev events.Event) {
		raw, _ := ev.Data.(json.RawMessage)
		var s string
		_ = json.Unmarshal(raw, &s)
		_ = json.Unmarshal([]byte(s), &reemit)
	})

	data, _ := protocol.EncodeData(map[string]interface{}{
		"presence": map[string]interface{}{
			"count": 2,
			"ids":   []string{"user1", "user2"},
			"hash": map[string]interface{}{
				"user1": map[string]string{"name": "User One"},
				"user2": map[string]string{"name": "User Two"},
			},
		},
	})
	ch.HandleEvent(context.Background(), protocol.Message{
		Event: protocol.EventSubscriptionSucceededInternal,
		Data:  data,
	})

	if ch.Members().Count() != 2 {
		t.Fatalf("member count = %d, want 2", ch.Members().Count())
	}
	member, ok := ch.Members().Get("user1")
	if !ok {
		t.Fatal("user1 not found")
	}
	var info struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(member.Info, &info); err != nil {
		t.Fatalf("unmarshal info: %v", err)
	}
	if info.Name != "User One" {
		t.Fatalf("info.Name = %q", info.Name)
	}

	var countField json.Number
	if err := json.Unmarshal(reemit["count"], &countField); err != nil {
		t.Fatalf("unmarshal count: %v", err)
	}
	if countField.String() != "2" {
		t.Fatalf("count = %v", countField)
	}
}

func TestMemberAddedNoOpIfPresent(t *testing.T) {
	sender := &fakeSender{}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{Auth: "sig", ChannelData: `{"user_id":"me"}`}, nil
	})
	ch, _ := New("presence-room", auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	ch.Members().AddIfAbsent(Member{UserID: "user1", Info: json.RawMessage(`{"v":1}`)})

	data, _ := protocol.EncodeData(map[string]interface{}{"user_id": "user1", "user_info": map[string]int{"v": 2}})
	ch.HandleEvent(context.Background(), protocol.Message{Event: protocol.EventMemberAddedInternal, Data: data})

	member, _ := ch.Members().Get("user1")
	var v struct {
		V int `json:"v"`
	}
	_ = json.Unmarshal(member.Info, &v)
	if v.V != 1 {
		t.Fatalf("member_added overwrote existing member: v = %d", v.V)
	}
	if ch.Members().Count() != 1 {
		t.Fatalf("count = %d", ch.Members().Count())
	}
}

func TestEncryptedChannelDecrypt(t *testing.T) {
	sender := &fakeSender{}
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{
			Auth:         "sig",
			SharedSecret: base64.StdEncoding.EncodeToString(secret),
		}, nil
	})
	ch, err := New("private-encrypted-room", auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ch.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	nonce, ciphertext := sealFixture(t, secret, []byte(`{"hello":"world"}`))

	var gotData json.RawMessage
	ch.Bind("some-event", func(ev events.Event) {
		gotData, _ = ev.Data.(json.RawMessage)
	})

	data, _ := protocol.EncodeData(map[string]interface{}{
		"ciphertext": base64.StdEncoding.EncodeToString(ciphertext),
		"nonce":      base64.StdEncoding.EncodeToString(nonce[:]),
	})
	ch.HandleEvent(context.Background(), protocol.Message{Event: "some-event", Data: data})

	var s string
	if err := json.Unmarshal(gotData, &s); err != nil {
		t.Fatalf("unmarshal re-emitted data: %v", err)
	}
	var out struct {
		Hello string `json:"hello"`
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		t.Fatalf("unmarshal decrypted payload: %v", err)
	}
	if out.Hello != "world" {
		t.Fatalf("decrypted payload = %q", out.Hello)
	}
}

func TestEncryptedChannelRefusesClientEvents(t *testing.T) {
	sender := &fakeSender{}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{}, nil
	})
	ch, _ := New("private-encrypted-room", auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	if err := ch.Trigger("client-test", nil); err == nil {
		t.Fatal("expected error: encrypted channels refuse client events")
	}
}

func TestUnsubscribeNoOpFromUnsubscribed(t *testing.T) {
	sender := &fakeSender{}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{}, nil
	})
	ch, _ := New("my-channel", auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	ch.Unsubscribe()
	if sender.count() != 0 {
		t.Fatalf("sent %d frames, want 0", sender.count())
	}
}

func TestUnsubscribeFromSubscribedSendsFrame(t *testing.T) {
	sender := &fakeSender{}
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{}, nil
	})
	ch, _ := New("my-channel", auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	_ = ch.Subscribe(context.Background())
	ch.Unsubscribe()
	if sender.count() != 2 {
		t.Fatalf("sent %d frames, want 2 (subscribe+unsubscribe)", sender.count())
	}
	if sender.last().Event != protocol.EventUnsubscribe {
		t.Fatalf("last event = %q", sender.last().Event)
	}
	if ch.State() != Unsubscribed {
		t.Fatalf("state = %v", ch.State())
	}
}

func TestDisconnectPreservesEncryptedKey(t *testing.T) {
	sender := &fakeSender{}
	secret := make([]byte, 32)
	auth := AuthorizerFunc(func(ctx context.Context, name, sid string) (AuthResponse, error) {
		return AuthResponse{Auth: "sig", SharedSecret: base64.StdEncoding.EncodeToString(secret)}, nil
	})
	ch, _ := New("private-encrypted-room", auth, sender, fixedSocketID("1.1"), zerolog.Nop())
	_ = ch.Subscribe(context.Background())
	ch.Disconnect()
	if ch.State() != Unsubscribed {
		t.Fatalf("state = %v", ch.State())
	}
	ch.encMu.RLock()
	key := ch.key
	ch.encMu.RUnlock()
	if key == nil {
		t.Fatal("expected encrypted key to survive Disconnect")
	}
}

var errBoom = &ChannelError{Reason: "boom"}
