// Package protocol implements the Pusher protocol v7 wire codec: framing,
// handshake parsing, and close-code classification.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the single wire shape every frame takes, per the Pusher
// protocol: an event name, an optional channel, an opaque data payload,
// and (for user-authentication events) a user id.
type Message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
}

// Encode serializes a Message to a single JSON text frame. Data is
// marshaled as-is: callers that need the conventional "stringified JSON
// nested in data" shape should pass json.RawMessage produced by
// EncodeData.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %q: %w", m.Event, err)
	}
	return b, nil
}

// EncodeData marshals an arbitrary value into the conventional
// JSON-stringified-within-JSON data field the server expects.
func EncodeData(v interface{}) (json.RawMessage, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode data: %w", err)
	}
	str, err := json.Marshal(string(inner))
	if err != nil {
		return nil, fmt.Errorf("protocol: encode data string: %w", err)
	}
	return json.RawMessage(str), nil
}

// Decode parses a single incoming JSON text frame. A malformed frame is
// never dropped silently: it always surfaces as an error.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	if m.Event == "" {
		return Message{}, fmt.Errorf("protocol: frame missing event name")
	}
	return m, nil
}

// DataString returns m.Data unwrapped from its conventional
// JSON-stringified-within-JSON form, when present. If Data is already a
// bare JSON value (not a quoted string), it is returned unmodified.
func DataString(m Message) (string, error) {
	if len(m.Data) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(m.Data, &s); err == nil {
		return s, nil
	}
	return string(m.Data), nil
}

// DecodeData unwraps m.Data (handling the stringified-JSON convention)
// and unmarshals it into v.
func DecodeData(m Message, v interface{}) error {
	s, err := DataString(m)
	if err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("protocol: decode data for %q: %w", m.Event, err)
	}
	return nil
}

// Reserved outbound/inbound event names, spec.md §6.
const (
	EventSubscribe              = "pusher:subscribe"
	EventUnsubscribe            = "pusher:unsubscribe"
	EventPing                   = "pusher:ping"
	EventPong                   = "pusher:pong"
	EventEnableDeltaCompression = "pusher:enable_delta_compression"
	EventDeltaSyncError         = "pusher:delta_sync_error"

	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventDeltaCompressionOn    = "pusher:delta_compression_enabled"
	EventDeltaCacheSync        = "pusher:delta_cache_sync"
	EventDelta                 = "pusher:delta"

	EventSubscriptionSucceededInternal = "pusher_internal:subscription_succeeded"
	EventSubscriptionCountInternal     = "pusher_internal:subscription_count"
	EventMemberAddedInternal           = "pusher_internal:member_added"
	EventMemberRemovedInternal         = "pusher_internal:member_removed"

	EventSubscriptionSucceeded = "pusher:subscription_succeeded"
	EventSubscriptionCount     = "pusher:subscription_count"
	EventMemberAdded           = "pusher:member_added"
	EventMemberRemoved         = "pusher:member_removed"

	ClientEventPrefix   = "client-"
	InternalEventPrefix = "pusher_internal:"
	PusherEventPrefix   = "pusher:"
)

// ConnectionEstablishedData is the handshake payload carried in
// pusher:connection_established's data field.
type ConnectionEstablishedData struct {
	SocketID       string `json:"socket_id"`
	ActivityTimeoutSeconds *int `json:"activity_timeout,omitempty"`
}

// ErrorData is the payload carried by pusher:error frames.
type ErrorData struct {
	Message string `json:"message"`
	Code    *int   `json:"code,omitempty"`
}
