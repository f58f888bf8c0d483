// Package delta implements the per-channel base-message cache and the
// two pluggable binary delta codecs of spec.md §4.6.
package delta

import "encoding/json"

// Algorithm names a delta codec. Names are lowercase and canonical.
type Algorithm string

const (
	Fossil  Algorithm = "fossil"
	Xdelta3 Algorithm = "xdelta3"

	// DefaultAlgorithm is used when a pusher:delta frame omits the
	// algorithm field. This is a negotiated convention (not part of the
	// published Pusher protocol document), per spec.md §9.
	DefaultAlgorithm = Fossil

	// defaultMaxMessagesPerKey is the FIFO capacity used when the server
	// never sends a cache-sync for a channel (spec.md §3).
	defaultMaxMessagesPerKey = 10

	// defaultConflationKey is the synthetic partition used for channels
	// with no conflation-key field.
	defaultConflationKey = "__default__"
)

// Decoder reconstructs target content from a base and a binary delta.
// Both Fossil Delta and VCDIFF (xdelta3) implement this.
type Decoder interface {
	Decode(base, delta []byte) ([]byte, error)
}

// cacheSyncData is the payload of an inbound pusher:delta_cache_sync
// frame (spec.md §4.6).
type cacheSyncData struct {
	ConflationKey     string                   `json:"conflation_key,omitempty"`
	MaxMessagesPerKey *int                     `json:"max_messages_per_key,omitempty"`
	States            map[string][]cacheEntry  `json:"states"`
}

type cacheEntry struct {
	Content string `json:"content"`
	Seq     int64  `json:"seq"`
}

// deltaFrameData is the payload of an inbound pusher:delta frame.
type deltaFrameData struct {
	Event         string  `json:"event"`
	Delta         string  `json:"delta"`
	Seq           int64   `json:"seq"`
	Algorithm     *string `json:"algorithm,omitempty"`
	ConflationKey *string `json:"conflation_key,omitempty"`
	BaseIndex     *int    `json:"base_index,omitempty"`
}

// enableData is the payload of the outbound
// pusher:enable_delta_compression frame.
type enableData struct {
	Algorithms []Algorithm `json:"algorithms"`
}

// syncErrorData is the payload of the outbound pusher:delta_sync_error
// frame.
type syncErrorData struct {
	Channel string `json:"channel"`
}

// rawOrString returns content as a bare JSON value when it is valid
// JSON, and otherwise re-marshaled as a JSON string; used when
// reconstructing an event's decoded/base content as the outbound data
// field of a synthesized event.
func rawOrString(content string) json.RawMessage {
	if json.Valid([]byte(content)) {
		return json.RawMessage(content)
	}
	b, _ := json.Marshal(content) // marshaling a string cannot fail
	return b
}
