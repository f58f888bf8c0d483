// Package delta also hosts the Manager that negotiates delta
// compression with the server and reconstructs full messages from
// pusher:delta frames, grounded on original_source/src/delta/manager.rs.
package delta

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/radu-cendars/sockudo-client/pkg/pusher/protocol"
	"github.com/rs/zerolog"
)

// Sender is the narrow outbound collaborator a Manager needs; the
// connection's websocket writer satisfies it directly.
type Sender interface {
	Send(protocol.Message) bool
}

// ErrorFunc and StatsFunc are the optional observability hooks spec.md
// §4.6 describes ("on_error"/"on_stats").
type ErrorFunc func(channel string, err error)
type StatsFunc func(channel string, stats ChannelStats)

// Manager owns one ChannelState per channel, the set of decoders this
// client supports, and the negotiated algorithm list.
type Manager struct {
	sender     Sender
	log        zerolog.Logger
	preferred  []Algorithm
	decoders   map[Algorithm]Decoder
	enabled    atomic.Bool
	enabledAlg atomic.Value // []Algorithm

	mu       sync.Mutex
	channels map[string]*ChannelState

	stats *Stats

	onError ErrorFunc
	onStats StatsFunc
}

// New builds a Manager that will offer preferred (in priority order)
// during negotiation. If preferred is empty, DefaultAlgorithm alone is
// offered.
func New(sender Sender, preferred []Algorithm, log zerolog.Logger) *Manager {
	if len(preferred) == 0 {
		preferred = []Algorithm{DefaultAlgorithm}
	}
	return &Manager{
		sender:    sender,
		log:       log.With().Str("component", "delta").Logger(),
		preferred: preferred,
		decoders: map[Algorithm]Decoder{
			Fossil:  FossilDecoder{},
			Xdelta3: VcdiffDecoder{},
		},
		channels: make(map[string]*ChannelState),
		stats:    newStats(),
	}
}

// SetHooks installs optional observability callbacks.
func (m *Manager) SetHooks(onError ErrorFunc, onStats StatsFunc) {
	m.onError = onError
	m.onStats = onStats
}

// Stats returns the manager's running statistics.
func (m *Manager) Stats() *Stats { return m.stats }

// RequestEnable sends pusher:enable_delta_compression advertising the
// algorithms this client can both decode and offers to decode. Called
// once the connection reaches Connected.
func (m *Manager) RequestEnable() error {
	offer := make([]Algorithm, 0, len(m.preferred))
	for _, alg := range m.preferred {
		if _, ok := m.decoders[alg]; ok {
			offer = append(offer, alg)
		}
	}
	data, err := protocol.EncodeData(enableData{Algorithms: offer})
	if err != nil {
		return fmt.Errorf("delta: encode enable frame: %w", err)
	}
	msg := protocol.Message{Event: protocol.EventEnableDeltaCompression, Data: data}
	if !m.sender.Send(msg) {
		return fmt.Errorf("delta: send enable frame: connection not writable")
	}
	return nil
}

// HandleEnabled processes the server's pusher:delta_compression_enabled
// acknowledgement frame.
func (m *Manager) HandleEnabled(msg protocol.Message) error {
	var data enableData
	if err := protocol.DecodeData(msg, &data); err != nil {
		return fmt.Errorf("delta: decode enabled frame: %w", err)
	}
	m.enabled.Store(true)
	m.enabledAlg.Store(data.Algorithms)
	m.log.Info().Interface("algorithms", data.Algorithms).Msg("delta compression enabled")
	return nil
}

// Enabled reports whether the server has acknowledged delta compression.
func (m *Manager) Enabled() bool { return m.enabled.Load() }

// EnabledAlgorithms returns the algorithm set the server acknowledged,
// or nil before negotiation completes.
func (m *Manager) EnabledAlgorithms() []Algorithm {
	v := m.enabledAlg.Load()
	if v == nil {
		return nil
	}
	return v.([]Algorithm)
}

// HasState reports whether channel already has delta-cache state (a
// cache-sync was received for it), per spec.md §4.6's "the channel has
// a cache entry" gate on full-message tracking.
func (m *Manager) HasState(channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.channels[channel]
	return ok
}

func (m *Manager) stateFor(channel string) *ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.channels[channel]
	if !ok {
		cs = newChannelState("", defaultMaxMessagesPerKey)
		m.channels[channel] = cs
	}
	return cs
}

// HandleCacheSync processes a pusher:delta_cache_sync frame, replacing
// a channel's cache from the server's authoritative snapshot.
func (m *Manager) HandleCacheSync(channel string, msg protocol.Message) error {
	var data cacheSyncData
	if err := protocol.DecodeData(msg, &data); err != nil {
		return fmt.Errorf("delta: decode cache sync for %s: %w", channel, err)
	}
	m.stateFor(channel).replaceFrom(data)
	m.log.Debug().Str("channel", channel).Int("keys", len(data.States)).Msg("delta cache synced")
	return nil
}

// ObserveFullMessage records a non-delta inbound message as a new base
// entry, so a later pusher:delta frame can reference it.
func (m *Manager) ObserveFullMessage(channel string, msg protocol.Message) {
	state := m.stateFor(channel)

	content, _ := protocol.DataString(msg) // best-effort: malformed data is cached verbatim as empty

	var fields map[string]interface{}
	_ = json.Unmarshal([]byte(content), &fields) // best-effort: only used to find the conflation key
	key := state.conflationKeyFor(fields)

	seq := int64(0)
	if v, ok := fields["__delta_seq"]; ok {
		if f, ok := v.(float64); ok {
			seq = int64(f)
		}
	}
	if seq == 0 {
		state.mu.RLock()
		seq = state.lastSeq + 1
		state.mu.RUnlock()
	}

	state.pushBase(key, content, seq)
	m.stats.recordFull(channel, len(msg.Data))
}

// HandleDelta decodes a pusher:delta frame into a full reconstructed
// message, which the caller should then route exactly like a normal
// inbound event. On decode failure it sends pusher:delta_sync_error and
// clears the channel's cache so the next full message restarts it.
func (m *Manager) HandleDelta(channel string, msg protocol.Message) (protocol.Message, error) {
	var frame deltaFrameData
	if err := protocol.DecodeData(msg, &frame); err != nil {
		return protocol.Message{}, fmt.Errorf("delta: decode delta frame for %s: %w", channel, err)
	}

	algorithm := DefaultAlgorithm
	if frame.Algorithm != nil {
		algorithm = Algorithm(*frame.Algorithm)
	}
	decoder, ok := m.decoders[algorithm]
	if !ok {
		err := fmt.Errorf("delta: unknown algorithm %q", algorithm)
		m.requestResync(channel)
		m.recordFailure(channel, err)
		return protocol.Message{}, err
	}

	key := defaultConflationKey
	if frame.ConflationKey != nil && *frame.ConflationKey != "" {
		key = *frame.ConflationKey
	}

	state := m.stateFor(channel)
	base, ok := state.base(key, frame.BaseIndex)
	if !ok {
		err := fmt.Errorf("delta: no cached base for channel %s key %s", channel, key)
		m.requestResync(channel)
		m.recordFailure(channel, err)
		return protocol.Message{}, err
	}

	deltaBytes, err := decodeBase64(frame.Delta)
	if err != nil {
		m.requestResync(channel)
		m.recordFailure(channel, err)
		return protocol.Message{}, err
	}

	decoded, err := decoder.Decode([]byte(base.Content), deltaBytes)
	if err != nil {
		m.requestResync(channel)
		m.recordFailure(channel, err)
		return protocol.Message{}, err
	}

	state.pushBase(key, string(decoded), frame.Seq)
	m.stats.recordDelta(channel, len(decoded), len(deltaBytes), true)
	if m.onStats != nil {
		m.onStats(channel, m.stats.Snapshot(channel))
	}

	return protocol.Message{
		Event:   frame.Event,
		Channel: channel,
		Data:    rawOrString(string(decoded)),
	}, nil
}

func (m *Manager) recordFailure(channel string, err error) {
	m.stats.recordDelta(channel, 0, 0, false)
	m.log.Warn().Err(err).Str("channel", channel).Msg("delta decode failed")
	if m.onError != nil {
		m.onError(channel, err)
	}
}

// requestResync sends pusher:delta_sync_error and drops the channel's
// cache, so the server will resend a full cache sync.
func (m *Manager) requestResync(channel string) {
	m.mu.Lock()
	delete(m.channels, channel)
	m.mu.Unlock()

	data, err := protocol.EncodeData(syncErrorData{Channel: channel})
	if err != nil {
		m.log.Error().Err(err).Msg("delta: encode sync error frame")
		return
	}
	m.sender.Send(protocol.Message{Event: protocol.EventDeltaSyncError, Channel: channel, Data: data})
}

// Reset drops all per-channel cache state, used on disconnect.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.channels = make(map[string]*ChannelState)
	m.mu.Unlock()
	m.enabled.Store(false)
}
