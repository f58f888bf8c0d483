package delta

import "sync"

// ChannelStats accumulates per-channel delta-compression counters, per
// spec.md §4.6's "Stats" requirement. BytesIfFull is the size every
// message would have cost had it been sent in full; BytesActual is
// what was actually transmitted (the full message itself, or just the
// compressed delta).
type ChannelStats struct {
	FullMessages  int64
	DeltaMessages int64
	DecodeErrors  int64

	BytesIfFull int64
	BytesActual int64
}

// BandwidthSaved is the number of bytes avoided by receiving deltas
// instead of full messages.
func (s ChannelStats) BandwidthSaved() int64 {
	saved := s.BytesIfFull - s.BytesActual
	if saved < 0 {
		return 0
	}
	return saved
}

// BandwidthSavedPercent expresses BandwidthSaved as a percentage of
// BytesIfFull.
func (s ChannelStats) BandwidthSavedPercent() float64 {
	if s.BytesIfFull == 0 {
		return 0
	}
	saved := float64(s.BytesIfFull - s.BytesActual)
	if saved < 0 {
		saved = 0
	}
	return saved / float64(s.BytesIfFull) * 100
}

// Stats is the client-wide view into delta compression effectiveness:
// one ChannelStats per tracked channel. No client-wide total is kept;
// All returns the per-channel entries only.
type Stats struct {
	mu       sync.RWMutex
	channels map[string]*ChannelStats
}

func newStats() *Stats {
	return &Stats{channels: make(map[string]*ChannelStats)}
}

// recordFull accounts for a non-delta message: it costs the same
// whether or not delta compression is active.
func (s *Stats) recordFull(channel string, wireBytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.mustChannelLocked(channel)
	cs.FullMessages++
	cs.BytesIfFull += int64(wireBytes)
	cs.BytesActual += int64(wireBytes)
}

// recordDelta accounts for a delta-reconstructed message: fullBytes is
// the size of the reconstructed content (what would have been sent in
// full); deltaBytes is the size of the delta actually received.
func (s *Stats) recordDelta(channel string, fullBytes, deltaBytes int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.mustChannelLocked(channel)
	cs.DeltaMessages++
	cs.BytesIfFull += int64(fullBytes)
	cs.BytesActual += int64(deltaBytes)
	if !ok {
		cs.DecodeErrors++
	}
}

func (s *Stats) mustChannelLocked(channel string) *ChannelStats {
	cs, ok := s.channels[channel]
	if !ok {
		cs = &ChannelStats{}
		s.channels[channel] = cs
	}
	return cs
}

// Snapshot returns an immutable copy of one channel's stats.
func (s *Stats) Snapshot(channel string) ChannelStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cs, ok := s.channels[channel]; ok {
		return *cs
	}
	return ChannelStats{}
}

// All returns an immutable copy of every tracked channel's stats.
func (s *Stats) All() map[string]ChannelStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ChannelStats, len(s.channels))
	for name, cs := range s.channels {
		out[name] = *cs
	}
	return out
}
