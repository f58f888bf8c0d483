package delta

import "sync"

// fifo is a bounded, in-order cache of base-message entries for one
// conflation-key value. Grounded on the teacher's own bounded
// replay-buffer idiom (src/replay_buffer.go's eviction-from-front ring),
// adapted here to a per-key partition instead of a single global ring.
type fifo struct {
	entries  []cacheEntry
	capacity int
}

func newFIFO(capacity int) *fifo {
	if capacity <= 0 {
		capacity = defaultMaxMessagesPerKey
	}
	return &fifo{capacity: capacity}
}

// push appends entry, evicting from the front if capacity would be
// exceeded.
func (f *fifo) push(entry cacheEntry) {
	f.entries = append(f.entries, entry)
	if len(f.entries) > f.capacity {
		f.entries = f.entries[len(f.entries)-f.capacity:]
	}
}

// at returns the entry at position idx (0 = oldest). A negative or
// out-of-range index returns the zero value and false.
func (f *fifo) at(idx int) (cacheEntry, bool) {
	if idx < 0 || idx >= len(f.entries) {
		return cacheEntry{}, false
	}
	return f.entries[idx], true
}

// last returns the most recently pushed entry.
func (f *fifo) last() (cacheEntry, bool) {
	if len(f.entries) == 0 {
		return cacheEntry{}, false
	}
	return f.entries[len(f.entries)-1], true
}

// ChannelState is the per-channel delta cache of spec.md §3: a mapping
// from conflation-key value to a bounded FIFO, plus the channel's
// conflation-key field name and bookkeeping.
type ChannelState struct {
	mu sync.RWMutex

	conflationField string
	maxPerKey       int
	fifos           map[string]*fifo
	lastSeq         int64
}

func newChannelState(conflationField string, maxPerKey int) *ChannelState {
	if maxPerKey <= 0 {
		maxPerKey = defaultMaxMessagesPerKey
	}
	return &ChannelState{
		conflationField: conflationField,
		maxPerKey:       maxPerKey,
		fifos:           make(map[string]*fifo),
	}
}

// replaceFrom resets every FIFO from a cache-sync payload (spec.md
// §4.6's "Cache sync"): adopts the new conflation field and capacity,
// and replaces each partition's entries in order.
func (s *ChannelState) replaceFrom(sync cacheSyncData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflationField = sync.ConflationKey
	if sync.MaxMessagesPerKey != nil && *sync.MaxMessagesPerKey > 0 {
		s.maxPerKey = *sync.MaxMessagesPerKey
	}
	s.fifos = make(map[string]*fifo)
	for key, entries := range sync.States {
		f := newFIFO(s.maxPerKey)
		for _, e := range entries {
			f.push(e)
			if e.Seq > s.lastSeq {
				s.lastSeq = e.Seq
			}
		}
		s.fifos[key] = f
	}
}

// conflationKeyFor extracts the partition key for an event's data,
// per spec.md §4.6: data.__conflation_key if present, else
// data.<conflationField> if a conflation field is configured, else the
// synthetic default key.
func (s *ChannelState) conflationKeyFor(data map[string]interface{}) string {
	if v, ok := data["__conflation_key"]; ok {
		if str, ok := v.(string); ok && str != "" {
			return str
		}
	}
	s.mu.RLock()
	field := s.conflationField
	s.mu.RUnlock()
	if field != "" {
		if v, ok := data[field]; ok {
			if str, ok := v.(string); ok && str != "" {
				return str
			}
		}
	}
	return defaultConflationKey
}

// pushBase inserts content as a new base entry under key, evicting from
// the front if the partition's FIFO is at capacity.
func (s *ChannelState) pushBase(key string, content string, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fifos[key]
	if !ok {
		f = newFIFO(s.maxPerKey)
		s.fifos[key] = f
	}
	f.push(cacheEntry{Content: content, Seq: seq})
	if seq > s.lastSeq {
		s.lastSeq = seq
	}
}

// base returns the base entry for key at baseIndex (nil = last entry).
func (s *ChannelState) base(key string, baseIndex *int) (cacheEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fifos[key]
	if !ok {
		return cacheEntry{}, false
	}
	if baseIndex == nil {
		return f.last()
	}
	return f.at(*baseIndex)
}

// messageCount reports the number of cached entries under key.
func (s *ChannelState) messageCount(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fifos[key]
	if !ok {
		return 0
	}
	return len(f.entries)
}
