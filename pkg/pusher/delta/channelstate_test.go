package delta

import "testing"

func TestFIFOEvictionAtCapacity(t *testing.T) {
	state := newChannelState("", 3)

	for i, msg := range []string{"one", "two", "three", "four", "five"} {
		state.pushBase(defaultConflationKey, msg, int64(i+1))
	}

	if got := state.messageCount(defaultConflationKey); got != 3 {
		t.Fatalf("message_count = %d, want 3", got)
	}

	oldest, ok := state.base(defaultConflationKey, intPtr(0))
	if !ok {
		t.Fatal("expected oldest entry to exist")
	}
	if oldest.Content != "three" {
		t.Fatalf("oldest accessible entry = %q, want %q", oldest.Content, "three")
	}

	newest, ok := state.base(defaultConflationKey, nil)
	if !ok {
		t.Fatal("expected newest entry to exist")
	}
	if newest.Content != "five" {
		t.Fatalf("newest entry = %q, want %q", newest.Content, "five")
	}
}

func TestConflationKeyForPrefersExplicitField(t *testing.T) {
	state := newChannelState("league", 10)

	key := state.conflationKeyFor(map[string]interface{}{"__conflation_key": "explicit"})
	if key != "explicit" {
		t.Fatalf("key = %q, want explicit", key)
	}

	key = state.conflationKeyFor(map[string]interface{}{"league": "premier"})
	if key != "premier" {
		t.Fatalf("key = %q, want premier", key)
	}

	key = state.conflationKeyFor(map[string]interface{}{"other": "x"})
	if key != defaultConflationKey {
		t.Fatalf("key = %q, want default", key)
	}
}

func TestReplaceFromCacheSync(t *testing.T) {
	state := newChannelState("", 10)
	maxPerKey := 5
	sync := cacheSyncData{
		ConflationKey:     "league",
		MaxMessagesPerKey: &maxPerKey,
		States: map[string][]cacheEntry{
			"premier": {{Content: "a", Seq: 1}, {Content: "b", Seq: 2}},
		},
	}
	state.replaceFrom(sync)

	if state.conflationField != "league" {
		t.Fatalf("conflationField = %q", state.conflationField)
	}
	if got := state.messageCount("premier"); got != 2 {
		t.Fatalf("message_count = %d, want 2", got)
	}
	last, ok := state.base("premier", nil)
	if !ok || last.Content != "b" {
		t.Fatalf("last entry = %+v", last)
	}
}

func intPtr(i int) *int { return &i }
