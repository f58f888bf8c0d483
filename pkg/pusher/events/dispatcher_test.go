package events

import (
	"sort"
	"sync"
	"testing"
)

func TestEmitOrderGlobalThenSpecific(t *testing.T) {
	d := New(testLogger())
	var order []string
	var mu sync.Mutex
	record := func(tag string) Callback {
		return func(Event) {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
		}
	}

	d.BindGlobal(record("g1"))
	d.Bind("x", record("s1"))
	d.BindGlobal(record("g2"))
	d.Bind("x", record("s2"))

	d.Emit(Event{Name: "x"})

	want := []string{"g1", "g2", "s1", "s2"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestPanicDoesNotStopDispatch(t *testing.T) {
	d := New(testLogger())
	var ran []string
	d.Bind("x", func(Event) { panic("boom") })
	d.Bind("x", func(Event) { ran = append(ran, "second") })
	d.Emit(Event{Name: "x"})
	if len(ran) != 1 || ran[0] != "second" {
		t.Fatalf("ran = %v", ran)
	}
}

func TestUnbindCrossProduct(t *testing.T) {
	d := New(testLogger())
	var fired []string
	mk := func(tag string) Callback {
		return func(Event) { fired = append(fired, tag) }
	}

	idA := d.Bind("a", mk("a1"))
	d.Bind("a", mk("a2"))
	idB := d.Bind("b", mk("b1"))
	idG := d.BindGlobal(mk("g1"))

	d.Unbind("a", idA)
	fired = nil
	d.Emit(Event{Name: "a"})
	if len(fired) != 2 || fired[0] != "g1" || fired[1] != "a2" {
		t.Fatalf("after unbind(a,idA): %v", fired)
	}

	d.Unbind("a", 0)
	fired = nil
	d.Emit(Event{Name: "a"})
	if len(fired) != 1 || fired[0] != "g1" {
		t.Fatalf("after unbind(a,0): %v", fired)
	}

	fired = nil
	d.Emit(Event{Name: "b"})
	sort.Strings(fired)
	if len(fired) != 2 {
		t.Fatalf("expected global+b1, got %v", fired)
	}

	d.Unbind("", idB)
	fired = nil
	d.Emit(Event{Name: "b"})
	if len(fired) != 1 || fired[0] != "g1" {
		t.Fatalf("after unbind(\"\",idB): %v", fired)
	}

	d.Unbind("", idG)
	fired = nil
	d.Emit(Event{Name: "b"})
	if len(fired) != 0 {
		t.Fatalf("after unbind(\"\",idG): %v", fired)
	}
}

func TestUnbindAll(t *testing.T) {
	d := New(testLogger())
	var fired []string
	d.Bind("a", func(Event) { fired = append(fired, "a") })
	d.BindGlobal(func(Event) { fired = append(fired, "g") })
	d.Unbind("", 0)
	d.Emit(Event{Name: "a"})
	if len(fired) != 0 {
		t.Fatalf("expected no callbacks after unbind-all, got %v", fired)
	}
}

func TestFailThrough(t *testing.T) {
	d := New(testLogger())
	var failed []string
	d.SetFailThrough(func(ev Event) { failed = append(failed, ev.Name) })
	d.Bind("bound", func(Event) {})

	d.Emit(Event{Name: "bound"})
	if len(failed) != 0 {
		t.Fatalf("fail-through fired for bound event: %v", failed)
	}

	d.Emit(Event{Name: "unbound"})
	if len(failed) != 1 || failed[0] != "unbound" {
		t.Fatalf("failed = %v", failed)
	}
}

func TestConcurrentBindEmit(t *testing.T) {
	d := New(testLogger())
	var wg sync.WaitGroup
	var count int64
	var mu sync.Mutex
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Bind("x", func(Event) {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	d.Emit(Event{Name: "x"})
	if count != 50 {
		t.Fatalf("count = %d, want 50", count)
	}
}
