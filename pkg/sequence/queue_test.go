package sequence

import (
	"testing"

	"github.com/laurigates/CleanScope/pkg/transfers"
)

func payload(seq uint64) *transfers.Payload {
	return &transfers.Payload{Sequence: seq, Data: []byte{byte(seq)}}
}

func TestDrainReady_InOrder(t *testing.T) {
	q := NewQueue()
	q.Insert(payload(0))
	q.Insert(payload(1))
	q.Insert(payload(2))

	run, next := q.DrainReady(0)
	if len(run) != 3 {
		t.Fatalf("run length = %d, want 3", len(run))
	}
	for i, p := range run {
		if p.Sequence != uint64(i) {
			t.Errorf("run[%d].Sequence = %d, want %d", i, p.Sequence, i)
		}
	}
	if next != 3 {
		t.Errorf("next = %d, want 3", next)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestDrainReady_ReversedInsertionYieldsAscendingOrder(t *testing.T) {
	// Completions delivered in reverse: the drain must still hand the
	// payloads over lowest sequence first.
	q := NewQueue()
	for seq := 3; seq >= 0; seq-- {
		q.Insert(payload(uint64(seq)))
	}

	run, next := q.DrainReady(0)
	if len(run) != 4 {
		t.Fatalf("run length = %d, want 4", len(run))
	}
	for i, p := range run {
		if p.Sequence != uint64(i) {
			t.Errorf("run[%d].Sequence = %d, want %d", i, p.Sequence, i)
		}
	}
	if next != 4 {
		t.Errorf("next = %d, want 4", next)
	}
}

func TestDrainReady_StopsAtGap(t *testing.T) {
	q := NewQueue()
	q.Insert(payload(0))
	q.Insert(payload(1))
	q.Insert(payload(3)) // 2 is missing

	run, next := q.DrainReady(0)
	if len(run) != 2 {
		t.Fatalf("run length = %d, want 2", len(run))
	}
	if next != 2 {
		t.Errorf("next = %d, want 2", next)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (payload 3 parked)", q.Len())
	}

	// Nothing moves until the gap fills.
	run, next = q.DrainReady(next)
	if len(run) != 0 || next != 2 {
		t.Errorf("drain with open gap = (%d payloads, next %d), want (0, 2)", len(run), next)
	}

	q.Insert(payload(2))
	run, next = q.DrainReady(next)
	if len(run) != 2 || next != 4 {
		t.Fatalf("drain after gap filled = (%d payloads, next %d), want (2, 4)", len(run), next)
	}
	if run[0].Sequence != 2 || run[1].Sequence != 3 {
		t.Errorf("run sequences = %d, %d, want 2, 3", run[0].Sequence, run[1].Sequence)
	}
}

func TestDrainReady_NeverYieldsTwice(t *testing.T) {
	q := NewQueue()
	q.Insert(payload(0))
	q.Insert(payload(1))

	first, next := q.DrainReady(0)
	if len(first) != 2 {
		t.Fatalf("first drain length = %d, want 2", len(first))
	}
	second, _ := q.DrainReady(next)
	if len(second) != 0 {
		t.Errorf("second drain length = %d, want 0", len(second))
	}
}

func TestDrainReady_DropsStale(t *testing.T) {
	q := NewQueue()
	q.Insert(payload(5))
	q.Insert(payload(2)) // below the cursor, already processed

	run, next := q.DrainReady(5)
	if len(run) != 1 || run[0].Sequence != 5 {
		t.Fatalf("run = %+v, want just sequence 5", run)
	}
	if next != 6 {
		t.Errorf("next = %d, want 6", next)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (stale payload discarded)", q.Len())
	}
	if q.StaleDrops() != 1 {
		t.Errorf("StaleDrops() = %d, want 1", q.StaleDrops())
	}
}

func TestMinPending(t *testing.T) {
	q := NewQueue()
	if _, ok := q.MinPending(); ok {
		t.Error("MinPending() on empty queue reported a value")
	}

	q.Insert(payload(7))
	q.Insert(payload(4))
	q.Insert(payload(9))
	min, ok := q.MinPending()
	if !ok || min != 4 {
		t.Errorf("MinPending() = (%d, %v), want (4, true)", min, ok)
	}
}
