// Package sequence reorders extracted payloads by their sequence numbers.
// USB completions can be delivered out of submission order, and frame bytes
// applied out of order shear the image, so payloads park here until every
// lower sequence number has been seen.
package sequence

import (
	"github.com/laurigates/CleanScope/pkg/transfers"
)

// Queue is an ordered map of sequence number to payload. It is not safe for
// concurrent use; callers hold the same lock that serializes assembly.
type Queue struct {
	pending map[uint64]*transfers.Payload
	stale   uint64
}

func NewQueue() *Queue {
	return &Queue{pending: make(map[uint64]*transfers.Payload)}
}

// Insert parks a payload until its turn comes up. A payload inserted twice
// with the same sequence number replaces the earlier copy; sequence numbers
// are assigned atomically at extraction so this does not happen in practice.
func (q *Queue) Insert(p *transfers.Payload) {
	q.pending[p.Sequence] = p
}

// DrainReady removes and returns the longest run of consecutive sequence
// numbers starting at next, in ascending order, along with the advanced
// cursor. Payloads below next are already processed or duplicates and are
// discarded. If next itself is missing, the run is empty and the caller
// waits for the next completion; a permanently lost transfer therefore
// stalls the cursor, which is surfaced through MinPending rather than
// resolved by skipping.
func (q *Queue) DrainReady(next uint64) ([]*transfers.Payload, uint64) {
	for seq := range q.pending {
		if seq < next {
			delete(q.pending, seq)
			q.stale++
		}
	}

	var run []*transfers.Payload
	for {
		p, ok := q.pending[next]
		if !ok {
			break
		}
		delete(q.pending, next)
		run = append(run, p)
		next++
	}
	return run, next
}

// Len reports how many payloads are parked waiting for a gap to fill.
func (q *Queue) Len() int {
	return len(q.pending)
}

// MinPending returns the lowest parked sequence number, if any. A persistent
// spread between it and the expected cursor means a transfer was lost and
// the stream needs external recovery.
func (q *Queue) MinPending() (uint64, bool) {
	var min uint64
	found := false
	for seq := range q.pending {
		if !found || seq < min {
			min = seq
			found = true
		}
	}
	return min, found
}

// StaleDrops counts payloads discarded for arriving at or below an already
// drained sequence number.
func (q *Queue) StaleDrops() uint64 {
	return q.stale
}
