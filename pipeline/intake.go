package pipeline

import (
	"sync"

	"dds_review_service/source"
)

// Intake gathers uploads into batches. With expected == 0 every Add is a
// batch of its own; with expected == N uploads accumulate across calls
// until N documents are present.
type Intake struct {
	mu       sync.Mutex
	expected int
	pending  []source.Document
	tracker  *Tracker
}

func NewIntake(expected int, tracker *Tracker) *Intake {
	return &Intake{expected: expected, tracker: tracker}
}

// Expected is the fixed batch size, 0 when unbounded.
func (in *Intake) Expected() int { return in.expected }

// Add queues docs and releases every complete batch, oldest documents
// first. pending is the number of documents left waiting for the next
// batch.
func (in *Intake) Add(docs []source.Document) (batches [][]source.Document, pending int) {
	if in.expected <= 0 {
		if len(docs) == 0 {
			return nil, 0
		}
		return [][]source.Document{docs}, 0
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	in.pending = append(in.pending, docs...)
	for len(in.pending) >= in.expected {
		batches = append(batches, append([]source.Document(nil), in.pending[:in.expected]...))
		in.pending = append([]source.Document(nil), in.pending[in.expected:]...)
	}
	in.report(len(batches) > 0)
	return batches, len(in.pending)
}

// Requeue puts a released batch back in front of the queue. Only the
// counters are reported so a rejection stays visible in the tracker.
func (in *Intake) Requeue(docs []source.Document) {
	if in.expected <= 0 || len(docs) == 0 {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.pending = append(append([]source.Document(nil), docs...), in.pending...)
	in.report(true)
}

// report publishes the queue to the tracker. Unless countersOnly is set
// the slot shows the waiting uploads; with it the current batch keeps the
// slot and only the counters move.
func (in *Intake) report(countersOnly bool) {
	if in.tracker == nil {
		return
	}
	if countersOnly || len(in.pending) == 0 {
		in.tracker.Queued(len(in.pending), in.expected)
		return
	}
	in.tracker.Waiting(source.Names(in.pending), in.expected)
}

// Pending is the number of queued documents.
func (in *Intake) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.pending)
}
