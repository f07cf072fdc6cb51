package pipeline

import (
	"sync"
	"time"
)

// NoError is the Snapshot.Error value when the latest batch has not failed.
const NoError = "none"

// Dropped is a document left out of the corpus.
type Dropped struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// Snapshot is a copy of the latest batch's diagnostic state.
type Snapshot struct {
	BatchID   string    `json:"batch_id,omitempty"`
	State     Stage     `json:"state"`
	Uploads   []string  `json:"uploads"`
	Dropped   []Dropped `json:"dropped"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error"`
	ErrorKind Kind      `json:"error_kind,omitempty"`
	Expected  int       `json:"expected,omitempty"`
	Received  int       `json:"received,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker holds the state of the most recent batch only. Every Begin
// replaces what was there; a restart starts from an empty slot.
type Tracker struct {
	mu  sync.RWMutex
	cur Snapshot
	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{cur: Snapshot{State: StageIdle, Error: NoError}, now: time.Now}
}

// Begin starts a new batch and discards the previous one. The intake
// counters carry over.
func (t *Tracker) Begin(batchID string, uploads []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.begin(batchID, uploads)
}

// Activate makes batchID current again when a newer submission replaced
// it before it started running.
func (t *Tracker) Activate(batchID string, uploads []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur.BatchID != batchID {
		t.begin(batchID, uploads)
	}
}

func (t *Tracker) begin(batchID string, uploads []string) {
	t.cur = Snapshot{
		BatchID:   batchID,
		State:     StageReceived,
		Uploads:   append([]string(nil), uploads...),
		Error:     NoError,
		Expected:  t.cur.Expected,
		Received:  t.cur.Received,
		UpdatedAt: t.now(),
	}
}

// Queued updates the intake counters without touching the batch state.
func (t *Tracker) Queued(received, expected int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur.Received = received
	t.cur.Expected = expected
	t.cur.UpdatedAt = t.now()
}

// Waiting records a fixed-size batch that is still being filled.
func (t *Tracker) Waiting(uploads []string, expected int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur = Snapshot{
		State:     StageWaiting,
		Uploads:   append([]string(nil), uploads...),
		Error:     NoError,
		Expected:  expected,
		Received:  len(uploads),
		UpdatedAt: t.now(),
	}
}

// Reject records a batch refused at submission.
func (t *Tracker) Reject(uploads []string, err *Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur = Snapshot{
		State:     StageFailed,
		Uploads:   append([]string(nil), uploads...),
		Error:     err.Error(),
		ErrorKind: err.Kind,
		Expected:  t.cur.Expected,
		Received:  t.cur.Received,
		UpdatedAt: t.now(),
	}
}

func (t *Tracker) Stage(batchID string, s Stage) {
	t.update(batchID, func(c *Snapshot) { c.State = s })
}

func (t *Tracker) Drop(batchID string, d Dropped) {
	t.update(batchID, func(c *Snapshot) { c.Dropped = append(c.Dropped, d) })
}

func (t *Tracker) Complete(batchID, output string) {
	t.update(batchID, func(c *Snapshot) {
		c.State = StageCompleted
		c.Output = output
		c.Error = NoError
		c.ErrorKind = ""
	})
}

func (t *Tracker) Fail(batchID string, err *Error) {
	t.update(batchID, func(c *Snapshot) {
		c.State = StageFailed
		c.Error = err.Error()
		c.ErrorKind = err.Kind
	})
}

// update ignores writes for a batch that is no longer the current one.
func (t *Tracker) update(batchID string, fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur.BatchID != batchID {
		return
	}
	fn(&t.cur)
	t.cur.UpdatedAt = t.now()
}

// Snapshot returns a copy that callers may keep.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.cur
	s.Uploads = append([]string{}, t.cur.Uploads...)
	s.Dropped = append([]Dropped{}, t.cur.Dropped...)
	return s
}
