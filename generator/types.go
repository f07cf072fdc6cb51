package generator

// Attachment is a source document handed to backends that accept files.
type Attachment struct {
	Name string
	Data []byte
}

// ReviewRequest is one review of one batch.
type ReviewRequest struct {
	CorrelationID string
	Instructions  string
	Corpus        string
	Documents     []Attachment
}

// RunStatus is the state of a review run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunExpired   RunStatus = "expired"
)

// Terminal reports whether no further transition is expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired:
		return true
	}
	return false
}

// ReviewResult is the outcome of a review. Empty is set when a completed
// run produced no assistant message; Text is then blank.
type ReviewResult struct {
	Text   string    `json:"text"`
	Empty  bool      `json:"empty"`
	RunID  string    `json:"run_id,omitempty"`
	Status RunStatus `json:"status"`
}
