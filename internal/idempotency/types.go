package idempotency

import "time"

// Status values for ledger entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// EventRecord is the shape persisted in the processed-event ledger table.
type EventRecord struct {
	EventID   string    `dynamodbav:"event_id"` // PK
	EventType string    `dynamodbav:"event_type"`
	Status    string    `dynamodbav:"status"`
	Attempts  int       `dynamodbav:"attempts"`
	Result    string    `dynamodbav:"result,omitempty"` // JSON summary of the feed operation
	Note      string    `dynamodbav:"note,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
	ExpiresAt int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}

// Done reports whether the event was fully handled.
func (r *EventRecord) Done() bool {
	return r != nil && r.Status == StatusDone
}
