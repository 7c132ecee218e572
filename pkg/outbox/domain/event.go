package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

type OutboxEvent struct {
	Id            int64           `db:"id"`
	EventID       uuid.UUID       `db:"event_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	Topic         string          `db:"topic"`
	Status        string          `db:"status"`
	RetryCount    int64           `db:"retry_count"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
	LastError     *string         `db:"last_error"`
	TransactionID *int64          `db:"transaction_id"`
	CreatedAt     time.Time       `db:"created_at"`
	ClaimedAt     *time.Time      `db:"claimed_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
}

// NextRetryDelay returns the wait before retry number retryCount:
// 2^retryCount minutes, capped at one hour.
func NextRetryDelay(retryCount int64) time.Duration {
	if retryCount >= 6 {
		return 60 * time.Minute
	}

	return time.Duration(int64(1)<<uint(retryCount)) * time.Minute
}
