package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SagaLockState is owned by the single saga run that acquired it and
// is never shared across instances.
type SagaLockState struct {
	Key        string
	Token      string
	SagaID     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
	IsAcquired bool
}

// SagaLockKey spans donation id, payment method and amount: a retried
// identical request contends for the same key, while other payments
// against the same donation do not.
func SagaLockKey(donationID int64, method string, amount decimal.Decimal) string {
	return fmt.Sprintf("payment-lock:donation:%d:%s:%s", donationID, method, amount.StringFixed(2))
}
