package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending          = "pending"
	StatusProcessing       = "processing"
	StatusGatewayProcessed = "gateway_processed"
	StatusCompleted        = "completed"
	StatusFailed           = "failed"
	StatusRefunded         = "refunded"
)

const (
	EntryTypePayment = "payment"
	EntryTypeFee     = "fee"
	EntryTypeRefund  = "refund"
)

const (
	OperationDebit  = "debit"
	OperationCredit = "credit"
)

// PaymentTransaction is one payment attempt. The status column doubles
// as the saga's persisted step log: a row left in a non-terminal status
// tells a later sweep exactly how far the saga got before it died.
type PaymentTransaction struct {
	ID                    int64           `db:"id"`
	TransactionRef        string          `db:"transaction_ref"`
	DonationID            int64           `db:"donation_id"`
	CampaignID            int64           `db:"campaign_id"`
	Amount                decimal.Decimal `db:"amount"`
	Currency              string          `db:"currency"`
	DonorName             string          `db:"donor_name"`
	DonorEmail            string          `db:"donor_email"`
	PaymentMethod         string          `db:"payment_method"`
	Status                string          `db:"status"`
	GatewayName           string          `db:"gateway_name"`
	GatewayTransactionRef *string         `db:"gateway_transaction_ref"`
	FailureReason         *string         `db:"failure_reason"`
	CreatedAt             time.Time       `db:"created_at"`
	ProcessedAt           *time.Time      `db:"processed_at"`
	CompletedAt           *time.Time      `db:"completed_at"`
}

func (t *PaymentTransaction) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}

	return false
}

type PaymentLedgerEntry struct {
	ID            int64           `db:"id"`
	TransactionID int64           `db:"transaction_id"`
	Amount        decimal.Decimal `db:"amount"`
	EntryType     string          `db:"entry_type"`
	Operation     string          `db:"operation"`
	Description   string          `db:"description"`
	Metadata      json.RawMessage `db:"metadata"`
	CreatedAt     time.Time       `db:"created_at"`
}

type PaymentRequest struct {
	DonationID     int64             `json:"donation_id" validate:"required,gt=0"`
	CampaignID     int64             `json:"campaign_id" validate:"required,gt=0"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency" validate:"required,len=3"`
	DonorName      string            `json:"donor_name" validate:"required"`
	DonorEmail     string            `json:"donor_email" validate:"required,email"`
	PaymentMethod  string            `json:"payment_method" validate:"required"`
	PaymentDetails map[string]string `json:"payment_details"`
}

type PaymentResult struct {
	TransactionRef string `json:"transaction_ref"`
	Status         string `json:"status"`
	FailureReason  string `json:"failure_reason,omitempty"`
}

type RefundOutcome struct {
	RefundRef      string          `json:"refund_ref"`
	TransactionRef string          `json:"transaction_ref"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
}
