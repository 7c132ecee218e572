package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventPaymentCompleted         = "PaymentCompleted"
	EventPaymentFailed            = "PaymentFailed"
	EventPaymentRefunded          = "PaymentRefunded"
	EventDonationPaymentRequested = "DonationPaymentRequested"
)

type PaymentCompletedEvent struct {
	TransactionRef string          `json:"transaction_ref"`
	DonationID     int64           `json:"donation_id"`
	CampaignID     int64           `json:"campaign_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PaymentMethod  string          `json:"payment_method"`
	DonorName      string          `json:"donor_name"`
	DonorEmail     string          `json:"donor_email"`
	CompletedAt    time.Time       `json:"completed_at"`
	GatewayRef     string          `json:"gateway_ref"`
}

type PaymentFailedEvent struct {
	TransactionRef string          `json:"transaction_ref"`
	DonationID     int64           `json:"donation_id"`
	CampaignID     int64           `json:"campaign_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PaymentMethod  string          `json:"payment_method"`
	DonorName      string          `json:"donor_name"`
	DonorEmail     string          `json:"donor_email"`
	FailureReason  string          `json:"failure_reason"`
	FailedAt       time.Time       `json:"failed_at"`
}

type PaymentRefundedEvent struct {
	RefundRef              string          `json:"refund_ref"`
	OriginalTransactionRef string          `json:"original_transaction_ref"`
	DonationID             int64           `json:"donation_id"`
	CampaignID             int64           `json:"campaign_id"`
	RefundAmount           decimal.Decimal `json:"refund_amount"`
	Reason                 string          `json:"reason"`
	RefundedAt             time.Time       `json:"refunded_at"`
}

type DonationPaymentRequestedEvent struct {
	DonationID     int64             `json:"donation_id"`
	CampaignID     int64             `json:"campaign_id"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	DonorName      string            `json:"donor_name"`
	DonorEmail     string            `json:"donor_email"`
	PaymentMethod  string            `json:"payment_method"`
	PaymentDetails map[string]string `json:"payment_details"`
}
