package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Client is the boundary to the external payment processor. Both calls
// are slow and fallible; Charge must never run twice for one
// transaction ref without the same idempotency key.
type Client interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

type ChargeRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	PaymentMethod  string            `json:"payment_method"`
	PaymentDetails map[string]string `json:"payment_details"`
	IdempotencyKey string            `json:"-"`
}

// ChargeResult with Success=false is a decline, not a transport error:
// the gateway answered and said no.
type ChargeResult struct {
	Success       bool            `json:"success"`
	GatewayRef    string          `json:"gateway_ref"`
	Fee           decimal.Decimal `json:"fee"`
	FailureReason string          `json:"failure_reason"`
}

type RefundRequest struct {
	GatewayRef string          `json:"gateway_ref"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
}

type RefundResult struct {
	Success       bool   `json:"success"`
	RefundRef     string `json:"refund_ref"`
	FailureReason string `json:"failure_reason"`
}
