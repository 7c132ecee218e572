package service

import "errors"

var (
	ErrInvalidRequest      = errors.New("invalid payment request")
	ErrDuplicatePayment    = errors.New("duplicate payment in progress")
	ErrNotRefundable       = errors.New("transaction is not refundable")
	ErrRefundExceedsCharge = errors.New("refund amount exceeds charged amount")
)
