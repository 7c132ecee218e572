package repository

import "errors"

var (
	ErrTransactionNotFound     = errors.New("payment transaction not found")
	ErrDuplicateTransactionRef = errors.New("transaction reference already exists")
)
