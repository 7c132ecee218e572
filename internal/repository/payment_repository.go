package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iusamaaziz/DonationBox-sub000/internal/domain"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type PaymentRepository interface {
	CreateTransaction(ctx context.Context, txn *domain.PaymentTransaction) error
	GetByRef(ctx context.Context, transactionRef string) (*domain.PaymentTransaction, error)
	GetByDonationID(ctx context.Context, donationID int64) ([]domain.PaymentTransaction, error)
	MarkProcessing(ctx context.Context, id int64) error
	RecordGatewayResult(ctx context.Context, id int64, gatewayRef string) error
	MarkCompleted(ctx context.Context, tx pgx.Tx, id int64) (time.Time, error)
	MarkFailed(ctx context.Context, tx pgx.Tx, id int64, reason string) error
	MarkRefunded(ctx context.Context, tx pgx.Tx, id int64, reason string) (time.Time, error)
	AddLedgerEntry(ctx context.Context, tx pgx.Tx, entry *domain.PaymentLedgerEntry) error
	ListStaleTransactions(ctx context.Context, statuses []string, cutoff time.Time, limit int) ([]domain.PaymentTransaction, error)
}

type paymentRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewPaymentRepository(pool *pgxpool.Pool, logger *zap.Logger) PaymentRepository {
	return &paymentRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/payment_repo"),
	}
}

const transactionColumns = `
	id, transaction_ref, donation_id, campaign_id, amount, currency,
	donor_name, donor_email, payment_method, status, gateway_name,
	gateway_transaction_ref, failure_reason, created_at, processed_at, completed_at
`

func scanTransaction(row pgx.Row, t *domain.PaymentTransaction) error {
	return row.Scan(
		&t.ID,
		&t.TransactionRef,
		&t.DonationID,
		&t.CampaignID,
		&t.Amount,
		&t.Currency,
		&t.DonorName,
		&t.DonorEmail,
		&t.PaymentMethod,
		&t.Status,
		&t.GatewayName,
		&t.GatewayTransactionRef,
		&t.FailureReason,
		&t.CreatedAt,
		&t.ProcessedAt,
		&t.CompletedAt,
	)
}

func (r *paymentRepo) CreateTransaction(ctx context.Context, txn *domain.PaymentTransaction) error {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.CreateTransaction")
	defer span.End()

	span.SetAttributes(
		attribute.String("transaction_ref", txn.TransactionRef),
		attribute.Int64("donation_id", txn.DonationID),
		attribute.String("amount", txn.Amount.StringFixed(2)),
	)

	query := `
		INSERT INTO payment_transactions
			(transaction_ref, donation_id, campaign_id, amount, currency,
			 donor_name, donor_email, payment_method, status, gateway_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		txn.TransactionRef,
		txn.DonationID,
		txn.CampaignID,
		txn.Amount,
		txn.Currency,
		txn.DonorName,
		txn.DonorEmail,
		txn.PaymentMethod,
		txn.Status,
		txn.GatewayName,
	).Scan(&txn.ID, &txn.CreatedAt)

	if err != nil {
		span.RecordError(err)

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateTransactionRef
		}

		mylogger.Error(ctx, r.logger, "Create payment transaction failed", zap.Error(err))

		return fmt.Errorf("error creating payment transaction: %w", err)
	}

	return nil
}

func (r *paymentRepo) GetByRef(ctx context.Context, transactionRef string) (*domain.PaymentTransaction, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.GetByRef")
	defer span.End()

	span.SetAttributes(
		attribute.String("transaction_ref", transactionRef),
	)

	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE transaction_ref = $1
	`

	var txn domain.PaymentTransaction
	if err := scanTransaction(r.pool.QueryRow(ctx, query, transactionRef), &txn); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}

		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "GetByRef failed", zap.Error(err))

		return nil, fmt.Errorf("error getting transaction by ref: %w", err)
	}

	return &txn, nil
}

func (r *paymentRepo) GetByDonationID(ctx context.Context, donationID int64) ([]domain.PaymentTransaction, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.GetByDonationID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("donation_id", donationID),
	)

	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE donation_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, donationID)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("error listing transactions by donation: %w", err)
	}
	defer rows.Close()

	var txns []domain.PaymentTransaction
	for rows.Next() {
		var txn domain.PaymentTransaction
		if err := scanTransaction(rows, &txn); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning transaction: %w", err)
		}

		txns = append(txns, txn)
	}

	return txns, nil
}

func (r *paymentRepo) MarkProcessing(ctx context.Context, id int64) error {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.MarkProcessing")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("transaction_id", id),
	)

	query := `
		UPDATE payment_transactions
		SET status = $2, processed_at = NOW()
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, domain.StatusProcessing)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (r *paymentRepo) RecordGatewayResult(ctx context.Context, id int64, gatewayRef string) error {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.RecordGatewayResult")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("transaction_id", id),
		attribute.String("gateway_ref", gatewayRef),
	)

	query := `
		UPDATE payment_transactions
		SET status = $2, gateway_transaction_ref = $3
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, id, domain.StatusGatewayProcessed, gatewayRef)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (r *paymentRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, id int64) (time.Time, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.MarkCompleted")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("transaction_id", id),
	)

	query := `
		UPDATE payment_transactions
		SET status = $2, completed_at = NOW(), failure_reason = NULL
		WHERE id = $1
		RETURNING completed_at
	`

	var completedAt time.Time
	if err := tx.QueryRow(ctx, query, id, domain.StatusCompleted).Scan(&completedAt); err != nil {
		span.RecordError(err)

		return time.Time{}, err
	}

	return completedAt, nil
}

func (r *paymentRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.MarkFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("transaction_id", id),
		attribute.String("failure_reason", reason),
	)

	query := `
		UPDATE payment_transactions
		SET status = $2, failure_reason = $3
		WHERE id = $1
	`

	_, err := tx.Exec(ctx, query, id, domain.StatusFailed, reason)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (r *paymentRepo) MarkRefunded(ctx context.Context, tx pgx.Tx, id int64, reason string) (time.Time, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.MarkRefunded")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("transaction_id", id),
	)

	query := `
		UPDATE payment_transactions
		SET status = $2, failure_reason = $3, completed_at = COALESCE(completed_at, NOW())
		WHERE id = $1
		RETURNING completed_at
	`

	var completedAt time.Time
	if err := tx.QueryRow(ctx, query, id, domain.StatusRefunded, reason).Scan(&completedAt); err != nil {
		span.RecordError(err)

		return time.Time{}, err
	}

	return completedAt, nil
}

func (r *paymentRepo) AddLedgerEntry(ctx context.Context, tx pgx.Tx, entry *domain.PaymentLedgerEntry) error {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.AddLedgerEntry")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("transaction_id", entry.TransactionID),
		attribute.String("entry_type", entry.EntryType),
		attribute.String("amount", entry.Amount.StringFixed(2)),
	)

	query := `
		INSERT INTO payment_ledger_entries
			(transaction_id, amount, entry_type, operation, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query,
		entry.TransactionID,
		entry.Amount,
		entry.EntryType,
		entry.Operation,
		entry.Description,
		entry.Metadata,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Add ledger entry failed", zap.Error(err))
	}

	return err
}

func (r *paymentRepo) ListStaleTransactions(ctx context.Context, statuses []string, cutoff time.Time, limit int) ([]domain.PaymentTransaction, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.ListStaleTransactions")
	defer span.End()

	span.SetAttributes(
		attribute.StringSlice("statuses", statuses),
	)

	query := `
		SELECT ` + transactionColumns + `
		FROM payment_transactions
		WHERE status = ANY($1) AND created_at <= $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, statuses, cutoff, limit)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("error listing stale transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.PaymentTransaction
	for rows.Next() {
		var txn domain.PaymentTransaction
		if err := scanTransaction(rows, &txn); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning transaction: %w", err)
		}

		txns = append(txns, txn)
	}

	span.SetAttributes(
		attribute.Int("result_count", len(txns)),
	)

	return txns, nil
}
