package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iusamaaziz/DonationBox-sub000/internal/domain"
	"github.com/iusamaaziz/DonationBox-sub000/internal/repository"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/config"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/mylogger"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/outbox/worker"
)

const janitorBatchLimit = 100

// Janitor sweeps payment transactions abandoned by crashed sagas. Rows
// stuck before the gateway charge are voided outright. Rows stuck after
// the charge are only reported, money moved and only a human can decide
// between completing and refunding.
//
// The stale cutoff must stay comfortably above the lock TTL plus
// extension, so no live saga can still own a row the sweep touches.
type Janitor struct {
	pool         TxBeginner
	paymentRepo  repository.PaymentRepository
	outboxRepo   worker.OutboxRepository
	publisher    PublisherNotifier
	logger       *zap.Logger
	interval     time.Duration
	staleAfter   time.Duration
	paymentTopic string
	tracer       trace.Tracer
}

func NewJanitor(
	pool TxBeginner,
	paymentRepo repository.PaymentRepository,
	outboxRepo worker.OutboxRepository,
	publisher PublisherNotifier,
	logger *zap.Logger,
	cfg config.Janitor,
	paymentTopic string,
) *Janitor {
	return &Janitor{
		pool:         pool,
		paymentRepo:  paymentRepo,
		outboxRepo:   outboxRepo,
		publisher:    publisher,
		logger:       logger,
		interval:     cfg.Interval,
		staleAfter:   cfg.StaleAfter,
		paymentTopic: paymentTopic,
		tracer:       otel.Tracer("service/janitor"),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	mylogger.Info(
		ctx,
		j.logger,
		"Starting payment janitor",
		zap.Duration("interval", j.interval),
		zap.Duration("stale_after", j.staleAfter),
	)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, j.logger, "Stopping payment janitor")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

func (j *Janitor) Sweep(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "Janitor.Sweep")
	defer span.End()

	cutoff := time.Now().Add(-j.staleAfter)

	j.voidAbandoned(ctx, cutoff)
	j.reportCharged(ctx, cutoff)
}

func (j *Janitor) voidAbandoned(ctx context.Context, cutoff time.Time) {
	stale, err := j.paymentRepo.ListStaleTransactions(
		ctx,
		[]string{domain.StatusPending, domain.StatusProcessing},
		cutoff,
		janitorBatchLimit,
	)
	if err != nil {
		mylogger.Error(ctx, j.logger, "Stale transaction listing failed", zap.Error(err))
		return
	}

	if len(stale) == 0 {
		return
	}

	mylogger.Info(
		ctx,
		j.logger,
		"Voiding abandoned payment transactions",
		zap.Int("count", len(stale)),
	)

	voided := 0
	for i := range stale {
		if j.voidTransaction(ctx, &stale[i]) {
			voided++
		}
	}

	if voided > 0 {
		j.publisher.Notify()
	}
}

func (j *Janitor) voidTransaction(ctx context.Context, txn *domain.PaymentTransaction) bool {
	const reason = "abandoned by crashed payment saga"

	tx, err := j.pool.Begin(ctx)
	if err != nil {
		mylogger.Error(
			ctx,
			j.logger,
			"Error beginning transaction",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.Error(err),
		)

		return false
	}
	defer j.rollback(ctx, tx)

	if err := j.paymentRepo.MarkFailed(ctx, tx, txn.ID, reason); err != nil {
		mylogger.Error(
			ctx,
			j.logger,
			"Mark transaction failed errored",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.Error(err),
		)

		return false
	}

	event := domain.PaymentFailedEvent{
		TransactionRef: txn.TransactionRef,
		DonationID:     txn.DonationID,
		CampaignID:     txn.CampaignID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		PaymentMethod:  txn.PaymentMethod,
		DonorName:      txn.DonorName,
		DonorEmail:     txn.DonorEmail,
		FailureReason:  reason,
		FailedAt:       time.Now(),
	}

	if err := saveEnvelope(ctx, j.outboxRepo, tx, j.paymentTopic, domain.EventPaymentFailed, event, txn.ID); err != nil {
		mylogger.Error(
			ctx,
			j.logger,
			"Failed to emit event",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.Error(err),
		)

		return false
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(
			ctx,
			j.logger,
			"Failed to commit transaction",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.Error(err),
		)

		return false
	}

	mylogger.Warn(
		ctx,
		j.logger,
		"Voided abandoned payment transaction",
		zap.String("transaction_ref", txn.TransactionRef),
		zap.String("previous_status", txn.Status),
		zap.Int64("donation_id", txn.DonationID),
	)

	return true
}

// reportCharged never mutates: a stale gateway_processed row means the
// gateway charged but the saga died before a terminal status, and an
// automatic refund here could clash with a completion already sent to
// the donation service.
func (j *Janitor) reportCharged(ctx context.Context, cutoff time.Time) {
	stale, err := j.paymentRepo.ListStaleTransactions(
		ctx,
		[]string{domain.StatusGatewayProcessed},
		cutoff,
		janitorBatchLimit,
	)
	if err != nil {
		mylogger.Error(ctx, j.logger, "Stale transaction listing failed", zap.Error(err))
		return
	}

	for i := range stale {
		txn := &stale[i]

		gatewayRef := ""
		if txn.GatewayTransactionRef != nil {
			gatewayRef = *txn.GatewayTransactionRef
		}

		mylogger.Error(
			ctx,
			j.logger,
			"Stale charged transaction, manual review required",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.String("gateway_ref", gatewayRef),
			zap.Int64("donation_id", txn.DonationID),
			zap.String("amount", txn.Amount.StringFixed(2)),
		)
	}
}

func (j *Janitor) rollback(ctx context.Context, tx pgx.Tx) {
	cleanupCtx := context.WithoutCancel(ctx)

	if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		mylogger.Warn(
			cleanupCtx,
			j.logger,
			"Error rolling back transaction",
			zap.Error(err),
			zap.String("method_name", "Janitor.voidTransaction"),
		)
	}
}
