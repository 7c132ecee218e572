package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/iusamaaziz/DonationBox-sub000/internal/domain"
	"github.com/iusamaaziz/DonationBox-sub000/internal/donation"
	"github.com/iusamaaziz/DonationBox-sub000/internal/gateway"
	"github.com/iusamaaziz/DonationBox-sub000/internal/repository"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/config"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/mylogger"
	outboxDomain "github.com/iusamaaziz/DonationBox-sub000/pkg/outbox/domain"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/outbox/worker"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/utils"
)

// PublisherNotifier wakes the outbox processor after a terminal-status
// commit so events leave without waiting for the next sweep tick.
type PublisherNotifier interface {
	Notify()
}

// TxBeginner starts database transactions, satisfied by pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PaymentService interface {
	// ProcessPayment runs the payment saga for one donation request.
	//
	// The error return decides redelivery, so it is deliberately narrow:
	// a non-nil error means nothing irreversible happened and the request
	// is safe to retry. Every path after the gateway charge resolves to a
	// result with a nil error, because a retried delivery would open a
	// second charge under a fresh transaction ref.
	ProcessPayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentResult, error)
	GetPaymentStatus(ctx context.Context, transactionRef string) (*domain.PaymentTransaction, error)
	GetPaymentsByDonation(ctx context.Context, donationID int64) ([]domain.PaymentTransaction, error)
	RefundPayment(ctx context.Context, transactionRef string, amount *decimal.Decimal, reason string) (*domain.RefundOutcome, error)
}

type paymentService struct {
	pool         TxBeginner
	paymentRepo  repository.PaymentRepository
	outboxRepo   worker.OutboxRepository
	locks        LockService
	gateway      gateway.Client
	donations    donation.Confirmer
	publisher    PublisherNotifier
	logger       *zap.Logger
	validate     *validator.Validate
	tracer       trace.Tracer
	lockCfg      config.Lock
	gatewayName  string
	paymentTopic string
}

func NewPaymentService(
	pool TxBeginner,
	paymentRepo repository.PaymentRepository,
	outboxRepo worker.OutboxRepository,
	locks LockService,
	gatewayClient gateway.Client,
	donations donation.Confirmer,
	publisher PublisherNotifier,
	logger *zap.Logger,
	cfg *config.Config,
) PaymentService {
	return &paymentService{
		pool:         pool,
		paymentRepo:  paymentRepo,
		outboxRepo:   outboxRepo,
		locks:        locks,
		gateway:      gatewayClient,
		donations:    donations,
		publisher:    publisher,
		logger:       logger,
		validate:     validator.New(),
		tracer:       otel.Tracer("service/payment_service"),
		lockCfg:      cfg.Lock,
		gatewayName:  cfg.Gateway.Name,
		paymentTopic: cfg.Kafka.PaymentTopic,
	}
}

func (s *paymentService) ProcessPayment(ctx context.Context, req domain.PaymentRequest) (result *domain.PaymentResult, err error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.ProcessPayment")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("donation_id", req.DonationID),
		attribute.String("payment_method", req.PaymentMethod),
	)

	if err := s.validateRequest(req); err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Invalid payment request",
			zap.Int64("donation_id", req.DonationID),
			zap.Error(err),
		)

		return nil, err
	}

	sagaID := uuid.New().String()

	mylogger.Info(
		ctx,
		s.logger,
		"Processing payment",
		zap.String("saga_id", sagaID),
		zap.Int64("donation_id", req.DonationID),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("payment_method", req.PaymentMethod),
	)

	lockState, err := s.locks.AcquireSagaLock(ctx, sagaID, req.DonationID, req.PaymentMethod, req.Amount, s.lockCfg.TTL, s.lockCfg.MaxWait)
	if err != nil {
		if errors.Is(err, ErrDuplicatePayment) {
			mylogger.Warn(
				ctx,
				s.logger,
				"Duplicate payment in progress",
				zap.String("saga_id", sagaID),
				zap.Int64("donation_id", req.DonationID),
			)

			return &domain.PaymentResult{
				Status:        domain.StatusFailed,
				FailureReason: "duplicate payment in progress",
			}, nil
		}

		return nil, err
	}

	var txn *domain.PaymentTransaction

	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		s.locks.ReleaseSagaLock(releaseCtx, lockState)
	}()

	defer func() {
		if r := recover(); r != nil {
			recoverCtx := context.WithoutCancel(ctx)
			reason := fmt.Sprintf("payment saga panic: %v", r)

			mylogger.Error(
				recoverCtx,
				s.logger,
				"Payment saga panicked",
				zap.String("saga_id", sagaID),
				zap.Int64("donation_id", req.DonationID),
				zap.Any("panic", r),
			)

			result = &domain.PaymentResult{
				Status:        domain.StatusFailed,
				FailureReason: reason,
			}
			if txn != nil {
				s.failTransaction(recoverCtx, txn, reason)
				result.TransactionRef = txn.TransactionRef
			}
			err = nil
		}
	}()

	candidate := &domain.PaymentTransaction{
		TransactionRef: uuid.New().String(),
		DonationID:     req.DonationID,
		CampaignID:     req.CampaignID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		DonorName:      req.DonorName,
		DonorEmail:     req.DonorEmail,
		PaymentMethod:  req.PaymentMethod,
		Status:         domain.StatusPending,
		GatewayName:    s.gatewayName,
	}

	if err := s.paymentRepo.CreateTransaction(ctx, candidate); err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Payment transaction create failed",
			zap.String("saga_id", sagaID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error creating payment transaction: %w", err)
	}
	txn = candidate

	span.SetAttributes(attribute.String("transaction_ref", txn.TransactionRef))

	if !s.locks.IsSagaLockValid(ctx, lockState) {
		reason := "lock expired during processing"
		s.failTransaction(ctx, txn, reason)

		return &domain.PaymentResult{
			TransactionRef: txn.TransactionRef,
			Status:         domain.StatusFailed,
			FailureReason:  reason,
		}, nil
	}

	if err := s.paymentRepo.MarkProcessing(ctx, txn.ID); err != nil {
		return nil, fmt.Errorf("error marking transaction processing: %w", err)
	}
	txn.Status = domain.StatusProcessing

	chargeRes, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		PaymentMethod:  txn.PaymentMethod,
		PaymentDetails: req.PaymentDetails,
		IdempotencyKey: txn.TransactionRef,
	})
	if err != nil {
		// The charge outcome is unknown, so this must not be retried
		// blindly. The transaction is voided and the gateway dispute
		// path owns anything that actually went through.
		reason := fmt.Sprintf("gateway charge failed: %v", err)
		s.failTransaction(ctx, txn, reason)

		return &domain.PaymentResult{
			TransactionRef: txn.TransactionRef,
			Status:         domain.StatusFailed,
			FailureReason:  reason,
		}, nil
	}

	if !chargeRes.Success {
		reason := chargeRes.FailureReason
		if reason == "" {
			reason = "payment declined by gateway"
		}

		mylogger.Warn(
			ctx,
			s.logger,
			"Gateway declined charge",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.String("reason", reason),
		)

		s.failTransaction(ctx, txn, reason)

		return &domain.PaymentResult{
			TransactionRef: txn.TransactionRef,
			Status:         domain.StatusFailed,
			FailureReason:  reason,
		}, nil
	}

	if err := s.paymentRepo.RecordGatewayResult(ctx, txn.ID, chargeRes.GatewayRef); err != nil {
		return s.compensateCharged(ctx, txn, chargeRes.GatewayRef, fmt.Errorf("error recording gateway result: %w", err)), nil
	}
	txn.Status = domain.StatusGatewayProcessed
	txn.GatewayTransactionRef = &chargeRes.GatewayRef

	if !s.locks.ExtendSagaLock(ctx, lockState, s.lockCfg.Extension) {
		mylogger.Warn(
			ctx,
			s.logger,
			"Saga lock extension failed, continuing",
			zap.String("saga_id", sagaID),
			zap.String("lock_key", lockState.Key),
		)
	}

	if err := s.writeChargeLedger(ctx, txn, chargeRes.Fee); err != nil {
		return s.compensateCharged(ctx, txn, chargeRes.GatewayRef, fmt.Errorf("error writing ledger entries: %w", err)), nil
	}

	confirmed, confirmErr := s.donations.ConfirmDonation(ctx, txn.DonationID, txn.TransactionRef, domain.StatusCompleted)
	if confirmErr != nil || !confirmed {
		return s.compensateConfirmFailure(ctx, txn, chargeRes.GatewayRef, confirmErr), nil
	}

	if err := s.completeTransaction(ctx, txn, chargeRes.GatewayRef); err != nil {
		// Money moved and the donation is confirmed. An error here must
		// not surface as retryable, the row stays gateway_processed for
		// the janitor.
		mylogger.Error(
			ctx,
			s.logger,
			"Completion could not be recorded",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.Error(err),
		)

		return &domain.PaymentResult{
			TransactionRef: txn.TransactionRef,
			Status:         txn.Status,
		}, nil
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Payment completed",
		zap.String("saga_id", sagaID),
		zap.String("transaction_ref", txn.TransactionRef),
		zap.Int64("donation_id", txn.DonationID),
	)

	return &domain.PaymentResult{
		TransactionRef: txn.TransactionRef,
		Status:         domain.StatusCompleted,
	}, nil
}

func (s *paymentService) GetPaymentStatus(ctx context.Context, transactionRef string) (*domain.PaymentTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.GetPaymentStatus")
	defer span.End()

	span.SetAttributes(attribute.String("transaction_ref", transactionRef))

	return s.paymentRepo.GetByRef(ctx, transactionRef)
}

func (s *paymentService) GetPaymentsByDonation(ctx context.Context, donationID int64) ([]domain.PaymentTransaction, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.GetPaymentsByDonation")
	defer span.End()

	span.SetAttributes(attribute.Int64("donation_id", donationID))

	return s.paymentRepo.GetByDonationID(ctx, donationID)
}

func (s *paymentService) RefundPayment(ctx context.Context, transactionRef string, amount *decimal.Decimal, reason string) (*domain.RefundOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.RefundPayment")
	defer span.End()

	span.SetAttributes(attribute.String("transaction_ref", transactionRef))

	txn, err := s.paymentRepo.GetByRef(ctx, transactionRef)
	if err != nil {
		return nil, err
	}

	if txn.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRefundable, txn.Status)
	}

	refundAmount := txn.Amount
	if amount != nil {
		if !amount.IsPositive() {
			return nil, fmt.Errorf("%w: refund amount must be positive", ErrInvalidRequest)
		}
		if amount.GreaterThan(txn.Amount) {
			return nil, fmt.Errorf("%w: %s exceeds charged %s", ErrRefundExceedsCharge, amount.StringFixed(2), txn.Amount.StringFixed(2))
		}
		refundAmount = *amount
	}

	if reason == "" {
		reason = "refund requested"
	}

	sagaID := uuid.New().String()

	// Same lock key as the original payment, so a refund and a late
	// duplicate charge for the same donation cannot run side by side.
	lockState, err := s.locks.AcquireSagaLock(ctx, sagaID, txn.DonationID, txn.PaymentMethod, txn.Amount, s.lockCfg.TTL, s.lockCfg.MaxWait)
	if err != nil {
		if errors.Is(err, ErrDuplicatePayment) {
			return nil, fmt.Errorf("refund blocked: %w", ErrDuplicatePayment)
		}

		return nil, err
	}

	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		s.locks.ReleaseSagaLock(releaseCtx, lockState)
	}()

	// Re-read under the lock, a concurrent refund may have won the race.
	txn, err = s.paymentRepo.GetByRef(ctx, transactionRef)
	if err != nil {
		return nil, err
	}
	if txn.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRefundable, txn.Status)
	}
	if txn.GatewayTransactionRef == nil {
		return nil, fmt.Errorf("%w: no gateway reference recorded", ErrNotRefundable)
	}

	refundRes, err := s.gateway.Refund(ctx, gateway.RefundRequest{
		GatewayRef: *txn.GatewayTransactionRef,
		Amount:     refundAmount,
		Reason:     reason,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway refund failed: %w", err)
	}
	if !refundRes.Success {
		failReason := refundRes.FailureReason
		if failReason == "" {
			failReason = "refund declined by gateway"
		}

		return nil, fmt.Errorf("gateway refund declined: %s", failReason)
	}

	if err := s.refundTransaction(ctx, txn, refundRes.RefundRef, refundAmount, reason); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Refund succeeded but could not be recorded",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.String("refund_ref", refundRes.RefundRef),
			zap.Error(err),
		)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Payment refunded",
		zap.String("transaction_ref", txn.TransactionRef),
		zap.String("refund_ref", refundRes.RefundRef),
		zap.String("amount", refundAmount.StringFixed(2)),
	)

	return &domain.RefundOutcome{
		RefundRef:      refundRes.RefundRef,
		TransactionRef: txn.TransactionRef,
		Status:         domain.StatusRefunded,
		Amount:         refundAmount,
	}, nil
}

func (s *paymentService) validateRequest(req domain.PaymentRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, utils.FormatValidationError(err))
	}

	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	return nil
}

// compensateCharged handles a charge that succeeded at the gateway but
// could not be recorded on our side. It attempts a refund and lands the
// transaction in failed either way, the reason carries what happened.
func (s *paymentService) compensateCharged(ctx context.Context, txn *domain.PaymentTransaction, gatewayRef string, cause error) *domain.PaymentResult {
	ctx = context.WithoutCancel(ctx)

	mylogger.Error(
		ctx,
		s.logger,
		"Charge succeeded but could not be recorded, refunding",
		zap.String("transaction_ref", txn.TransactionRef),
		zap.String("gateway_ref", gatewayRef),
		zap.Error(cause),
	)

	reason := cause.Error()

	refundRes, err := s.gateway.Refund(ctx, gateway.RefundRequest{
		GatewayRef: gatewayRef,
		Amount:     txn.Amount,
		Reason:     "failed to record charge",
	})

	switch {
	case err != nil:
		reason = fmt.Sprintf("%s; refund attempt failed (%v), manual reconciliation required", reason, err)
	case !refundRes.Success:
		reason = fmt.Sprintf("%s; refund declined (%s), manual reconciliation required", reason, refundRes.FailureReason)
	default:
		reason = fmt.Sprintf("%s; charge refunded (%s)", reason, refundRes.RefundRef)
	}

	s.failTransaction(ctx, txn, reason)

	return &domain.PaymentResult{
		TransactionRef: txn.TransactionRef,
		Status:         domain.StatusFailed,
		FailureReason:  reason,
	}
}

// compensateConfirmFailure is the saga's one real compensation: the
// gateway charged, everything was recorded, but the donation service
// would not confirm. The charge is refunded and the transaction lands
// in refunded, or in failed when the refund itself does not go through.
func (s *paymentService) compensateConfirmFailure(ctx context.Context, txn *domain.PaymentTransaction, gatewayRef string, confirmErr error) *domain.PaymentResult {
	ctx = context.WithoutCancel(ctx)

	mylogger.Warn(
		ctx,
		s.logger,
		"Donation confirmation failed, compensating with refund",
		zap.String("transaction_ref", txn.TransactionRef),
		zap.Int64("donation_id", txn.DonationID),
		zap.Error(confirmErr),
	)

	const reason = "failed to confirm donation"

	refundRes, err := s.gateway.Refund(ctx, gateway.RefundRequest{
		GatewayRef: gatewayRef,
		Amount:     txn.Amount,
		Reason:     reason,
	})
	if err != nil || !refundRes.Success {
		detail := "refund declined"
		if err != nil {
			detail = err.Error()
		} else if refundRes.FailureReason != "" {
			detail = refundRes.FailureReason
		}

		failReason := fmt.Sprintf("donation confirmation failed and refund failed: %s, manual reconciliation required", detail)

		mylogger.Error(
			ctx,
			s.logger,
			"Compensating refund failed, charge has no confirmed donation",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.String("gateway_ref", gatewayRef),
			zap.String("detail", detail),
		)

		s.failTransaction(ctx, txn, failReason)

		return &domain.PaymentResult{
			TransactionRef: txn.TransactionRef,
			Status:         domain.StatusFailed,
			FailureReason:  failReason,
		}
	}

	if err := s.refundTransaction(ctx, txn, refundRes.RefundRef, txn.Amount, reason); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Refund succeeded but could not be recorded",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.String("refund_ref", refundRes.RefundRef),
			zap.Error(err),
		)
	}

	return &domain.PaymentResult{
		TransactionRef: txn.TransactionRef,
		Status:         domain.StatusRefunded,
		FailureReason:  "confirmed refund after donation-confirmation failure",
	}
}

// completeTransaction commits the terminal completed status together
// with the PaymentCompleted outbox event.
func (s *paymentService) completeTransaction(ctx context.Context, txn *domain.PaymentTransaction, gatewayRef string) error {
	ctx = context.WithoutCancel(ctx)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx, "completeTransaction")

	completedAt, err := s.paymentRepo.MarkCompleted(ctx, tx, txn.ID)
	if err != nil {
		return err
	}

	event := domain.PaymentCompletedEvent{
		TransactionRef: txn.TransactionRef,
		DonationID:     txn.DonationID,
		CampaignID:     txn.CampaignID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		PaymentMethod:  txn.PaymentMethod,
		DonorName:      txn.DonorName,
		DonorEmail:     txn.DonorEmail,
		CompletedAt:    completedAt,
		GatewayRef:     gatewayRef,
	}

	if err := s.emitEvent(ctx, tx, domain.EventPaymentCompleted, event, txn.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	txn.Status = domain.StatusCompleted
	txn.CompletedAt = &completedAt

	s.publisher.Notify()

	return nil
}

// failTransaction voids the payment attempt: terminal failed status plus
// a PaymentFailed outbox event in one commit. It is best effort, every
// failure is logged and swallowed so callers can keep resolving the saga.
// Rows it could not touch are picked up by the janitor sweep.
func (s *paymentService) failTransaction(ctx context.Context, txn *domain.PaymentTransaction, reason string) {
	ctx = context.WithoutCancel(ctx)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Error beginning transaction",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.Error(err),
		)

		return
	}
	defer s.rollback(ctx, tx, "failTransaction")

	if err := s.paymentRepo.MarkFailed(ctx, tx, txn.ID, reason); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Mark transaction failed errored",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.Error(err),
		)

		return
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

	if err := s.emitEvent(ctx, tx, domain.EventPaymentFailed, event, txn.ID); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to emit event",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.Error(err),
		)

		return
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to commit transaction",
			zap.String("transaction_ref", txn.TransactionRef),
			zap.Error(err),
		)

		return
	}

	txn.Status = domain.StatusFailed
	txn.FailureReason = &reason

	s.publisher.Notify()
}

// refundTransaction commits the refund ledger entry, the terminal
// refunded status and the PaymentRefunded outbox event in one commit.
func (s *paymentService) refundTransaction(ctx context.Context, txn *domain.PaymentTransaction, refundRef string, amount decimal.Decimal, reason string) error {
	ctx = context.WithoutCancel(ctx)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx, "refundTransaction")

	metadata, err := json.Marshal(map[string]string{"refund_ref": refundRef})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	entry := &domain.PaymentLedgerEntry{
		TransactionID: txn.ID,
		Amount:        amount,
		EntryType:     domain.EntryTypeRefund,
		Operation:     domain.OperationCredit,
		Description:   reason,
		Metadata:      metadata,
	}

	if err := s.paymentRepo.AddLedgerEntry(ctx, tx, entry); err != nil {
		return err
	}

	refundedAt, err := s.paymentRepo.MarkRefunded(ctx, tx, txn.ID, reason)
	if err != nil {
		return err
	}

	event := domain.PaymentRefundedEvent{
		RefundRef:              refundRef,
		OriginalTransactionRef: txn.TransactionRef,
		DonationID:             txn.DonationID,
		CampaignID:             txn.CampaignID,
		RefundAmount:           amount,
		Reason:                 reason,
		RefundedAt:             refundedAt,
	}

	if err := s.emitEvent(ctx, tx, domain.EventPaymentRefunded, event, txn.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	txn.Status = domain.StatusRefunded
	txn.FailureReason = &reason

	s.publisher.Notify()

	return nil
}

// writeChargeLedger records the gross payment debit and, when the
// gateway charged one, the fee debit in a single commit.
func (s *paymentService) writeChargeLedger(ctx context.Context, txn *domain.PaymentTransaction, fee decimal.Decimal) error {
	ctx = context.WithoutCancel(ctx)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer s.rollback(ctx, tx, "writeChargeLedger")

	payment := &domain.PaymentLedgerEntry{
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		EntryType:     domain.EntryTypePayment,
		Operation:     domain.OperationDebit,
		Description:   "donation payment",
	}

	if err := s.paymentRepo.AddLedgerEntry(ctx, tx, payment); err != nil {
		return err
	}

	if fee.IsPositive() {
		feeEntry := &domain.PaymentLedgerEntry{
			TransactionID: txn.ID,
			Amount:        fee,
			EntryType:     domain.EntryTypeFee,
			Operation:     domain.OperationDebit,
			Description:   "gateway processing fee",
		}

		if err := s.paymentRepo.AddLedgerEntry(ctx, tx, feeEntry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *paymentService) emitEvent(ctx context.Context, tx pgx.Tx, eventType string, payload any, transactionID int64) error {
	return saveEnvelope(ctx, s.outboxRepo, tx, s.paymentTopic, eventType, payload, transactionID)
}

// saveEnvelope wraps payload in the {event, payload} envelope consumers
// expect and stages it on the outbox inside the caller's transaction.
func saveEnvelope(ctx context.Context, repo worker.OutboxRepository, tx pgx.Tx, topic, eventType string, payload any, transactionID int64) error {
	wrapper := map[string]any{
		"event":   eventType,
		"payload": payload,
	}

	wrapperBytes, err := json.Marshal(wrapper)
	if err != nil {
		return fmt.Errorf("failed to marshal wrapper: %w", err)
	}

	outboxEvent := &outboxDomain.OutboxEvent{
		EventType:     eventType,
		Topic:         topic,
		Payload:       wrapperBytes,
		TransactionID: &transactionID,
	}

	return repo.SaveOutboxEvent(ctx, tx, outboxEvent)
}

func (s *paymentService) rollback(ctx context.Context, tx pgx.Tx, method string) {
	cleanupCtx := context.WithoutCancel(ctx)

	if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		mylogger.Warn(
			cleanupCtx,
			s.logger,
			"Error rolling back transaction",
			zap.Error(err),
			zap.String("method_name", method),
		)
	}
}
