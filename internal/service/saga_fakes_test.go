package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iusamaaziz/DonationBox-sub000/internal/domain"
	"github.com/iusamaaziz/DonationBox-sub000/internal/donation"
	"github.com/iusamaaziz/DonationBox-sub000/internal/gateway"
	"github.com/iusamaaziz/DonationBox-sub000/internal/repository"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/config"
	outboxDomain "github.com/iusamaaziz/DonationBox-sub000/pkg/outbox/domain"
)

type fakeTx struct {
	pgx.Tx
}

func (f *fakeTx) Commit(ctx context.Context) error   { return nil }
func (f *fakeTx) Rollback(ctx context.Context) error { return pgx.ErrTxClosed }

type fakeTxBeginner struct {
	beginErr error
}

func (f *fakeTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}

	return &fakeTx{}, nil
}

// fakePaymentRepo is an in-memory repository.PaymentRepository with a
// per-method error switch.
type fakePaymentRepo struct {
	mu     sync.Mutex
	nextID int64
	txns   map[int64]*domain.PaymentTransaction
	ledger []domain.PaymentLedgerEntry

	failCreate         error
	failMarkProcessing error
	failRecordGateway  error
	failMarkCompleted  error
	failMarkFailed     error
	failMarkRefunded   error
	failAddLedger      error
	failListStale      error
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{txns: make(map[int64]*domain.PaymentTransaction)}
}

func (f *fakePaymentRepo) CreateTransaction(ctx context.Context, txn *domain.PaymentTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreate != nil {
		return f.failCreate
	}

	f.nextID++
	txn.ID = f.nextID
	txn.CreatedAt = time.Now()

	stored := *txn
	f.txns[txn.ID] = &stored

	return nil
}

func (f *fakePaymentRepo) GetByRef(ctx context.Context, transactionRef string) (*domain.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, txn := range f.txns {
		if txn.TransactionRef == transactionRef {
			cp := *txn
			return &cp, nil
		}
	}

	return nil, repository.ErrTransactionNotFound
}

func (f *fakePaymentRepo) GetByDonationID(ctx context.Context, donationID int64) ([]domain.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.PaymentTransaction
	for _, txn := range f.txns {
		if txn.DonationID == donationID {
			out = append(out, *txn)
		}
	}

	return out, nil
}

func (f *fakePaymentRepo) MarkProcessing(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failMarkProcessing != nil {
		return f.failMarkProcessing
	}

	txn := f.txns[id]
	now := time.Now()
	txn.Status = domain.StatusProcessing
	txn.ProcessedAt = &now

	return nil
}

func (f *fakePaymentRepo) RecordGatewayResult(ctx context.Context, id int64, gatewayRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failRecordGateway != nil {
		return f.failRecordGateway
	}

	txn := f.txns[id]
	txn.Status = domain.StatusGatewayProcessed
	txn.GatewayTransactionRef = &gatewayRef

	return nil
}

func (f *fakePaymentRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, id int64) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failMarkCompleted != nil {
		return time.Time{}, f.failMarkCompleted
	}

	txn := f.txns[id]
	now := time.Now()
	txn.Status = domain.StatusCompleted
	txn.CompletedAt = &now
	txn.FailureReason = nil

	return now, nil
}

func (f *fakePaymentRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failMarkFailed != nil {
		return f.failMarkFailed
	}

	txn := f.txns[id]
	txn.Status = domain.StatusFailed
	txn.FailureReason = &reason

	return nil
}

func (f *fakePaymentRepo) MarkRefunded(ctx context.Context, tx pgx.Tx, id int64, reason string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failMarkRefunded != nil {
		return time.Time{}, f.failMarkRefunded
	}

	txn := f.txns[id]
	now := time.Now()
	txn.Status = domain.StatusRefunded
	txn.FailureReason = &reason
	if txn.CompletedAt == nil {
		txn.CompletedAt = &now
	}

	return now, nil
}

func (f *fakePaymentRepo) AddLedgerEntry(ctx context.Context, tx pgx.Tx, entry *domain.PaymentLedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAddLedger != nil {
		return f.failAddLedger
	}

	entry.ID = int64(len(f.ledger) + 1)
	entry.CreatedAt = time.Now()
	f.ledger = append(f.ledger, *entry)

	return nil
}

func (f *fakePaymentRepo) ListStaleTransactions(ctx context.Context, statuses []string, cutoff time.Time, limit int) ([]domain.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failListStale != nil {
		return nil, f.failListStale
	}

	wanted := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var out []domain.PaymentTransaction
	for _, txn := range f.txns {
		if wanted[txn.Status] && !txn.CreatedAt.After(cutoff) && len(out) < limit {
			out = append(out, *txn)
		}
	}

	return out, nil
}

func (f *fakePaymentRepo) get(id int64) domain.PaymentTransaction {
	f.mu.Lock()
	defer f.mu.Unlock()

	return *f.txns[id]
}

func (f *fakePaymentRepo) ledgerEntries() []domain.PaymentLedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.PaymentLedgerEntry, len(f.ledger))
	copy(out, f.ledger)

	return out
}

type fakeOutboxRepo struct {
	mu       sync.Mutex
	events   []outboxDomain.OutboxEvent
	failSave error
}

func (f *fakeOutboxRepo) SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *outboxDomain.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSave != nil {
		return f.failSave
	}

	f.events = append(f.events, *event)

	return nil
}

func (f *fakeOutboxRepo) ClaimEventBatch(ctx context.Context, batchSize int, processingTimeout time.Duration) ([]*outboxDomain.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutboxRepo) MarkEventCompleted(ctx context.Context, eventID int64) error {
	return nil
}

func (f *fakeOutboxRepo) MarkEventFailed(ctx context.Context, event *outboxDomain.OutboxEvent, errMsg string, maxRetries int64) error {
	return nil
}

func (f *fakeOutboxRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.EventType
	}

	return out
}

type lockCall struct {
	donationID int64
	method     string
	amount     decimal.Decimal
}

type fakeSagaLocks struct {
	mu         sync.Mutex
	acquireErr error
	extendOK   bool
	validOK    bool
	acquired   int
	released   int
	extended   int
	calls      []lockCall
	onAcquire  func()
}

func newFakeSagaLocks() *fakeSagaLocks {
	return &fakeSagaLocks{extendOK: true, validOK: true}
}

func (f *fakeSagaLocks) AcquireSagaLock(ctx context.Context, sagaID string, donationID int64, method string, amount decimal.Decimal, ttl, maxWait time.Duration) (*domain.SagaLockState, error) {
	f.mu.Lock()
	f.calls = append(f.calls, lockCall{donationID: donationID, method: method, amount: amount})
	onAcquire := f.onAcquire

	if f.acquireErr != nil {
		err := f.acquireErr
		f.mu.Unlock()
		return nil, err
	}

	f.acquired++
	f.mu.Unlock()

	if onAcquire != nil {
		onAcquire()
	}

	now := time.Now()

	return &domain.SagaLockState{
		Key:        domain.SagaLockKey(donationID, method, amount),
		Token:      "test-token",
		SagaID:     sagaID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
		IsAcquired: true,
	}, nil
}

func (f *fakeSagaLocks) ExtendSagaLock(ctx context.Context, state *domain.SagaLockState, extension time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.extended++

	return f.extendOK
}

func (f *fakeSagaLocks) IsSagaLockValid(ctx context.Context, state *domain.SagaLockState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.validOK
}

func (f *fakeSagaLocks) ReleaseSagaLock(ctx context.Context, state *domain.SagaLockState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.released++

	return true
}

type fakeGateway struct {
	mu        sync.Mutex
	chargeRes *gateway.ChargeResult
	chargeErr error
	refundRes *gateway.RefundResult
	refundErr error
	charges   []gateway.ChargeRequest
	refunds   []gateway.RefundRequest
	panicOn   bool
}

func (f *fakeGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	if f.panicOn {
		panic("gateway client exploded")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.charges = append(f.charges, req)

	if f.chargeErr != nil {
		return nil, f.chargeErr
	}

	res := *f.chargeRes

	return &res, nil
}

func (f *fakeGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refunds = append(f.refunds, req)

	if f.refundErr != nil {
		return nil, f.refundErr
	}

	res := *f.refundRes

	return &res, nil
}

type fakeConfirmer struct {
	mu        sync.Mutex
	confirmed bool
	err       error
	calls     int
}

func (f *fakeConfirmer) ConfirmDonation(ctx context.Context, donationID int64, transactionRef, status string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	return f.confirmed, f.err
}

var _ donation.Confirmer = (*fakeConfirmer)(nil)

type fakeNotifier struct {
	mu    sync.Mutex
	count int
}

func (f *fakeNotifier) Notify() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.count++
}

type sagaFixture struct {
	repo     *fakePaymentRepo
	outbox   *fakeOutboxRepo
	locks    *fakeSagaLocks
	gateway  *fakeGateway
	donation *fakeConfirmer
	notifier *fakeNotifier
	svc      PaymentService
}

func newSagaFixture() *sagaFixture {
	fx := &sagaFixture{
		repo:   newFakePaymentRepo(),
		outbox: &fakeOutboxRepo{},
		locks:  newFakeSagaLocks(),
		gateway: &fakeGateway{
			chargeRes: &gateway.ChargeResult{
				Success:    true,
				GatewayRef: "ch_1",
				Fee:        decimal.RequireFromString("1.05"),
			},
			refundRes: &gateway.RefundResult{
				Success:   true,
				RefundRef: "re_1",
			},
		},
		donation: &fakeConfirmer{confirmed: true},
		notifier: &fakeNotifier{},
	}

	cfg := &config.Config{
		Lock: config.Lock{
			TTL:           5 * time.Minute,
			MaxWait:       time.Second,
			RetryInterval: time.Millisecond,
			Extension:     2 * time.Minute,
		},
		Gateway: config.Gateway{Name: "stripe"},
		Kafka:   config.Kafka{PaymentTopic: "payment_events"},
	}

	fx.svc = NewPaymentService(
		&fakeTxBeginner{},
		fx.repo,
		fx.outbox,
		fx.locks,
		fx.gateway,
		fx.donation,
		fx.notifier,
		zap.NewNop(),
		cfg,
	)

	return fx
}

func validPaymentRequest() domain.PaymentRequest {
	return domain.PaymentRequest{
		DonationID:     42,
		CampaignID:     7,
		Amount:         decimal.RequireFromString("25.50"),
		Currency:       "USD",
		DonorName:      "Jane Donor",
		DonorEmail:     "jane@example.com",
		PaymentMethod:  "card",
		PaymentDetails: map[string]string{"card_token": "tok_123"},
	}
}

// seedCompleted plants a finished payment the refund tests start from.
func (fx *sagaFixture) seedCompleted() domain.PaymentTransaction {
	gatewayRef := "ch_1"
	completedAt := time.Now().Add(-time.Hour)

	txn := &domain.PaymentTransaction{
		TransactionRef:        "txn-completed",
		DonationID:            42,
		CampaignID:            7,
		Amount:                decimal.RequireFromString("25.50"),
		Currency:              "USD",
		DonorName:             "Jane Donor",
		DonorEmail:            "jane@example.com",
		PaymentMethod:         "card",
		Status:                domain.StatusCompleted,
		GatewayName:           "stripe",
		GatewayTransactionRef: &gatewayRef,
		CompletedAt:           &completedAt,
	}

	if err := fx.repo.CreateTransaction(context.Background(), txn); err != nil {
		panic(err)
	}

	return fx.repo.get(txn.ID)
}
