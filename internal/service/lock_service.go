package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iusamaaziz/DonationBox-sub000/internal/domain"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/lock"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/mylogger"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// LockService scopes the lock store to saga semantics: composite keys,
// wait-and-retry acquisition and idempotent release.
type LockService interface {
	AcquireSagaLock(ctx context.Context, sagaID string, donationID int64, method string, amount decimal.Decimal, ttl, maxWait time.Duration) (*domain.SagaLockState, error)
	ExtendSagaLock(ctx context.Context, state *domain.SagaLockState, extension time.Duration) bool
	IsSagaLockValid(ctx context.Context, state *domain.SagaLockState) bool
	ReleaseSagaLock(ctx context.Context, state *domain.SagaLockState) bool
}

type lockService struct {
	store         lock.Store
	retryInterval time.Duration
	logger        *zap.Logger
	tracer        trace.Tracer
}

func NewLockService(store lock.Store, retryInterval time.Duration, logger *zap.Logger) LockService {
	return &lockService{
		store:         store,
		retryInterval: retryInterval,
		logger:        logger,
		tracer:        otel.Tracer("service/lock_service"),
	}
}

func (s *lockService) AcquireSagaLock(
	ctx context.Context,
	sagaID string,
	donationID int64,
	method string,
	amount decimal.Decimal,
	ttl time.Duration,
	maxWait time.Duration,
) (*domain.SagaLockState, error) {
	ctx, span := s.tracer.Start(ctx, "LockService.AcquireSagaLock")
	defer span.End()

	key := domain.SagaLockKey(donationID, method, amount)
	token := uuid.New().String()

	span.SetAttributes(
		attribute.String("lock_key", key),
		attribute.String("saga_id", sagaID),
	)

	deadline := time.Now().Add(maxWait)

	for {
		acquired, err := s.store.Acquire(ctx, key, token, ttl)
		if err != nil {
			// Store down means fail closed: never run a saga without a lock.
			span.RecordError(err)
			mylogger.Error(
				ctx,
				s.logger,
				"Lock store acquire failed",
				zap.String("lock_key", key),
				zap.Error(err),
			)

			return nil, fmt.Errorf("lock store unavailable: %w", err)
		}

		if acquired {
			now := time.Now()

			mylogger.Debug(
				ctx,
				s.logger,
				"Saga lock acquired",
				zap.String("lock_key", key),
				zap.String("saga_id", sagaID),
			)

			return &domain.SagaLockState{
				Key:        key,
				Token:      token,
				SagaID:     sagaID,
				AcquiredAt: now,
				ExpiresAt:  now.Add(ttl),
				IsAcquired: true,
			}, nil
		}

		if time.Now().After(deadline) {
			mylogger.Warn(
				ctx,
				s.logger,
				"Saga lock not acquired within max wait",
				zap.String("lock_key", key),
				zap.Duration("max_wait", maxWait),
			)

			return nil, ErrDuplicatePayment
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryInterval):
		}
	}
}

func (s *lockService) ExtendSagaLock(ctx context.Context, state *domain.SagaLockState, extension time.Duration) bool {
	ctx, span := s.tracer.Start(ctx, "LockService.ExtendSagaLock")
	defer span.End()

	if state == nil || !state.IsAcquired {
		return false
	}

	span.SetAttributes(
		attribute.String("lock_key", state.Key),
		attribute.String("saga_id", state.SagaID),
	)

	ok, err := s.store.Extend(ctx, state.Key, state.Token, extension)
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(
			ctx,
			s.logger,
			"Lock store extend failed",
			zap.String("lock_key", state.Key),
			zap.Error(err),
		)

		return false
	}

	if !ok {
		// Token mismatch or key gone: the lock silently expired and may
		// belong to someone else now.
		state.IsAcquired = false

		mylogger.Warn(
			ctx,
			s.logger,
			"Saga lock expired before extension",
			zap.String("lock_key", state.Key),
			zap.String("saga_id", state.SagaID),
		)

		return false
	}

	state.ExpiresAt = time.Now().Add(extension)
	return true
}

func (s *lockService) IsSagaLockValid(ctx context.Context, state *domain.SagaLockState) bool {
	ctx, span := s.tracer.Start(ctx, "LockService.IsSagaLockValid")
	defer span.End()

	if state == nil || !state.IsAcquired {
		return false
	}

	ok, err := s.store.Check(ctx, state.Key, state.Token)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			s.logger,
			"Lock store check failed",
			zap.String("lock_key", state.Key),
			zap.Error(err),
		)

		return false
	}

	if !ok {
		state.IsAcquired = false
	}

	return ok
}

func (s *lockService) ReleaseSagaLock(ctx context.Context, state *domain.SagaLockState) bool {
	ctx, span := s.tracer.Start(ctx, "LockService.ReleaseSagaLock")
	defer span.End()

	if state == nil {
		return true
	}

	span.SetAttributes(
		attribute.String("lock_key", state.Key),
		attribute.String("saga_id", state.SagaID),
	)

	released, err := s.store.Release(ctx, state.Key, state.Token)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			s.logger,
			"Lock store release failed, TTL will reap the key",
			zap.String("lock_key", state.Key),
			zap.Error(err),
		)

		return false
	}

	state.IsAcquired = false

	if !released {
		// Already expired or re-acquired by another saga. The desired
		// end state holds, so this still counts as success.
		mylogger.Debug(
			ctx,
			s.logger,
			"Saga lock already gone at release",
			zap.String("lock_key", state.Key),
			zap.String("saga_id", state.SagaID),
		)
	}

	return true
}
