package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iusamaaziz/DonationBox-sub000/internal/domain"
)

type fakeLockStore struct {
	acquireFn func(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	releaseFn func(ctx context.Context, key, token string) (bool, error)
	extendFn  func(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	checkFn   func(ctx context.Context, key, token string) (bool, error)
}

func (f *fakeLockStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return f.acquireFn(ctx, key, token, ttl)
}

func (f *fakeLockStore) Release(ctx context.Context, key, token string) (bool, error) {
	return f.releaseFn(ctx, key, token)
}

func (f *fakeLockStore) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return f.extendFn(ctx, key, token, ttl)
}

func (f *fakeLockStore) Check(ctx context.Context, key, token string) (bool, error) {
	return f.checkFn(ctx, key, token)
}

func newTestLockService(store *fakeLockStore) LockService {
	return NewLockService(store, time.Millisecond, zap.NewNop())
}

func heldLockState() *domain.SagaLockState {
	now := time.Now()

	return &domain.SagaLockState{
		Key:        domain.SagaLockKey(42, "card", decimal.NewFromInt(100)),
		Token:      "token-1",
		SagaID:     "saga-1",
		AcquiredAt: now,
		ExpiresAt:  now.Add(time.Minute),
		IsAcquired: true,
	}
}

func TestAcquireSagaLock_Success(t *testing.T) {
	amount := decimal.RequireFromString("25.50")

	store := &fakeLockStore{
		acquireFn: func(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
			assert.Equal(t, "payment-lock:donation:42:card:25.50", key)
			assert.NotEmpty(t, token)
			assert.Equal(t, 5*time.Minute, ttl)

			return true, nil
		},
	}

	svc := newTestLockService(store)

	state, err := svc.AcquireSagaLock(context.Background(), "saga-1", 42, "card", amount, 5*time.Minute, time.Second)
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.True(t, state.IsAcquired)
	assert.Equal(t, "saga-1", state.SagaID)
	assert.Equal(t, domain.SagaLockKey(42, "card", amount), state.Key)
	assert.NotEmpty(t, state.Token)
	assert.True(t, state.ExpiresAt.After(state.AcquiredAt))
}

func TestAcquireSagaLock_RetriesUntilFree(t *testing.T) {
	var calls atomic.Int64

	store := &fakeLockStore{
		acquireFn: func(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
			return calls.Add(1) >= 3, nil
		},
	}

	svc := newTestLockService(store)

	state, err := svc.AcquireSagaLock(context.Background(), "saga-1", 42, "card", decimal.NewFromInt(10), time.Minute, time.Second)
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.EqualValues(t, 3, calls.Load())
}

func TestAcquireSagaLock_Contended(t *testing.T) {
	store := &fakeLockStore{
		acquireFn: func(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
			return false, nil
		},
	}

	svc := newTestLockService(store)

	state, err := svc.AcquireSagaLock(context.Background(), "saga-1", 42, "card", decimal.NewFromInt(10), time.Minute, 10*time.Millisecond)
	require.ErrorIs(t, err, ErrDuplicatePayment)
	assert.Nil(t, state)
}

func TestAcquireSagaLock_StoreError(t *testing.T) {
	storeErr := errors.New("connection refused")

	store := &fakeLockStore{
		acquireFn: func(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
			return false, storeErr
		},
	}

	svc := newTestLockService(store)

	state, err := svc.AcquireSagaLock(context.Background(), "saga-1", 42, "card", decimal.NewFromInt(10), time.Minute, time.Second)
	require.ErrorIs(t, err, storeErr)
	require.NotErrorIs(t, err, ErrDuplicatePayment)
	assert.Nil(t, state)
}

func TestAcquireSagaLock_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	store := &fakeLockStore{
		acquireFn: func(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
			return false, nil
		},
	}

	svc := newTestLockService(store)

	state, err := svc.AcquireSagaLock(ctx, "saga-1", 42, "card", decimal.NewFromInt(10), time.Minute, time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, state)
}

func TestExtendSagaLock_Success(t *testing.T) {
	state := heldLockState()
	state.ExpiresAt = time.Now().Add(-time.Second)

	store := &fakeLockStore{
		extendFn: func(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
			assert.Equal(t, state.Key, key)
			assert.Equal(t, state.Token, token)
			assert.Equal(t, 2*time.Minute, ttl)

			return true, nil
		},
	}

	svc := newTestLockService(store)

	ok := svc.ExtendSagaLock(context.Background(), state, 2*time.Minute)
	require.True(t, ok)

	assert.True(t, state.IsAcquired)
	assert.True(t, state.ExpiresAt.After(time.Now()))
}

func TestExtendSagaLock_Expired(t *testing.T) {
	state := heldLockState()

	store := &fakeLockStore{
		extendFn: func(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
			return false, nil
		},
	}

	svc := newTestLockService(store)

	ok := svc.ExtendSagaLock(context.Background(), state, 2*time.Minute)
	require.False(t, ok)
	assert.False(t, state.IsAcquired)
}

func TestExtendSagaLock_StoreError(t *testing.T) {
	state := heldLockState()

	store := &fakeLockStore{
		extendFn: func(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
			return false, errors.New("connection refused")
		},
	}

	svc := newTestLockService(store)

	ok := svc.ExtendSagaLock(context.Background(), state, 2*time.Minute)
	require.False(t, ok)

	// Unknown store state must not mark the lock as lost.
	assert.True(t, state.IsAcquired)
}

func TestExtendSagaLock_NotHeld(t *testing.T) {
	store := &fakeLockStore{
		extendFn: func(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
			t.Error("store must not be called for a lock that is not held")
			return false, nil
		},
	}

	svc := newTestLockService(store)

	assert.False(t, svc.ExtendSagaLock(context.Background(), nil, time.Minute))

	state := heldLockState()
	state.IsAcquired = false
	assert.False(t, svc.ExtendSagaLock(context.Background(), state, time.Minute))
}

func TestIsSagaLockValid_Valid(t *testing.T) {
	state := heldLockState()

	store := &fakeLockStore{
		checkFn: func(ctx context.Context, key, token string) (bool, error) {
			return true, nil
		},
	}

	svc := newTestLockService(store)

	assert.True(t, svc.IsSagaLockValid(context.Background(), state))
	assert.True(t, state.IsAcquired)
}

func TestIsSagaLockValid_TokenMismatch(t *testing.T) {
	state := heldLockState()

	store := &fakeLockStore{
		checkFn: func(ctx context.Context, key, token string) (bool, error) {
			return false, nil
		},
	}

	svc := newTestLockService(store)

	assert.False(t, svc.IsSagaLockValid(context.Background(), state))
	assert.False(t, state.IsAcquired)
}

func TestIsSagaLockValid_StoreError(t *testing.T) {
	state := heldLockState()

	store := &fakeLockStore{
		checkFn: func(ctx context.Context, key, token string) (bool, error) {
			return false, errors.New("connection refused")
		},
	}

	svc := newTestLockService(store)

	// Fail closed, but the holder does not learn the lock is gone.
	assert.False(t, svc.IsSagaLockValid(context.Background(), state))
	assert.True(t, state.IsAcquired)
}

func TestReleaseSagaLock_Success(t *testing.T) {
	state := heldLockState()

	store := &fakeLockStore{
		releaseFn: func(ctx context.Context, key, token string) (bool, error) {
			assert.Equal(t, state.Key, key)
			assert.Equal(t, state.Token, token)

			return true, nil
		},
	}

	svc := newTestLockService(store)

	assert.True(t, svc.ReleaseSagaLock(context.Background(), state))
	assert.False(t, state.IsAcquired)
}

func TestReleaseSagaLock_AlreadyGone(t *testing.T) {
	state := heldLockState()

	store := &fakeLockStore{
		releaseFn: func(ctx context.Context, key, token string) (bool, error) {
			return false, nil
		},
	}

	svc := newTestLockService(store)

	assert.True(t, svc.ReleaseSagaLock(context.Background(), state))
	assert.False(t, state.IsAcquired)
}

func TestReleaseSagaLock_StoreError(t *testing.T) {
	state := heldLockState()

	store := &fakeLockStore{
		releaseFn: func(ctx context.Context, key, token string) (bool, error) {
			return false, errors.New("connection refused")
		},
	}

	svc := newTestLockService(store)

	assert.False(t, svc.ReleaseSagaLock(context.Background(), state))
}

func TestReleaseSagaLock_NilState(t *testing.T) {
	svc := newTestLockService(&fakeLockStore{})

	assert.True(t, svc.ReleaseSagaLock(context.Background(), nil))
}
