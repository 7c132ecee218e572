package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/outbox/domain"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/outbox/worker"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type outboxRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewOutboxRepository(pool *pgxpool.Pool, logger *zap.Logger) worker.OutboxRepository {
	return &outboxRepo{
		pool:   pool,
		tracer: otel.Tracer("contract/outbox_repo"),
		logger: logger,
	}
}

func (r *outboxRepo) SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.SaveOutboxEvent")
	defer span.End()

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	span.SetAttributes(
		attribute.String("event_id", event.EventID.String()),
		attribute.String("event_type", event.EventType),
		attribute.String("topic", event.Topic),
	)

	query := `
		INSERT INTO outbox (event_id, event_type, payload, topic, status, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := tx.QueryRow(
		ctx,
		query,
		event.EventID,
		event.EventType,
		event.Payload,
		event.Topic,
		domain.StatusPending,
		event.TransactionID,
	).Scan(&event.Id, &event.CreatedAt)

	if err != nil {
		span.RecordError(err)
	}

	return err
}

// ClaimEventBatch moves up to batchSize deliverable rows to processing
// and returns them oldest first. Deliverable means pending, failed with
// an elapsed next_retry_at, or processing with a claim older than
// processingTimeout (a previous worker died holding it).
func (r *outboxRepo) ClaimEventBatch(ctx context.Context, batchSize int, processingTimeout time.Duration) ([]*domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.ClaimEventBatch")
	defer span.End()

	span.SetAttributes(
		attribute.Int("batch_size", batchSize),
	)

	staleCutoff := time.Now().Add(-processingTimeout)

	query := `
		WITH claimable AS (
			SELECT id
			FROM outbox
			WHERE status = 'pending'
			   OR (status = 'failed' AND next_retry_at <= NOW())
			   OR (status = 'processing' AND claimed_at <= $2)
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		), claimed AS (
			UPDATE outbox o
			SET status = 'processing', claimed_at = NOW()
			FROM claimable
			WHERE o.id = claimable.id
			RETURNING o.id, o.event_id, o.event_type, o.payload, o.topic, o.status,
				o.retry_count, o.transaction_id, o.created_at
		)
		SELECT id, event_id, event_type, payload, topic, status, retry_count, transaction_id, created_at
		FROM claimed
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, batchSize, staleCutoff)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(
			&e.Id,
			&e.EventID,
			&e.EventType,
			&e.Payload,
			&e.Topic,
			&e.Status,
			&e.RetryCount,
			&e.TransactionID,
			&e.CreatedAt,
		); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning event: %w", err)
		}

		events = append(events, &e)
	}

	span.SetAttributes(
		attribute.Int("result_count", len(events)),
	)

	return events, nil
}

func (r *outboxRepo) MarkEventCompleted(ctx context.Context, eventID int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventCompleted")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
	)

	query := `
		UPDATE outbox
		SET status = 'completed', processed_at = NOW(), last_error = NULL
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, eventID)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

// MarkEventFailed bumps the retry count, records the error and either
// schedules the next attempt or cancels the event once maxRetries is
// reached. The passed event is updated to the resulting state.
func (r *outboxRepo) MarkEventFailed(ctx context.Context, event *domain.OutboxEvent, errMsg string, maxRetries int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", event.Id),
		attribute.String("outbox.error_message", errMsg),
	)

	newCount := event.RetryCount + 1

	var status string
	var nextRetryAt *time.Time
	if newCount >= maxRetries {
		status = domain.StatusCancelled
	} else {
		status = domain.StatusFailed
		t := time.Now().Add(domain.NextRetryDelay(newCount))
		nextRetryAt = &t
	}

	query := `
		UPDATE outbox
		SET status = $2, retry_count = $3, next_retry_at = $4, last_error = $5, claimed_at = NULL
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, event.Id, status, newCount, nextRetryAt, errMsg)
	if err != nil {
		span.RecordError(err)

		return err
	}

	event.RetryCount = newCount
	event.Status = status
	event.NextRetryAt = nextRetryAt
	event.LastError = &errMsg

	return nil
}
