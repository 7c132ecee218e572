package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/iusamaaziz/DonationBox-sub000/pkg/config"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/mylogger"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/outbox/domain"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	ClaimEventBatch(ctx context.Context, batchSize int, processingTimeout time.Duration) ([]*domain.OutboxEvent, error)
	MarkEventCompleted(ctx context.Context, eventID int64) error
	MarkEventFailed(ctx context.Context, event *domain.OutboxEvent, errMsg string, maxRetries int64) error
}

type KafkaProducer interface {
	ProduceMessage(ctx context.Context, topic string, message interface{}) error
}

// OutboxProcessor sweeps claimed batches of deliverable events and
// pushes them to Kafka. Delivery is at-least-once: a crash between
// produce and MarkEventCompleted leaves the row in processing, and the
// claim query reclaims it once claimed_at falls behind the processing
// timeout. Consumers dedup on event_id.
type OutboxProcessor struct {
	repo              OutboxRepository
	kafkaProducer     KafkaProducer
	logger            *zap.Logger
	batchSize         int
	interval          time.Duration
	maxRetries        int64
	processingTimeout time.Duration
	notify            chan struct{}
	tracer            trace.Tracer
}

func NewOutboxProcessor(
	repo OutboxRepository,
	producer KafkaProducer,
	logger *zap.Logger,
	cfg config.Outbox,
) *OutboxProcessor {
	return &OutboxProcessor{
		repo:              repo,
		kafkaProducer:     producer,
		logger:            logger,
		batchSize:         cfg.BatchSize,
		interval:          cfg.Interval,
		maxRetries:        cfg.MaxRetries,
		processingTimeout: cfg.ProcessingTimeout,
		notify:            make(chan struct{}, 1),
		tracer:            otel.Tracer("outbox-worker"),
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	mylogger.Info(
		ctx,
		p.logger,
		"Starting outbox processor",
		zap.Duration("interval", p.interval),
		zap.Int("batch_size", p.batchSize),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(
				ctx,
				p.logger,
				"Outbox processor stopping",
			)

			return
		case <-p.notify:
		case <-ticker.C:
		}

		if err := p.processBatch(ctx); err != nil {
			mylogger.Error(
				ctx,
				p.logger,
				"Error processing outbox batch",
				zap.Error(err),
			)
		}
	}
}

// Notify nudges the processor to sweep without waiting for the next
// tick. Best effort: if a nudge is already queued it is dropped.
func (p *OutboxProcessor) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *OutboxProcessor) processBatch(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.processBatch")
	defer span.End()

	events, err := p.repo.ClaimEventBatch(ctx, p.batchSize, p.processingTimeout)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	mylogger.Info(
		ctx,
		p.logger,
		"Processing outbox events",
		zap.Int("count", len(events)),
	)

	for _, event := range events {
		p.deliver(ctx, event)
	}

	return nil
}

func (p *OutboxProcessor) deliver(ctx context.Context, event *domain.OutboxEvent) {
	var payloadMap map[string]any
	if err := json.Unmarshal(event.Payload, &payloadMap); err != nil {
		mylogger.Error(
			ctx,
			p.logger,
			"outbox worker unmarshal event payload failed",
			zap.Int64("id", event.Id),
			zap.Error(err),
		)

		p.markFailed(ctx, event, err.Error())
		return
	}

	payloadMap["event_id"] = event.EventID.String()

	if err := p.kafkaProducer.ProduceMessage(ctx, event.Topic, payloadMap); err != nil {
		mylogger.Error(
			ctx,
			p.logger,
			"outbox worker produce message failed",
			zap.Int64("id", event.Id),
			zap.Error(err),
		)

		p.markFailed(ctx, event, err.Error())
		return
	}

	if err := p.repo.MarkEventCompleted(ctx, event.Id); err != nil {
		mylogger.Error(
			ctx,
			p.logger,
			"outbox worker mark event completed failed",
			zap.Int64("id", event.Id),
			zap.Error(err),
		)

		return
	}

	mylogger.Debug(
		ctx,
		p.logger,
		"outbox worker event delivered",
		zap.Int64("id", event.Id),
		zap.String("event_id", event.EventID.String()),
	)
}

func (p *OutboxProcessor) markFailed(ctx context.Context, event *domain.OutboxEvent, errMsg string) {
	if err := p.repo.MarkEventFailed(ctx, event, errMsg, p.maxRetries); err != nil {
		mylogger.Error(
			ctx,
			p.logger,
			"outbox worker mark event failed failed",
			zap.Int64("id", event.Id),
			zap.Error(err),
		)

		return
	}

	if event.Status == domain.StatusCancelled {
		mylogger.Error(
			ctx,
			p.logger,
			"Outbox event cancelled after exhausting retries, needs manual intervention",
			zap.Int64("id", event.Id),
			zap.String("event_id", event.EventID.String()),
			zap.String("event_type", event.EventType),
			zap.Int64("retry_count", event.RetryCount),
			zap.String("last_error", errMsg),
		)
	} else {
		mylogger.Warn(
			ctx,
			p.logger,
			"Outbox event delivery failed, scheduled for retry",
			zap.Int64("id", event.Id),
			zap.Int64("retry_count", event.RetryCount),
			zap.Timep("next_retry_at", event.NextRetryAt),
		)
	}
}
