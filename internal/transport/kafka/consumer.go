package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/iusamaaziz/DonationBox-sub000/internal/domain"
	"github.com/iusamaaziz/DonationBox-sub000/internal/service"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/config"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/kafka"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/mylogger"
	outboxUtils "github.com/iusamaaziz/DonationBox-sub000/pkg/outbox/utils"
)

type Consumer struct {
	service service.PaymentService
	pool    *pgxpool.Pool
	logger  *zap.Logger
	topic   string
	groupID string
}

func NewConsumer(service service.PaymentService, pool *pgxpool.Pool, logger *zap.Logger, cfg config.Kafka) *Consumer {
	return &Consumer{
		service: service,
		pool:    pool,
		logger:  logger,
		topic:   cfg.RequestTopic,
		groupID: cfg.ConsumerGroup,
	}
}

func (c *Consumer) Start(ctx context.Context, brokers []string) {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		c.groupID,
		[]string{c.topic},
		c.processMessage,
		c.logger,
	)

	if err := consumerGroup.Run(ctx); err != nil {
		mylogger.Error(ctx, c.logger, "Consumer group stopped", zap.Error(err))
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	mylogger.Info(
		ctx,
		c.logger,
		"Processing message",
		zap.String("topic", msg.Topic),
	)

	type EventWrapper struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
		EventID string          `json:"event_id"`
	}

	var wrapper EventWrapper
	if err := json.Unmarshal(msg.Value, &wrapper); err != nil {
		mylogger.Error(ctx, c.logger, "Error unmarshalling wrapper", zap.Error(err))
		return err
	}

	switch wrapper.Event {
	case domain.EventDonationPaymentRequested:
		var event domain.DonationPaymentRequestedEvent
		if err := json.Unmarshal(wrapper.Payload, &event); err != nil {
			mylogger.Warn(ctx, c.logger, "Error unmarshalling event structure", zap.Error(err))
			return err
		}

		return c.handlePaymentRequested(ctx, wrapper.EventID, event)
	default:
		mylogger.Warn(ctx, c.logger, "Ignored event type", zap.String("event_type", wrapper.Event))
	}

	return nil
}

func (c *Consumer) handlePaymentRequested(ctx context.Context, eventID string, event domain.DonationPaymentRequestedEvent) error {
	action := func() error {
		result, err := c.service.ProcessPayment(ctx, domain.PaymentRequest{
			DonationID:     event.DonationID,
			CampaignID:     event.CampaignID,
			Amount:         event.Amount,
			Currency:       event.Currency,
			DonorName:      event.DonorName,
			DonorEmail:     event.DonorEmail,
			PaymentMethod:  event.PaymentMethod,
			PaymentDetails: event.PaymentDetails,
		})
		if err != nil {
			if errors.Is(err, service.ErrInvalidRequest) {
				// A malformed request never becomes valid on redelivery.
				mylogger.Warn(
					ctx,
					c.logger,
					"Dropping invalid payment request",
					zap.Int64("donation_id", event.DonationID),
					zap.Error(err),
				)

				return nil
			}

			mylogger.Warn(ctx, c.logger, "Error processing payment", zap.Error(err))

			return err
		}

		mylogger.Info(
			ctx,
			c.logger,
			"Payment request processed",
			zap.String("transaction_ref", result.TransactionRef),
			zap.String("status", result.Status),
			zap.Int64("donation_id", event.DonationID),
		)

		return nil
	}

	if eventID == "" {
		// Without an event id the request cannot be deduplicated, the
		// saga lock is the only duplicate guard left.
		mylogger.Warn(
			ctx,
			c.logger,
			"Message without event_id, processing without deduplication",
			zap.Int64("donation_id", event.DonationID),
		)

		return action()
	}

	return outboxUtils.ProcessWithDeduplication(ctx, c.pool, c.logger, eventID, action)
}
