package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/iusamaaziz/DonationBox-sub000/pkg/mylogger"
	"github.com/iusamaaziz/DonationBox-sub000/pkg/utils"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type httpClient struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) Client {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cb:      utils.NewBreaker("PaymentGateway", logger),
		logger:  logger,
		tracer:  otel.Tracer("gateway/http_client"),
	}
}

func (c *httpClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	ctx, span := c.tracer.Start(ctx, "GatewayClient.Charge")
	defer span.End()

	span.SetAttributes(
		attribute.String("amount", req.Amount.StringFixed(2)),
		attribute.String("currency", req.Currency),
		attribute.String("payment_method", req.PaymentMethod),
	)

	result, err := utils.ExecuteWithBreaker(c.cb, func() (*ChargeResult, error) {
		return postJSON[ChargeResult](ctx, c.client, c.baseURL+"/charges", req, req.IdempotencyKey)
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, c.logger, "Gateway charge call failed", zap.Error(err))

		return nil, err
	}

	return result, nil
}

func (c *httpClient) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	ctx, span := c.tracer.Start(ctx, "GatewayClient.Refund")
	defer span.End()

	span.SetAttributes(
		attribute.String("gateway_ref", req.GatewayRef),
		attribute.String("amount", req.Amount.StringFixed(2)),
	)

	result, err := utils.ExecuteWithBreaker(c.cb, func() (*RefundResult, error) {
		return postJSON[RefundResult](ctx, c.client, c.baseURL+"/refunds", req, "")
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, c.logger, "Gateway refund call failed", zap.Error(err))

		return nil, err
	}

	return result, nil
}

func postJSON[T any](ctx context.Context, client *http.Client, url string, body any, idempotencyKey string) (*T, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("error decoding gateway response: %w", err)
	}

	return &out, nil
}
