package donation

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

func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) Confirmer {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		cb:      utils.NewBreaker("DonationService", logger),
		logger:  logger,
		tracer:  otel.Tracer("donation/http_client"),
	}
}

type confirmRequest struct {
	TransactionRef string `json:"transaction_ref"`
	Status         string `json:"status"`
}

type confirmResponse struct {
	Confirmed bool `json:"confirmed"`
}

func (c *httpClient) ConfirmDonation(ctx context.Context, donationID int64, transactionRef string, status string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "DonationClient.ConfirmDonation")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("donation_id", donationID),
		attribute.String("transaction_ref", transactionRef),
	)

	url := fmt.Sprintf("%s/donations/%d/confirm", c.baseURL, donationID)

	result, err := utils.ExecuteWithBreaker(c.cb, func() (*confirmResponse, error) {
		payload, err := json.Marshal(confirmRequest{
			TransactionRef: transactionRef,
			Status:         status,
		})
		if err != nil {
			return nil, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("donation service returned status %d", resp.StatusCode)
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		var out confirmResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("error decoding donation response: %w", err)
		}

		return &out, nil
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, c.logger, "Donation confirmation call failed", zap.Error(err))

		return false, err
	}

	return result.Confirmed, nil
}
