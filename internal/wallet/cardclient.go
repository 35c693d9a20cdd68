package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"bankflow/internal/card"
	"bankflow/internal/common/backoff"
	"bankflow/internal/common/events"
	"bankflow/internal/common/middleware"
)

// CardClientConfig configures the remote card stage
type CardClientConfig struct {
	BaseURL string        `envconfig:"CARD_SERVICE_URL" default:"http://localhost:8080/internal/v1/cards"`
	Token   string        `envconfig:"INTERNAL_SERVICE_TOKEN"`
	Timeout time.Duration `envconfig:"CARD_SERVICE_TIMEOUT" default:"5s"`
}

// CardClient debits credit lines through the card stage's HTTP API. It is
// used when the card stage runs in another process.
type CardClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      backoff.Config
	logger     *slog.Logger
}

// NewCardClient creates a new card client
func NewCardClient(cfg CardClientConfig, retry backoff.Config, logger *slog.Logger) *CardClient {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &CardClient{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      retry,
		logger:     logger,
	}
}

type debitRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type debitResponse struct {
	Data struct {
		Outcome card.DebitOutcome `json:"outcome"`
	} `json:"data"`
}

// retryableError is a failure the card stage may not have seen
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

// DebitCredit implements CardLedger. Transport failures and 5xx replies are
// retried with the same reference, so the card is charged at most once.
func (c *CardClient) DebitCredit(ctx context.Context, ownerID string, amount decimal.Decimal, reference string) (card.DebitOutcome, error) {
	body, err := json.Marshal(debitRequest{Amount: amount, Reference: reference})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		outcome, err := c.doDebit(ctx, ownerID, body)
		if err == nil {
			return outcome, nil
		}
		if _, ok := err.(*retryableError); !ok {
			return "", err
		}
		lastErr = err
		if attempt == c.retry.MaxAttempts-1 {
			break
		}

		delay := c.retry.Delay(attempt)
		c.logger.Warn("card debit retry", "owner_id", ownerID, "reference", reference, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("card debit after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

func (c *CardClient) doDebit(ctx context.Context, ownerID string, body []byte) (card.DebitOutcome, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+url.PathEscape(ownerID)+"/debit", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(middleware.HeaderServiceToken, c.token)
	if id := events.CorrelationIDFrom(ctx); id != "" {
		httpReq.Header.Set(middleware.HeaderCorrelationID, id)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("http request: %w", err)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("read response: %w", err)}
	}

	if httpResp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("card api error: status=%d body=%s", httpResp.StatusCode, string(respBody))}
	}
	if httpResp.StatusCode >= 400 {
		return "", fmt.Errorf("card api error: status=%d body=%s", httpResp.StatusCode, string(respBody))
	}

	var resp debitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return resp.Data.Outcome, nil
}
