package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const maxRequestRetries = 2

type YooKassaConfig struct {
	BaseURL   string
	ShopID    string
	SecretKey string
	Timeout   time.Duration
}

// YooKassa talks to the YooKassa v3 REST API. Requests are retried on transport
// errors and 5xx; POSTs are safe to retry because they carry an Idempotence-Key.
type YooKassa struct {
	cfg    YooKassaConfig
	client *http.Client
	logger *zap.Logger
}

func NewYooKassa(cfg YooKassaConfig, logger *zap.Logger) *YooKassa {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &YooKassa{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		logger: logger,
	}
}

func (y *YooKassa) CreatePayment(ctx context.Context, req CreatePaymentRequest, idempotenceKey string) (*Payment, error) {
	var p Payment
	if err := y.do(ctx, http.MethodPost, "/payments", idempotenceKey, req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (y *YooKassa) FindPayment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	if err := y.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(id), "", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (y *YooKassa) CancelPayment(ctx context.Context, id string, idempotenceKey string) (*Payment, error) {
	var p Payment
	if err := y.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(id)+"/cancel", idempotenceKey, struct{}{}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (y *YooKassa) CreateRefund(ctx context.Context, req CreateRefundRequest, idempotenceKey string) (*Refund, error) {
	var r Refund
	if err := y.do(ctx, http.MethodPost, "/refunds", idempotenceKey, req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (y *YooKassa) do(ctx context.Context, method, path, idempotenceKey string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("gateway: encode request: %w", err)
		}
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, y.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(y.cfg.ShopID, y.cfg.SecretKey)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotenceKey != "" {
			req.Header.Set("Idempotence-Key", idempotenceKey)
		}

		resp, err := y.client.Do(req)
		if err != nil {
			return err // transport error, retry
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrPaymentNotFound)
		case resp.StatusCode >= 500:
			return decodeAPIError(resp.StatusCode, raw)
		case resp.StatusCode >= 300:
			return backoff.Permanent(decodeAPIError(resp.StatusCode, raw))
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return backoff.Permanent(fmt.Errorf("gateway: decode response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
	), maxRequestRetries), ctx)

	notify := func(err error, wait time.Duration) {
		y.logger.Warn("gateway request failed, retrying",
			zap.String("method", method), zap.String("path", path),
			zap.Duration("wait", wait), zap.Error(err))
	}

	err := backoff.RetryNotify(op, policy, notify)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func decodeAPIError(status int, raw []byte) error {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = http.StatusText(status)
		apiErr.Description = strings.TrimSpace(string(raw))
	}
	return apiErr
}
