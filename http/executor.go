package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// DefaultExecutorTimeout bounds one paid request, including its retry.
const DefaultExecutorTimeout = 30 * time.Second

// ResponseError is returned for final responses that are neither 2xx nor 402.
type ResponseError struct {
	StatusCode int
	Body       []byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, bytes.TrimSpace(e.Body))
}

// PaymentExecutor performs HTTP requests and answers a 402 challenge by
// signing one of the offered requirements and retrying exactly once.
type PaymentExecutor struct {
	client     *x402.X402Client
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// ExecutorOption configures a PaymentExecutor
type ExecutorOption func(*PaymentExecutor)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) ExecutorOption {
	return func(e *PaymentExecutor) {
		e.httpClient = client
	}
}

// WithTimeout sets the overall deadline for a paid request.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *PaymentExecutor) {
		e.timeout = timeout
	}
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *PaymentExecutor) {
		e.logger = logger
	}
}

// NewPaymentExecutor creates an executor that pays with client.
func NewPaymentExecutor(client *x402.X402Client, opts ...ExecutorOption) *PaymentExecutor {
	e := &PaymentExecutor{
		client:     client,
		httpClient: http.DefaultClient,
		timeout:    DefaultExecutorTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do sends req. On 402 it decodes the PAYMENT-REQUIRED header, signs a
// payment and retries once with PAYMENT-SIGNATURE. The returned response
// body is fully buffered and safe to read after Do returns.
func (e *PaymentExecutor) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	resp, err := e.send(ctx, req, body, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return finalResponse(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	required, err := DecodePaymentRequired(resp.Header.Get(x402.HeaderPaymentRequired))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrPaymentInfoUnavailable, err)
	}

	payload, err := e.client.CreatePaymentForRequired(ctx, required)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	header, err := EncodePaymentSignature(payload)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("retrying with payment",
		"url", req.URL.String(),
		"network", payload.Accepted.Network,
		"amount", payload.Accepted.Amount)

	resp, err = e.send(ctx, req, body, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		reason := "payment rejected"
		if again, err := DecodePaymentRequired(resp.Header.Get(x402.HeaderPaymentRequired)); err == nil && again.Error != "" {
			reason = again.Error
		}
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", x402.ErrPaymentFailed, reason)
	}

	return finalResponse(resp)
}

// Get performs a paid GET.
func (e *PaymentExecutor) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return e.Do(ctx, req)
}

// Post performs a paid POST.
func (e *PaymentExecutor) Post(ctx context.Context, url, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return e.Do(ctx, req)
}

func (e *PaymentExecutor) send(ctx context.Context, req *http.Request, body []byte, paymentHeader string) (*http.Response, error) {
	attempt := req.Clone(ctx)
	if body != nil {
		attempt.Body = io.NopCloser(bytes.NewReader(body))
		attempt.ContentLength = int64(len(body))
	}
	if paymentHeader != "" {
		attempt.Header.Set(x402.HeaderPaymentSignature, paymentHeader)
	}

	resp, err := e.httpClient.Do(attempt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Redacted(), err)
	}
	return resp, nil
}

func finalResponse(resp *http.Response) (*http.Response, error) {
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ResponseError{StatusCode: resp.StatusCode, Body: data}
	}
	return resp, nil
}

// SettlementFromResponse decodes the PAYMENT-RESPONSE header of a paid
// response. It returns nil when the server sent none.
func SettlementFromResponse(resp *http.Response) (*x402.SettleResponse, error) {
	header := resp.Header.Get(x402.HeaderPaymentResponse)
	if header == "" {
		return nil, nil
	}
	settlement, err := DecodePaymentResponse(header)
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}
