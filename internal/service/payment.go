package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	v "github.com/spf13/viper"
)

// ErrPaymentDeclined is returned when the processor refused the charge, as
// opposed to failing to answer
var ErrPaymentDeclined = errors.New("payment declined")

type PaymentRequest struct {
	Amount         int64          `json:"amount"`
	Method         string         `json:"payment_method"`
	FeeID          string         `json:"fee_id"`
	StudentID      string         `json:"student_id"`
	Details        map[string]any `json:"details,omitempty"`
	IdempotencyKey string         `json:"-"`
}

type PaymentResult struct {
	TransactionID string    `json:"transactionId"`
	Status        string    `json:"status"`
	ProcessedAt   time.Time `json:"processedAt"`
}

// PaymentProcessor charges a payer. Implementations must honour ctx
// cancellation, a charge that doesn't answer in time counts as failed.
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, r PaymentRequest) (*PaymentResult, error)
}

var paymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "school_api_fee_payments_total",
	Help: "Fee payment attempts by outcome",
}, []string{"outcome"})

// NewPaymentProcessor returns the processor selected by payment.provider
func NewPaymentProcessor() (PaymentProcessor, error) {
	switch p := v.GetString("payment.provider"); p {
	case "sandbox":
		return SandboxProcessor{}, nil
	case "http":
		return NewHTTPProcessor(v.GetString("payment.endpoint"), v.GetString("payment.api_key")), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", p)
	}
}

// SandboxProcessor approves every charge unless the details ask it not to
// with {"simulate": "decline"}
type SandboxProcessor struct{}

func (SandboxProcessor) ProcessPayment(ctx context.Context, r PaymentRequest) (*PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s, _ := r.Details["simulate"].(string); s == "decline" {
		return nil, ErrPaymentDeclined
	}

	id, err := gonanoid.New(20)
	if err != nil {
		return nil, fmt.Errorf("failed to generate transaction id, %w", err)
	}

	return &PaymentResult{
		TransactionID: "txn_" + id,
		Status:        "succeeded",
		ProcessedAt:   time.Now().UTC(),
	}, nil
}

// HTTPProcessor posts charges as JSON to a payment gateway endpoint
type HTTPProcessor struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPProcessor(endpoint, apiKey string) *HTTPProcessor {
	return &HTTPProcessor{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{},
	}
}

type gatewayResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

func (p *HTTPProcessor) ProcessPayment(ctx context.Context, r PaymentRequest) (*PaymentResult, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment, %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if r.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.IdempotencyKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment gateway unreachable, %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response, %w", err)
	}

	// error statuses may come with a body that isn't JSON, so a decode
	// failure only matters when the charge looks successful
	var res gatewayResponse
	decodeErr := json.Unmarshal(raw, &res)

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || strings.EqualFold(res.Status, "declined"):
		return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, res.Message)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("payment gateway answered %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	case decodeErr != nil:
		return nil, fmt.Errorf("payment gateway answered without a transaction id, %w", decodeErr)
	case res.TransactionID == "":
		return nil, errors.New("payment gateway answered without a transaction id")
	}

	return &PaymentResult{
		TransactionID: res.TransactionID,
		Status:        res.Status,
		ProcessedAt:   time.Now().UTC(),
	}, nil
}
