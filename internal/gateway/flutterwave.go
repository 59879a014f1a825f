package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// Client talks to the Flutterwave v3 REST API.
type Client struct {
	baseURL    string
	secretKey  string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "gateway")),
	}
}

// Initiate creates a hosted checkout for the payment and returns its link.
func (c *Client) Initiate(ctx context.Context, req PaymentRequest) (*InitiateResult, error) {
	const op = "initiate"

	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrBadResponse, Message: "encode request", Err: err}
	}

	env, _, err := c.do(ctx, op, http.MethodPost, "/payments", jsonBody)
	if err != nil {
		return nil, err
	}
	if env.Status != "success" {
		return nil, &Error{Op: op, Kind: ErrRejected, Message: env.Message}
	}

	var data initiateData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &Error{Op: op, Kind: ErrBadResponse, Message: "decode data", Err: err}
	}
	if data.Link == "" {
		return nil, &Error{Op: op, Kind: ErrBadResponse, Message: "missing checkout link"}
	}

	c.logger.Info("checkout initiated", zap.String("tx_ref", req.TxRef))
	return &InitiateResult{Link: data.Link}, nil
}

// Verify looks up a transaction by the gateway's transaction id. A non-success
// API status is not an error: the caller decides what it means for the payment.
func (c *Client) Verify(ctx context.Context, transactionID string) (*VerifyResult, error) {
	const op = "verify"

	if transactionID == "" {
		return nil, &Error{Op: op, Kind: ErrRejected, Message: "missing transaction id"}
	}

	env, raw, err := c.do(ctx, op, http.MethodGet, "/transactions/"+url.PathEscape(transactionID)+"/verify", nil)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Status:  env.Status,
		Message: env.Message,
		Data:    env.Data,
		Raw:     raw,
	}

	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		var data transactionData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, &Error{Op: op, Kind: ErrBadResponse, Message: "decode data", Err: err}
		}
		result.TxRef = data.TxRef
		result.TransactionID = data.ID.String()
		result.Amount = data.Amount
		result.Currency = data.Currency
		result.DataStatus = data.Status
	}

	return result, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (*apiEnvelope, json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, &Error{Op: op, Kind: ErrUnavailable, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("gateway request failed", zap.String("op", op), zap.Error(err))
		return nil, nil, &Error{Op: op, Kind: ErrUnavailable, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, &Error{Op: op, StatusCode: resp.StatusCode, Kind: ErrUnavailable, Message: "read response", Err: err}
	}

	var env apiEnvelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if decodeErr != nil {
			msg = http.StatusText(resp.StatusCode)
		}
		kind := ErrRejected
		if resp.StatusCode >= 500 {
			kind = ErrUnavailable
		}
		c.logger.Warn("gateway returned error status",
			zap.String("op", op),
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", msg))
		return nil, nil, &Error{Op: op, StatusCode: resp.StatusCode, Kind: kind, Message: msg}
	}

	if decodeErr != nil {
		return nil, nil, &Error{Op: op, StatusCode: resp.StatusCode, Kind: ErrBadResponse, Err: fmt.Errorf("decode body: %w", decodeErr)}
	}

	return &env, raw, nil
}
