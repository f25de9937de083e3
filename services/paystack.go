package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ustawi/donation-gateway/models"
)

// ErrGatewayUnavailable wraps transport failures talking to Paystack.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// maxResponseBytes caps how much of a gateway response is read.
const maxResponseBytes = 1 << 20

// PaystackConfig holds what the client needs to reach the API.
type PaystackConfig struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// PaystackClient talks to the Paystack REST API.
type PaystackClient struct {
	config     PaystackConfig
	httpClient *http.Client
}

// GatewayReply is the raw side of a gateway call.
type GatewayReply struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx response.
func (r *GatewayReply) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func NewPaystackClient(config PaystackConfig, httpClient *http.Client) *PaystackClient {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   20,
				MaxConnsPerHost:       100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
			Timeout: config.Timeout,
		}
	}
	return &PaystackClient{config: config, httpClient: httpClient}
}

// InitializeTransaction starts a hosted card checkout.
func (c *PaystackClient) InitializeTransaction(ctx context.Context, req models.InitializeRequest) (*models.InitializeResponse, *GatewayReply, error) {
	reply, err := c.do(ctx, http.MethodPost, "/transaction/initialize", req)
	if err != nil {
		return nil, nil, err
	}
	var resp models.InitializeResponse
	if err := json.Unmarshal(reply.Body, &resp); err != nil {
		return nil, reply, fmt.Errorf("decode initialize response: %w", err)
	}
	return &resp, reply, nil
}

// Charge starts a mobile money charge.
func (c *PaystackClient) Charge(ctx context.Context, req models.ChargeRequest) (*models.ChargeResponse, *GatewayReply, error) {
	reply, err := c.do(ctx, http.MethodPost, "/charge", req)
	if err != nil {
		return nil, nil, err
	}
	var resp models.ChargeResponse
	if err := json.Unmarshal(reply.Body, &resp); err != nil {
		return nil, reply, fmt.Errorf("decode charge response: %w", err)
	}
	return &resp, reply, nil
}

// VerifyTransaction re-queries a transaction by reference.
func (c *PaystackClient) VerifyTransaction(ctx context.Context, reference string) (*models.VerifyResponse, *GatewayReply, error) {
	reply, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, nil, err
	}
	var resp models.VerifyResponse
	if err := json.Unmarshal(reply.Body, &resp); err != nil {
		return nil, reply, fmt.Errorf("decode verify response: %w", err)
	}
	return &resp, reply, nil
}

func (c *PaystackClient) do(ctx context.Context, method, path string, payload interface{}) (*GatewayReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.SecretKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrGatewayUnavailable, err)
	}
	return &GatewayReply{StatusCode: resp.StatusCode, Body: raw}, nil
}
