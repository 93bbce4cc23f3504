package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"gridmeter"
	"gridmeter/internal/logger"
)

// Config is the immutable ledger connection profile.
type Config struct {
	BaseURL            string
	APIKey             string
	DeviceID           string
	DeviceAddress      string
	DeviceType         string
	Zone               string
	SharedSecret       string
	Timeout            time.Duration
	RegisterMaxRetries uint64
}

// Client talks to the remote energy-ledger API. Every request is authenticated
// with the bearer token, carries the device identity headers and a payload
// HMAC, and is bounded by the configured timeout. Methods return either nil or
// a *SyncError; the caller folds those into Health.
type Client struct {
	httpClient *http.Client
	cfg        Config
	log        *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		log:        log,
	}
}

// Wire payloads. The reading payload is keyed by device_id+timestamp so a
// resend after an ambiguous timeout is safe for server-side dedup.

type readingPayload struct {
	DeviceID string               `json:"device_id"`
	Zone     string               `json:"zone"`
	Reading  gridmeter.Measurement `json:"reading"`
}

type orderPayload struct {
	DeviceID    string `json:"device_id"`
	LocalID     string `json:"local_id"`
	Side        string `json:"side"`
	AmountKWh   string `json:"amount_kwh"`
	PricePerKWh string `json:"price_per_kwh"`
	Source      string `json:"energy_source"`
	ExpiresAt   string `json:"expires_at"`
}

// OrderAck is the ledger's answer to an order submission.
type OrderAck struct {
	OrderID string                `json:"order_id"`
	Status  gridmeter.OrderStatus `json:"status"`
}

type priceResponse struct {
	PricePerKWh decimal.Decimal `json:"price_per_kwh"`
}

// Heartbeat is the periodic liveness report.
type Heartbeat struct {
	DeviceID    string  `json:"device_id"`
	UptimeS     int64   `json:"uptime_s"`
	SafetyState string  `json:"safety_state"`
	EnergyKWh   float64 `json:"energy_kwh"`
}

// GridStatus is the zone-level grid snapshot the device polls for context.
type GridStatus struct {
	Status      string  `json:"status"`
	FrequencyHz float64 `json:"frequency_hz"`
	LoadPercent float64 `json:"load_percent"`
}

type registerPayload struct {
	DeviceID      string `json:"device_id"`
	DeviceAddress string `json:"device_address"`
	DeviceType    string `json:"device_type"`
	Zone          string `json:"zone"`
}

type alertPayload struct {
	DeviceID string               `json:"device_id"`
	Alert    gridmeter.SafetyAlert `json:"alert"`
}

// SubmitReading posts one measurement to the ledger.
func (c *Client) SubmitReading(ctx context.Context, m gridmeter.Measurement) error {
	p := readingPayload{DeviceID: c.cfg.DeviceID, Zone: c.cfg.Zone, Reading: m}
	return c.do(ctx, http.MethodPost, "/energy/readings", p, nil)
}

// SubmitOrder posts a new order and returns the ledger's canonical id and
// status. An unparseable or unknown-status reply is InvalidResponse.
func (c *Client) SubmitOrder(ctx context.Context, o gridmeter.Order) (OrderAck, error) {
	p := orderPayload{
		DeviceID:    c.cfg.DeviceID,
		LocalID:     o.ID,
		Side:        o.Side.Wire(),
		AmountKWh:   o.AmountKWh.String(),
		PricePerKWh: o.PricePerKWh.String(),
		Source:      o.Source.Wire(),
		ExpiresAt:   o.ExpiresAt.UTC().Format(time.RFC3339),
	}
	var ack OrderAck
	if err := c.do(ctx, http.MethodPost, "/energy/orders", p, &ack); err != nil {
		return OrderAck{}, err
	}
	if ack.OrderID == "" {
		return OrderAck{}, invalidResponse("/energy/orders", fmt.Errorf("missing order_id"))
	}
	return ack, nil
}

// FetchMarketPrice returns the current zone price per kWh.
func (c *Client) FetchMarketPrice(ctx context.Context) (decimal.Decimal, error) {
	var resp priceResponse
	if err := c.do(ctx, http.MethodGet, "/energy/market-price", nil, &resp); err != nil {
		return decimal.Zero, err
	}
	if resp.PricePerKWh.Sign() <= 0 {
		return decimal.Zero, invalidResponse("/energy/market-price", fmt.Errorf("non-positive price %s", resp.PricePerKWh))
	}
	return resp.PricePerKWh, nil
}

// SendHeartbeat reports liveness.
func (c *Client) SendHeartbeat(ctx context.Context, hb Heartbeat) error {
	hb.DeviceID = c.cfg.DeviceID
	return c.do(ctx, http.MethodPost, "/iot/heartbeat", hb, nil)
}

// FetchGridStatus polls the zone grid snapshot.
func (c *Client) FetchGridStatus(ctx context.Context) (GridStatus, error) {
	var gs GridStatus
	if err := c.do(ctx, http.MethodGet, "/grid/status", nil, &gs); err != nil {
		return GridStatus{}, err
	}
	return gs, nil
}

// ReportAlert submits a one-shot safety alert.
func (c *Client) ReportAlert(ctx context.Context, a gridmeter.SafetyAlert) error {
	return c.do(ctx, http.MethodPost, "/iot/alerts", alertPayload{DeviceID: c.cfg.DeviceID, Alert: a}, nil)
}

// Register announces the device to the ledger at startup. Unlike the steady
// sync path this may retry inline: the orchestrator has not started yet, so
// exponential backoff here cannot stall a running loop.
func (c *Client) Register(ctx context.Context) error {
	p := registerPayload{
		DeviceID:      c.cfg.DeviceID,
		DeviceAddress: c.cfg.DeviceAddress,
		DeviceType:    c.cfg.DeviceType,
		Zone:          c.cfg.Zone,
	}
	op := func() error {
		return c.do(ctx, http.MethodPost, "/iot/register", p, nil)
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.RegisterMaxRetries)
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// do performs one signed exchange. body==nil sends no payload; out==nil
// discards the response body. The returned error is always a *SyncError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return &SyncError{Outcome: OutcomeInvalidResponse, Endpoint: path, Err: err}
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return &SyncError{Outcome: OutcomeNetworkError, Endpoint: path, Err: err}
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("X-Device-ID", c.cfg.DeviceID)
	req.Header.Set("X-Device-Address", c.cfg.DeviceAddress)
	req.Header.Set("X-Device-Type", c.cfg.DeviceType)
	req.Header.Set("Device-Signature", Signature(payload, c.cfg.SharedSecret))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		serr := classifyTransport(path, err)
		c.logAttempt(method, path, serr.Outcome, 0, start, err)
		return serr
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		serr := classifyStatus(path, resp.StatusCode)
		c.logAttempt(method, path, serr.Outcome, resp.StatusCode, start, serr)
		return serr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			serr := invalidResponse(path, err)
			c.logAttempt(method, path, serr.Outcome, resp.StatusCode, start, err)
			return serr
		}
	} else {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	}

	c.logAttempt(method, path, OutcomeSuccess, resp.StatusCode, start, nil)
	return nil
}

// logAttempt emits the per-exchange record. Attempts are ephemeral: they feed
// the log here and the health counters in the caller, nothing else.
func (c *Client) logAttempt(method, path string, outcome Outcome, status int, start time.Time, err error) {
	a := gridmeter.SyncAttempt{
		Method:     method,
		Endpoint:   path,
		Outcome:    string(outcome),
		StatusCode: status,
		Latency:    time.Since(start),
		Timestamp:  start.UTC(),
	}
	if err != nil {
		c.log.Warnw("ledger exchange failed",
			"method", a.Method, "endpoint", a.Endpoint, "outcome", a.Outcome,
			"status", a.StatusCode, "latency", a.Latency, "err", err)
		return
	}
	c.log.Debugw("ledger exchange ok",
		"method", a.Method, "endpoint", a.Endpoint,
		"status", a.StatusCode, "latency", a.Latency)
}
