package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gridmeter"
	"gridmeter/internal/logger"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:       srv.URL,
		APIKey:        "test-key",
		DeviceID:      "GRID_METER_001",
		DeviceAddress: "gx1qtest",
		DeviceType:    "smart_energy_meter",
		Zone:          "MEA-BANGKOK-ZONE-1",
		SharedSecret:  "secret",
		Timeout:       2 * time.Second,
	}, logger.Nop())
	return c, srv
}

func TestClient_SubmitReading_SendsIdentityAndSignature(t *testing.T) {
	var gotAuth, gotDeviceID, gotSig string
	var gotBody []byte

	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotDeviceID = r.Header.Get("X-Device-ID")
		gotSig = r.Header.Get("Device-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	m := gridmeter.Measurement{
		Voltage:   220.1,
		DeviceID:  "GRID_METER_001",
		Timestamp: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		DataValid: true,
	}
	if err := c.SubmitReading(context.Background(), m); err != nil {
		t.Fatalf("SubmitReading: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotDeviceID != "GRID_METER_001" {
		t.Errorf("X-Device-ID = %q", gotDeviceID)
	}
	if want := Signature(gotBody, "secret"); gotSig != want {
		t.Errorf("Device-Signature = %q, want %q", gotSig, want)
	}

	var p readingPayload
	if err := json.Unmarshal(gotBody, &p); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if p.Reading.Voltage != 220.1 || p.Zone != "MEA-BANGKOK-ZONE-1" {
		t.Errorf("payload mismatch: %+v", p)
	}
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   Outcome
	}{
		{"unauthorized", http.StatusUnauthorized, OutcomeAuthError},
		{"forbidden", http.StatusForbidden, OutcomeAuthError},
		{"rate limited", http.StatusTooManyRequests, OutcomeRateLimited},
		{"server error", http.StatusInternalServerError, OutcomeServerError},
		{"bad request", http.StatusBadRequest, OutcomeServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			err := c.SubmitReading(context.Background(), gridmeter.Measurement{})
			var serr *SyncError
			if !errors.As(err, &serr) {
				t.Fatalf("expected *SyncError, got %v", err)
			}
			if serr.Outcome != tt.want {
				t.Errorf("outcome = %v, want %v", serr.Outcome, tt.want)
			}
			if serr.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", serr.StatusCode, tt.status)
			}
		})
	}
}

func TestClient_TimeoutClassifiedAsTimeout(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	c.httpClient.Timeout = 20 * time.Millisecond

	err := c.SubmitReading(context.Background(), gridmeter.Measurement{})
	var serr *SyncError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SyncError, got %v", err)
	}
	if serr.Outcome != OutcomeTimeout {
		t.Errorf("outcome = %v, want %v", serr.Outcome, OutcomeTimeout)
	}
}

func TestClient_MalformedBodyIsInvalidResponse(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"order_id": `)) // truncated
	})

	_, err := c.SubmitOrder(context.Background(), gridmeter.Order{
		ID:          "local-1",
		Side:        gridmeter.SideSell,
		AmountKWh:   decimal.RequireFromString("1.5"),
		PricePerKWh: decimal.RequireFromString("4500"),
		Source:      gridmeter.SourceSolar,
	})
	var serr *SyncError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SyncError, got %v", err)
	}
	if serr.Outcome != OutcomeInvalidResponse {
		t.Errorf("outcome = %v, want %v", serr.Outcome, OutcomeInvalidResponse)
	}
}

func TestClient_UnknownOrderStatusIsInvalidResponse(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"order_id":"srv-1","status":"shipped"}`))
	})

	_, err := c.SubmitOrder(context.Background(), gridmeter.Order{
		ID:          "local-1",
		Side:        gridmeter.SideBuy,
		AmountKWh:   decimal.RequireFromString("0.5"),
		PricePerKWh: decimal.RequireFromString("4200"),
		Source:      gridmeter.SourceGridMixed,
	})
	var serr *SyncError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SyncError, got %v", err)
	}
	if serr.Outcome != OutcomeInvalidResponse {
		t.Errorf("outcome = %v, want %v", serr.Outcome, OutcomeInvalidResponse)
	}
}

func TestClient_SubmitOrder_HappyPath(t *testing.T) {
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var p orderPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode order payload: %v", err)
		}
		if p.Side != "sell" || p.AmountKWh != "1.6" {
			t.Errorf("unexpected payload: %+v", p)
		}
		_, _ = w.Write([]byte(`{"order_id":"srv-42","status":"confirmed"}`))
	})

	ack, err := c.SubmitOrder(context.Background(), gridmeter.Order{
		ID:          "local-1",
		Side:        gridmeter.SideSell,
		AmountKWh:   decimal.RequireFromString("1.6"),
		PricePerKWh: decimal.RequireFromString("4500"),
		Source:      gridmeter.SourceSolar,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if ack.OrderID != "srv-42" || ack.Status != gridmeter.OrderConfirmed {
		t.Errorf("ack mismatch: %+v", ack)
	}
}

func TestClient_FetchMarketPrice(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr Outcome
	}{
		{"string price", `{"price_per_kwh":"4500"}`, "4500", ""},
		{"numeric price", `{"price_per_kwh":4725.5}`, "4725.5", ""},
		{"missing field", `{}`, "", OutcomeInvalidResponse},
		{"negative price", `{"price_per_kwh":"-10"}`, "", OutcomeInvalidResponse},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})

			p, err := c.FetchMarketPrice(context.Background())
			if tt.wantErr != "" {
				var serr *SyncError
				if !errors.As(err, &serr) || serr.Outcome != tt.wantErr {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchMarketPrice: %v", err)
			}
			if !p.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("price = %v, want %v", p, tt.want)
			}
		})
	}
}

func TestClient_Register_RetriesUntilSuccess(t *testing.T) {
	var calls int
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	c.cfg.RegisterMaxRetries = 5

	if err := c.Register(context.Background()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestClient_Register_StopsAtRetryCap(t *testing.T) {
	var calls int
	c, _ := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.cfg.RegisterMaxRetries = 2

	if err := c.Register(context.Background()); err == nil {
		t.Fatal("expected Register to fail against a dead ledger")
	}
	if calls != 3 { // initial attempt + 2 retries
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}
