package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"gridmeter"
	"gridmeter/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}

func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}

func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockTelemetry struct {
	state       gridmeter.MeterState
	stateErr    error
	readings    []gridmeter.Measurement
	readingsErr error
	orders      []gridmeter.Order
	ordersErr   error

	lastLimit int
}

func (m *mockTelemetry) GetState(ctx context.Context) (gridmeter.MeterState, error) {
	return m.state, m.stateErr
}

func (m *mockTelemetry) SaveState(ctx context.Context, st gridmeter.MeterState) error { return nil }

func (m *mockTelemetry) RecordReading(ctx context.Context, mm gridmeter.Measurement) error {
	return nil
}

func (m *mockTelemetry) ListReadings(ctx context.Context, limit int) ([]gridmeter.Measurement, error) {
	m.lastLimit = limit
	return m.readings, m.readingsErr
}

func (m *mockTelemetry) ListOrders(ctx context.Context, limit int) ([]gridmeter.Order, error) {
	m.lastLimit = limit
	return m.orders, m.ordersErr
}

type mockTrading struct {
	enabled    bool
	setEnabled []bool
	counters   service.TradingCounters
}

func (m *mockTrading) Evaluate(context.Context, gridmeter.Measurement, gridmeter.SafetyState, decimal.Decimal) ([]gridmeter.Order, error) {
	return nil, nil
}

func (m *mockTrading) ApplyAck(context.Context, string, string, gridmeter.OrderStatus) error {
	return nil
}

func (m *mockTrading) ExpireSweep(context.Context, time.Time) ([]gridmeter.Order, error) {
	return nil, nil
}

func (m *mockTrading) SetEnabled(enabled bool) {
	m.enabled = enabled
	m.setEnabled = append(m.setEnabled, enabled)
}

func (m *mockTrading) Enabled() bool { return m.enabled }

func (m *mockTrading) Counters() service.TradingCounters { return m.counters }

func (m *mockTrading) Restore(context.Context, gridmeter.MeterState) error { return nil }

func (m *mockTrading) ResetDaily() {}

type mockEventLog struct {
	resp     []gridmeter.MeterEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) Record(ctx context.Context, typ, description string, metadata any) {}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]gridmeter.MeterEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
