package service

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"gridmeter"
	"gridmeter/internal/config"
	"gridmeter/internal/logger"
)

type orderRepoStub struct {
	upserts []gridmeter.Order
	pending []gridmeter.Order
	err     error
}

func (s *orderRepoStub) Upsert(ctx context.Context, o gridmeter.Order) error {
	s.upserts = append(s.upserts, o)
	return s.err
}

func (s *orderRepoStub) GetByID(ctx context.Context, id string) (*gridmeter.Order, error) {
	return nil, nil
}

func (s *orderRepoStub) ListPending(ctx context.Context) ([]gridmeter.Order, error) {
	return s.pending, nil
}

func (s *orderRepoStub) ListRecent(ctx context.Context, limit int) ([]gridmeter.Order, error) {
	return nil, nil
}

type eventRepoStub struct {
	events []gridmeter.MeterEvent
}

func (s *eventRepoStub) Append(ctx context.Context, e gridmeter.MeterEvent) error {
	s.events = append(s.events, e)
	return nil
}

func (s *eventRepoStub) List(ctx context.Context, from, to time.Time, typ string) ([]gridmeter.MeterEvent, error) {
	return s.events, nil
}

func (s *eventRepoStub) countType(typ string) int {
	n := 0
	for _, e := range s.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func testTradingConfig() config.Trading {
	return config.Trading{
		Enabled:             true,
		Interval:            30 * time.Second,
		SellThresholdKWh:    decimal.RequireFromString("1.0"),
		BuyThresholdKWh:     decimal.RequireFromString("0.5"),
		SellFactor:          decimal.RequireFromString("0.8"),
		MaxDailySaleKWh:     decimal.RequireFromString("10.0"),
		MaxDailyPurchaseKWh: decimal.RequireFromString("10.0"),
		MinTradeKWh:         decimal.RequireFromString("0.1"),
		MinPrice:            decimal.RequireFromString("3000"),
		MaxPrice:            decimal.RequireFromString("6000"),
		OrderTTL:            24 * time.Hour,
		MaxOutstanding:      5,
	}
}

func newTestTrading(cfg config.Trading) (*TradingService, *orderRepoStub, *eventRepoStub, *clock.Mock) {
	orders := &orderRepoStub{}
	events := &eventRepoStub{}
	mock := clock.NewMock()
	t := NewTradingService(cfg, config.Device{Source: "solar"}, orders, events, mock, logger.Nop())
	return t, orders, events, mock
}

func surplusMeasurement(produced, consumed float64) gridmeter.Measurement {
	return gridmeter.Measurement{
		EnergyProduced: produced,
		EnergyConsumed: consumed,
		DataValid:      true,
	}
}

func TestTradingService_NoOrdersUnlessNormal(t *testing.T) {
	t.Parallel()

	for _, state := range []gridmeter.SafetyState{gridmeter.SafetyWarning, gridmeter.SafetyLockout} {
		svc, _, _, _ := newTestTrading(testTradingConfig())
		got, err := svc.Evaluate(context.Background(), surplusMeasurement(5, 0), state, decimal.RequireFromString("4500"))
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("state %v: expected no orders, got %d", state, len(got))
		}
	}
}

func TestTradingService_DisabledIsNoOp(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestTrading(testTradingConfig())
	svc.SetEnabled(false)

	got, err := svc.Evaluate(context.Background(), surplusMeasurement(5, 0), gridmeter.SafetyNormal, decimal.RequireFromString("4500"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no orders while disabled, got %d", len(got))
	}
}

func TestTradingService_SurplusEmitsOneSellOrder(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestTrading(testTradingConfig())

	got, err := svc.Evaluate(context.Background(), surplusMeasurement(2.0, 0), gridmeter.SafetyNormal, decimal.RequireFromString("4500"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one order, got %d", len(got))
	}

	o := got[0]
	if o.Side != gridmeter.SideSell {
		t.Errorf("side = %v, want SELL", o.Side)
	}
	// surplus 2.0 x factor 0.8
	if !o.AmountKWh.Equal(decimal.RequireFromString("1.6")) {
		t.Errorf("amount = %v, want 1.6", o.AmountKWh)
	}
	if o.AmountKWh.GreaterThan(decimal.RequireFromString("2.0")) {
		t.Errorf("amount exceeds surplus")
	}
	if o.PricePerKWh.LessThan(decimal.RequireFromString("3000")) || o.PricePerKWh.GreaterThan(decimal.RequireFromString("6000")) {
		t.Errorf("price %v outside [3000,6000]", o.PricePerKWh)
	}
	if o.Status != gridmeter.OrderPending {
		t.Errorf("status = %v, want PENDING", o.Status)
	}
	if o.Source != gridmeter.SourceSolar {
		t.Errorf("source = %v, want SOLAR", o.Source)
	}
}

func TestTradingService_DeficitEmitsBuyOrder(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestTrading(testTradingConfig())

	got, err := svc.Evaluate(context.Background(), surplusMeasurement(0, 0.8), gridmeter.SafetyNormal, decimal.RequireFromString("4200"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one BUY order, got %d", len(got))
	}
	o := got[0]
	if o.Side != gridmeter.SideBuy {
		t.Errorf("side = %v, want BUY", o.Side)
	}
	if !o.AmountKWh.Equal(decimal.RequireFromString("0.8")) {
		t.Errorf("amount = %v, want 0.8", o.AmountKWh)
	}
}

func TestTradingService_SurplusNotReSoldAcrossCycles(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestTrading(testTradingConfig())
	ctx := context.Background()
	m := surplusMeasurement(2.0, 0)

	first, err := svc.Evaluate(ctx, m, gridmeter.SafetyNormal, decimal.RequireFromString("4500"))
	if err != nil || len(first) != 1 {
		t.Fatalf("setup: %v / %d orders", err, len(first))
	}

	// Same accumulated surplus next cycle: 2.0 - 1.6 pending = 0.4 left,
	// below the sell threshold.
	second, err := svc.Evaluate(ctx, m, gridmeter.SafetyNormal, decimal.RequireFromString("4500"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("re-sold surplus already covered by a pending order: %+v", second)
	}
}

func TestTradingService_DailyCapNeverExceeded(t *testing.T) {
	t.Parallel()

	cfg := testTradingConfig()
	cfg.MaxDailySaleKWh = decimal.RequireFromString("3.0")
	cfg.SellFactor = decimal.RequireFromString("1.0")
	svc, _, _, _ := newTestTrading(cfg)
	ctx := context.Background()

	produced := 0.0
	for i := 0; i < 20; i++ {
		produced += 2.5
		orders, err := svc.Evaluate(ctx, surplusMeasurement(produced, 0), gridmeter.SafetyNormal, decimal.RequireFromString("4500"))
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		for _, o := range orders {
			if err := svc.ApplyAck(ctx, o.ID, "srv-"+o.ID[:8], gridmeter.OrderConfirmed); err != nil {
				t.Fatalf("ApplyAck: %v", err)
			}
		}
		c := svc.Counters()
		if c.DailySoldKWh.GreaterThan(cfg.MaxDailySaleKWh) {
			t.Fatalf("cycle %d: daily sold %v exceeds cap %v", i, c.DailySoldKWh, cfg.MaxDailySaleKWh)
		}
	}
}

func TestTradingService_TinyOrdersSuppressed(t *testing.T) {
	t.Parallel()

	cfg := testTradingConfig()
	cfg.SellFactor = decimal.RequireFromString("0.05") // 1.05 surplus -> 0.05 kWh
	svc, repo, _, _ := newTestTrading(cfg)

	got, err := svc.Evaluate(context.Background(), surplusMeasurement(1.05, 0), gridmeter.SafetyNormal, decimal.RequireFromString("4500"))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected suppression below minimum trade size, got %+v", got)
	}
	if len(repo.upserts) != 0 {
		t.Fatalf("suppressed order must not be persisted")
	}
}

func TestTradingService_BookOverflowEvictsOldest(t *testing.T) {
	t.Parallel()

	cfg := testTradingConfig()
	cfg.MaxOutstanding = 2
	cfg.SellFactor = decimal.RequireFromString("0.2")
	cfg.MaxDailySaleKWh = decimal.RequireFromString("100")
	svc, _, events, _ := newTestTrading(cfg)
	ctx := context.Background()

	var first gridmeter.Order
	produced := 0.0
	for i := 0; i < 3; i++ {
		produced += 10
		orders, err := svc.Evaluate(ctx, surplusMeasurement(produced, 0), gridmeter.SafetyNormal, decimal.RequireFromString("4500"))
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if len(orders) != 1 {
			t.Fatalf("cycle %d: expected one order, got %d", i, len(orders))
		}
		if i == 0 {
			first = orders[0]
		}
	}

	c := svc.Counters()
	if c.PendingSell != cfg.MaxOutstanding {
		t.Fatalf("pending sell = %d, want %d", c.PendingSell, cfg.MaxOutstanding)
	}
	if events.countType(gridmeter.EventOrderEvicted) != 1 {
		t.Fatalf("expected one eviction event, got %d", events.countType(gridmeter.EventOrderEvicted))
	}
	// The evicted order must be the oldest, and acking it later must fail
	// because it left the book.
	if err := svc.ApplyAck(ctx, first.ID, "srv-1", gridmeter.OrderConfirmed); err == nil {
		t.Fatalf("expected error acking evicted order")
	}
}

func TestTradingService_ApplyAck(t *testing.T) {
	t.Parallel()

	svc, _, events, _ := newTestTrading(testTradingConfig())
	ctx := context.Background()

	orders, err := svc.Evaluate(ctx, surplusMeasurement(2.0, 0), gridmeter.SafetyNormal, decimal.RequireFromString("4500"))
	if err != nil || len(orders) != 1 {
		t.Fatalf("setup: %v / %d orders", err, len(orders))
	}
	o := orders[0]

	if err := svc.ApplyAck(ctx, o.ID, "srv-42", gridmeter.OrderConfirmed); err != nil {
		t.Fatalf("ApplyAck: %v", err)
	}

	c := svc.Counters()
	if !c.DailySoldKWh.Equal(decimal.RequireFromString("1.6")) {
		t.Errorf("daily sold = %v, want 1.6", c.DailySoldKWh)
	}
	if !c.DailyRevenue.Equal(decimal.RequireFromString("7200")) { // 1.6 x 4500
		t.Errorf("revenue = %v, want 7200", c.DailyRevenue)
	}
	if c.PendingSell != 0 {
		t.Errorf("confirmed order still pending")
	}
	if events.countType(gridmeter.EventOrderConfirmed) != 1 {
		t.Errorf("missing confirmation event")
	}

	// A confirmed order left the book; acking again is an error, and a
	// duplicate of the same pending ack would be tolerated before removal.
	if err := svc.ApplyAck(ctx, o.ID, "srv-42", gridmeter.OrderRejected); err == nil {
		t.Errorf("expected error on ack of terminal order")
	}
}

func TestTradingService_ExpireSweep(t *testing.T) {
	t.Parallel()

	svc, _, events, mock := newTestTrading(testTradingConfig())
	ctx := context.Background()

	orders, err := svc.Evaluate(ctx, surplusMeasurement(2.0, 0), gridmeter.SafetyNormal, decimal.RequireFromString("4500"))
	if err != nil || len(orders) != 1 {
		t.Fatalf("setup: %v / %d orders", err, len(orders))
	}

	mock.Add(25 * time.Hour)
	expired, err := svc.ExpireSweep(ctx, mock.Now().UTC())
	if err != nil {
		t.Fatalf("ExpireSweep: %v", err)
	}
	if len(expired) != 1 || expired[0].Status != gridmeter.OrderExpired {
		t.Fatalf("expected one expired order, got %+v", expired)
	}
	if svc.Counters().PendingSell != 0 {
		t.Fatalf("expired order still occupies a slot")
	}
	if events.countType(gridmeter.EventOrderExpired) != 1 {
		t.Fatalf("missing expiry event")
	}
}

func TestTradingService_ClampPrice(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestTrading(testTradingConfig())

	tests := []struct {
		in   string
		want string
	}{
		{"4500", "4500"},
		{"100", "3000"},
		{"9999", "6000"},
		{"0", "4500"}, // midpoint fallback
		{"-10", "4500"},
	}
	for _, tt := range tests {
		got := svc.clampPrice(decimal.RequireFromString(tt.in))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("clampPrice(%s) = %v, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTradingService_RestoreReloadsPendingBooks(t *testing.T) {
	t.Parallel()

	svc, repo, _, _ := newTestTrading(testTradingConfig())
	repo.pending = []gridmeter.Order{
		{ID: "a", Side: gridmeter.SideBuy, AmountKWh: decimal.RequireFromString("0.5"), Status: gridmeter.OrderPending},
		{ID: "b", Side: gridmeter.SideSell, AmountKWh: decimal.RequireFromString("1.0"), Status: gridmeter.OrderPending},
		{ID: "c", Side: gridmeter.SideSell, AmountKWh: decimal.RequireFromString("0.3"), Status: gridmeter.OrderPending},
	}

	st := gridmeter.MeterState{
		DailyBoughtKWh: decimal.RequireFromString("0.2"),
		DailySoldKWh:   decimal.RequireFromString("1.4"),
		DailyRevenue:   decimal.RequireFromString("6300"),
	}
	if err := svc.Restore(context.Background(), st); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	c := svc.Counters()
	if c.PendingBuy != 1 || c.PendingSell != 2 {
		t.Errorf("books = %d buy / %d sell, want 1/2", c.PendingBuy, c.PendingSell)
	}
	if !c.DailySoldKWh.Equal(decimal.RequireFromString("1.4")) {
		t.Errorf("daily sold = %v, want 1.4", c.DailySoldKWh)
	}
}
