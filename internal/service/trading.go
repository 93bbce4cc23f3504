package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridmeter"
	"gridmeter/internal/config"
	"gridmeter/internal/logger"
	"gridmeter/internal/repository"
)

// Energy amounts are settled to 3 decimal places (Wh resolution), money to 2.
const (
	amountScale  = 3
	revenueScale = 2
)

// TradingCounters is the read-only snapshot of the engine's running totals.
type TradingCounters struct {
	DailyBoughtKWh decimal.Decimal
	DailySoldKWh   decimal.Decimal
	DailyRevenue   decimal.Decimal
	PendingBuy     int
	PendingSell    int
}

// TradingService owns the outstanding-order books and the daily totals. All
// amount and money arithmetic is decimal; floats only enter at the measurement
// boundary and are rounded once on conversion.
type TradingService struct {
	cfg    config.Trading
	source gridmeter.EnergySource

	orders repository.OrderRepo
	events repository.EventRepo
	clk    clock.Clock
	log    *logger.Logger

	mu       sync.Mutex
	enabled  bool
	buyBook  []gridmeter.Order // pending only, oldest first
	sellBook []gridmeter.Order

	dailyBought  decimal.Decimal
	dailySold    decimal.Decimal
	dailyRevenue decimal.Decimal
}

func NewTradingService(cfg config.Trading, dev config.Device, orders repository.OrderRepo, events repository.EventRepo, clk clock.Clock, log *logger.Logger) *TradingService {
	source, err := gridmeter.ParseEnergySource(dev.Source)
	if err != nil {
		source = gridmeter.SourceGridMixed
	}
	return &TradingService{
		cfg:          cfg,
		source:       source,
		orders:       orders,
		events:       events,
		clk:          clk,
		log:          log,
		enabled:      cfg.Enabled,
		dailyBought:  decimal.Zero,
		dailySold:    decimal.Zero,
		dailyRevenue: decimal.Zero,
	}
}

func (t *TradingService) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *TradingService) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Counters returns the running totals and pending order counts.
func (t *TradingService) Counters() TradingCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TradingCounters{
		DailyBoughtKWh: t.dailyBought,
		DailySoldKWh:   t.dailySold,
		DailyRevenue:   t.dailyRevenue,
		PendingBuy:     len(t.buyBook),
		PendingSell:    len(t.sellBook),
	}
}

// Restore reloads the pending books from storage and the daily totals from
// the last persisted snapshot.
func (t *TradingService) Restore(ctx context.Context, st gridmeter.MeterState) error {
	pending, err := t.orders.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("restore pending orders: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.buyBook = t.buyBook[:0]
	t.sellBook = t.sellBook[:0]
	for _, o := range pending {
		if o.Side == gridmeter.SideBuy {
			t.buyBook = append(t.buyBook, o)
		} else {
			t.sellBook = append(t.sellBook, o)
		}
	}
	if !st.DailyBoughtKWh.IsZero() || !st.DailySoldKWh.IsZero() || !st.DailyRevenue.IsZero() {
		t.dailyBought = st.DailyBoughtKWh
		t.dailySold = st.DailySoldKWh
		t.dailyRevenue = st.DailyRevenue
	}
	return nil
}

// ResetDaily zeroes the daily totals at the calendar-day rollover. Pending
// orders survive the rollover; only the caps restart.
func (t *TradingService) ResetDaily() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dailyBought = decimal.Zero
	t.dailySold = decimal.Zero
	t.dailyRevenue = decimal.Zero
}

// Evaluate runs one trading decision. It is a no-op unless safety is NORMAL
// and auto-trading is enabled. Sell takes precedence over buy so one netting
// never trades against itself. Returned orders are already persisted as
// PENDING and await submission.
func (t *TradingService) Evaluate(ctx context.Context, m gridmeter.Measurement, safety gridmeter.SafetyState, marketPrice decimal.Decimal) ([]gridmeter.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled || safety != gridmeter.SafetyNormal {
		return nil, nil
	}
	if _, err := t.expireLocked(ctx, t.clk.Now().UTC()); err != nil {
		return nil, err
	}

	price := t.clampPrice(marketPrice)
	produced := decimal.NewFromFloat(m.EnergyProduced).Round(amountScale)
	consumed := decimal.NewFromFloat(m.EnergyConsumed).Round(amountScale)

	surplus := produced.Sub(consumed)
	deficit := consumed.Sub(produced)

	// Energy already sold or offered today is no longer tradable surplus;
	// same netting for the buy side.
	availableSurplus := surplus.Sub(t.dailySold).Sub(bookAmount(t.sellBook))
	availableDeficit := deficit.Sub(t.dailyBought).Sub(bookAmount(t.buyBook))

	var created []gridmeter.Order
	switch {
	case availableSurplus.GreaterThan(t.cfg.SellThresholdKWh):
		room := t.cfg.MaxDailySaleKWh.Sub(t.dailySold).Sub(bookAmount(t.sellBook))
		amount := decimal.Min(availableSurplus.Mul(t.cfg.SellFactor), room).Round(amountScale)
		o, err := t.placeLocked(ctx, gridmeter.SideSell, amount, price)
		if err != nil {
			return nil, err
		}
		if o != nil {
			created = append(created, *o)
		}
	case availableDeficit.GreaterThan(t.cfg.BuyThresholdKWh):
		room := t.cfg.MaxDailyPurchaseKWh.Sub(t.dailyBought).Sub(bookAmount(t.buyBook))
		amount := decimal.Min(availableDeficit, room).Round(amountScale)
		o, err := t.placeLocked(ctx, gridmeter.SideBuy, amount, price)
		if err != nil {
			return nil, err
		}
		if o != nil {
			created = append(created, *o)
		}
	}
	return created, nil
}

// placeLocked creates and persists one order, evicting the oldest pending
// order of the same side when the book is full. Amounts below the minimum
// tradable size are suppressed. Caller holds t.mu.
func (t *TradingService) placeLocked(ctx context.Context, side gridmeter.OrderSide, amount, price decimal.Decimal) (*gridmeter.Order, error) {
	if amount.LessThan(t.cfg.MinTradeKWh) {
		return nil, nil
	}

	book := &t.sellBook
	if side == gridmeter.SideBuy {
		book = &t.buyBook
	}
	if len(*book) >= t.cfg.MaxOutstanding {
		evicted := (*book)[0]
		*book = (*book)[1:]
		evicted.Status = gridmeter.OrderCancelled
		if err := t.orders.Upsert(ctx, evicted); err != nil {
			return nil, err
		}
		t.record(ctx, gridmeter.EventOrderEvicted,
			fmt.Sprintf("order book full, evicted oldest %s order %s", side.Wire(), evicted.ID),
			map[string]any{"order_id": evicted.ID, "amount_kwh": evicted.AmountKWh.String()})
		t.log.Warnw("evicted oldest pending order", "side", side.Wire(), "order_id", evicted.ID)
	}

	now := t.clk.Now().UTC()
	o := gridmeter.Order{
		ID:          uuid.NewString(),
		Side:        side,
		AmountKWh:   amount,
		PricePerKWh: price,
		Source:      t.source,
		CreatedAt:   now,
		ExpiresAt:   now.Add(t.cfg.OrderTTL),
		Status:      gridmeter.OrderPending,
	}
	if err := t.orders.Upsert(ctx, o); err != nil {
		return nil, err
	}
	*book = append(*book, o)

	t.record(ctx, gridmeter.EventOrderCreated,
		fmt.Sprintf("created %s order for %s kWh at %s", side.Wire(), amount, price),
		map[string]any{"order_id": o.ID, "amount_kwh": amount.String(), "price_per_kwh": price.String()})
	return &o, nil
}

// ApplyAck folds the ledger's answer into the order lifecycle. Status
// transitions are monotonic; a terminal order never changes again.
func (t *TradingService) ApplyAck(ctx context.Context, localID, serverID string, status gridmeter.OrderStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, book, idx := t.findLocked(localID)
	if o == nil {
		return fmt.Errorf("unknown order %q", localID)
	}
	if !o.Status.CanTransition(status) {
		if o.Status == status {
			return nil // duplicate ack after a retried submission
		}
		return fmt.Errorf("order %q: illegal transition %s -> %s", localID, o.Status, status)
	}

	o.ServerID = serverID
	o.Status = status
	if err := t.orders.Upsert(ctx, *o); err != nil {
		return err
	}

	switch status {
	case gridmeter.OrderConfirmed:
		value := o.AmountKWh.Mul(o.PricePerKWh).Round(revenueScale)
		if o.Side == gridmeter.SideSell {
			t.dailySold = t.dailySold.Add(o.AmountKWh)
			t.dailyRevenue = t.dailyRevenue.Add(value)
		} else {
			t.dailyBought = t.dailyBought.Add(o.AmountKWh)
			t.dailyRevenue = t.dailyRevenue.Sub(value)
		}
		t.record(ctx, gridmeter.EventOrderConfirmed,
			fmt.Sprintf("%s order %s confirmed as %s", o.Side.Wire(), o.ID, serverID),
			map[string]any{"order_id": o.ID, "server_id": serverID})
	case gridmeter.OrderRejected:
		t.record(ctx, gridmeter.EventOrderRejected,
			fmt.Sprintf("%s order %s rejected by ledger", o.Side.Wire(), o.ID),
			map[string]any{"order_id": o.ID})
	}

	// Any terminal status frees the slot.
	*book = append((*book)[:idx], (*book)[idx+1:]...)
	return nil
}

// ExpireSweep transitions pending orders past their TTL to EXPIRED and frees
// their slots.
func (t *TradingService) ExpireSweep(ctx context.Context, now time.Time) ([]gridmeter.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expireLocked(ctx, now)
}

func (t *TradingService) expireLocked(ctx context.Context, now time.Time) ([]gridmeter.Order, error) {
	var expired []gridmeter.Order
	for _, book := range []*[]gridmeter.Order{&t.buyBook, &t.sellBook} {
		kept := (*book)[:0]
		for _, o := range *book {
			if !o.Expired(now) {
				kept = append(kept, o)
				continue
			}
			o.Status = gridmeter.OrderExpired
			if err := t.orders.Upsert(ctx, o); err != nil {
				return expired, err
			}
			t.record(ctx, gridmeter.EventOrderExpired,
				fmt.Sprintf("%s order %s expired unconfirmed", o.Side.Wire(), o.ID),
				map[string]any{"order_id": o.ID})
			expired = append(expired, o)
		}
		*book = kept
	}
	return expired, nil
}

func (t *TradingService) findLocked(localID string) (*gridmeter.Order, *[]gridmeter.Order, int) {
	for _, book := range []*[]gridmeter.Order{&t.buyBook, &t.sellBook} {
		for i := range *book {
			if (*book)[i].ID == localID {
				return &(*book)[i], book, i
			}
		}
	}
	return nil, nil, 0
}

// clampPrice bounds the market price to the configured band; a missing or
// non-positive price falls back to the band midpoint.
func (t *TradingService) clampPrice(market decimal.Decimal) decimal.Decimal {
	if market.Sign() <= 0 {
		return t.cfg.MinPrice.Add(t.cfg.MaxPrice).Div(decimal.NewFromInt(2))
	}
	if market.LessThan(t.cfg.MinPrice) {
		return t.cfg.MinPrice
	}
	if market.GreaterThan(t.cfg.MaxPrice) {
		return t.cfg.MaxPrice
	}
	return market
}

func bookAmount(book []gridmeter.Order) decimal.Decimal {
	sum := decimal.Zero
	for _, o := range book {
		sum = sum.Add(o.AmountKWh)
	}
	return sum
}

// record appends an order-lifecycle event; persistence trouble is logged but
// never fails the trading path.
func (t *TradingService) record(ctx context.Context, typ, desc string, meta map[string]any) {
	err := t.events.Append(ctx, gridmeter.MeterEvent{
		OccurredAt:  t.clk.Now().UTC(),
		Type:        typ,
		Description: desc,
		Metadata:    meta,
	})
	if err != nil {
		t.log.Warnw("event append failed", "type", typ, "err", err)
	}
}
