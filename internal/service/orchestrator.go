package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"gridmeter"
	"gridmeter/internal/config"
	"gridmeter/internal/ledger"
	"gridmeter/internal/logger"
)

// OrchestratorService sequences one measurement -> decision -> sync pipeline
// per sampling tick. Slower phases (trading, the individual sync calls) run on
// their own scheduled timestamps checked against the same tick, so nothing in
// the loop ever sleeps. Within one cycle the safety verdict is always computed
// from that cycle's measurement before trading runs.
type OrchestratorService struct {
	cfg *config.Config
	clk clock.Clock
	log *logger.Logger

	sampler   Sampler
	scorer    Scorer
	safety    Safety
	trading   Trading
	telemetry Telemetry
	events    EventLog
	remote    Ledger
	health    *ledger.Health

	marketPrice   decimal.Decimal
	pendingAlerts []gridmeter.SafetyAlert
	unsubmitted   []gridmeter.Order

	nextTrading   time.Time
	nextReading   time.Time
	nextHeartbeat time.Time
	nextMarket    time.Time
	nextGrid      time.Time

	currentDay time.Time
	startedAt  time.Time
	prevConn   gridmeter.ConnState
	prevFault  bool
}

func NewOrchestratorService(
	cfg *config.Config,
	sampler Sampler,
	scorer Scorer,
	safety Safety,
	trading Trading,
	telemetry Telemetry,
	events EventLog,
	remote Ledger,
	health *ledger.Health,
	clk clock.Clock,
	log *logger.Logger,
) *OrchestratorService {
	return &OrchestratorService{
		cfg:       cfg,
		clk:       clk,
		log:       log,
		sampler:   sampler,
		scorer:    scorer,
		safety:    safety,
		trading:   trading,
		telemetry: telemetry,
		events:    events,
		remote:    remote,
		health:    health,
		prevConn:  gridmeter.ConnConnected,
	}
}

// Run drives the control loop until ctx is cancelled.
func (o *OrchestratorService) Run(ctx context.Context) {
	o.bootstrap(ctx)

	ticker := o.clk.Ticker(o.cfg.Sampler.Interval)
	defer ticker.Stop()

	o.log.Infow("orchestrator started",
		"sampling", o.cfg.Sampler.Interval,
		"trading", o.cfg.Trading.Interval,
		"sync", o.cfg.Sync.Interval)

	for {
		select {
		case <-ctx.Done():
			o.log.Infow("orchestrator stopped")
			return
		case <-ticker.C:
			o.cycle(ctx)
		}
	}
}

// bootstrap restores continuity from the last persisted snapshot. A snapshot
// from an earlier UTC day contributes its pending orders but not its daily
// totals.
func (o *OrchestratorService) bootstrap(ctx context.Context) {
	now := o.clk.Now().UTC()
	o.startedAt = now
	o.currentDay = dateOf(now)
	o.marketPrice = decimal.Zero // trading falls back to the band midpoint

	st, err := o.telemetry.GetState(ctx)
	if err != nil {
		o.log.Warnw("state restore failed, starting fresh", "err", err)
		st = gridmeter.MeterState{}
	}

	if sameDay := dateOf(st.UpdatedAt).Equal(o.currentDay); !sameDay {
		st.Measurement.Energy = 0
		st.Measurement.EnergyProduced = 0
		st.Measurement.EnergyConsumed = 0
		st.DailyBoughtKWh = decimal.Zero
		st.DailySoldKWh = decimal.Zero
		st.DailyRevenue = decimal.Zero
	}
	o.sampler.Restore(st.Measurement)
	if err := o.trading.Restore(ctx, st); err != nil {
		o.log.Warnw("order book restore failed", "err", err)
	}
}

func (o *OrchestratorService) cycle(ctx context.Context) {
	now := o.clk.Now().UTC()

	if d := dateOf(now); d.After(o.currentDay) {
		o.currentDay = d
		o.sampler.ResetDaily()
		o.trading.ResetDaily()
		o.events.Record(ctx, gridmeter.EventDailyRollover, "daily energy and trading counters reset", nil)
		o.log.Infow("daily rollover", "day", d.Format("2006-01-02"))
	}

	m := o.sampler.Sample()
	q := o.scorer.Score(m)
	m.QualityScore = q.Score

	fault := o.sampler.SensorFaulted()
	if fault && !o.prevFault {
		o.events.Record(ctx, gridmeter.EventSensorFault,
			"consecutive sensor failures reached the escalation threshold", nil)
	}
	o.prevFault = fault

	dec := o.safety.Evaluate(m, q, fault)
	if dec.Changed {
		o.events.Record(ctx, gridmeter.EventSafetyTransition, DescribeTransition(dec),
			map[string]any{"violations": dec.Violations})
		o.log.Infow("safety transition", "from", dec.Previous, "to", dec.State, "violations", dec.Violations)
	}
	for _, a := range dec.NewAlerts {
		o.events.Record(ctx, gridmeter.EventSafetyAlert,
			fmt.Sprintf("%s raised at %s severity", a.Condition, a.Severity), a)
		o.pendingAlerts = append(o.pendingAlerts, a)
	}

	if m.DataValid {
		if err := o.telemetry.RecordReading(ctx, m); err != nil {
			o.log.Warnw("reading persist failed", "err", err)
		}
	}

	if !now.Before(o.nextTrading) {
		o.nextTrading = now.Add(o.cfg.Trading.Interval)
		created, err := o.trading.Evaluate(ctx, m, dec.State, o.marketPrice)
		if err != nil {
			o.log.Warnw("trading evaluation failed", "err", err)
		}
		o.unsubmitted = append(o.unsubmitted, created...)
	} else if _, err := o.trading.ExpireSweep(ctx, now); err != nil {
		o.log.Warnw("expiry sweep failed", "err", err)
	}

	o.syncPhase(ctx, now, m, dec.State)
	o.publish(ctx, now, m, q, dec.State)
}

// syncPhase drains due network work, stopping at the first failure so the
// backoff window set by Health takes effect immediately. In LOCKOUT only
// alert reports go out.
func (o *OrchestratorService) syncPhase(ctx context.Context, now time.Time, m gridmeter.Measurement, state gridmeter.SafetyState) {
	if !o.health.Ready() {
		return
	}

	// Alerts go first regardless of state.
	for len(o.pendingAlerts) > 0 {
		if err := o.observe(ctx, o.remote.ReportAlert(ctx, o.pendingAlerts[0])); err != nil {
			return
		}
		o.pendingAlerts = o.pendingAlerts[1:]
	}

	if state == gridmeter.SafetyLockout {
		return // alert-report-only mode
	}

	if !now.Before(o.nextReading) {
		o.nextReading = now.Add(o.cfg.Sync.Interval)
		if m.DataValid {
			if err := o.observe(ctx, o.remote.SubmitReading(ctx, m)); err != nil {
				return
			}
		}
	}

	for len(o.unsubmitted) > 0 {
		ord := o.unsubmitted[0]
		ack, err := o.remote.SubmitOrder(ctx, ord)
		if err := o.observe(ctx, err); err != nil {
			return
		}
		o.unsubmitted = o.unsubmitted[1:]
		if err := o.trading.ApplyAck(ctx, ord.ID, ack.OrderID, ack.Status); err != nil {
			// Evicted or expired while queued; the ledger's answer is moot.
			o.log.Warnw("order ack not applied", "order_id", ord.ID, "err", err)
		}
	}

	if !now.Before(o.nextHeartbeat) {
		o.nextHeartbeat = now.Add(o.cfg.Sync.HeartbeatInterval)
		hb := ledger.Heartbeat{
			UptimeS:     int64(now.Sub(o.startedAt).Seconds()),
			SafetyState: string(state),
			EnergyKWh:   m.Energy,
		}
		if err := o.observe(ctx, o.remote.SendHeartbeat(ctx, hb)); err != nil {
			return
		}
	}

	if !now.Before(o.nextMarket) {
		o.nextMarket = now.Add(o.cfg.Sync.MarketInterval)
		price, err := o.remote.FetchMarketPrice(ctx)
		if err := o.observe(ctx, err); err != nil {
			return
		}
		o.marketPrice = price
	}

	if !now.Before(o.nextGrid) {
		o.nextGrid = now.Add(o.cfg.Sync.GridInterval)
		gs, err := o.remote.FetchGridStatus(ctx)
		if err := o.observe(ctx, err); err != nil {
			return
		}
		o.log.Debugw("grid status", "status", gs.Status, "frequency_hz", gs.FrequencyHz, "load_pct", gs.LoadPercent)
	}
}

// observe folds one attempt into connection health and logs the transitions.
func (o *OrchestratorService) observe(ctx context.Context, err error) error {
	o.health.Observe(err)
	conn := o.health.State()

	if err != nil {
		outcome := ledger.OutcomeNetworkError
		var serr *ledger.SyncError
		if errors.As(err, &serr) {
			outcome = serr.Outcome
		}
		o.log.Warnw("sync attempt failed",
			"outcome", outcome,
			"consecutive_errors", o.health.ConsecutiveErrors(),
			"err", err)
		if conn == gridmeter.ConnDisconnected && o.prevConn != gridmeter.ConnDisconnected {
			o.events.Record(ctx, gridmeter.EventSyncError,
				fmt.Sprintf("ledger unreachable after %d consecutive errors", o.health.ConsecutiveErrors()), nil)
		}
	} else if o.prevConn == gridmeter.ConnDisconnected {
		o.events.Record(ctx, gridmeter.EventSyncRecovered, "ledger connectivity restored", nil)
		o.log.Infow("ledger connectivity restored")
	}

	o.prevConn = conn
	return err
}

// publish writes the cycle's snapshot for the telemetry API and websocket.
func (o *OrchestratorService) publish(ctx context.Context, now time.Time, m gridmeter.Measurement, q gridmeter.QualityAssessment, state gridmeter.SafetyState) {
	c := o.trading.Counters()
	st := gridmeter.MeterState{
		ID:                1,
		Measurement:       m,
		Quality:           q,
		Safety:            state,
		AutoTrading:       o.trading.Enabled(),
		DailyBoughtKWh:    c.DailyBoughtKWh,
		DailySoldKWh:      c.DailySoldKWh,
		DailyRevenue:      c.DailyRevenue,
		PendingBuyOrders:  c.PendingBuy,
		PendingSellOrders: c.PendingSell,
		Conn:              o.health.State(),
		ConsecutiveErrors: o.health.ConsecutiveErrors(),
		LastSyncAt:        o.health.LastSuccessAt(),
		UpdatedAt:         now,
	}
	if err := o.telemetry.SaveState(ctx, st); err != nil {
		o.log.Warnw("snapshot persist failed", "err", err)
	}
}

// dateOf truncates to the UTC calendar day.
func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
