package service

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"

	"gridmeter"
	"gridmeter/internal/config"
	"gridmeter/internal/ledger"
	"gridmeter/internal/logger"
	"gridmeter/internal/repository"
	"gridmeter/internal/sensor"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Sampler acquires one measurement per cycle. It never fails: on sensor
// trouble it carries the last known-good electrical values forward with
// DataValid=false and counts toward the escalation threshold.
type Sampler interface {
	Sample() gridmeter.Measurement
	SensorFaulted() bool
	Restore(m gridmeter.Measurement)
	ResetDaily()
}

// Scorer derives the composite power-quality assessment. Pure.
type Scorer interface {
	Score(m gridmeter.Measurement) gridmeter.QualityAssessment
}

// Safety owns the NORMAL/WARNING/LOCKOUT state machine. Every other component
// treats its state as read-only.
type Safety interface {
	Evaluate(m gridmeter.Measurement, q gridmeter.QualityAssessment, sensorFault bool) SafetyDecision
	State() gridmeter.SafetyState
}

// Trading decides buy/sell actions and owns the outstanding-order set and the
// daily counters.
type Trading interface {
	Evaluate(ctx context.Context, m gridmeter.Measurement, safety gridmeter.SafetyState, marketPrice decimal.Decimal) ([]gridmeter.Order, error)
	ApplyAck(ctx context.Context, localID, serverID string, status gridmeter.OrderStatus) error
	ExpireSweep(ctx context.Context, now time.Time) ([]gridmeter.Order, error)
	SetEnabled(enabled bool)
	Enabled() bool
	Counters() TradingCounters
	Restore(ctx context.Context, st gridmeter.MeterState) error
	ResetDaily()
}

// Telemetry exposes read-only snapshots to the API layer and persists the
// per-cycle state the orchestrator publishes.
type Telemetry interface {
	GetState(ctx context.Context) (gridmeter.MeterState, error)
	SaveState(ctx context.Context, st gridmeter.MeterState) error
	RecordReading(ctx context.Context, m gridmeter.Measurement) error
	ListReadings(ctx context.Context, limit int) ([]gridmeter.Measurement, error)
	ListOrders(ctx context.Context, limit int) ([]gridmeter.Order, error)
}

// EventLog exposes append-only logs with filtering access.
type EventLog interface {
	Record(ctx context.Context, typ, description string, metadata any)
	List(ctx context.Context, f LogFilter) ([]gridmeter.MeterEvent, error)
}

// Ledger is the remote API surface the orchestrator drives. Satisfied by
// *ledger.Client; stubbed in tests.
type Ledger interface {
	SubmitReading(ctx context.Context, m gridmeter.Measurement) error
	SubmitOrder(ctx context.Context, o gridmeter.Order) (ledger.OrderAck, error)
	FetchMarketPrice(ctx context.Context) (decimal.Decimal, error)
	SendHeartbeat(ctx context.Context, hb ledger.Heartbeat) error
	FetchGridStatus(ctx context.Context) (ledger.GridStatus, error)
	ReportAlert(ctx context.Context, a gridmeter.SafetyAlert) error
}

// Orchestrator runs the measurement -> decision -> sync control loop.
// Stop via context cancellation in main() for graceful shutdown.
type Orchestrator interface {
	Run(ctx context.Context)
}

//
// Root Service aggregates all sub-services.
//

type Service struct {
	Sampler
	Scorer
	Safety
	Trading
	Telemetry
	EventLog
	Authorization
	Orchestrator
}

// NewService wires the repository layer, the sensor front end and the ledger
// client into concrete services.
func NewService(
	cfg *config.Config,
	repos *repository.Repository,
	reader sensor.Reader,
	lc Ledger,
	health *ledger.Health,
	clk clock.Clock,
	log *logger.Logger,
) *Service {
	sampler := NewSamplerService(cfg.Sampler, cfg.Device.ID, reader, clk)
	scorer := NewQualityService(cfg.Sampler)
	safety := NewSafetyService(cfg.Safety)
	trading := NewTradingService(cfg.Trading, cfg.Device, repos.OrderRepo, repos.EventRepo, clk, log)
	telemetry := NewTelemetryService(repos.StateRepo, repos.ReadingRepo, repos.OrderRepo)
	events := NewEventLogService(repos.EventRepo, log)

	return &Service{
		Sampler:       sampler,
		Scorer:        scorer,
		Safety:        safety,
		Trading:       trading,
		Telemetry:     telemetry,
		EventLog:      events,
		Authorization: NewAuthService(repos.Auth, cfg.Auth),
		Orchestrator:  NewOrchestratorService(cfg, sampler, scorer, safety, trading, telemetry, events, lc, health, clk, log),
	}
}
