package gridmeter

import (
	"time"

	"github.com/shopspring/decimal"
)

// Measurement is one sampling cycle's worth of electrical and environmental
// readings. It is created once per cycle and never mutated after it has been
// timestamped; energy fields accumulate monotonically until the daily rollover.
type Measurement struct {
	Voltage          float64 `json:"voltage"`           // V (RMS)
	Current          float64 `json:"current"`           // A (RMS)
	Power            float64 `json:"power"`             // W
	Energy           float64 `json:"energy"`            // kWh, accumulated since rollover
	EnergyProduced   float64 `json:"energy_produced"`   // kWh, accumulated since rollover
	EnergyConsumed   float64 `json:"energy_consumed"`   // kWh, accumulated since rollover
	PowerFactor      float64 `json:"power_factor"`      // 0..1
	Frequency        float64 `json:"frequency"`         // Hz
	THDVoltage       float64 `json:"thd_voltage"`       // %
	THDCurrent       float64 `json:"thd_current"`       // %
	VoltageStability float64 `json:"voltage_stability"` // coefficient of variation, %
	Temperature      float64 `json:"temperature"`       // °C
	Humidity         float64 `json:"humidity"`          // %

	Timestamp    time.Time `json:"timestamp"`
	DeviceID     string    `json:"device_id"`
	QualityScore float64   `json:"quality_score"` // 0..100, filled in by the scorer
	DataValid    bool      `json:"data_valid"`
}

// QualityClass buckets a composite power-quality score.
type QualityClass string

const (
	QualityExcellent QualityClass = "EXCELLENT" // score >= 90
	QualityGood      QualityClass = "GOOD"      // score >= 75
	QualityFair      QualityClass = "FAIR"      // score >= 60
	QualityPoor      QualityClass = "POOR"
)

// QualityAssessment is derived purely from a Measurement; it carries no
// persisted identity of its own.
type QualityAssessment struct {
	Score          float64      `json:"score"` // 0..100 weighted composite
	Class          QualityClass `json:"class"`
	VoltageScore   float64      `json:"voltage_score"`
	FrequencyScore float64      `json:"frequency_score"`
	HarmonicScore  float64      `json:"harmonic_score"`
	StabilityScore float64      `json:"stability_score"`
}

// SafetyState is owned exclusively by the safety monitor; every other
// component treats it as read-only.
type SafetyState string

const (
	SafetyNormal  SafetyState = "NORMAL"
	SafetyWarning SafetyState = "WARNING"
	SafetyLockout SafetyState = "LOCKOUT"
)

// ConnState is the sync client's view of the ledger connection.
type ConnState string

const (
	ConnConnected    ConnState = "CONNECTED"
	ConnDisconnected ConnState = "DISCONNECTED"
)

// MeterState is the single-row snapshot the orchestrator publishes after every
// cycle. The telemetry API and WebSocket stream read it; nothing else writes it.
type MeterState struct {
	ID                int               `json:"id"`
	Measurement       Measurement       `json:"measurement"`
	Quality           QualityAssessment `json:"quality"`
	Safety            SafetyState       `json:"safety"`
	AutoTrading       bool              `json:"auto_trading"`
	DailyBoughtKWh    decimal.Decimal   `json:"daily_bought_kwh"`
	DailySoldKWh      decimal.Decimal   `json:"daily_sold_kwh"`
	DailyRevenue      decimal.Decimal   `json:"daily_revenue"`
	PendingBuyOrders  int               `json:"pending_buy_orders"`
	PendingSellOrders int               `json:"pending_sell_orders"`
	Conn              ConnState         `json:"conn"`
	ConsecutiveErrors int               `json:"consecutive_errors"`
	LastSyncAt        time.Time         `json:"last_sync_at,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Event types recorded in the meter event log.
const (
	EventSafetyTransition = "SAFETY_TRANSITION"
	EventSafetyAlert      = "SAFETY_ALERT"
	EventSensorFault      = "SENSOR_FAULT"
	EventOrderCreated     = "ORDER_CREATED"
	EventOrderConfirmed   = "ORDER_CONFIRMED"
	EventOrderRejected    = "ORDER_REJECTED"
	EventOrderExpired     = "ORDER_EXPIRED"
	EventOrderEvicted     = "ORDER_EVICTED"
	EventSyncError        = "SYNC_ERROR"
	EventSyncRecovered    = "SYNC_RECOVERED"
	EventDailyRollover    = "DAILY_ROLLOVER"
)

// MeterEvent is a single append-only log entry.
type MeterEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Metadata    any       `json:"metadata,omitempty"`
}

// SafetyAlert is the one-shot record queued for the ledger when a safety
// condition is first raised. It is never re-sent for the same ongoing
// condition; a new alert requires the condition to clear and trip again.
type SafetyAlert struct {
	Condition string      `json:"condition"`
	Severity  SafetyState `json:"severity"`
	Value     float64     `json:"value"`
	Threshold float64     `json:"threshold"`
	RaisedAt  time.Time   `json:"raised_at"`
}

// SyncAttempt is the ephemeral record of one network exchange with the ledger.
// It is not persisted beyond the cycle; the orchestrator folds it into
// connection-health counters and the event log.
type SyncAttempt struct {
	Method     string        `json:"method"`
	Endpoint   string        `json:"endpoint"`
	Outcome    string        `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Timestamp  time.Time     `json:"timestamp"`
}

// User is an account for the local telemetry API.
type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}
