package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the immutable snapshot handed to every component at startup.
// The core treats these values as constants for the process lifetime.
type Config struct {
	Port     string
	LogLevel string

	DB      DB
	Device  Device
	Sampler Sampler
	Safety  Safety
	Trading Trading
	Sync    Sync
	Auth    Auth
}

type DB struct {
	Path string
}

// Device identity presented to the ledger on every request.
type Device struct {
	ID           string
	Address      string
	Type         string
	Zone         string
	Source       string // energy source wire string, e.g. "solar"
	SharedSecret string // HMAC key for the Device-Signature header
}

type Sampler struct {
	Interval           time.Duration
	WindowSize         int     // samples per RMS window
	NominalVoltage     float64 // V
	NominalFrequency   float64 // Hz
	AssumedPowerFactor float64
	MaxSensorFailures  int // consecutive invalid reads before escalation
}

type Safety struct {
	VoltageWarnMin float64
	VoltageWarnMax float64
	VoltageHardMin float64
	VoltageHardMax float64

	CurrentWarnMax float64
	CurrentHardMax float64

	PowerWarnMax float64
	PowerHardMax float64

	TempWarnMax float64
	TempHardMax float64

	FrequencyWarnMin float64
	FrequencyWarnMax float64
	FrequencyHardMin float64
	FrequencyHardMax float64

	QualityWarnFloor float64 // composite score below this is a warning condition

	LockoutClearCycles int // consecutive clean cycles for LOCKOUT -> WARNING
	WarningClearCycles int // consecutive clean cycles for WARNING -> NORMAL
}

type Trading struct {
	Enabled             bool
	Interval            time.Duration
	SellThresholdKWh    decimal.Decimal
	BuyThresholdKWh     decimal.Decimal
	SellFactor          decimal.Decimal // share of surplus offered for sale
	MaxDailySaleKWh     decimal.Decimal
	MaxDailyPurchaseKWh decimal.Decimal
	MinTradeKWh         decimal.Decimal
	MinPrice            decimal.Decimal
	MaxPrice            decimal.Decimal
	OrderTTL            time.Duration
	MaxOutstanding      int // per-side outstanding order cap
}

type Sync struct {
	BaseURL              string
	APIKey               string
	Timeout              time.Duration
	Interval             time.Duration
	HeartbeatInterval    time.Duration
	MarketInterval       time.Duration
	GridInterval         time.Duration
	BaseDelay            time.Duration // backoff unit after a failure
	MaxDelay             time.Duration // backoff cap
	MaxConsecutiveErrors int
	RegisterMaxRetries   uint64
}

type Auth struct {
	SigningKey string
	TokenTTL   time.Duration
}

// Load reads configs/config.yml and returns the snapshot. Missing keys fall
// back to defaults matching the reference hardware profile.
func Load() (*Config, error) {
	viper.AddConfigPath("configs")
	viper.SetConfigName("config")
	setDefaults()
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return fromViper(), nil
}

func setDefaults() {
	viper.SetDefault("port", "8080")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("db.path", "meter.db")

	viper.SetDefault("device.id", "GRID_METER_001")
	viper.SetDefault("device.type", "smart_energy_meter")
	viper.SetDefault("device.zone", "MEA-BANGKOK-ZONE-1")
	viper.SetDefault("device.source", "solar")

	viper.SetDefault("sampler.interval", "1s")
	viper.SetDefault("sampler.window_size", 100)
	viper.SetDefault("sampler.nominal_voltage", 220.0)
	viper.SetDefault("sampler.nominal_frequency", 50.0)
	viper.SetDefault("sampler.assumed_power_factor", 0.95)
	viper.SetDefault("sampler.max_sensor_failures", 5)

	viper.SetDefault("safety.voltage_warn_min", 198.0)
	viper.SetDefault("safety.voltage_warn_max", 242.0)
	viper.SetDefault("safety.voltage_hard_min", 180.0)
	viper.SetDefault("safety.voltage_hard_max", 250.0)
	viper.SetDefault("safety.current_warn_max", 20.0)
	viper.SetDefault("safety.current_hard_max", 25.0)
	viper.SetDefault("safety.power_warn_max", 4500.0)
	viper.SetDefault("safety.power_hard_max", 5500.0)
	viper.SetDefault("safety.temp_warn_max", 40.0)
	viper.SetDefault("safety.temp_hard_max", 45.0)
	viper.SetDefault("safety.frequency_warn_min", 49.5)
	viper.SetDefault("safety.frequency_warn_max", 50.5)
	viper.SetDefault("safety.frequency_hard_min", 48.5)
	viper.SetDefault("safety.frequency_hard_max", 51.5)
	viper.SetDefault("safety.quality_warn_floor", 40.0)
	viper.SetDefault("safety.lockout_clear_cycles", 3)
	viper.SetDefault("safety.warning_clear_cycles", 5)

	viper.SetDefault("trading.enabled", true)
	viper.SetDefault("trading.interval", "30s")
	viper.SetDefault("trading.sell_threshold_kwh", "1.0")
	viper.SetDefault("trading.buy_threshold_kwh", "0.5")
	viper.SetDefault("trading.sell_factor", "0.8")
	viper.SetDefault("trading.max_daily_sale_kwh", "10.0")
	viper.SetDefault("trading.max_daily_purchase_kwh", "10.0")
	viper.SetDefault("trading.min_trade_kwh", "0.1")
	viper.SetDefault("trading.min_price", "3000")
	viper.SetDefault("trading.max_price", "6000")
	viper.SetDefault("trading.order_ttl", "24h")
	viper.SetDefault("trading.max_outstanding", 5)

	viper.SetDefault("sync.base_url", "http://127.0.0.1:9090/api/v1")
	viper.SetDefault("sync.timeout", "15s")
	viper.SetDefault("sync.interval", "60s")
	viper.SetDefault("sync.heartbeat_interval", "60s")
	viper.SetDefault("sync.market_interval", "120s")
	viper.SetDefault("sync.grid_interval", "120s")
	viper.SetDefault("sync.base_delay", "5s")
	viper.SetDefault("sync.max_delay", "5m")
	viper.SetDefault("sync.max_consecutive_errors", 5)
	viper.SetDefault("sync.register_max_retries", 5)

	viper.SetDefault("auth.token_ttl", "1h")
}

func fromViper() *Config {
	return &Config{
		Port:     viper.GetString("port"),
		LogLevel: viper.GetString("log_level"),
		DB:       DB{Path: viper.GetString("db.path")},
		Device: Device{
			ID:           viper.GetString("device.id"),
			Address:      viper.GetString("device.address"),
			Type:         viper.GetString("device.type"),
			Zone:         viper.GetString("device.zone"),
			Source:       viper.GetString("device.source"),
			SharedSecret: viper.GetString("device.shared_secret"),
		},
		Sampler: Sampler{
			Interval:           viper.GetDuration("sampler.interval"),
			WindowSize:         viper.GetInt("sampler.window_size"),
			NominalVoltage:     viper.GetFloat64("sampler.nominal_voltage"),
			NominalFrequency:   viper.GetFloat64("sampler.nominal_frequency"),
			AssumedPowerFactor: viper.GetFloat64("sampler.assumed_power_factor"),
			MaxSensorFailures:  viper.GetInt("sampler.max_sensor_failures"),
		},
		Safety: Safety{
			VoltageWarnMin:     viper.GetFloat64("safety.voltage_warn_min"),
			VoltageWarnMax:     viper.GetFloat64("safety.voltage_warn_max"),
			VoltageHardMin:     viper.GetFloat64("safety.voltage_hard_min"),
			VoltageHardMax:     viper.GetFloat64("safety.voltage_hard_max"),
			CurrentWarnMax:     viper.GetFloat64("safety.current_warn_max"),
			CurrentHardMax:     viper.GetFloat64("safety.current_hard_max"),
			PowerWarnMax:       viper.GetFloat64("safety.power_warn_max"),
			PowerHardMax:       viper.GetFloat64("safety.power_hard_max"),
			TempWarnMax:        viper.GetFloat64("safety.temp_warn_max"),
			TempHardMax:        viper.GetFloat64("safety.temp_hard_max"),
			FrequencyWarnMin:   viper.GetFloat64("safety.frequency_warn_min"),
			FrequencyWarnMax:   viper.GetFloat64("safety.frequency_warn_max"),
			FrequencyHardMin:   viper.GetFloat64("safety.frequency_hard_min"),
			FrequencyHardMax:   viper.GetFloat64("safety.frequency_hard_max"),
			QualityWarnFloor:   viper.GetFloat64("safety.quality_warn_floor"),
			LockoutClearCycles: viper.GetInt("safety.lockout_clear_cycles"),
			WarningClearCycles: viper.GetInt("safety.warning_clear_cycles"),
		},
		Trading: Trading{
			Enabled:             viper.GetBool("trading.enabled"),
			Interval:            viper.GetDuration("trading.interval"),
			SellThresholdKWh:    mustDecimal("trading.sell_threshold_kwh"),
			BuyThresholdKWh:     mustDecimal("trading.buy_threshold_kwh"),
			SellFactor:          mustDecimal("trading.sell_factor"),
			MaxDailySaleKWh:     mustDecimal("trading.max_daily_sale_kwh"),
			MaxDailyPurchaseKWh: mustDecimal("trading.max_daily_purchase_kwh"),
			MinTradeKWh:         mustDecimal("trading.min_trade_kwh"),
			MinPrice:            mustDecimal("trading.min_price"),
			MaxPrice:            mustDecimal("trading.max_price"),
			OrderTTL:            viper.GetDuration("trading.order_ttl"),
			MaxOutstanding:      viper.GetInt("trading.max_outstanding"),
		},
		Sync: Sync{
			BaseURL:              viper.GetString("sync.base_url"),
			APIKey:               viper.GetString("sync.api_key"),
			Timeout:              viper.GetDuration("sync.timeout"),
			Interval:             viper.GetDuration("sync.interval"),
			HeartbeatInterval:    viper.GetDuration("sync.heartbeat_interval"),
			MarketInterval:       viper.GetDuration("sync.market_interval"),
			GridInterval:         viper.GetDuration("sync.grid_interval"),
			BaseDelay:            viper.GetDuration("sync.base_delay"),
			MaxDelay:             viper.GetDuration("sync.max_delay"),
			MaxConsecutiveErrors: viper.GetInt("sync.max_consecutive_errors"),
			RegisterMaxRetries:   viper.GetUint64("sync.register_max_retries"),
		},
		Auth: Auth{
			SigningKey: viper.GetString("auth.signing_key"),
			TokenTTL:   viper.GetDuration("auth.token_ttl"),
		},
	}
}

// mustDecimal parses a decimal-valued key; config values are strings to avoid
// float drift entering the money path.
func mustDecimal(key string) decimal.Decimal {
	d, err := decimal.NewFromString(viper.GetString(key))
	if err != nil {
		return decimal.Zero
	}
	return d
}
