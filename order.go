package gridmeter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is a closed tagged variant; unknown wire values are rejected
// rather than defaulted.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

var sideWire = map[OrderSide]string{
	SideBuy:  "buy",
	SideSell: "sell",
}

// ParseOrderSide maps a wire string to an OrderSide.
func ParseOrderSide(s string) (OrderSide, error) {
	for side, wire := range sideWire {
		if s == wire {
			return side, nil
		}
	}
	return "", fmt.Errorf("unknown order side %q", s)
}

func (s OrderSide) Wire() string { return sideWire[s] }

func (s OrderSide) MarshalJSON() ([]byte, error) {
	wire, ok := sideWire[s]
	if !ok {
		return nil, fmt.Errorf("unknown order side %q", string(s))
	}
	return json.Marshal(wire)
}

func (s *OrderSide) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	side, err := ParseOrderSide(raw)
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// OrderStatus transitions are monotonic: PENDING may move to any terminal
// status, terminal statuses never move again.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderExpired   OrderStatus = "EXPIRED"
	OrderCancelled OrderStatus = "CANCELLED"
)

var statusWire = map[OrderStatus]string{
	OrderPending:   "pending",
	OrderConfirmed: "confirmed",
	OrderRejected:  "rejected",
	OrderExpired:   "expired",
	OrderCancelled: "cancelled",
}

// ParseOrderStatus maps a wire string to an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	for st, wire := range statusWire {
		if s == wire {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s OrderStatus) Wire() string { return statusWire[s] }

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool { return s != OrderPending }

// CanTransition reports whether moving from s to next is allowed.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	_, known := statusWire[next]
	return known && next != OrderPending
}

func (s OrderStatus) MarshalJSON() ([]byte, error) {
	wire, ok := statusWire[s]
	if !ok {
		return nil, fmt.Errorf("unknown order status %q", string(s))
	}
	return json.Marshal(wire)
}

func (s *OrderStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := ParseOrderStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// EnergySource describes where traded energy comes from.
type EnergySource string

const (
	SourceSolar      EnergySource = "SOLAR"
	SourceWind       EnergySource = "WIND"
	SourceHydro      EnergySource = "HYDRO"
	SourceBiomass    EnergySource = "BIOMASS"
	SourceGeothermal EnergySource = "GEOTHERMAL"
	SourceGridMixed  EnergySource = "GRID_MIXED"
)

var sourceWire = map[EnergySource]string{
	SourceSolar:      "solar",
	SourceWind:       "wind",
	SourceHydro:      "hydro",
	SourceBiomass:    "biomass",
	SourceGeothermal: "geothermal",
	SourceGridMixed:  "grid_mixed",
}

// ParseEnergySource maps a wire string to an EnergySource.
func ParseEnergySource(s string) (EnergySource, error) {
	for src, wire := range sourceWire {
		if s == wire {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown energy source %q", s)
}

func (s EnergySource) Wire() string { return sourceWire[s] }

func (s EnergySource) MarshalJSON() ([]byte, error) {
	wire, ok := sourceWire[s]
	if !ok {
		return nil, fmt.Errorf("unknown energy source %q", string(s))
	}
	return json.Marshal(wire)
}

func (s *EnergySource) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	src, err := ParseEnergySource(raw)
	if err != nil {
		return err
	}
	*s = src
	return nil
}

// Order is created by the trading engine with a locally generated id. The
// ledger echoes a canonical id on confirmation; until then ServerID is empty.
// Status is mutated only by confirmed sync responses or the local expiry sweep.
type Order struct {
	ID          string          `json:"id"`
	ServerID    string          `json:"server_id,omitempty"`
	Side        OrderSide       `json:"side"`
	AmountKWh   decimal.Decimal `json:"amount_kwh"`
	PricePerKWh decimal.Decimal `json:"price_per_kwh"`
	Source      EnergySource    `json:"energy_source"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Status      OrderStatus     `json:"status"`
}

// Expired reports whether the order should transition PENDING -> EXPIRED at now.
func (o Order) Expired(now time.Time) bool {
	return o.Status == OrderPending && now.After(o.ExpiresAt)
}
