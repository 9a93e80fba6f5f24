package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side describes trade direction.
type Side uint16

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Offset describes whether a trade opens or closes a position.
type Offset uint16

const (
	OffsetUnknown Offset = iota
	OffsetOpen
	OffsetClose
)

func (o Offset) String() string {
	switch o {
	case OffsetOpen:
		return "OPEN"
	case OffsetClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Trade is an immutable execution fact. It is the only input that
// mutates position state.
type Trade struct {
	TradeID    string
	OrderID    string
	Instrument string
	Side       Side
	Offset     Offset
	Volume     int64
	Price      decimal.Decimal
	Timestamp  time.Time
}

// OrderIntent is a strategy's request to place one order.
type OrderIntent struct {
	OrderID    string
	Account    string
	Instrument string
	Side       Side
	Offset     Offset
	Volume     int64
	Price      decimal.Decimal
}

// Portfolio maps instrument to a signed net quantity.
type Portfolio map[string]int64

// Clone returns a copy of the portfolio.
func (p Portfolio) Clone() Portfolio {
	out := make(Portfolio, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
