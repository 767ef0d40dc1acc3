// Package models provides domain models for the market data feed.
package models

import (
	"time"
)

// Mode represents the level of detail requested per tick.
type Mode string

const (
	// ModeLTP carries the last traded price only.
	ModeLTP Mode = "ltp"
	// ModeQuote carries price, OHLC and aggregate quantities.
	ModeQuote Mode = "quote"
	// ModeFull carries everything in quote plus open interest,
	// timestamps and five levels of market depth.
	ModeFull Mode = "full"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeLTP, ModeQuote, ModeFull:
		return true
	}
	return false
}

func (m Mode) String() string {
	return string(m)
}

// OHLC represents an open/high/low/close record.
type OHLC struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// DepthItem represents a single market depth level.
type DepthItem struct {
	Price    float64
	Quantity uint32
	Orders   uint32
}

// Depth holds five buy and five sell depth levels. Absent levels are
// the zero value, never omitted.
type Depth struct {
	Buy  [5]DepthItem
	Sell [5]DepthItem
}

// Tick represents a single decoded market update for one instrument.
// Price fields are in the instrument's native decimal scale.
// Zero-valued timestamps mean the exchange sent no timestamp.
type Tick struct {
	Mode            Mode
	InstrumentToken uint32
	IsTradable      bool
	IsIndex         bool

	// Timestamp is the exchange timestamp.
	Timestamp     time.Time
	LastTradeTime time.Time

	LastPrice          float64
	LastTradedQuantity uint32
	TotalBuyQuantity   uint32
	TotalSellQuantity  uint32
	VolumeTraded       uint32
	AverageTradePrice  float64

	OI        uint32
	OIDayHigh uint32
	OIDayLow  uint32

	// NetChange is last price minus the previous close.
	NetChange float64

	OHLC  OHLC
	Depth Depth
}
