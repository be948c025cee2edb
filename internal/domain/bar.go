package domain

import (
	"fmt"
	"time"
)

// MarketType distinguishes spot from derivative venues. Every bus subject,
// store key and cursor carries it explicitly.
type MarketType string

const (
	MarketSpot     MarketType = "spot"
	MarketFuture   MarketType = "future"
	MarketDelivery MarketType = "delivery"
)

// ParseMarketType validates a market type string.
func ParseMarketType(s string) (MarketType, error) {
	switch MarketType(s) {
	case MarketSpot, MarketFuture, MarketDelivery:
		return MarketType(s), nil
	}
	return "", fmt.Errorf("invalid market type: %q", s)
}

// Bar is a fixed-interval OHLCV sample. The primary key is
// (Symbol, Timeframe, Timestamp, Market); timestamps are Unix seconds.
type Bar struct {
	Symbol    string     `json:"symbol" db:"symbol"`
	Timeframe string     `json:"timeframe" db:"timeframe"`
	Timestamp int64      `json:"timestamp" db:"ts"`
	Market    MarketType `json:"market_type" db:"market_type"`
	Open      float64    `json:"open" db:"open"`
	High      float64    `json:"high" db:"high"`
	Low       float64    `json:"low" db:"low"`
	Close     float64    `json:"close" db:"close"`
	Volume    float64    `json:"volume" db:"volume"`
}

// Key identifies a bar series.
type Key struct {
	Symbol    string
	Timeframe string
}

func (k Key) String() string { return k.Symbol + ":" + k.Timeframe }

// Valid reports whether the bar satisfies the OHLCV invariants.
func (b Bar) Valid() bool {
	if b.Volume < 0 {
		return false
	}
	if b.Low > b.High {
		return false
	}
	return b.Low <= b.Open && b.Open <= b.High &&
		b.Low <= b.Close && b.Close <= b.High
}

// timeframeSeconds maps timeframe labels to their interval length.
var timeframeSeconds = map[string]int64{
	"1m": 60, "3m": 180, "5m": 300, "15m": 900, "30m": 1800,
	"1h": 3600, "2h": 7200, "4h": 14400, "6h": 21600, "12h": 43200,
	"1d": 86400, "3d": 259200, "1w": 604800,
}

// TimeframeSeconds returns the interval length of a timeframe in seconds.
// Unknown timeframes default to one hour.
func TimeframeSeconds(timeframe string) int64 {
	if s, ok := timeframeSeconds[timeframe]; ok {
		return s
	}
	return 3600
}

// TimeframeDuration is TimeframeSeconds as a time.Duration.
func TimeframeDuration(timeframe string) time.Duration {
	return time.Duration(TimeframeSeconds(timeframe)) * time.Second
}

// ExchangeSymbol converts the compact symbol form used throughout the system
// into the slash form exchanges expect (BTCUSDT -> BTC/USDT).
func ExchangeSymbol(symbol string) string {
	for _, quote := range []string{"USDT", "USD", "BTC", "ETH"} {
		if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
			return symbol[:len(symbol)-len(quote)] + "/" + quote
		}
	}
	return symbol
}
