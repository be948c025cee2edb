package domain

// IndicatorVector is the snapshot of derived statistics at a bar's
// timestamp. Pointer fields are nil until the underlying calculator has
// warmed up, and are nulled again when a value fails emission validation.
type IndicatorVector struct {
	Symbol    string     `json:"symbol" db:"symbol"`
	Timeframe string     `json:"timeframe" db:"timeframe"`
	Timestamp int64      `json:"timestamp" db:"ts"`
	Market    MarketType `json:"market_type" db:"market_type"`

	MA5   *float64 `json:"ma5" db:"ma5"`
	MA10  *float64 `json:"ma10" db:"ma10"`
	MA20  *float64 `json:"ma20" db:"ma20"`
	MA60  *float64 `json:"ma60" db:"ma60"`
	MA120 *float64 `json:"ma120" db:"ma120"`

	EMA12 *float64 `json:"ema12" db:"ema12"`
	EMA26 *float64 `json:"ema26" db:"ema26"`

	RSI14 *float64 `json:"rsi14" db:"rsi14"`

	MACDLine      *float64 `json:"macd_line" db:"macd_line"`
	MACDSignal    *float64 `json:"macd_signal" db:"macd_signal"`
	MACDHistogram *float64 `json:"macd_histogram" db:"macd_histogram"`

	BBUpper  *float64 `json:"bb_upper" db:"bb_upper"`
	BBMiddle *float64 `json:"bb_middle" db:"bb_middle"`
	BBLower  *float64 `json:"bb_lower" db:"bb_lower"`

	ATR14 *float64 `json:"atr14" db:"atr14"`

	VolumeMA5 *float64 `json:"volume_ma5" db:"volume_ma5"`
}

// Float returns a pointer to v; convenience for building vectors in tests.
func Float(v float64) *float64 { return &v }
