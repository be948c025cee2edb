package domain

// SignalType declares intent to open or close a directional position.
type SignalType string

const (
	SignalOpenLong   SignalType = "OPEN_LONG"
	SignalOpenShort  SignalType = "OPEN_SHORT"
	SignalCloseLong  SignalType = "CLOSE_LONG"
	SignalCloseShort SignalType = "CLOSE_SHORT"
)

// Side of a directional exposure.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Action taken by a signal.
type Action string

const (
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
)

// Signal is a strategy's output for one symbol at one bar.
type Signal struct {
	Strategy   string     `json:"strategy_name" db:"strategy_name"`
	Symbol     string     `json:"symbol" db:"symbol"`
	Timestamp  int64      `json:"timestamp" db:"ts"`
	Type       SignalType `json:"signal_type" db:"signal_type"`
	Side       Side       `json:"side" db:"side"`
	Action     Action     `json:"action" db:"action"`
	Price      float64    `json:"price" db:"price"`
	Reason     string     `json:"reason" db:"reason"`
	Confidence float64    `json:"confidence" db:"confidence"`

	StopLoss     *float64 `json:"stop_loss,omitempty" db:"stop_loss"`
	TakeProfit   *float64 `json:"take_profit,omitempty" db:"take_profit"`
	PositionSize *float64 `json:"position_size,omitempty" db:"position_size"`
}

// Position is an open directional exposure held by one engine instance.
// At most one open position exists per (engine, symbol).
type Position struct {
	Symbol     string   `json:"symbol"`
	Side       Side     `json:"side"`
	Qty        float64  `json:"qty"`
	Amount     float64  `json:"usdt_amount"`
	EntryPrice float64  `json:"entry_price"`
	EntryTime  int64    `json:"entry_time"`
	HighWater  float64  `json:"high_water"`
	LowWater   float64  `json:"low_water"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

// Account is derived from closed trades plus open positions.
type Account struct {
	InitialBalance float64 `json:"initial_balance"`
	Balance        float64 `json:"current_balance"`
	TotalPnL       float64 `json:"total_pnl"`
	TotalPnLPct    float64 `json:"total_pnl_pct"`
	OpenPositions  int     `json:"positions_count"`
	Exposure       float64 `json:"exposure"`
}
