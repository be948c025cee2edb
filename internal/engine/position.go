// Package engine executes signals against an account: the position
// manager owns admission, sizing and exposure; the engine drives it from
// a data source and keeps the performance ledger.
package engine

import (
	"errors"
	"math"
	"sync"

	"github.com/tickdrive/tickdrive/internal/domain"
)

var (
	ErrMaxPositions        = errors.New("position limit reached")
	ErrMaxExposure         = errors.New("exposure limit reached")
	ErrInsufficientBalance = errors.New("insufficient free balance")
	ErrNoPosition          = errors.New("no open position for symbol")
	ErrAlreadyOpen         = errors.New("position already open for symbol")
)

// Sizer decides how much of the balance one entry may deploy.
type Sizer interface {
	Size(sig domain.Signal, balance float64) float64
}

// FixedAmount deploys a constant amount, never more than half the
// balance.
type FixedAmount struct {
	Amount float64
}

func (s FixedAmount) Size(_ domain.Signal, balance float64) float64 {
	return math.Min(s.Amount, balance*0.5)
}

// FixedPct deploys a fixed fraction of the balance.
type FixedPct struct {
	Pct float64
}

func (s FixedPct) Size(_ domain.Signal, balance float64) float64 {
	return balance * s.Pct
}

// RiskBased sizes so that hitting the stop loses RiskPct of the balance.
// Without a stop it falls back to a tenth of the balance.
type RiskBased struct {
	RiskPct float64
}

func (s RiskBased) Size(sig domain.Signal, balance float64) float64 {
	if sig.StopLoss == nil || sig.Price <= 0 {
		return balance * 0.1
	}
	stopPct := math.Abs(sig.Price-*sig.StopLoss) / sig.Price
	if stopPct <= 0 {
		return balance * 0.1
	}
	amount := balance * s.RiskPct / stopPct
	return math.Min(amount, balance*0.5)
}

// Kelly deploys a half-Kelly fraction clamped to [1%, 25%].
type Kelly struct {
	WinRate      float64 // p
	WinLossRatio float64 // b
}

func (s Kelly) Size(_ domain.Signal, balance float64) float64 {
	if s.WinLossRatio <= 0 {
		return balance * 0.01
	}
	f := (s.WinRate*s.WinLossRatio - (1 - s.WinRate)) / s.WinLossRatio
	f = f / 2
	f = math.Max(0.01, math.Min(f, 0.25))
	return balance * f
}

// VolatilityAdjusted shrinks a base fraction as the stop distance widens.
// The stop sits two ATRs out, so half the stop distance approximates one
// ATR of the entry price.
type VolatilityAdjusted struct {
	BasePct float64
}

func (s VolatilityAdjusted) Size(sig domain.Signal, balance float64) float64 {
	atrPct := 0.0
	if sig.StopLoss != nil && sig.Price > 0 {
		atrPct = math.Abs(sig.Price-*sig.StopLoss) / 2 / sig.Price
	}
	return balance * s.BasePct / (1 + atrPct*20)
}

// Trade is one closed round trip.
type Trade struct {
	Symbol     string      `json:"symbol"`
	Side       domain.Side `json:"side"`
	Qty        float64     `json:"qty"`
	Amount     float64     `json:"amount"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	EntryTime  int64       `json:"entry_time"`
	ExitTime   int64       `json:"exit_time"`
	PnL        float64     `json:"pnl"`
	Reason     string      `json:"reason"`
}

// PositionManager owns the account state. It is pure bookkeeping: no IO,
// no clock, fully deterministic.
type PositionManager struct {
	mu sync.Mutex

	initial        float64
	balance        float64
	maxPositions   int
	maxExposurePct float64
	singleMaxPct   float64
	sizer          Sizer

	positions map[string]*domain.Position
}

func NewPositionManager(initial float64, maxPositions int, maxExposurePct, singleMaxPct float64, sizer Sizer) *PositionManager {
	if maxExposurePct <= 0 {
		maxExposurePct = 0.8
	}
	return &PositionManager{
		initial:        initial,
		balance:        initial,
		maxPositions:   maxPositions,
		maxExposurePct: maxExposurePct,
		singleMaxPct:   singleMaxPct,
		sizer:          sizer,
		positions:      make(map[string]*domain.Position),
	}
}

// Open admits, sizes and opens a position at the signal price.
func (pm *PositionManager) Open(sig domain.Signal) (*domain.Position, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, ok := pm.positions[sig.Symbol]; ok {
		return nil, ErrAlreadyOpen
	}
	if len(pm.positions) >= pm.maxPositions {
		return nil, ErrMaxPositions
	}

	amount := pm.sizer.Size(sig, pm.balance)
	if limit := pm.balance * pm.singleMaxPct; amount > limit {
		amount = limit
	}

	// Total exposure cap: open positions plus this entry may not deploy
	// more than maxExposurePct of the account (free cash + deployed). A
	// remainder under half the request rejects, otherwise the entry
	// shrinks into it.
	exposure := 0.0
	for _, p := range pm.positions {
		exposure += p.Amount
	}
	if limit := (pm.balance + exposure) * pm.maxExposurePct; exposure+amount > limit {
		available := limit - exposure
		if available < amount/2 {
			return nil, ErrMaxExposure
		}
		amount = available
	}

	// Balance is free cash; open positions already took their share. A
	// small shortfall shrinks the order, a large one rejects it.
	if amount > pm.balance {
		if pm.balance < amount/2 {
			return nil, ErrInsufficientBalance
		}
		amount = pm.balance
	}
	if amount <= 0 || sig.Price <= 0 {
		return nil, ErrInsufficientBalance
	}
	pm.balance -= amount

	pos := &domain.Position{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Qty:        amount / sig.Price,
		Amount:     amount,
		EntryPrice: sig.Price,
		EntryTime:  sig.Timestamp,
		HighWater:  sig.Price,
		LowWater:   sig.Price,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
	}
	pm.positions[sig.Symbol] = pos
	return pos, nil
}

// Close settles the position at the signal price and returns the trade.
func (pm *PositionManager) Close(sig domain.Signal) (Trade, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pos, ok := pm.positions[sig.Symbol]
	if !ok {
		return Trade{}, ErrNoPosition
	}
	delete(pm.positions, sig.Symbol)

	pnl := (sig.Price - pos.EntryPrice) * pos.Qty
	if pos.Side == domain.SideShort {
		pnl = (pos.EntryPrice - sig.Price) * pos.Qty
	}
	pm.balance += pos.Amount + pnl

	return Trade{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Qty:        pos.Qty,
		Amount:     pos.Amount,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  sig.Price,
		EntryTime:  pos.EntryTime,
		ExitTime:   sig.Timestamp,
		PnL:        pnl,
		Reason:     sig.Reason,
	}, nil
}

// Position returns the open position for a symbol, if any.
func (pm *PositionManager) Position(symbol string) *domain.Position {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.positions[symbol]
}

// Balance is the free cash; deployed amounts return when positions close.
func (pm *PositionManager) Balance() float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.balance
}

// Equity marks open positions at the given prices and adds the settled
// balance.
func (pm *PositionManager) Equity(marks map[string]float64) float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	equity := pm.balance
	for sym, pos := range pm.positions {
		equity += pos.Amount
		price, ok := marks[sym]
		if !ok {
			continue
		}
		if pos.Side == domain.SideLong {
			equity += (price - pos.EntryPrice) * pos.Qty
		} else {
			equity += (pos.EntryPrice - price) * pos.Qty
		}
	}
	return equity
}

// Account summarizes the book.
func (pm *PositionManager) Account() domain.Account {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	exposure := 0.0
	for _, p := range pm.positions {
		exposure += p.Amount
	}
	pnl := pm.balance + exposure - pm.initial
	pct := 0.0
	if pm.initial > 0 {
		pct = pnl / pm.initial
	}
	return domain.Account{
		InitialBalance: pm.initial,
		Balance:        pm.balance,
		TotalPnL:       pnl,
		TotalPnLPct:    pct,
		OpenPositions:  len(pm.positions),
		Exposure:       exposure,
	}
}
