package bus

import (
	"context"
	"errors"
	"strings"

	"github.com/tickdrive/tickdrive/internal/domain"
)

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("bus closed")

// Handler receives one published message. Handler failures are isolated per
// subscriber: an error (or panic) in one handler never affects delivery to
// the others.
type Handler func(ctx context.Context, subject string, payload []byte) error

// Bus is publish/subscribe over hierarchical dotted subjects plus a capped
// per-subject replay log. Delivery to live subscribers is best-effort
// at-most-once with per-subscriber ordering preserved; payloads are opaque
// bytes (JSON by convention).
type Bus interface {
	// Publish delivers payload to all subscribers whose pattern matches
	// subject and appends it to the subject's replay log.
	Publish(ctx context.Context, subject string, payload []byte) error

	// Subscribe registers handler for every subject matching pattern.
	// Patterns support a trailing "*" wildcard ("bar.BTCUSDT.*").
	// The subscription lives until ctx is cancelled or the bus is closed.
	Subscribe(ctx context.Context, pattern string, handler Handler) error

	// History returns up to count recent replay-log entries for subject,
	// oldest first unless reverse is set.
	History(ctx context.Context, subject string, count int, reverse bool) ([][]byte, error)

	// Clear drops the replay log for subject.
	Clear(ctx context.Context, subject string) error

	Close() error
}

// ReplayLogMax is the per-subject replay log cap.
const ReplayLogMax = 1000

// BarSubject is "bar.<symbol>.<timeframe>.<market>".
func BarSubject(symbol, timeframe string, market domain.MarketType) string {
	return "bar." + symbol + "." + timeframe + "." + string(market)
}

// IndicatorSubject is "ind.<symbol>.<timeframe>".
func IndicatorSubject(symbol, timeframe string) string {
	return "ind." + symbol + "." + timeframe
}

// SignalSubject is "sig.<strategy>.<symbol>".
func SignalSubject(strategy, symbol string) string {
	return "sig." + strategy + "." + symbol
}

// Match reports whether subject matches pattern. A trailing "*" token
// matches any remainder; all other tokens must be equal.
func Match(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(subject, prefix)
	}
	return false
}
