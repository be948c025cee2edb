package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// MemoryBus is the in-process Bus used by tests and single-process
// deployments. Semantics match the Redis implementation: synchronous
// best-effort delivery, capped replay log, subscriber failures isolated.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []*memSub
	replay map[string][][]byte
	closed bool
}

type memSub struct {
	pattern string
	handler Handler
	ctx     context.Context
}

// NewMemoryBus constructs an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{replay: make(map[string][][]byte)}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	buf := append([]byte(nil), payload...)
	entries := append(b.replay[subject], buf)
	if len(entries) > ReplayLogMax {
		entries = entries[len(entries)-ReplayLogMax:]
	}
	b.replay[subject] = entries

	live := make([]*memSub, 0, len(b.subs))
	kept := b.subs[:0]
	for _, s := range b.subs {
		if s.ctx.Err() != nil {
			continue
		}
		kept = append(kept, s)
		if Match(s.pattern, subject) {
			live = append(live, s)
		}
	}
	b.subs = kept
	b.mu.Unlock()

	for _, s := range live {
		b.deliver(ctx, s, subject, buf)
	}
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, s *memSub, subject string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("subject", subject).Interface("panic", r).
				Msg("bus handler panicked")
		}
	}()
	if err := s.handler(ctx, subject, payload); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("bus handler failed")
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.subs = append(b.subs, &memSub{pattern: pattern, handler: handler, ctx: ctx})
	return nil
}

func (b *MemoryBus) History(ctx context.Context, subject string, count int, reverse bool) ([][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := b.replay[subject]
	if count > 0 && len(entries) > count {
		entries = entries[len(entries)-count:]
	}
	out := make([][]byte, len(entries))
	for i, e := range entries {
		if reverse {
			out[len(entries)-1-i] = e
		} else {
			out[i] = e
		}
	}
	return out, nil
}

func (b *MemoryBus) Clear(ctx context.Context, subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.replay, subject)
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}
