package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBus implements Bus on a Redis broker: PUBLISH/PSUBSCRIBE for live
// delivery and a capped stream per subject for replay. Redis pattern
// subscriptions use glob syntax, which the trailing-"*" contract maps onto
// directly.
type RedisBus struct {
	rdb *redis.Client

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisBus wraps an existing client. The caller owns client lifetime
// until Close is called.
func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func streamKey(subject string) string { return "stream:" + subject }

func (b *RedisBus) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := b.rdb.Publish(ctx, subject, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	// Replay log append is secondary: a stream failure must not fail the
	// live publish that already went out.
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(subject),
		MaxLen: ReplayLogMax,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	}).Err()
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("replay log append failed")
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	var ps *redis.PubSub
	if strings.HasSuffix(pattern, "*") {
		ps = b.rdb.PSubscribe(ctx, pattern)
	} else {
		ps = b.rdb.Subscribe(ctx, pattern)
	}
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	go func() {
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.deliver(ctx, handler, msg.Channel, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (b *RedisBus) deliver(ctx context.Context, handler Handler, subject string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("subject", subject).Interface("panic", r).
				Msg("bus handler panicked")
		}
	}()
	if err := handler(ctx, subject, payload); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("bus handler failed")
	}
}

func (b *RedisBus) History(ctx context.Context, subject string, count int, reverse bool) ([][]byte, error) {
	if count <= 0 {
		count = ReplayLogMax
	}
	msgs, err := b.rdb.XRevRangeN(ctx, streamKey(subject), "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", subject, err)
	}
	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		out = append(out, []byte(raw))
	}
	if !reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (b *RedisBus) Clear(ctx context.Context, subject string) error {
	if err := b.rdb.Del(ctx, streamKey(subject)).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", subject, err)
	}
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, ps := range b.subs {
		_ = ps.Close()
	}
	b.subs = nil
	return b.rdb.Close()
}
