package services

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/domain"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/retry"
	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/repositories"
)

const (
	orderCounterScope = "orders"
	orderNumberSpace  = 1_000_000
)

// orderNumberGenerator issues ORD-YYYYMMDD-NNNNNN numbers from a daily counter. When the counter
// cannot be reached it falls back to a random suffix; collisions are caught by the store.
type orderNumberGenerator struct {
	counters repositories.CounterRepository
	executor *retry.Executor
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)

	mu      sync.Mutex
	entropy io.Reader
}

func newOrderNumberGenerator(counters repositories.CounterRepository, executor *retry.Executor, clock func() time.Time, logger func(context.Context, string, map[string]any)) *orderNumberGenerator {
	return &orderNumberGenerator{
		counters: counters,
		executor: executor,
		clock:    clock,
		logger:   logger,
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
}

func (g *orderNumberGenerator) Next(ctx context.Context) string {
	day := g.clock().Format("20060102")
	if g.counters != nil {
		seq, err := retry.Run(ctx, g.executor, "counters.next", func(ctx context.Context) (int64, error) {
			return g.counters.Next(ctx, orderCounterScope, day, 1)
		})
		if err == nil {
			return formatOrderNumber(day, seq%orderNumberSpace)
		}
		g.logger(ctx, "orders.counter_fallback", map[string]any{"day": day, "error": err})
	}
	return formatOrderNumber(day, g.randomSuffix())
}

func (g *orderNumberGenerator) randomSuffix() int64 {
	var buf [8]byte
	g.mu.Lock()
	_, err := io.ReadFull(g.entropy, buf[:])
	g.mu.Unlock()
	if err != nil {
		_, _ = rand.Read(buf[:])
	}
	return int64(binary.BigEndian.Uint64(buf[:]) % orderNumberSpace)
}

func formatOrderNumber(day string, seq int64) string {
	return fmt.Sprintf("%s%s-%06d", domain.OrderNumberPrefix, day, seq)
}
