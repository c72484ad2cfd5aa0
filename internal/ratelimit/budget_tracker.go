// Package ratelimit coordinates explorer API call budgets across processes.
// The API server and the live poller share one explorer key, so both draw
// from windowed counters kept in Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 5 // calls per window
	DefaultReservedBudget = 3 // kept for request-path lookups
	DefaultWindowSize     = time.Second
	DefaultKeyTTL         = 2 * time.Second
	DefaultMaxWait        = 30 * time.Second
)

// ErrMaxWaitExceeded is returned when no budget frees up within the max wait.
var ErrMaxWaitExceeded = errors.New("maximum wait time exceeded waiting for explorer budget")

// Priority levels for budget allocation.
type Priority int

const (
	// PriorityHigh is for lookups serving an API request (reserved pool).
	PriorityHigh Priority = iota
	// PriorityLow is for background ingestion (shared pool).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// BudgetTrackerConfig holds configuration for the budget tracker.
type BudgetTrackerConfig struct {
	// Redis is required; the budget is only meaningful when shared.
	Redis redis.Cmdable
	// Name namespaces the Redis keys, e.g. "etherscan".
	Name           string
	TotalBudget    int
	ReservedBudget int
	WindowSize     time.Duration
	KeyTTL         time.Duration
	MaxWait        time.Duration
}

// Validate checks if the configuration is valid.
func (c *BudgetTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 || c.ReservedBudget < 0 {
		return errors.New("budgets cannot be negative")
	}
	total, reserved := c.TotalBudget, c.ReservedBudget
	if total == 0 {
		total = DefaultTotalBudget
	}
	if reserved == 0 {
		reserved = DefaultReservedBudget
	}
	if reserved > total {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reserved, total)
	}
	return nil
}

// ConfigForRate derives a budget from a calls-per-second rate. Rates below
// two per second stretch the window so both pools get at least one call.
func ConfigForRate(client redis.Cmdable, name string, rps float64) *BudgetTrackerConfig {
	cfg := &BudgetTrackerConfig{Redis: client, Name: name, WindowSize: time.Second}
	if rps < 2 {
		if rps <= 0 {
			rps = 0.2
		}
		cfg.TotalBudget = 2
		cfg.WindowSize = time.Duration(math.Round(2 / rps * float64(time.Second)))
	} else {
		cfg.TotalBudget = int(rps)
	}
	cfg.ReservedBudget = cfg.TotalBudget - cfg.TotalBudget/3
	if cfg.ReservedBudget == cfg.TotalBudget {
		cfg.ReservedBudget--
	}
	cfg.KeyTTL = 2 * cfg.WindowSize
	return cfg
}

// BudgetTracker enforces a per-window call budget split into a reserved
// pool for request-path lookups and a shared pool for background work.
type BudgetTracker struct {
	redis          redis.Cmdable
	name           string
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
	maxWait        time.Duration
	now            func() time.Time
}

// UsageStats contains consumption for the current window.
type UsageStats struct {
	TotalUsed    int
	ReservedUsed int
	SharedUsed   int
	TotalBudget  int
	WindowStart  time.Time
}

// NewBudgetTracker creates a new tracker with the given configuration.
func NewBudgetTracker(cfg *BudgetTrackerConfig) (*BudgetTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	t := &BudgetTracker{
		redis:          cfg.Redis,
		name:           cfg.Name,
		totalBudget:    cfg.TotalBudget,
		reservedBudget: cfg.ReservedBudget,
		windowSize:     cfg.WindowSize,
		keyTTL:         cfg.KeyTTL,
		maxWait:        cfg.MaxWait,
		now:            time.Now,
	}
	if t.name == "" {
		t.name = "explorer"
	}
	if t.totalBudget == 0 {
		t.totalBudget = DefaultTotalBudget
	}
	if t.reservedBudget == 0 {
		t.reservedBudget = DefaultReservedBudget
	}
	if t.reservedBudget > t.totalBudget {
		t.reservedBudget = t.totalBudget
	}
	t.sharedBudget = t.totalBudget - t.reservedBudget
	if t.windowSize == 0 {
		t.windowSize = DefaultWindowSize
	}
	if t.keyTTL == 0 {
		t.keyTTL = DefaultKeyTTL
	}
	if t.maxWait == 0 {
		t.maxWait = DefaultMaxWait
	}
	return t, nil
}

func (t *BudgetTracker) windowTimestamp() int64 {
	return t.now().Truncate(t.windowSize).UnixMilli()
}

func (t *BudgetTracker) keys(windowTS int64) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(windowTS, 10)
	prefix := "budget:" + t.name + ":"
	return prefix + "total:" + ts, prefix + "reserved:" + ts, prefix + "shared:" + ts
}

// consumeScript checks both counters and increments them atomically.
var consumeScript = redis.NewScript(`
	local totalUsed = tonumber(redis.call('GET', KEYS[1]) or '0')
	local poolUsed = tonumber(redis.call('GET', KEYS[2]) or '0')
	local totalBudget = tonumber(ARGV[1])
	local poolBudget = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	if totalUsed + 1 > totalBudget or poolUsed + 1 > poolBudget then
		return 0
	end

	redis.call('INCR', KEYS[1])
	redis.call('EXPIRE', KEYS[1], ttl)
	redis.call('INCR', KEYS[2])
	redis.call('EXPIRE', KEYS[2], ttl)
	return 1
`)

// TryConsume attempts to take one call from the pool for priority.
// When denied, the returned duration is the time until the next window.
// A Redis failure denies the call.
func (t *BudgetTracker) TryConsume(ctx context.Context, priority Priority) (bool, time.Duration) {
	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	poolKey, poolBudget := reservedKey, t.reservedBudget
	if priority == PriorityLow {
		poolKey, poolBudget = sharedKey, t.sharedBudget
	}

	ttlSeconds := int(t.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	allowed, err := consumeScript.Run(ctx, t.redis, []string{totalKey, poolKey},
		t.totalBudget, poolBudget, ttlSeconds).Int()
	if err != nil || allowed != 1 {
		return false, t.untilNextWindow(windowTS)
	}
	return true, 0
}

func (t *BudgetTracker) untilNextWindow(windowTS int64) time.Duration {
	end := time.UnixMilli(windowTS).Add(t.windowSize)
	wait := end.Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// Wait blocks until a call is granted, ctx ends, or the max wait elapses.
func (t *BudgetTracker) Wait(ctx context.Context, priority Priority) error {
	deadline := t.now().Add(t.maxWait)
	for {
		ok, wait := t.TryConsume(ctx, priority)
		if ok {
			return nil
		}
		if t.now().Add(wait).After(deadline) {
			return ErrMaxWaitExceeded
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetUsage returns usage for the current window.
func (t *BudgetTracker) GetUsage(ctx context.Context) (*UsageStats, error) {
	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	pipe := t.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read budget usage: %w", err)
	}

	return &UsageStats{
		TotalUsed:    intOrZero(totalCmd),
		ReservedUsed: intOrZero(reservedCmd),
		SharedUsed:   intOrZero(sharedCmd),
		TotalBudget:  t.totalBudget,
		WindowStart:  time.UnixMilli(windowTS),
	}, nil
}

func intOrZero(cmd *redis.StringCmd) int {
	v, err := cmd.Int()
	if err != nil {
		return 0
	}
	return v
}

// Gate binds a tracker to one priority so it can stand in for a local limiter.
type Gate struct {
	tracker  *BudgetTracker
	priority Priority
}

// Gate returns a waiter drawing from the pool for priority.
func (t *BudgetTracker) Gate(priority Priority) *Gate {
	return &Gate{tracker: t, priority: priority}
}

// Wait blocks until the gate's pool grants one call.
func (g *Gate) Wait(ctx context.Context) error {
	return g.tracker.Wait(ctx, g.priority)
}
