package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/replywatch/replywatch-backend/internal/errors"
)

// Class identifies a family of provider operations that share a budget
type Class string

const (
	ClassRead         Class = "read"
	ClassSubscription Class = "subscription"
	ClassBulk         Class = "bulk"
)

// Limit is the budget for one class: at most Max operations per Window
type Limit struct {
	Max    int64
	Window time.Duration
}

// Decision is the outcome of one quota check
type Decision struct {
	Allowed bool
	Used    int64
	Limit   int64
	ResetAt time.Time
}

// Governor enforces per-account, per-class operation budgets over fixed
// wall-clock-aligned windows. Counters live in Redis so every replica sees
// the same usage.
type Governor struct {
	rdb            *redis.Client
	limits         map[Class]Limit
	degradeOnError bool
	retention      time.Duration
	logger         *slog.Logger

	now func() time.Time
}

func NewGovernor(rdb *redis.Client, limits map[Class]Limit, degradeOnError bool, retention time.Duration, logger *slog.Logger) *Governor {
	return &Governor{
		rdb:            rdb,
		limits:         limits,
		degradeOnError: degradeOnError,
		retention:      retention,
		logger:         logger,
		now:            time.Now,
	}
}

// CheckAndRecord atomically consumes one unit of the account's budget for
// the class. When the budget is exhausted the unit is not consumed and the
// returned error is a *QuotaError carrying the reset time.
//
// If Redis is unreachable the governor either fails open (allows the call
// and logs the outage) or fails closed, depending on configuration.
func (g *Governor) CheckAndRecord(ctx context.Context, accountID uint, class Class) (Decision, error) {
	limit, ok := g.limits[class]
	if !ok || limit.Max <= 0 {
		return Decision{}, fmt.Errorf("quota: unknown class %q", class)
	}

	windowStart := g.now().Truncate(limit.Window)
	resetAt := windowStart.Add(limit.Window)
	key := fmt.Sprintf("quota:%d:%s:%d", accountID, class, windowStart.Unix())

	used, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		if g.degradeOnError {
			g.logger.Warn("quota check degraded, allowing operation",
				slog.Uint64("account_id", uint64(accountID)),
				slog.String("class", string(class)),
				slog.String("error", err.Error()))
			return Decision{Allowed: true, Limit: limit.Max, ResetAt: resetAt}, nil
		}
		return Decision{}, fmt.Errorf("quota check for account %d: %w", accountID, err)
	}

	if used == 1 {
		// first hit in the window; the key outlives the window by the
		// retention period so recent usage stays inspectable
		if err := g.rdb.Expire(ctx, key, limit.Window+g.retention).Err(); err != nil {
			g.logger.Warn("failed to set quota key expiry",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}

	if used > limit.Max {
		// refund the unit so denied calls do not consume budget
		if err := g.rdb.Decr(ctx, key).Err(); err != nil {
			g.logger.Warn("failed to refund quota unit",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
		return Decision{Allowed: false, Used: limit.Max, Limit: limit.Max, ResetAt: resetAt},
			&apperrors.QuotaError{AccountID: accountID, Class: string(class), Used: limit.Max, Limit: limit.Max, ResetAt: resetAt}
	}

	return Decision{Allowed: true, Used: used, Limit: limit.Max, ResetAt: resetAt}, nil
}

// Usage reports the current window's consumption without consuming budget
func (g *Governor) Usage(ctx context.Context, accountID uint, class Class) (Decision, error) {
	limit, ok := g.limits[class]
	if !ok || limit.Max <= 0 {
		return Decision{}, fmt.Errorf("quota: unknown class %q", class)
	}

	windowStart := g.now().Truncate(limit.Window)
	resetAt := windowStart.Add(limit.Window)
	key := fmt.Sprintf("quota:%d:%s:%d", accountID, class, windowStart.Unix())

	used, err := g.rdb.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		return Decision{}, fmt.Errorf("quota usage for account %d: %w", accountID, err)
	}

	return Decision{Allowed: used < limit.Max, Used: used, Limit: limit.Max, ResetAt: resetAt}, nil
}
