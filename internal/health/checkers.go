package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"

	"github.com/Kocoro-lab/answer-machine/internal/circuitbreaker"
)

// DatabaseHealthChecker checks the run store connection
type DatabaseHealthChecker struct {
	db       *circuitbreaker.DatabaseWrapper
	critical bool
	timeout  time.Duration
}

// NewDatabaseHealthChecker creates a database checker. The database is critical.
func NewDatabaseHealthChecker(db *circuitbreaker.DatabaseWrapper) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{db: db, critical: true, timeout: 5 * time.Second}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return d.critical }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	if d.db == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "database not configured"}
	}
	if d.db.State() == circuitbreaker.StateOpen {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "database circuit breaker is open",
			Details: map[string]interface{}{"circuit_breaker": "open"},
		}
	}

	start := time.Now()
	if err := d.db.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: "database ping failed", Error: err.Error()}
	}
	latency := time.Since(start)

	status := StatusHealthy
	message := "database is healthy"
	if latency > time.Second {
		status = StatusDegraded
		message = "database responding slowly"
	}
	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"latency_ms":      latency.Milliseconds(),
			"circuit_breaker": d.db.State().String(),
		},
	}
}

// RedisHealthChecker checks the conversation cache. A cache outage only
// degrades the worker since history falls back to the store.
type RedisHealthChecker struct {
	client   *redis.Client
	critical bool
	timeout  time.Duration
}

func NewRedisHealthChecker(client *redis.Client) *RedisHealthChecker {
	return &RedisHealthChecker{client: client, critical: false, timeout: 3 * time.Second}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return r.critical }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	if r.client == nil {
		return CheckResult{Status: StatusDegraded, Message: "redis cache disabled"}
	}
	start := time.Now()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: "redis ping failed", Error: err.Error()}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "redis is healthy",
		Details: map[string]interface{}{"latency_ms": time.Since(start).Milliseconds()},
	}
}

// TemporalHealthPinger is the part of client.Client the checker needs
type TemporalHealthPinger interface {
	CheckHealth(ctx context.Context, request *client.CheckHealthRequest) (*client.CheckHealthResponse, error)
}

// TemporalHealthChecker checks the frontend the worker polls
type TemporalHealthChecker struct {
	client  TemporalHealthPinger
	timeout time.Duration
}

func NewTemporalHealthChecker(c TemporalHealthPinger) *TemporalHealthChecker {
	return &TemporalHealthChecker{client: c, timeout: 5 * time.Second}
}

func (t *TemporalHealthChecker) Name() string           { return "temporal" }
func (t *TemporalHealthChecker) IsCritical() bool       { return true }
func (t *TemporalHealthChecker) Timeout() time.Duration { return t.timeout }

func (t *TemporalHealthChecker) Check(ctx context.Context) CheckResult {
	if t.client == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "temporal client not configured"}
	}
	if _, err := t.client.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: "temporal health check failed", Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "temporal is healthy"}
}
