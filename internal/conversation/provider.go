// Package conversation serves recent thread history to the answer machine, cached in Redis.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/answer-machine/internal/circuitbreaker"
	"github.com/Kocoro-lab/answer-machine/internal/metrics"
	"github.com/Kocoro-lab/answer-machine/internal/models"
)

const (
	DefaultHistoryLimit = 20
	DefaultTTL          = 5 * time.Minute
	keyPrefix           = "am:conv:"
)

// Source reads thread messages from durable storage
type Source interface {
	RecentMessages(ctx context.Context, threadID, username string, limit int) ([]models.Message, error)
}

// Options tune the provider
type Options struct {
	HistoryLimit int
	TTL          time.Duration
}

// Provider returns the last messages of a thread in chronological order.
// A nil Redis client disables caching; cache errors fall back to the source.
type Provider struct {
	source  Source
	rdb     *redis.Client
	breaker *circuitbreaker.Breaker
	limit   int
	ttl     time.Duration
	logger  *zap.Logger
}

// NewProvider creates a conversation provider
func NewProvider(source Source, rdb *redis.Client, opts Options, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Provider{
		source:  source,
		rdb:     rdb,
		breaker: circuitbreaker.New("redis", circuitbreaker.RedisConfig(), logger),
		limit:   opts.HistoryLimit,
		ttl:     opts.TTL,
		logger:  logger,
	}
}

// NewRedisClient connects and pings a Redis server
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

func cacheKey(username, threadID string) string {
	return keyPrefix + username + ":" + threadID
}

// GetMessages returns up to the history limit of messages, oldest first
func (p *Provider) GetMessages(ctx context.Context, threadID, username string) ([]models.Message, error) {
	key := cacheKey(username, threadID)
	if msgs, ok := p.readCache(ctx, key); ok {
		metrics.ConversationCache.WithLabelValues("hit").Inc()
		return msgs, nil
	}
	metrics.ConversationCache.WithLabelValues("miss").Inc()

	msgs, err := p.source.RecentMessages(ctx, threadID, username, p.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	p.writeCache(ctx, key, msgs)
	return msgs, nil
}

// Invalidate drops the cached history so the next read sees new messages
func (p *Provider) Invalidate(ctx context.Context, threadID, username string) error {
	if p.rdb == nil {
		return nil
	}
	return p.breaker.Execute(ctx, func() error {
		return p.rdb.Del(ctx, cacheKey(username, threadID)).Err()
	})
}

func (p *Provider) readCache(ctx context.Context, key string) ([]models.Message, bool) {
	if p.rdb == nil {
		return nil, false
	}
	var data []byte
	err := p.breaker.Execute(ctx, func() error {
		b, err := p.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		data = b
		return err
	})
	if err != nil {
		p.logger.Debug("Conversation cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	var msgs []models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		p.logger.Warn("Discarding corrupt conversation cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return msgs, true
}

func (p *Provider) writeCache(ctx context.Context, key string, msgs []models.Message) {
	if p.rdb == nil || len(msgs) == 0 {
		return
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	err = p.breaker.Execute(ctx, func() error {
		return p.rdb.Set(ctx, key, data, p.ttl).Err()
	})
	if err != nil {
		p.logger.Debug("Conversation cache write failed", zap.String("key", key), zap.Error(err))
	}
}
