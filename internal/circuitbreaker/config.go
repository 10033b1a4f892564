package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig returns the store breaker configuration, overridable via AM_CB_DB_* variables
func DatabaseConfig() Config {
	return fromEnv("AM_CB_DB", Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

// LLMConfig returns the LLM transport breaker configuration, overridable via AM_CB_LLM_* variables
func LLMConfig() Config {
	return fromEnv("AM_CB_LLM", Config{
		MaxRequests:      2,
		Interval:         30 * time.Second,
		Timeout:          20 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 1,
	})
}

// RedisConfig returns the cache breaker configuration, overridable via AM_CB_REDIS_* variables
func RedisConfig() Config {
	return fromEnv("AM_CB_REDIS", Config{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

func fromEnv(prefix string, c Config) Config {
	c.MaxRequests = envUint32(prefix+"_MAX_REQUESTS", c.MaxRequests)
	c.Interval = envDuration(prefix+"_INTERVAL", c.Interval)
	c.Timeout = envDuration(prefix+"_TIMEOUT", c.Timeout)
	c.FailureThreshold = envUint32(prefix+"_FAILURE_THRESHOLD", c.FailureThreshold)
	c.SuccessThreshold = envUint32(prefix+"_SUCCESS_THRESHOLD", c.SuccessThreshold)
	return c
}

func envUint32(key string, def uint32) uint32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
