// Package ratelimit implements fixed-window counters in Redis.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

type Scope string

const (
	ScopeIP       Scope = "ip"
	ScopeEndpoint Scope = "endpoint"
	ScopeLicense  Scope = "license"
)

type Decision struct {
	Scope      Scope
	Limit      int
	Remaining  int
	Reset      time.Time // When the window resets
	RetryAfter int       // Seconds
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

// Enabled is false for a zero config, which disables the check.
func (c LimitConfig) Enabled() bool {
	return c.Rate > 0 && c.Window > 0
}

// The counter starts on the first hit and expires one window later.
var windowScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	local ttl = redis.call("PTTL", KEYS[1])
	return {current, ttl}
`)

type Limiter struct {
	client *redis.Client
	salt   string // keeps raw IPs and keys out of redis
	now    func() time.Time
}

func NewLimiter(client *redis.Client, salt string) *Limiter {
	if salt == "" {
		salt = "default-salt-change-me"
	}
	return &Limiter{client: client, salt: salt, now: time.Now}
}

// Hash returns a salted digest of an identifier such as an IP or license key.
func (l *Limiter) Hash(v string) string {
	hash := sha256.Sum256([]byte(v + l.salt))
	return hex.EncodeToString(hash[:])
}

// Key builds the redis key for scope and identifier.
func (l *Limiter) Key(scope Scope, id string, parts ...string) string {
	key := fmt.Sprintf("rl:%s:%s", scope, l.Hash(id))
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// Check counts one hit against key and reports whether it is within config.
func (l *Limiter) Check(ctx context.Context, scope Scope, key string, config LimitConfig) (*Decision, error) {
	res, err := windowScript.Run(ctx, l.client, []string{key}, config.Window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		return nil, ErrRedisUnavailable
	}
	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = config.Window
	}

	remaining := config.Rate - count
	if remaining < 0 {
		remaining = 0
	}
	retry := int((ttl + time.Second - 1) / time.Second)

	return &Decision{
		Scope:      scope,
		Limit:      config.Rate,
		Remaining:  remaining,
		Reset:      l.now().Add(ttl),
		RetryAfter: retry,
		Allowed:    count <= config.Rate,
	}, nil
}
