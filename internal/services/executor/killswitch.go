package executor

import (
	"context"

	"sentinel/internal/adapters/redis"
	"sentinel/pkg/logger"
)

// killSwitchKey is set by an operator to halt all gateway mutations.
const killSwitchKey = "executor:killswitch"

// KillSwitch gates every proposal application behind an operator-controlled
// flag, independent of the circuit breaker.
type KillSwitch interface {
	Engaged(ctx context.Context) bool
}

// RedisKillSwitch reads the flag from Redis so all instances halt together.
type RedisKillSwitch struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisKillSwitch creates a Redis-backed kill switch
func NewRedisKillSwitch(client *redis.Client) *RedisKillSwitch {
	return &RedisKillSwitch{
		client: client,
		log:    logger.Get().With("component", "killswitch"),
	}
}

// Engaged reports whether the halt flag is set. A Redis failure reads as
// disengaged: losing the flag store must not block emergency closes.
func (s *RedisKillSwitch) Engaged(ctx context.Context) bool {
	engaged, err := s.client.Exists(ctx, killSwitchKey)
	if err != nil {
		s.log.Warnf("Kill switch check failed, treating as disengaged: %v", err)
		return false
	}
	return engaged
}
