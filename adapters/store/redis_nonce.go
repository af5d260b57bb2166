package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/internal/clock"
	"github.com/layer-3/prover/ports"
	"github.com/redis/go-redis/v9"
)

// consumeScript flags the nonce consumed and returns its fields in one
// round trip, so only one caller can win a given nonce across instances.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('HSETNX', KEYS[1], 'consumed', '1') == 0 then
	return -1
end
return redis.call('HMGET', KEYS[1], 'hint', 'iat', 'exp')
`)

// RedisNonceStore is a NonceStore shared between instances through Redis
type RedisNonceStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	clock  clock.Clock
}

// NewRedisNonceStore creates a Redis-backed nonce store
func NewRedisNonceStore(client *redis.Client, ttl time.Duration, clk clock.Clock) *RedisNonceStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &RedisNonceStore{
		client: client,
		prefix: "prover:nonce:",
		ttl:    ttl,
		clock:  clk,
	}
}

var _ ports.NonceStore = (*RedisNonceStore)(nil)

// Issue stores a fresh nonce. The key outlives the nonce by one ttl so that
// late attempts are reported as expired rather than unknown.
func (s *RedisNonceStore) Issue(ctx context.Context, keyHint string) (core.Nonce, error) {
	value, err := randomNonce()
	if err != nil {
		return core.Nonce{}, err
	}

	now := s.clock.Now()
	nonce := core.Nonce{
		Value:     value,
		KeyHint:   keyHint,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	key := s.prefix + value
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"hint", keyHint,
			"iat", strconv.FormatInt(nonce.IssuedAt.UnixNano(), 10),
			"exp", strconv.FormatInt(nonce.ExpiresAt.UnixNano(), 10),
		)
		pipe.Expire(ctx, key, 2*s.ttl)
		return nil
	})
	if err != nil {
		return core.Nonce{}, fmt.Errorf("failed to store nonce: %w", err)
	}

	return nonce, nil
}

// Consume atomically flags the nonce consumed, then checks expiry
func (s *RedisNonceStore) Consume(ctx context.Context, value string) (core.Nonce, error) {
	key := s.prefix + value
	res, err := consumeScript.Run(ctx, s.client, []string{key}).Result()
	if err != nil {
		return core.Nonce{}, fmt.Errorf("failed to consume nonce: %w", err)
	}

	switch v := res.(type) {
	case int64:
		if v == 0 {
			return core.Nonce{}, core.ErrNonceNotFound
		}
		return core.Nonce{}, core.ErrNonceAlreadyConsumed
	case []interface{}:
		nonce, err := decodeNonceFields(value, v)
		if err != nil {
			return core.Nonce{}, err
		}
		if nonce.Expired(s.clock.Now()) {
			return core.Nonce{}, core.ErrNonceExpired
		}
		return nonce, nil
	default:
		return core.Nonce{}, fmt.Errorf("unexpected consume reply %T", res)
	}
}

func decodeNonceFields(value string, fields []interface{}) (core.Nonce, error) {
	if len(fields) != 3 {
		return core.Nonce{}, errors.New("incomplete nonce record")
	}
	hint, _ := fields[0].(string)
	iat, err := parseUnixNano(fields[1])
	if err != nil {
		return core.Nonce{}, err
	}
	exp, err := parseUnixNano(fields[2])
	if err != nil {
		return core.Nonce{}, err
	}
	return core.Nonce{
		Value:     value,
		KeyHint:   hint,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Consumed:  true,
	}, nil
}

func parseUnixNano(field interface{}) (time.Time, error) {
	s, ok := field.(string)
	if !ok {
		return time.Time{}, errors.New("malformed nonce timestamp")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed nonce timestamp: %w", err)
	}
	return time.Unix(0, n), nil
}
