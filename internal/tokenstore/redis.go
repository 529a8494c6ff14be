package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	blacklistKeyPrefix = "blacklist:"
	familyKeyPrefix    = "family:"
	userFamiliesPrefix = "user_families:"
)

// Rotation outcomes reported by the CAS script.
const (
	rotateStatusNotFound int64 = 0
	rotateStatusMismatch int64 = 1
	rotateStatusRotated  int64 = 2
)

// rotateFamilyLua swaps the family pointer only when the caller holds the
// current token ID. Running inside Redis makes the compare and the swap one
// step, so concurrent refreshes with the same token resolve to exactly one
// winner.
var rotateFamilyLua = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 1
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 2
`)

// deleteAllFamiliesLua drops every family pointer owned by one user along
// with the tracking set, in a single round trip.
var deleteAllFamiliesLua = redis.NewScript(`
local fams = redis.call("SMEMBERS", KEYS[1])
for _, f in ipairs(fams) do
  redis.call("DEL", ARGV[1] .. f)
end
redis.call("DEL", KEYS[1])
return #fams
`)

// RedisStore implements Store on Redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore returns a Store backed by the given Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func blacklistKey(jti string) string    { return blacklistKeyPrefix + jti }
func familyKey(familyID string) string  { return familyKeyPrefix + familyID }
func userFamiliesKey(userID string) string {
	return userFamiliesPrefix + userID
}

func (s *RedisStore) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// Token already expired; nothing to revoke.
		return nil
	}
	if err := s.client.Set(ctx, blacklistKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

func (s *RedisStore) PutFamily(ctx context.Context, userID, familyID, tokenID string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, familyKey(familyID), tokenID, ttl)
	pipe.SAdd(ctx, userFamiliesKey(userID), familyID)
	pipe.Expire(ctx, userFamiliesKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) CurrentTokenID(ctx context.Context, familyID string) (string, error) {
	val, err := s.client.Get(ctx, familyKey(familyID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrFamilyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return val, nil
}

func (s *RedisStore) Rotate(ctx context.Context, familyID, expectedTokenID, newTokenID string, ttl time.Duration) error {
	result, err := rotateFamilyLua.Run(
		ctx,
		s.client,
		[]string{familyKey(familyID)},
		expectedTokenID,
		newTokenID,
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	code, ok := result.(int64)
	if !ok {
		return fmt.Errorf("%w: invalid rotate script response", ErrUnavailable)
	}
	switch code {
	case rotateStatusNotFound:
		return ErrFamilyNotFound
	case rotateStatusMismatch:
		return ErrTokenMismatch
	case rotateStatusRotated:
		return nil
	default:
		return fmt.Errorf("%w: unknown rotate status %d", ErrUnavailable, code)
	}
}

func (s *RedisStore) DeleteFamily(ctx context.Context, userID, familyID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, familyKey(familyID))
	pipe.SRem(ctx, userFamiliesKey(userID), familyID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) DeleteAllFamilies(ctx context.Context, userID string) (int, error) {
	result, err := deleteAllFamiliesLua.Run(
		ctx,
		s.client,
		[]string{userFamiliesKey(userID)},
		familyKeyPrefix,
	).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid delete script response", ErrUnavailable)
	}
	return int(n), nil
}
