package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	casStatusNotFound int64 = 0
	casStatusAdvanced int64 = 1
	casStatusConflict int64 = 2
)

const (
	revokeStatusNotFound       int64 = 0
	revokeStatusRevoked        int64 = 1
	revokeStatusAlreadyRevoked int64 = 2
)

// extendIndexLua keeps the per-user handle set alive at least as long as its
// longest-lived member. PTTL is -1 for a set without expiry and -2 for none.
const extendIndexLua = `
local function extend_index(index_key, ttl_ms)
  local ttl = tonumber(ttl_ms)
  if redis.call("PTTL", index_key) < ttl then
    redis.call("PEXPIRE", index_key, ttl)
  end
end
`

const createSessionScript = extendIndexLua + `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("SADD", KEYS[2], ARGV[1])
extend_index(KEYS[2], ARGV[2])
return 1
`

var createSessionLua = redis.NewScript(createSessionScript)

const advanceSessionScript = extendIndexLua + `
local session_key = KEYS[1]
local expected_gen = ARGV[1]
local expected_hash = ARGV[2]
local next_hash = ARGV[3]
local refreshed_at = ARGV[4]
local refreshed_ms = ARGV[5]
local expires_at = ARGV[6]
local ttl_ms = ARGV[7]
local active = ARGV[8]

local cur = redis.call("HMGET", session_key, "gen", "cur", "st")
if not cur[1] then
  return {0}
end
if cur[1] ~= expected_gen or cur[2] ~= expected_hash or cur[3] ~= active then
  return {2}
end

redis.call("HSET", session_key, "prev", cur[2], "cur", next_hash, "ra", refreshed_at, "rm", refreshed_ms, "ea", expires_at)
redis.call("HINCRBY", session_key, "gen", 1)
redis.call("PEXPIRE", session_key, ttl_ms)
if KEYS[2] then
  extend_index(KEYS[2], ttl_ms)
end

return {1, redis.call("HGETALL", session_key)}
`

var advanceSessionLua = redis.NewScript(advanceSessionScript)

const revokeSessionScript = `
local st = redis.call("HGET", KEYS[1], "st")
if not st then
  return 0
end
if st == ARGV[1] then
  return 2
end
redis.call("HSET", KEYS[1], "st", ARGV[1])
return 1
`

var revokeSessionLua = redis.NewScript(revokeSessionScript)

// RedisStore keeps each session as a Redis hash and performs every mutation in a
// Lua script, so all writes to one handle are serialized by Redis itself.
//
// Keys:
//
//	<prefix>:<handle>    session hash, expires with the session
//	<prefix>:u:<userID>  set of handles owned by the user, expires with the
//	                     longest-lived of them
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a [RedisStore]. prefix sets the key namespace.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gs"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(handle string) string {
	return s.prefix + ":" + handle
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Get implements [Store].
//
//	Performance: 1 Redis HGETALL.
func (s *RedisStore) Get(ctx context.Context, handle string) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(handle)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeFields(handle, fields)
}

// Create implements [Store]. The record expires ExpiresAt-CreatedAt seconds after
// creation.
func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	ttl := lifetimeMillis(sess.ExpiresAt, sess.CreatedAt)
	args := append([]interface{}{sess.Handle, ttl}, encodeFields(sess)...)

	created, err := createSessionLua.Run(ctx, s.redis,
		[]string{s.key(sess.Handle), s.userKey(sess.UserID)},
		args...,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if created == 0 {
		return ErrHandleExists
	}
	return nil
}

// CompareAndAdvance implements [Store].
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) CompareAndAdvance(ctx context.Context, handle string, adv Advance) (*Session, error) {
	keys := []string{s.key(handle)}
	if adv.UserID != "" {
		keys = append(keys, s.userKey(adv.UserID))
	}
	res, err := advanceSessionLua.Run(ctx, s.redis,
		keys,
		strconv.FormatUint(adv.ExpectedGeneration, 10),
		string(adv.ExpectedHash[:]),
		string(adv.NewHash[:]),
		strconv.FormatInt(adv.RefreshedAt, 10),
		strconv.FormatInt(adv.RefreshedAtMillis, 10),
		strconv.FormatInt(adv.ExpiresAt, 10),
		lifetimeMillis(adv.ExpiresAt, adv.RefreshedAt),
		strconv.Itoa(int(StatusActive)),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: empty advance reply", ErrUnavailable)
	}
	status, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected advance status", ErrUnavailable)
	}

	switch status {
	case casStatusNotFound:
		return nil, ErrNotFound
	case casStatusConflict:
		return nil, ErrConflict
	case casStatusAdvanced:
		if len(res) < 2 {
			return nil, fmt.Errorf("%w: advance reply missing record", ErrCorrupt)
		}
		flat, ok := res[1].([]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: advance reply record type", ErrCorrupt)
		}
		return decodeFlatReply(handle, flat)
	default:
		return nil, fmt.Errorf("%w: unknown advance status %d", ErrUnavailable, status)
	}
}

// Revoke implements [Store].
func (s *RedisStore) Revoke(ctx context.Context, handle string) error {
	status, err := s.revoke(ctx, handle)
	if err != nil {
		return err
	}
	if status == revokeStatusNotFound {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) revoke(ctx context.Context, handle string) (int64, error) {
	status, err := revokeSessionLua.Run(ctx, s.redis,
		[]string{s.key(handle)},
		strconv.Itoa(int(StatusRevoked)),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return status, nil
}

// RevokeAllForUser implements [Store].
//
// The handle set is read once, so a session created concurrently with this call
// may survive it. Handles whose record already expired are pruned from the set.
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)
	handles, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	revoked := 0
	stale := make([]interface{}, 0)
	for _, handle := range handles {
		status, err := s.revoke(ctx, handle)
		if err != nil {
			return revoked, err
		}
		switch status {
		case revokeStatusRevoked:
			revoked++
		case revokeStatusNotFound:
			stale = append(stale, handle)
		}
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return revoked, nil
}

// Ping reports whether Redis answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func lifetimeMillis(expiresAt, from int64) int64 {
	ms := (expiresAt - from) * 1000
	if ms <= 0 {
		ms = 1000
	}
	return ms
}

var _ Store = (*RedisStore)(nil)
