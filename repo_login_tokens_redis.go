package secretariat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// expired tokens are kept this long past their expiration so a late click
// still reports an expired token instead of an unknown one
const DefaultRedisExpiredGrace = 24 * time.Hour

var redisConsumeTokenScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return {"missing"}
end

local fields = redis.call("HMGET", key, "id", "username", "email", "expires_at", "created_at")
redis.call("DEL", key)
redis.call("SREM", ARGV[1] .. fields[2], ARGV[2])
return {"ok", fields[1], fields[2], fields[3], fields[4], fields[5]}
`)

var redisPurgeTokenScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local expires_at = redis.call("HGET", key, "expires_at")
if not expires_at then
  return 0
end
if tonumber(expires_at) > now_ms then
  return 0
end

local username = redis.call("HGET", key, "username")
redis.call("DEL", key)
redis.call("SREM", ARGV[2] .. username, ARGV[3])
return 1
`)

// RedisLoginTokens keeps login tokens in redis hashes with a per member
// index set. Consumption runs as a single script.
type RedisLoginTokens struct {
	client redis.UniversalClient
	prefix string
	grace  time.Duration
}

var _ LoginTokenStore = (*RedisLoginTokens)(nil)

// RedisOption configures a RedisLoginTokens store
type RedisOption func(*RedisLoginTokens)

// WithRedisExpiredGrace sets how long expired tokens are retained
func WithRedisExpiredGrace(d time.Duration) RedisOption {
	return func(s *RedisLoginTokens) {
		if d >= 0 {
			s.grace = d
		}
	}
}

func NewRedisLoginTokens(client redis.UniversalClient, prefix string, opts ...RedisOption) *RedisLoginTokens {
	if prefix == "" {
		prefix = "login_tokens"
	}
	s := &RedisLoginTokens{
		client: client,
		prefix: prefix,
		grace:  DefaultRedisExpiredGrace,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisLoginTokens) tokenKey(token string) string {
	return fmt.Sprintf("%s:token:%s", s.prefix, token)
}

func (s *RedisLoginTokens) userKeyPrefix() string {
	return s.prefix + ":user:"
}

func (s *RedisLoginTokens) userKey(username string) string {
	return s.userKeyPrefix() + username
}

func (s *RedisLoginTokens) Create(ctx context.Context, token *LoginToken) (*LoginToken, error) {
	if s.client == nil {
		return nil, errors.New("redis client is not configured", errors.CategoryInternal)
	}
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	key := s.tokenKey(token.Token)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", token.ID.String(),
			"username", token.Username,
			"email", token.Email,
			"expires_at", token.ExpiresAt.UnixMilli(),
			"created_at", token.CreatedAt.UnixMilli(),
		)
		pipe.PExpireAt(ctx, key, token.ExpiresAt.Add(s.grace))
		pipe.SAdd(ctx, s.userKey(token.Username), token.Token)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to store login token")
	}
	return token, nil
}

func (s *RedisLoginTokens) GetByToken(ctx context.Context, token string) (*LoginToken, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	if s.client == nil {
		return nil, errors.New("redis client is not configured", errors.CategoryInternal)
	}

	values, err := s.client.HGetAll(ctx, s.tokenKey(token)).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve login token")
	}
	if len(values) == 0 {
		return nil, ErrInvalidToken
	}

	return decodeRedisToken(token, values["id"], values["username"], values["email"], values["expires_at"], values["created_at"])
}

func (s *RedisLoginTokens) Consume(ctx context.Context, token string) (*LoginToken, error) {
	if s.client == nil {
		return nil, errors.New("redis client is not configured", errors.CategoryInternal)
	}

	raw, err := redisConsumeTokenScript.Run(
		ctx,
		s.client,
		[]string{s.tokenKey(token)},
		s.userKeyPrefix(),
		token,
	).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to consume login token")
	}

	values, ok := raw.([]any)
	if !ok || len(values) == 0 {
		return nil, errors.New("unexpected redis consume result", errors.CategoryInternal)
	}

	switch redisString(values[0]) {
	case "missing":
		return nil, ErrInvalidToken
	case "ok":
		if len(values) < 6 {
			return nil, errors.New("unexpected redis consume payload", errors.CategoryInternal)
		}
		return decodeRedisToken(token,
			redisString(values[1]),
			redisString(values[2]),
			redisString(values[3]),
			redisString(values[4]),
			redisString(values[5]),
		)
	default:
		return nil, errors.New("unknown redis consume state", errors.CategoryInternal).
			WithMetadata(map[string]any{"state": redisString(values[0])})
	}
}

func (s *RedisLoginTokens) FindByUsername(ctx context.Context, username string) ([]*LoginToken, error) {
	if s.client == nil {
		return nil, errors.New("redis client is not configured", errors.CategoryInternal)
	}

	members, err := s.client.SMembers(ctx, s.userKey(username)).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list login tokens")
	}

	records := make([]*LoginToken, 0, len(members))
	for _, member := range members {
		record, err := s.GetByToken(ctx, member)
		if err != nil {
			if IsInvalidToken(err) {
				// hash evicted by its TTL, drop the stale index entry
				_ = s.client.SRem(ctx, s.userKey(username), member).Err()
				continue
			}
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *RedisLoginTokens) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if s.client == nil {
		return 0, errors.New("redis client is not configured", errors.CategoryInternal)
	}

	tokenPrefix := s.tokenKey("")
	deleted := 0
	iter := s.client.Scan(ctx, 0, tokenPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		token := strings.TrimPrefix(key, tokenPrefix)

		n, err := redisPurgeTokenScript.Run(
			ctx,
			s.client,
			[]string{key},
			now.UnixMilli(),
			s.userKeyPrefix(),
			token,
		).Int()
		if err != nil {
			return deleted, errors.Wrap(err, errors.CategoryInternal, "failed to purge login token")
		}
		deleted += n
	}

	if err := iter.Err(); err != nil {
		return deleted, errors.Wrap(err, errors.CategoryInternal, "failed to scan login tokens")
	}
	return deleted, nil
}

func decodeRedisToken(token, id, username, email, expiresAt, createdAt string) (*LoginToken, error) {
	expiresMs, err := strconv.ParseInt(expiresAt, 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "malformed login token expiration")
	}

	record := &LoginToken{
		Token:     token,
		Username:  username,
		Email:     email,
		ExpiresAt: time.UnixMilli(expiresMs).UTC(),
	}

	if parsed, err := uuid.Parse(id); err == nil {
		record.ID = parsed
	}

	if createdMs, err := strconv.ParseInt(createdAt, 10, 64); err == nil {
		record.CreatedAt = time.UnixMilli(createdMs).UTC()
	}

	return record, nil
}

func redisString(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
