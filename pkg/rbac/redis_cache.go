package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configures the shared lookup cache
type RedisOptions struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TTL        time.Duration
	KeyPrefix  string
}

// NewRedisClient parses opts.URL, applies overrides and verifies connectivity
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if opts.Password != "" {
		ro.Password = opts.Password
	}
	if opts.DB > 0 {
		ro.DB = opts.DB
	}
	if opts.PoolSize > 0 {
		ro.PoolSize = opts.PoolSize
	}
	if opts.MaxRetries > 0 {
		ro.MaxRetries = opts.MaxRetries
	}
	ro.DialTimeout = 5 * time.Second
	ro.ReadTimeout = 3 * time.Second
	ro.WriteTimeout = 3 * time.Second

	client := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisStore is a cache shared between replicas in front of another Storage.
// Redis failures degrade to reading through; they never deny access on their own.
type RedisStore struct {
	client   *redis.Client
	next     Storage
	ttl      time.Duration
	prefix   string
	observer CacheObserver
}

// NewRedisStore wraps next with a Redis cache
func NewRedisStore(client *redis.Client, next Storage, opts RedisOptions, observer CacheObserver) *RedisStore {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "crew"
	}
	return &RedisStore{
		client:   client,
		next:     next,
		ttl:      ttl,
		prefix:   prefix,
		observer: observer,
	}
}

// generationTTL keeps generation counters far longer than any lookup can take
const generationTTL = 24 * time.Hour

// storeIfCurrent writes ARGV[1] to KEYS[1] for ARGV[2] milliseconds only when every
// generation counter in KEYS[2..] still holds the value in ARGV[3..] (missing = "0")
var storeIfCurrent = redis.NewScript(`
for i = 2, #KEYS do
	local current = redis.call("GET", KEYS[i]) or "0"
	if current ~= ARGV[i + 1] then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

func (s *RedisStore) userKey(userID int64) string {
	return fmt.Sprintf("%s:user:%d", s.prefix, userID)
}

func (s *RedisStore) membershipKey(userID, projectID int64) string {
	return fmt.Sprintf("%s:membership:%d:%d", s.prefix, projectID, userID)
}

func (s *RedisStore) roleKey(roleID, projectID int64) string {
	return fmt.Sprintf("%s:role:%d:%d", s.prefix, projectID, roleID)
}

func (s *RedisStore) userGenKey(userID int64) string {
	return fmt.Sprintf("%s:gen:user:%d", s.prefix, userID)
}

func (s *RedisStore) projectGenKey(projectID int64) string {
	return fmt.Sprintf("%s:gen:project:%d", s.prefix, projectID)
}

func (s *RedisStore) membershipGenKey(userID, projectID int64) string {
	return fmt.Sprintf("%s:gen:membership:%d:%d", s.prefix, projectID, userID)
}

// GetUser implements Storage
func (s *RedisStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	key := s.userKey(userID)
	var u User
	if s.get(ctx, key, "user", &u) {
		return &u, nil
	}

	gens := []string{s.userGenKey(userID)}
	seen := s.generations(ctx, gens)
	found, err := s.next.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, found, gens, seen)
	return found, nil
}

// GetMembership implements Storage
func (s *RedisStore) GetMembership(ctx context.Context, userID, projectID int64) (*Membership, error) {
	key := s.membershipKey(userID, projectID)
	var m Membership
	if s.get(ctx, key, "membership", &m) {
		return &m, nil
	}

	gens := []string{
		s.membershipGenKey(userID, projectID),
		s.userGenKey(userID),
		s.projectGenKey(projectID),
	}
	seen := s.generations(ctx, gens)
	found, err := s.next.GetMembership(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, found, gens, seen)
	return found, nil
}

// GetRole implements Storage
func (s *RedisStore) GetRole(ctx context.Context, roleID, projectID int64) (*Role, error) {
	key := s.roleKey(roleID, projectID)
	var r Role
	if s.get(ctx, key, "role", &r) {
		return &r, nil
	}

	gens := []string{s.projectGenKey(projectID)}
	seen := s.generations(ctx, gens)
	found, err := s.next.GetRole(ctx, roleID, projectID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, found, gens, seen)
	return found, nil
}

// GetRoleByID is not cached
func (s *RedisStore) GetRoleByID(ctx context.Context, roleID int64) (*Role, error) {
	return s.next.GetRoleByID(ctx, roleID)
}

// InvalidateUser deletes the user key and every membership of the user
func (s *RedisStore) InvalidateUser(ctx context.Context, userID int64) error {
	if err := s.bump(ctx, s.userGenKey(userID)); err != nil {
		return fmt.Errorf("failed to invalidate user %d: %w", userID, err)
	}
	if err := s.client.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate user %d: %w", userID, err)
	}
	return s.deletePattern(ctx, fmt.Sprintf("%s:membership:*:%d", s.prefix, userID))
}

// InvalidateMembership deletes one membership key
func (s *RedisStore) InvalidateMembership(ctx context.Context, userID, projectID int64) error {
	if err := s.bump(ctx, s.membershipGenKey(userID, projectID)); err != nil {
		return fmt.Errorf("failed to invalidate membership: %w", err)
	}
	if err := s.client.Del(ctx, s.membershipKey(userID, projectID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate membership: %w", err)
	}
	return nil
}

// InvalidateProject deletes every membership and role key of projectID
func (s *RedisStore) InvalidateProject(ctx context.Context, projectID int64) error {
	if err := s.bump(ctx, s.projectGenKey(projectID)); err != nil {
		return fmt.Errorf("failed to invalidate project %d: %w", projectID, err)
	}
	return s.deletePattern(ctx,
		fmt.Sprintf("%s:membership:%d:*", s.prefix, projectID),
		fmt.Sprintf("%s:role:%d:*", s.prefix, projectID),
	)
}

// bump advances a generation counter so lookups already in flight do not cache
// what they read
func (s *RedisStore) bump(ctx context.Context, genKey string) error {
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, generationTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// generations reads the counters a lookup depends on; nil means they could not be
// read and the result must not be cached
func (s *RedisStore) generations(ctx context.Context, keys []string) []string {
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil
	}
	seen := make([]string, len(values))
	for i, v := range values {
		seen[i] = "0"
		if str, ok := v.(string); ok {
			seen[i] = str
		}
	}
	return seen
}

func (s *RedisStore) deletePattern(ctx context.Context, patterns ...string) error {
	for _, pattern := range patterns {
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
		}
	}
	return nil
}

// get loads key into dst, reporting false on a miss, an error or corrupt data
func (s *RedisStore) get(ctx context.Context, key, kind string, dst any) bool {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		s.miss(kind)
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.client.Del(ctx, key)
		s.miss(kind)
		return false
	}
	if s.observer != nil {
		s.observer.CacheHit("l2", kind)
	}
	return true
}

// set caches v unless one of gens moved past seen since the lookup began
func (s *RedisStore) set(ctx context.Context, key string, v any, gens, seen []string) {
	if seen == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	args := make([]interface{}, 0, len(seen)+2)
	args = append(args, data, s.ttl.Milliseconds())
	for _, g := range seen {
		args = append(args, g)
	}
	storeIfCurrent.Run(ctx, s.client, append([]string{key}, gens...), args...)
}

func (s *RedisStore) miss(kind string) {
	if s.observer != nil {
		s.observer.CacheMiss("l2", kind)
	}
}
