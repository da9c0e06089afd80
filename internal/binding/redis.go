package binding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
	// Client, when set, is used instead of dialing Addr.
	Client *redis.Client
}

// resolveScript performs create-if-absent, device comparison and the use
// count increment in one server-side step, so concurrent callers from any
// number of instances cannot both create a binding.
//
// Reply: {status, device, firstBoundAt, lastUsedAt, useCount} where status is
// 1 for first use, 2 for bound and 0 for a device mismatch.
var resolveScript = redis.NewScript(`
local k = KEYS[1]
if redis.call('EXISTS', k) == 0 then
  redis.call('HSET', k, 'device', ARGV[1], 'first', ARGV[2], 'last', ARGV[2], 'count', 1)
  return {1, ARGV[1], ARGV[2], ARGV[2], 1}
end
local dev = redis.call('HGET', k, 'device')
if dev ~= ARGV[1] then
  return {0, dev, redis.call('HGET', k, 'first'), redis.call('HGET', k, 'last'), tonumber(redis.call('HGET', k, 'count'))}
end
local n = redis.call('HINCRBY', k, 'count', 1)
redis.call('HSET', k, 'last', ARGV[2])
return {2, dev, redis.call('HGET', k, 'first'), ARGV[2], n}
`)

type redisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedis constructs a redis-backed binding store.
func NewRedis(cfg RedisConfig) (Store, error) {
	client := cfg.Client
	if client == nil {
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis address required")
		}
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "mzgate:"
	}
	return &redisStore{
		client: client,
		prefix: prefix + "binding:",
		now:    time.Now,
	}, nil
}

func (s *redisStore) key(digest string) string {
	return s.prefix + digest
}

func (s *redisStore) ResolveOrBind(ctx context.Context, keyDigest, device string) (Result, error) {
	now := strconv.FormatInt(s.now().UTC().UnixNano(), 10)
	reply, err := resolveScript.Run(ctx, s.client, []string{s.key(keyDigest)}, device, now).Slice()
	if err != nil {
		return Result{}, unavailable(err)
	}
	if len(reply) != 5 {
		return Result{}, unavailable(fmt.Errorf("unexpected script reply length %d", len(reply)))
	}

	status, _ := reply[0].(int64)
	b, err := bindingFromFields(keyDigest, map[string]interface{}{
		"device": reply[1],
		"first":  reply[2],
		"last":   reply[3],
		"count":  reply[4],
	})
	if err != nil {
		return Result{}, unavailable(err)
	}

	switch status {
	case 1:
		return Result{Status: FirstUse, Binding: b}, nil
	case 2:
		return Result{Status: Bound, Binding: b}, nil
	default:
		return Result{}, mismatch(b)
	}
}

func (s *redisStore) Get(ctx context.Context, keyDigest string) (Binding, error) {
	fields, err := s.client.HGetAll(ctx, s.key(keyDigest)).Result()
	if err != nil {
		return Binding{}, unavailable(err)
	}
	if len(fields) == 0 {
		return Binding{}, ErrNotFound
	}
	generic := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		generic[k] = v
	}
	b, err := bindingFromFields(keyDigest, generic)
	if err != nil {
		return Binding{}, unavailable(err)
	}
	return b, nil
}

func (s *redisStore) Unbind(ctx context.Context, keyDigest string) error {
	n, err := s.client.Del(ctx, s.key(keyDigest)).Result()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *redisStore) List(ctx context.Context) ([]Binding, error) {
	var (
		cursor uint64
		out    []Binding
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, unavailable(err)
		}
		for _, k := range keys {
			b, err := s.Get(ctx, strings.TrimPrefix(k, s.prefix))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

func (s *redisStore) Stats(ctx context.Context) (Stats, error) {
	all, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Bound: int64(len(all))}
	for _, b := range all {
		st.TotalUses += b.UseCount
	}
	return st, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}

func bindingFromFields(digest string, f map[string]interface{}) (Binding, error) {
	device, _ := f["device"].(string)
	if device == "" {
		return Binding{}, fmt.Errorf("binding %s has no device", digest)
	}
	first, err := toInt64(f["first"])
	if err != nil {
		return Binding{}, fmt.Errorf("binding %s first: %w", digest, err)
	}
	last, err := toInt64(f["last"])
	if err != nil {
		return Binding{}, fmt.Errorf("binding %s last: %w", digest, err)
	}
	count, err := toInt64(f["count"])
	if err != nil {
		return Binding{}, fmt.Errorf("binding %s count: %w", digest, err)
	}
	return Binding{
		KeyDigest:    digest,
		BoundDevice:  device,
		FirstBoundAt: time.Unix(0, first).UTC(),
		LastUsedAt:   time.Unix(0, last).UTC(),
		UseCount:     count,
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
