package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisBackend shares cache entries between exporter processes. Keys expire
// in Redis after their TTL; validity is still checked against the stored
// timestamp so behaviour matches the memory backend.
type RedisBackend struct {
	rdb    goredis.UniversalClient
	prefix string
}

func NewRedisBackend(rdb goredis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "moescape"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

// DialRedis connects and pings, closing the client if the ping fails.
func DialRedis(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (r *RedisBackend) key(ns Namespace, key string) string {
	return r.prefix + ":" + string(ns) + ":" + key
}

func (r *RedisBackend) Load(ctx context.Context, ns Namespace, key string) (Entry, bool, error) {
	raw, err := r.rdb.Get(ctx, r.key(ns, key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode entry: %w", err)
	}
	return e, true, nil
}

func (r *RedisBackend) Save(ctx context.Context, ns Namespace, key string, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(ns, key), raw, e.TTL).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, ns Namespace, key string) error {
	return r.rdb.Del(ctx, r.key(ns, key)).Err()
}

// Clear removes every key under the prefix.
func (r *RedisBackend) Clear(ctx context.Context) error {
	iter := r.rdb.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}
