package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/matst80/woof/pkg/common/jsoncompat"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

const localTtl = 10 * time.Second

type localEntry struct {
	expires time.Time
	data    []byte
}

// Cache keeps json encoded values in redis with a short lived local copy.
// Without a redis address only the local layer is used.
type Cache struct {
	client *redis.Client
	mu     sync.Mutex
	local  map[string]localEntry
	now    func() time.Time
}

func NewCache(addr, password string, db int) *Cache {
	c := NewMemoryCache()
	if addr != "" {
		c.client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})
	}
	return c
}

func NewMemoryCache() *Cache {
	return &Cache{
		local: make(map[string]localEntry),
		now:   time.Now,
	}
}

func (c *Cache) getLocal(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.local[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expires) {
		delete(c.local, key)
		return nil, false
	}
	return entry.data, true
}

func (c *Cache) setLocal(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[key] = localEntry{expires: c.now().Add(ttl), data: data}
}

func (c *Cache) Get(ctx context.Context, key string, out any) error {
	data, ok := c.getLocal(key)
	if !ok {
		if c.client == nil {
			return ErrCacheMiss
		}
		s, err := c.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		if err != nil {
			return err
		}
		data = []byte(s)
		c.setLocal(key, data, localTtl)
	}
	return jsoncompat.Unmarshal(data, out)
}

func (c *Cache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := jsoncompat.Marshal(value)
	if err != nil {
		return err
	}
	if c.client == nil {
		c.setLocal(key, data, expiration)
		return nil
	}
	c.setLocal(key, data, min(expiration, localTtl))
	return c.client.Set(ctx, key, data, expiration).Err()
}

// Invalidate removes every key starting with prefix.
func (c *Cache) Invalidate(ctx context.Context, prefix string) error {
	c.mu.Lock()
	for key := range c.local {
		if strings.HasPrefix(key, prefix) {
			delete(c.local, key)
		}
	}
	c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	keys := make([]string, 0)
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
