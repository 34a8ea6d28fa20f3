package server

import (
	"context"
	"errors"
	"log"
	"time"
)

// CacheHelper reads T from the cache and fills it from fn on a miss.
type CacheHelper[T any] struct {
	Cache      *Cache
	Expiration time.Duration
}

func NewCacheHelper[T any](cache *Cache, expiration time.Duration) *CacheHelper[T] {
	return &CacheHelper[T]{Cache: cache, Expiration: expiration}
}

func (c *CacheHelper[T]) Handle(ctx context.Context, key string, fn func() (T, error)) (T, error) {
	var out T
	if c.Cache == nil {
		return fn()
	}
	err := c.Cache.Get(ctx, key, &out)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		log.Printf("cache get %s failed: %v", key, err)
	}
	out, err = fn()
	if err != nil {
		return out, err
	}
	if err := c.Cache.Set(ctx, key, out, c.Expiration); err != nil {
		log.Printf("cache set %s failed: %v", key, err)
	}
	return out, nil
}
