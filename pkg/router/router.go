// Package router implements the stateless request dispatcher sitting
// in front of the Cache and Persistence Manager. It is not an actor in
// its own right: each HTTP request already runs on its own goroutine
// courtesy of net/http, so the Router's only job is fanning a batch out
// to both tiers and joining on the result before replying.
package router

import (
	"context"
	"strings"
	"sync"
)

// NewKey is one entry of a PUT batch: a key and its multi-valued
// payload, joined with "," before being handed to either tier.
type NewKey struct {
	Key   string
	Value []string
}

// CacheStore is the subset of *cache.Cache the Router depends on.
type CacheStore interface {
	WriteBatch(kv map[string]string)
	Read(key string) (string, bool)
}

// PersistenceStore is the subset of *persistence.Manager the Router
// depends on.
type PersistenceStore interface {
	Put(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
}

// Router fans PUTs to both tiers and serves GETs from Cache, falling
// back to Persistence on a miss.
type Router struct {
	cache       CacheStore
	persistence PersistenceStore
}

// New builds a Router over explicit handles to its two collaborators,
// passed at construction time rather than resolved through a shared
// runtime or singleton.
func New(cache CacheStore, persistence PersistenceStore) *Router {
	return &Router{cache: cache, persistence: persistence}
}

// Put joins each entry's value slice with "," and writes the resulting
// key→value mapping to Cache and Persistence concurrently, replying
// only after both have accepted the batch (a join barrier). If either
// tier fails the other is not rolled back; the response reports the
// first error encountered.
func (r *Router) Put(ctx context.Context, keys []NewKey) error {
	kv := make(map[string]string, len(keys))
	for _, nk := range keys {
		kv[nk.Key] = strings.Join(nk.Value, ",")
	}

	var (
		wg         sync.WaitGroup
		cacheErr   error
		persistErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		r.cache.WriteBatch(kv)
	}()
	go func() {
		defer wg.Done()
		for key, value := range kv {
			if err := r.persistence.Put(ctx, key, value); err != nil {
				persistErr = err
				return
			}
		}
	}()
	wg.Wait()

	if cacheErr != nil {
		return cacheErr
	}
	return persistErr
}

// Get resolves each key against Cache first, falling back to
// Persistence on a miss, and returns the comma-split value slices in
// input order. A key found nowhere yields an empty slice.
func (r *Router) Get(ctx context.Context, keys []string) ([][]string, error) {
	results := make([][]string, len(keys))

	for i, key := range keys {
		if value, ok := r.cache.Read(key); ok {
			results[i] = splitValue(value)
			continue
		}

		value, found, err := r.persistence.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			results[i] = []string{}
			continue
		}
		results[i] = splitValue(value)
	}

	return results, nil
}

func splitValue(value string) []string {
	if value == "" {
		return []string{""}
	}
	return strings.Split(value, ",")
}
