package server

import (
	"context"
	"sync"
	"time"

	"intelpipe/internal/report"
	"intelpipe/internal/reportstore"
)

// latestCache fronts Store.Latest with a short TTL. Errors are not cached.
type latestCache struct {
	store reportstore.Store
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	doc       *report.Document
	expiresAt time.Time
}

func newLatestCache(store reportstore.Store, ttl time.Duration) *latestCache {
	return &latestCache{store: store, ttl: ttl, now: time.Now}
}

func (c *latestCache) Latest(ctx context.Context) (*report.Document, error) {
	c.mu.Lock()
	if c.doc != nil && c.now().Before(c.expiresAt) {
		doc := c.doc
		c.mu.Unlock()
		return doc, nil
	}
	c.mu.Unlock()

	doc, err := c.store.Latest(ctx)
	if err != nil {
		return nil, err
	}
	c.Set(doc)
	return doc, nil
}

// Set primes the cache with a document that was just written.
func (c *latestCache) Set(doc *report.Document) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = doc
	c.expiresAt = c.now().Add(c.ttl)
}
