// Package store provides in-memory caches for catalog values fetched from the remote API.
package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"spinsync/internal/core"
)

// Cache defaults.
const (
	DefaultTrackCacheSize         = 1000
	DefaultBloomFalsePositiveRate = 0.001
)

// TrackCache is a thread-safe LRU of Track values keyed by id, fronted by a Bloom filter of every id ever stored.
// Stored values are clones; callers never share slices with the cache.
type TrackCache struct {
	mutex             sync.RWMutex
	seen              *bloom.BloomFilter
	lru               *lru.Cache[string, core.Track]
	capacity          int
	falsePositiveRate float64
}

// NewTrackCache creates a cache holding at most capacity tracks.
func NewTrackCache(capacity int, falsePositiveRate float64) *TrackCache {
	if capacity <= 0 {
		capacity = DefaultTrackCacheSize
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = DefaultBloomFalsePositiveRate
	}

	cache, _ := lru.New[string, core.Track](capacity)

	return &TrackCache{
		seen:              bloom.NewWithEstimates(uint(capacity), falsePositiveRate), //nolint:gosec // capacity is positive
		lru:               cache,
		capacity:          capacity,
		falsePositiveRate: falsePositiveRate,
	}
}

// Get returns the cached track for id.
func (c *TrackCache) Get(id string) (core.Track, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if id == "" || !c.seen.TestString(id) {
		return core.Track{}, false
	}

	track, ok := c.lru.Get(id)
	if !ok {
		return core.Track{}, false
	}
	return track.Clone(), true
}

// Put stores track under its id. Tracks without an id are ignored.
func (c *TrackCache) Put(track core.Track) {
	if track.ID == "" {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.seen.AddString(track.ID)
	c.lru.Add(track.ID, track.Clone())
}

// PutAll stores every track in tracks.
func (c *TrackCache) PutAll(tracks []core.Track) {
	for i := range tracks {
		c.Put(tracks[i])
	}
}

// Len returns the number of cached tracks.
func (c *TrackCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lru.Len()
}

// Purge drops every cached track.
func (c *TrackCache) Purge() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.lru.Purge()
	c.seen = bloom.NewWithEstimates(uint(c.capacity), c.falsePositiveRate) //nolint:gosec // capacity is positive
}
