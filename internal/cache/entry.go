// Package cache implements the proxy's bounded, shared response-body
// store: a content-addressed cache with approximate-LRU eviction, safe
// for many concurrent readers and one writer at a time.
package cache

import "sync/atomic"

// Entry is a single cached response body, keyed by canonical request
// key (host:port/path). Once admitted, key, body and size never
// change; only timestamp is mutated, and only on reads.
type Entry struct {
	key  string
	body []byte
	size int

	// timestamp is the last-use time at one-second resolution, stored
	// as a unix seconds count. It is updated by readers without
	// synchronization beyond atomicity: concurrent readers may race to
	// set it, and the result need not be linearizable — it is advisory
	// input to eviction only (spec.md §5, consequence 4).
	timestamp atomic.Int64
}

// Key returns the entry's canonical cache key.
func (e *Entry) Key() string { return e.key }

// Size returns the entry's body length in bytes.
func (e *Entry) Size() int { return e.size }

func (e *Entry) touch(now int64) { e.timestamp.Store(now) }

func (e *Entry) lastUsed() int64 { return e.timestamp.Load() }
