package core

import (
	"container/list"
	"fmt"
)

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU for
// the hot path and an optional Postgres lookup for keys that aged out.
type IdempotencyChecker struct {
	lru       *idempotencyLRU
	dbChecker DBIdempotencyChecker
}

// DBIdempotencyChecker is the tier-2 lookup against the operation log.
type DBIdempotencyChecker interface {
	IsDuplicate(kind string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       newIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate checks whether the instruction has already been committed.
func (ic *IdempotencyChecker) IsDuplicate(kind string, idempotencyKey string) bool {
	compositeKey := fmt.Sprintf("%s:%s", kind, idempotencyKey)

	if ic.lru.contains(compositeKey) {
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(kind, idempotencyKey)
		if err != nil {
			// A DB outage must not block processing; assume not duplicate.
			return false
		}
		if isDup {
			ic.lru.add(compositeKey)
			return true
		}
	}
	return false
}

// MarkProcessed records the key after a successful commit.
func (ic *IdempotencyChecker) MarkProcessed(kind string, idempotencyKey string) {
	ic.lru.add(fmt.Sprintf("%s:%s", kind, idempotencyKey))
}

// Warm preloads composite keys, typically from a snapshot, so recently
// processed instructions do not fall through to the DB after a restart.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.lru.add(key)
	}
}

// Keys returns the current composite keys, newest first, for snapshotting.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.keys()
}

// idempotencyLRU is not thread-safe; it is only touched by the
// single-threaded core.
type idempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

type lruEntry struct {
	key string
}

func newIdempotencyLRU(capacity int) *idempotencyLRU {
	return &idempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

func (lru *idempotencyLRU) contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

func (lru *idempotencyLRU) add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}
	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem
	if lru.lruList.Len() > lru.capacity {
		oldest := lru.lruList.Back()
		if oldest != nil {
			lru.lruList.Remove(oldest)
			delete(lru.cache, oldest.Value.(*lruEntry).key)
		}
	}
}

func (lru *idempotencyLRU) keys() []string {
	out := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*lruEntry).key)
	}
	return out
}
