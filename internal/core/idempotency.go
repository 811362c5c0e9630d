package core

import (
	"container/list"
	"fmt"
)

// IdempotencyChecker implements two-tier command deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	// Metrics
	metrics *IdempotencyMetrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(commandType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

// IsDuplicate checks if the command has been processed (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(commandType string, idempotencyKey string) bool {
	compositeKey := fmt.Sprintf("%s:%s", commandType, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(compositeKey) {
		ic.metrics.RecordDuplicate(commandType, "lru")
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(commandType, idempotencyKey)
		if err != nil {
			// Conservative: a DB error must not block command processing,
			// so assume not duplicate. The event log writer's ON CONFLICT
			// clause catches the rare false negative.
			ic.metrics.RecordTier2Error()
			return false
		}

		if isDup {
			ic.metrics.RecordDuplicate(commandType, "postgres")
			// Add to LRU so we don't hit DB again
			ic.lru.Add(compositeKey)
			return true
		}
	}

	return false
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(commandType string, idempotencyKey string) {
	compositeKey := fmt.Sprintf("%s:%s", commandType, idempotencyKey)
	ic.lru.Add(compositeKey)
}

// RecentKeys returns up to limit composite keys, newest first, for
// checkpointing.
func (ic *IdempotencyChecker) RecentKeys(limit int) []string {
	return ic.lru.Keys(limit)
}

// GetMetrics returns metrics for monitoring
func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe — only accessed from the single-threaded core.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64 // For metrics
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks membership and refreshes recency on hit.
func (l *IdempotencyLRU) Contains(key string) bool {
	elem, ok := l.cache[key]
	if ok {
		l.lruList.MoveToFront(elem)
	}
	return ok
}

// Add inserts a key, evicting the oldest entry at capacity.
func (l *IdempotencyLRU) Add(key string) {
	if elem, ok := l.cache[key]; ok {
		l.lruList.MoveToFront(elem)
		return
	}

	elem := l.lruList.PushFront(&lruEntry{key: key})
	l.cache[key] = elem

	if l.lruList.Len() > l.capacity {
		oldest := l.lruList.Back()
		if oldest != nil {
			l.lruList.Remove(oldest)
			delete(l.cache, oldest.Value.(*lruEntry).key)
			l.evictions++
		}
	}
}

// Keys returns up to limit keys in most-recently-used order.
func (l *IdempotencyLRU) Keys(limit int) []string {
	if limit > l.lruList.Len() {
		limit = l.lruList.Len()
	}
	keys := make([]string, 0, limit)
	for elem := l.lruList.Front(); elem != nil && len(keys) < limit; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry).key)
	}
	return keys
}

// Len returns the current entry count.
func (l *IdempotencyLRU) Len() int {
	return l.lruList.Len()
}

// Evictions returns the total evictions for metrics.
func (l *IdempotencyLRU) Evictions() int64 {
	return l.evictions
}

// --- Metrics ---

// IdempotencyMetrics tracks dedup stats.
// Not thread-safe — only accessed from the single-threaded core.
type IdempotencyMetrics struct {
	duplicates  map[string]int64 // commandType:tier -> count
	tier2Errors int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicates: make(map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(commandType, tier string) {
	m.duplicates[commandType+":"+tier]++
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(commandType, tier string) int64 {
	return m.duplicates[commandType+":"+tier]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
