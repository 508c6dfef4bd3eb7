package core

import (
	"container/list"
	"fmt"
	"sync"
)

// IdempotencyChecker deduplicates commands by their stable key so a
// resubmitted NATS delivery or HTTP retry never applies an operation twice.
type IdempotencyChecker struct {
	mu sync.Mutex

	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	// DB-side lookup for keys evicted from memory; nil disables the cold path.
	dbChecker DBIdempotencyChecker

	evictions int64
}

// DBIdempotencyChecker is the durable dedup lookup backed by the event log.
// Rows are stored under the EVENT type name, not the op name.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		capacity:  capacity,
		cache:     make(map[string]*list.Element, capacity),
		lruList:   list.New(),
		dbChecker: dbChecker,
	}
}

// IsDuplicate checks the in-memory LRU first, falling back to the database.
// The memory tier keys by op, the durable tier by the event type the op
// persists as (event_log rows carry event type names, not op names). A DB
// error counts as not-duplicate so a storage hiccup cannot stall the engine;
// the durable unique index still rejects a true replay at write time.
func (ic *IdempotencyChecker) IsDuplicate(op, eventType, key string) bool {
	composite := fmt.Sprintf("%s:%s", op, key)

	ic.mu.Lock()
	if el, ok := ic.cache[composite]; ok {
		ic.lruList.MoveToFront(el)
		ic.mu.Unlock()
		return true
	}
	ic.mu.Unlock()

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, key)
		if err == nil && isDup {
			ic.add(composite)
			return true
		}
	}
	return false
}

// MarkProcessed records a key after the command applied successfully.
func (ic *IdempotencyChecker) MarkProcessed(op, key string) {
	ic.add(fmt.Sprintf("%s:%s", op, key))
}

func (ic *IdempotencyChecker) add(composite string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	if el, ok := ic.cache[composite]; ok {
		ic.lruList.MoveToFront(el)
		return
	}
	el := ic.lruList.PushFront(composite)
	ic.cache[composite] = el

	if ic.lruList.Len() > ic.capacity {
		oldest := ic.lruList.Back()
		if oldest != nil {
			ic.lruList.Remove(oldest)
			delete(ic.cache, oldest.Value.(string))
			ic.evictions++
		}
	}
}

// Evictions reports how many keys have aged out of the in-memory tier.
func (ic *IdempotencyChecker) Evictions() int64 {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.evictions
}
