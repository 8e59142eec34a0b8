package router

import (
	"sync"

	"github.com/google/uuid"
)

// ThreadMap remembers {thread_id -> (a, b)} for the Hub's process
// lifetime; loss on restart is acceptable (spec.md §3 Thread).
type ThreadMap struct {
	mu      sync.RWMutex
	threads map[string][2]string
}

func NewThreadMap() *ThreadMap {
	return &ThreadMap{threads: make(map[string][2]string)}
}

// Create allocates a fresh thread id for the (a, b) pair.
func (t *ThreadMap) Create(a, b string) string {
	id := "t-" + uuid.New().String()[:6]
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threads[id] = [2]string{a, b}
	return id
}

// Exists reports whether id is a known thread.
func (t *ThreadMap) Exists(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.threads[id]
	return ok
}

// Participants returns the (a, b) pair for id.
func (t *ThreadMap) Participants(id string) (a, b string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pair, ok := t.threads[id]
	if !ok {
		return "", "", false
	}
	return pair[0], pair[1], true
}
