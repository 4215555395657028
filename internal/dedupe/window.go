// ABOUTME: Size-bounded sliding window of recently seen keys.
// ABOUTME: Used by the notifications provider to drop repeats from a module.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// Window remembers keys for a fixed duration. Entries are kept in the order they
// were last seen, so expired entries are always at the front and are pruned on
// every call. There is no background goroutine.
type Window struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	byKey   map[string]*list.Element
	order   *list.List // of *entry, oldest at front
}

// NewWindow creates a window that remembers up to maxSize keys for ttl.
// A non-positive maxSize means no size bound.
func NewWindow(ttl time.Duration, maxSize int) *Window {
	return &Window{
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		byKey:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Seen reports whether key was seen within the window and records it either way.
// A repeat refreshes the key, so a steady stream of repeats stays suppressed.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)

	if el, ok := w.byKey[key]; ok {
		el.Value.(*entry).seen = now
		w.order.MoveToBack(el)
		return true
	}

	if w.maxSize > 0 && w.order.Len() >= w.maxSize {
		w.removeLocked(w.order.Front())
	}
	w.byKey[key] = w.order.PushBack(&entry{key: key, seen: now})
	return false
}

// Len returns the number of keys currently remembered.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return w.order.Len()
}

func (w *Window) pruneLocked(now time.Time) {
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if now.Sub(el.Value.(*entry).seen) < w.ttl {
			return
		}
		w.removeLocked(el)
	}
}

func (w *Window) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	w.order.Remove(el)
	delete(w.byKey, el.Value.(*entry).key)
}
