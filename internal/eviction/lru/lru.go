package lru

import (
	"container/list"
	"sync"

	"github.com/lucasew/photosync/internal/eviction"
)

// LRU implements the eviction.Strategy interface using Least Recently Used logic.
//
// The most recently used entry sits at the front of the list. Entries that
// were never read again keep their insertion order, so among equally stale
// entries the oldest insertion is evicted first.
type LRU struct {
	mu    sync.Mutex
	list  *list.List
	items map[string]*list.Element
}

type entry struct {
	key  string
	size int64
}

func init() {
	eviction.Register("lru", func() eviction.Strategy {
		return New()
	})
}

func New() *LRU {
	return &LRU{
		list:  list.New(),
		items: make(map[string]*list.Element),
	}
}

func (l *LRU) OnAdd(key string, size int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.items[key]; ok {
		l.list.MoveToFront(elem)
		ent := elem.Value.(*entry)
		oldSize := ent.size
		ent.size = size
		return size - oldSize
	}

	ent := &entry{key: key, size: size}
	l.items[key] = l.list.PushFront(ent)
	return size
}

func (l *LRU) OnAccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.items[key]; ok {
		l.list.MoveToFront(elem)
	}
}

func (l *LRU) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.items[key]; ok {
		l.list.Remove(elem)
		delete(l.items, key)
	}
}

func (l *LRU) Victim() (eviction.Victim, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	elem := l.list.Back()
	if elem == nil {
		return eviction.Victim{}, false
	}
	ent := elem.Value.(*entry)
	return eviction.Victim{Key: ent.key, Size: ent.size}, true
}

func (l *LRU) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, l.list.Len())
	for elem := l.list.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry).key)
	}
	return keys
}

func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Len()
}
