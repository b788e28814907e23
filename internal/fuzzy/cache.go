package fuzzy

import (
	"container/list"
	"sync"
	"time"
)

// Cache memoizes compiled matchers per entity text. The same entity recurs
// across occurrences and documents, and pattern construction (normalization,
// per-rune class widening, regexp compilation) is the expensive part of a
// fuzzy search, so repeat lookups should not pay for it twice. Rejections are
// cached too: an entity the safety rules refuse once is refused from memory
// afterwards.
//
// Eviction is S3-FIFO ("Simple, Scalable, FIFO-based cache eviction",
// Yang et al., 2023): a small probationary FIFO for new keys, a main FIFO
// for keys that saw at least one hit, and a bounded ghost ring of recently
// evicted probationary keys. A key found in the ghost ring on insert skips
// probation and goes straight to main, which gives scan resistance without
// LRU's per-access reordering.
//
// Sizing: small target is capacity/10 (min 1), ghost capacity is twice the
// small target (min 4). Per-entry state is a saturating hit counter in
// [0, 3], incremented on Occurrences hits and reset on promotion to main.
type Cache struct {
	mu sync.Mutex

	capacity    int
	smallTarget int
	ghostCap    int
	budget      time.Duration

	entries map[string]*cacheEntry
	small   *list.List // element values are entity-text keys
	main    *list.List

	ghostRing  []string
	ghostSet   map[string]struct{}
	ghostHead  int
	ghostCount int
}

// cacheEntry is the resident state for one entity text. A nil matcher
// records a safety-rule rejection.
type cacheEntry struct {
	matcher *Matcher
	hits    uint8
	elem    *list.Element
	inMain  bool
}

// NewCache returns a matcher cache holding at most capacity entries, each
// compiled with the given search budget. Capacities below 2 are clamped.
func NewCache(capacity int, budget time.Duration) *Cache {
	if capacity < 2 {
		capacity = 2
	}
	smallTarget := capacity / 10
	if smallTarget < 1 {
		smallTarget = 1
	}
	ghostCap := 2 * smallTarget
	if ghostCap < 4 {
		ghostCap = 4
	}
	return &Cache{
		capacity:    capacity,
		smallTarget: smallTarget,
		ghostCap:    ghostCap,
		budget:      budget,
		entries:     make(map[string]*cacheEntry, capacity),
		small:       list.New(),
		main:        list.New(),
		ghostRing:   make([]string, ghostCap),
		ghostSet:    make(map[string]struct{}, ghostCap),
	}
}

// Occurrences returns every fuzzy occurrence span of entityText in doc,
// compiling and caching the matcher on first use. Semantics match the
// package-level Occurrences: a rejected entity or a timed-out search
// yields nil.
func (c *Cache) Occurrences(entityText, doc string) [][]int {
	m, ok := c.lookup(entityText)
	if !ok {
		m, _ = Build(entityText, c.budget)
		c.insert(entityText, m)
	}
	if m == nil {
		return nil
	}
	return m.FindAll(doc)
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.small.Len() + c.main.Len()
}

// lookup returns the cached matcher for key. The second return reports
// residency: (nil, true) is a cached rejection, (nil, false) a miss.
func (c *Cache) lookup(key string) (*Matcher, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.hits < 3 {
		e.hits++
	}
	return e.matcher, true
}

func (c *Cache) insert(key string, m *Matcher) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.matcher = m // concurrent build of the same key; keep queue position
		return
	}

	inMain := c.ghostContains(key)
	var elem *list.Element
	if inMain {
		elem = c.main.PushBack(key)
	} else {
		elem = c.small.PushBack(key)
	}
	c.entries[key] = &cacheEntry{matcher: m, elem: elem, inMain: inMain}

	for c.small.Len()+c.main.Len() > c.capacity {
		c.evictOne()
	}
}

// evictOne removes one entry per the S3-FIFO policy. Caller holds c.mu.
func (c *Cache) evictOne() {
	if c.small.Len() > 0 {
		c.evictFromSmall()
		return
	}
	c.evictFromMain()
}

// evictFromSmall pops the oldest probationary entry: promoted to main if it
// was hit at least once, otherwise dropped and remembered in the ghost ring.
// Caller holds c.mu.
func (c *Cache) evictFromSmall() {
	front := c.small.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	c.small.Remove(front)

	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.hits > 0 {
		e.hits = 0
		e.inMain = true
		e.elem = c.main.PushBack(key)
		if c.main.Len() > c.capacity-c.smallTarget {
			c.evictFromMain()
		}
		return
	}
	delete(c.entries, key)
	c.ghostAdd(key)
}

// evictFromMain drops the oldest main entry. Main evictions never enter the
// ghost ring. Caller holds c.mu.
func (c *Cache) evictFromMain() {
	front := c.main.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	c.main.Remove(front)
	delete(c.entries, key)
}

// ghostContains reports ghost-ring membership. Caller holds c.mu.
func (c *Cache) ghostContains(key string) bool {
	_, ok := c.ghostSet[key]
	return ok
}

// ghostAdd records key in the bounded circular ghost ring, evicting the
// oldest ghost when full. Caller holds c.mu.
func (c *Cache) ghostAdd(key string) {
	if _, exists := c.ghostSet[key]; exists {
		return
	}
	if c.ghostCount == c.ghostCap {
		oldest := c.ghostRing[c.ghostHead]
		delete(c.ghostSet, oldest)
		c.ghostHead = (c.ghostHead + 1) % c.ghostCap
		c.ghostCount--
	}
	c.ghostRing[(c.ghostHead+c.ghostCount)%c.ghostCap] = key
	c.ghostSet[key] = struct{}{}
	c.ghostCount++
}
