package embed

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

// Cache is an Embedder decorator memoizing vectors by exact input text with
// a bounded LRU eviction policy. Only fully successful inner calls populate
// the cache, so a retried batch never observes partial results.
//
// Cache is safe for concurrent use.
type Cache struct {
	inner    Embedder
	capacity int

	mu    sync.Mutex
	ll    *list.List // front = most recently used
	items map[string]*list.Element
}

type cacheEntry struct {
	text string
	vec  []float32
}

// NewCache wraps inner with an LRU cache holding up to capacity entries.
func NewCache(inner Embedder, capacity int) (*Cache, error) {
	if capacity <= 0 {
		return nil, errors.New("cache capacity must be positive")
	}
	return &Cache{
		inner:    inner,
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
	}, nil
}

// Dimension returns the inner embedder's dimension.
func (c *Cache) Dimension() int { return c.inner.Dimension() }

// Embed returns cached vectors where available and embeds only the misses.
// On an inner failure the *BatchError indexes are remapped to the caller's
// input positions.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))

	// Collect misses, deduplicated, remembering which inputs want each one.
	var missTexts []string
	missPos := make(map[string][]int)

	c.mu.Lock()
	for i, t := range texts {
		if vec, ok := c.get(t); ok {
			out[i] = vec
			continue
		}
		if _, seen := missPos[t]; !seen {
			missTexts = append(missTexts, t)
		}
		missPos[t] = append(missPos[t], i)
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		var be *BatchError
		if errors.As(err, &be) {
			return nil, &BatchError{Indexes: c.remap(be.Indexes, missTexts, missPos), Err: be.Err}
		}
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, batchErr(0, len(texts), ErrEmptyResponse)
	}

	c.mu.Lock()
	for i, t := range missTexts {
		c.put(t, vecs[i])
		for _, pos := range missPos[t] {
			out[pos] = vecs[i]
		}
	}
	c.mu.Unlock()

	return out, nil
}

// remap translates failing positions in the miss slice back to positions in
// the caller's input.
func (c *Cache) remap(missIdx []int, missTexts []string, missPos map[string][]int) []int {
	var out []int
	for _, mi := range missIdx {
		if mi < 0 || mi >= len(missTexts) {
			continue
		}
		out = append(out, missPos[missTexts[mi]]...)
	}
	return out
}

// get must be called with mu held.
func (c *Cache) get(text string) ([]float32, bool) {
	el, ok := c.items[text]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).vec, true
}

// put must be called with mu held.
func (c *Cache) put(text string, vec []float32) {
	if el, ok := c.items[text]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).vec = vec
		return
	}
	c.items[text] = c.ll.PushFront(&cacheEntry{text: text, vec: vec})
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).text)
	}
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
