package planner

import "container/list"

// planCache is a fixed-capacity LRU over canonical query keys. A map gives
// O(1) access; the intrusive list tracks eviction order so no hit-count
// scan is ever needed.
type planCache struct {
	capacity  int
	entries   map[string]*list.Element
	order     *list.List // front = most recently used
	hits      int64
	misses    int64
	evictions int64
}

type cacheEntry struct {
	key  string
	plan *PlanNode
}

func newPlanCache(capacity int) *planCache {
	return &planCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *planCache) get(key string) *PlanNode {
	if key == "" || c.capacity <= 0 {
		return nil
	}
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).plan
}

func (c *planCache) put(key string, plan *PlanNode) {
	if key == "" || c.capacity <= 0 {
		return
	}
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).plan = plan
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, plan: plan})
	for c.order.Len() > c.capacity {
		back := c.order.Back()
		c.order.Remove(back)
		delete(c.entries, back.Value.(*cacheEntry).key)
		c.evictions++
	}
}

func (c *planCache) purge() {
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *planCache) len() int {
	return c.order.Len()
}
