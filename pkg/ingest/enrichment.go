package ingest

import (
	"container/list"
	"strings"
	"sync"
)

// toolNameCache is a bounded LRU mapping "session_id:tool_use_id" →
// tool_name, populated on tool.execution_started and consulted on
// tool.execution_completed/tool.execution_failed to backfill a missing
// name (spec §9 "Tool name enrichment"). Capacity defaults to 1024. Keys
// are composite on session_id so two sessions that happen to reuse a
// tool_use_id value never collide; evictSession drops every entry for a
// session once that session's end event is ingested.
type toolNameCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type cacheEntry struct {
	key   string
	value string
}

func newToolNameCache(capacity int) *toolNameCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &toolNameCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (c *toolNameCache) put(toolUseID, toolName string) {
	if toolUseID == "" || toolName == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[toolUseID]; ok {
		c.order.MoveToFront(el)
		el.Value.(*cacheEntry).value = toolName
		return
	}

	el := c.order.PushFront(&cacheEntry{key: toolUseID, value: toolName})
	c.entries[toolUseID] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *toolNameCache) get(toolUseID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[toolUseID]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

// evictSession drops every entry belonging to sessionID, called when a
// session.ended or session.completed event for that session is ingested so
// the cache doesn't hold tool names for sessions that will never see
// another event.
func (c *toolNameCache) evictSession(sessionID string) {
	prefix := sessionID + ":"
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, el := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.order.Remove(el)
			delete(c.entries, key)
		}
	}
}
