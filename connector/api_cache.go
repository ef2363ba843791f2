package connector

import (
	"sync"
	"time"
)

// appSummary 上游应用列表里的一条摘要记录
type appSummary struct {
	ID               string
	Name             string
	Description      string
	Mode             string
	HasWorkflowField bool
}

// appListCache 无搜索条件的全量应用列表缓存。
// 显式的时间戳 + TTL 状态；任何带搜索条件的列表都绕过它。
type appListCache struct {
	mu        sync.RWMutex
	apps      []appSummary
	fetchedAt time.Time
	ttl       time.Duration
}

func newAppListCache(ttl time.Duration) *appListCache {
	return &appListCache{ttl: ttl}
}

// get 返回缓存内容；缓存为空或已过期时返回 (nil, false)
func (c *appListCache) get(now time.Time) ([]appSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.apps == nil || c.fetchedAt.IsZero() {
		return nil, false
	}
	if now.Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.apps, true
}

// set 写入缓存并刷新时间戳
func (c *appListCache) set(apps []appSummary, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apps = apps
	c.fetchedAt = now
}

// invalidate 清空缓存
func (c *appListCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apps = nil
	c.fetchedAt = time.Time{}
}
