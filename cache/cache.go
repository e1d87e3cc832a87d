// Package cache 提供带容量上限的泛型 LRU 缓存
//
// gokeep 用它缓存按类型反射得到的字段元数据，以及 sqlstore 为每个类型生成的 SQL 语句。
// 并发安全。
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Cache 通用泛型缓存
//
//	meta := cache.New[reflect.Type, *Meta](cache.Config{Name: "entity_meta", MaxSize: 512})
//	m, err := meta.GetOrLoad(t, describe)
type Cache[K comparable, V any] struct {
	config Config

	mu      sync.Mutex
	items   map[K]*list.Element
	lruList *list.List // 最近使用的在前
	stats   Stats
}

type cacheEntry[K comparable, V any] struct {
	key        K
	value      V
	accessedAt time.Time
}

// Config 缓存配置
type Config struct {
	// Name 缓存名称（用于日志和统计）
	Name string

	// MaxSize 最大条目数，0 表示不限制
	MaxSize int

	// TTL 基于访问时间的过期时间，0 表示永不过期
	TTL time.Duration
}

// Stats 缓存统计信息
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expires   int64
	Size      int
}

// New 创建新的缓存实例
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	return &Cache[K, V]{
		config:  config,
		items:   make(map[K]*list.Element),
		lruList: list.New(),
	}
}

// Get 获取未过期的缓存值
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[K, V]) getLocked(key K) (value V, found bool) {
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return value, false
	}
	entry := el.Value.(*cacheEntry[K, V])
	if c.config.TTL > 0 && time.Since(entry.accessedAt) >= c.config.TTL {
		c.removeLocked(el)
		c.stats.Misses++
		c.stats.Expires++
		return value, false
	}
	entry.accessedAt = time.Now()
	c.lruList.MoveToFront(el)
	c.stats.Hits++
	return entry.value, true
}

// Set 设置缓存值，超出容量时驱逐最久未使用的条目
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *Cache[K, V]) setLocked(key K, value V) {
	now := time.Now()
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry[K, V])
		entry.value = value
		entry.accessedAt = now
		c.lruList.MoveToFront(el)
		return
	}
	if c.config.MaxSize > 0 && len(c.items) >= c.config.MaxSize {
		if oldest := c.lruList.Back(); oldest != nil {
			c.removeLocked(oldest)
			c.stats.Evictions++
		}
	}
	c.items[key] = c.lruList.PushFront(&cacheEntry[K, V]{key: key, value: value, accessedAt: now})
}

// GetOrLoad 命中时直接返回，否则调用 load 并缓存成功结果
//
// load 在锁内执行，同一 key 不会被并发加载；load 不得再访问同一缓存。
func (c *Cache[K, V]) GetOrLoad(key K, load func(K) (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.getLocked(key); ok {
		return v, nil
	}
	v, err := load(key)
	if err != nil {
		return v, err
	}
	c.setLocked(key, v)
	return v, nil
}

// Delete 删除缓存条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// Clear 清空所有缓存
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.lruList.Init()
}

// Size 获取当前缓存条目数
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats 获取统计信息副本
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

func (c *Cache[K, V]) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry[K, V])
	c.lruList.Remove(el)
	delete(c.items, entry.key)
}

// String 返回缓存信息的字符串表示
func (c *Cache[K, V]) String() string {
	s := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, evictions=%d, expires=%d",
		c.config.Name, s.Size, c.config.MaxSize, s.Hits, s.Misses, s.Evictions, s.Expires)
}
