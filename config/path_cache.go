package config

import (
	"strings"
	"sync"
)

// maxCachedPaths 超过后不再缓存新路径，避免任意键撑大缓存
const maxCachedPaths = 1024

// PathCache 缓存配置路径的分段结果
type PathCache struct {
	cache sync.Map
	size  sync.Mutex
	count int
}

// Segments 按 ':' 或 '.' 拆分路径，忽略空段
func (c *PathCache) Segments(path string) []string {
	if v, ok := c.cache.Load(path); ok {
		return v.([]string)
	}

	parts := strings.FieldsFunc(path, func(r rune) bool { return r == ':' || r == '.' })

	c.size.Lock()
	if c.count < maxCachedPaths {
		if _, loaded := c.cache.LoadOrStore(path, parts); !loaded {
			c.count++
		}
	}
	c.size.Unlock()
	return parts
}

var globalPathCache = &PathCache{}
