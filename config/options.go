package config

import "sync"

// OptionMonitor 总是返回最新配置值的选项
type OptionMonitor[T any] interface {
	Value() T
}

// OptionsCache 绑定一个配置节并在配置重载后自动更新
type OptionsCache[T any] struct {
	config  Configuration
	section string
	base    T

	mu        sync.RWMutex
	current   T
	lastErr   error
	listeners []func(T)
}

// NewOptionsCache 在 base 之上绑定 section 并注册重载回调。
// 初次绑定失败时返回错误；之后重载失败保留上一次的值，错误经 Err 查询
func NewOptionsCache[T any](cfg Configuration, section string, base T) (*OptionsCache[T], error) {
	current, err := LoadInto(cfg, section, base)
	if err != nil {
		return nil, err
	}

	cache := &OptionsCache[T]{
		config:  cfg,
		section: section,
		base:    base,
		current: current,
	}
	cfg.OnReload(cache.reload)
	return cache, nil
}

func (c *OptionsCache[T]) reload() {
	value, err := LoadInto(c.config, c.section, c.base)

	c.mu.Lock()
	c.lastErr = err
	if err != nil {
		c.mu.Unlock()
		return
	}
	c.current = value
	listeners := append([]func(T){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(value)
	}
}

// Get 获取当前配置值
func (c *OptionsCache[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Err 返回最近一次重载的绑定错误
func (c *OptionsCache[T]) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// OnChange 注册重载成功后的回调，参数为新值
func (c *OptionsCache[T]) OnChange(fn func(T)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

type optionMonitor[T any] struct {
	cache *OptionsCache[T]
}

func (o *optionMonitor[T]) Value() T {
	return o.cache.Get()
}

// NewOptionMonitor 创建监听配置选项
func NewOptionMonitor[T any](cache *OptionsCache[T]) OptionMonitor[T] {
	return &optionMonitor[T]{cache: cache}
}
