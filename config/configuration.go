// Package config 分层配置：多个配置源按添加顺序合并，后面的覆盖前面的。
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ErrKeyNotFound 配置键不存在
var ErrKeyNotFound = errors.New("config: key not found")

// Configuration 配置接口（类似于 .NET Core IConfiguration）
type Configuration interface {
	// Get 获取配置值
	Get(key string) string
	// GetWithDefault 获取配置值，如果不存在则返回默认值
	GetWithDefault(key, defaultValue string) string
	// GetInt 获取整数配置值
	GetInt(key string) (int, error)
	// GetBool 获取布尔配置值
	GetBool(key string) (bool, error)
	// GetDuration 获取时长配置值（"5s"、"1m30s"，纯数字按秒计）
	GetDuration(key string) (time.Duration, error)
	// GetSection 获取配置节
	GetSection(key string) Configuration
	// Bind 绑定配置到结构体
	Bind(key string, target any) error
	// GetAll 获取所有配置
	GetAll() map[string]any
	// Reload 重新读取所有配置源；失败时保留当前配置
	Reload() error
	// OnReload 注册重载成功后的回调
	OnReload(fn func())
}

// ConfigurationBuilder 配置构建器
type ConfigurationBuilder struct {
	sources []ConfigurationSource
	mu      sync.RWMutex
}

// ConfigurationSource 配置源接口
type ConfigurationSource interface {
	Load() (map[string]any, error)
	Name() string
}

// NewConfigurationBuilder 创建配置构建器
func NewConfigurationBuilder() *ConfigurationBuilder {
	return &ConfigurationBuilder{
		sources: make([]ConfigurationSource, 0),
	}
}

// Add 添加配置源
func (b *ConfigurationBuilder) Add(source ConfigurationSource) *ConfigurationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources = append(b.sources, source)
	return b
}

// AddJsonFile 添加 JSON 文件配置源
func (b *ConfigurationBuilder) AddJsonFile(path string, optional ...bool) *ConfigurationBuilder {
	isOptional := len(optional) > 0 && optional[0]
	return b.Add(&JsonFileSource{Path: path, Optional: isOptional})
}

// AddYamlFile 添加 YAML 文件配置源
func (b *ConfigurationBuilder) AddYamlFile(path string, optional ...bool) *ConfigurationBuilder {
	isOptional := len(optional) > 0 && optional[0]
	return b.Add(&YamlFileSource{Path: path, Optional: isOptional})
}

// AddEnvironmentVariables 添加环境变量配置源
func (b *ConfigurationBuilder) AddEnvironmentVariables(prefix string) *ConfigurationBuilder {
	return b.Add(&EnvironmentVariableSource{Prefix: prefix})
}

// AddInMemory 添加内存配置源
func (b *ConfigurationBuilder) AddInMemory(data map[string]any) *ConfigurationBuilder {
	return b.Add(&InMemorySource{Data: data})
}

// AddTomlFile 添加 TOML 文件配置源
func (b *ConfigurationBuilder) AddTomlFile(path string, optional ...bool) *ConfigurationBuilder {
	isOptional := len(optional) > 0 && optional[0]
	return b.Add(&TomlFileSource{Path: path, Optional: isOptional})
}

// AddFile 按扩展名选择 JSON / YAML / TOML 文件配置源
func (b *ConfigurationBuilder) AddFile(path string, optional ...bool) *ConfigurationBuilder {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return b.AddJsonFile(path, optional...)
	case ".toml":
		return b.AddTomlFile(path, optional...)
	default:
		return b.AddYamlFile(path, optional...)
	}
}

// Sources 返回已添加的配置源
func (b *ConfigurationBuilder) Sources() []ConfigurationSource {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]ConfigurationSource(nil), b.sources...)
}

// Build 构建配置
func (b *ConfigurationBuilder) Build() (Configuration, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	config := &configuration{
		store:   NewValueStore(),
		sources: append([]ConfigurationSource(nil), b.sources...),
	}
	if err := config.Reload(); err != nil {
		return nil, err
	}
	return config, nil
}

// configuration 配置实现。数据整体存放在 ValueStore 中，
// 读取无锁，重载时原子替换，已存入的 map 不再修改
type configuration struct {
	store   *ValueStore
	sources []ConfigurationSource

	mu        sync.Mutex
	callbacks []func()
}

func loadSources(sources []ConfigurationSource) (map[string]any, error) {
	data := make(map[string]any)
	for _, source := range sources {
		d, err := source.Load()
		if err != nil {
			return nil, fmt.Errorf("config: failed to load source %s: %w", source.Name(), err)
		}
		mergeMaps(data, d)
	}
	return data, nil
}

func (c *configuration) Reload() error {
	data, err := loadSources(c.sources)
	if err != nil {
		return err
	}
	c.store.Store(data)

	c.mu.Lock()
	callbacks := append([]func(){}, c.callbacks...)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

func (c *configuration) OnReload(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

func (c *configuration) lookup(key string) (any, error) {
	if v := getByPath(c.store.Load(), key); v != nil {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
}

func (c *configuration) Get(key string) string {
	v, err := c.lookup(key)
	if err != nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (c *configuration) GetWithDefault(key, defaultValue string) string {
	if v := c.Get(key); v != "" {
		return v
	}
	return defaultValue
}

func (c *configuration) GetInt(key string) (int, error) {
	v, err := c.lookup(key)
	if err != nil {
		return 0, err
	}
	return toInt(v)
}

func (c *configuration) GetBool(key string) (bool, error) {
	v, err := c.lookup(key)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	}
	return false, fmt.Errorf("config: %s: cannot convert %T to bool", key, v)
}

func (c *configuration) GetDuration(key string) (time.Duration, error) {
	v, err := c.lookup(key)
	if err != nil {
		return 0, err
	}
	switch d := v.(type) {
	case string:
		return time.ParseDuration(d)
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: cannot convert %T to duration", key, v)
	}
	return time.Duration(n) * time.Second, nil
}

// toInt JSON 解出 float64，TOML 解出 int64，YAML 与环境变量解出 int
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("config: cannot convert %T to int", v)
}

// GetSection 返回子节的副本；键不存在或不是节时返回空配置。
// 子节不跟随重载
func (c *configuration) GetSection(key string) Configuration {
	data := make(map[string]any)
	if v, err := c.lookup(key); err == nil {
		if m, ok := v.(map[string]any); ok {
			mergeMaps(data, m)
		}
	}
	section := &configuration{store: NewValueStore()}
	section.store.Store(data)
	return section
}

// Bind 把 key 下的值绑定到 target；key 为空时绑定整个配置。
// 按 json 标签匹配字段，字符串按字段类型弱类型转换（"8" → int，"true" → bool，"5s" → time.Duration）
func (c *configuration) Bind(key string, target any) error {
	data, err := c.lookup(key)
	if err != nil {
		return err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           target,
	})
	if err != nil {
		return fmt.Errorf("config: failed to bind %q: %w", key, err)
	}

	// 绑定副本，目标中的 map 字段不与存储共享
	if m, ok := data.(map[string]any); ok {
		cp := make(map[string]any, len(m))
		mergeMaps(cp, m)
		data = cp
	}
	if err := decoder.Decode(data); err != nil {
		return fmt.Errorf("config: failed to bind %q: %w", key, err)
	}
	return nil
}

// GetAll 返回全部配置的副本
func (c *configuration) GetAll() map[string]any {
	result := make(map[string]any)
	mergeMaps(result, c.store.Load())
	return result
}

// getByPath 按 "a:b:c" 或 "a.b.c" 逐级查找，空路径返回根
func getByPath(data map[string]any, path string) any {
	var current any = data
	if path == "" {
		return current
	}
	for _, part := range globalPathCache.Segments(path) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// mergeMaps 深度合并两个 map，嵌套 map 总是复制，dst 不与 src 共享
func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			dstMap, ok := dst[k].(map[string]any)
			if !ok {
				dstMap = make(map[string]any, len(srcMap))
				dst[k] = dstMap
			}
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}
