package config

import "errors"

// Load 加载并绑定指定节的配置到结构体 T，section 为空时绑定整个配置
func Load[T any](cfg Configuration, section string) (T, error) {
	var t T
	err := cfg.Bind(section, &t)
	return t, err
}

// LoadInto 在 base（通常是默认值）之上绑定指定节，配置中缺失的字段保持原值。
// 节不存在时直接返回 base
func LoadInto[T any](cfg Configuration, section string, base T) (T, error) {
	err := cfg.Bind(section, &base)
	if errors.Is(err, ErrKeyNotFound) {
		return base, nil
	}
	return base, err
}
