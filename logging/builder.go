package logging

import (
	"os"
	"sync"
	"sync/atomic"
)

// LoggingBuilder 日志构建器
type LoggingBuilder struct {
	providers    []LoggerProvider
	minimumLevel LogLevel
	mu           sync.RWMutex
}

// NewLoggingBuilder 创建日志构建器
func NewLoggingBuilder() *LoggingBuilder {
	return &LoggingBuilder{
		providers:    make([]LoggerProvider, 0),
		minimumLevel: LogLevelInfo,
	}
}

// SetMinimumLevel 设置最小日志级别
func (b *LoggingBuilder) SetMinimumLevel(level LogLevel) *LoggingBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minimumLevel = level
	return b
}

// AddProvider 添加日志提供者
func (b *LoggingBuilder) AddProvider(provider LoggerProvider) *LoggingBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.providers = append(b.providers, provider)
	return b
}

// AddConsole 添加控制台日志
func (b *LoggingBuilder) AddConsole(options ...ConsoleLoggerOptions) *LoggingBuilder {
	opts := ConsoleLoggerOptions{
		IncludeTimestamp: true,
		TimestampFormat:  "2006-01-02 15:04:05",
		ColorOutput:      true,
		Output:           os.Stdout,
	}
	if len(options) > 0 {
		opts = options[0]
	}
	return b.AddProvider(NewConsoleLoggerProvider(opts))
}

// AddZap 添加 zap 结构化日志
func (b *LoggingBuilder) AddZap(options ...ZapLoggerOptions) *LoggingBuilder {
	var opts ZapLoggerOptions
	if len(options) > 0 {
		opts = options[0]
	}
	return b.AddProvider(NewZapLoggerProvider(opts))
}

// AddStream 添加异步流式日志（文件或任意 io.Writer）
func (b *LoggingBuilder) AddStream(options StreamLoggerOptions) (*LoggingBuilder, error) {
	provider, err := NewStreamLoggerProvider(options)
	if err != nil {
		return b, err
	}
	return b.AddProvider(provider), nil
}

// Build 构建日志工厂
func (b *LoggingBuilder) Build() LoggerFactory {
	b.mu.RLock()
	defer b.mu.RUnlock()

	level := new(atomic.Int32)
	level.Store(int32(b.minimumLevel))
	factory := &loggerFactory{
		providers:    make([]LoggerProvider, 0, len(b.providers)),
		minimumLevel: level,
	}
	for _, provider := range b.providers {
		factory.AddProvider(provider)
	}
	return factory
}
