package logging

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// StreamLoggerOptions 流式日志选项（文件、管道等）
type StreamLoggerOptions struct {
	// Path 非空时以追加模式打开文件，优先于 Output
	Path       string
	Output     io.Writer
	Formatter  Formatter
	BufferSize int
}

// StreamLoggerProvider 基于 AsyncWriter 的日志提供者
type StreamLoggerProvider struct {
	writer       *AsyncWriter
	minimumLevel atomic.Int32
}

// NewStreamLoggerProvider 创建流式日志提供者
func NewStreamLoggerProvider(options StreamLoggerOptions) (*StreamLoggerProvider, error) {
	out := options.Output
	if options.Path != "" {
		file, err := os.OpenFile(options.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: failed to open log file: %w", err)
		}
		out = file
	}
	if out == nil {
		out = os.Stdout
	}
	if options.Formatter == nil {
		options.Formatter = NewJsonFormatter()
	}

	p := &StreamLoggerProvider{
		writer: NewAsyncWriter(out, options.Formatter, options.BufferSize),
	}
	p.minimumLevel.Store(int32(LogLevelInfo))
	return p, nil
}

func (p *StreamLoggerProvider) CreateLogger(category string) Logger {
	return &streamLogger{provider: p, category: category}
}

func (p *StreamLoggerProvider) SetMinimumLevel(level LogLevel) {
	p.minimumLevel.Store(int32(level))
}

// Close 刷新队列并关闭底层输出
func (p *StreamLoggerProvider) Close() error {
	return p.writer.Close()
}

type streamLogger struct {
	provider *StreamLoggerProvider
	category string
	fields   []Field
}

func (l *streamLogger) Trace(msg string, fields ...Field) { l.Log(LogLevelTrace, msg, fields...) }
func (l *streamLogger) Debug(msg string, fields ...Field) { l.Log(LogLevelDebug, msg, fields...) }
func (l *streamLogger) Info(msg string, fields ...Field)  { l.Log(LogLevelInfo, msg, fields...) }
func (l *streamLogger) Warn(msg string, fields ...Field)  { l.Log(LogLevelWarn, msg, fields...) }
func (l *streamLogger) Error(msg string, fields ...Field) { l.Log(LogLevelError, msg, fields...) }

func (l *streamLogger) Fatal(msg string, fields ...Field) {
	l.Log(LogLevelFatal, msg, fields...)
	_ = l.Sync()
	exitFunc(1)
}

// Sync 关闭写入器以刷新队列，只应在进程退出前调用
func (l *streamLogger) Sync() error {
	return l.provider.Close()
}

func (l *streamLogger) Log(level LogLevel, msg string, fields ...Field) {
	if int32(level) < l.provider.minimumLevel.Load() {
		return
	}
	_ = l.provider.writer.WriteLog(newEntry(level, l.category, msg, mergeFields(l.fields, fields)))
}

func (l *streamLogger) WithFields(fields ...Field) Logger {
	return &streamLogger{provider: l.provider, category: l.category, fields: mergeFields(l.fields, fields)}
}

func (l *streamLogger) WithCategory(category string) Logger {
	return &streamLogger{provider: l.provider, category: category, fields: l.fields}
}
