package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLoggerOptions zap 日志选项
type ZapLoggerOptions struct {
	// Encoding 取值 "json" 或 "console"，默认 json
	Encoding string
	Output   io.Writer
}

// ZapLoggerProvider 基于 zap 的日志提供者，适合生产环境输出结构化日志
type ZapLoggerProvider struct {
	base  *zap.Logger
	level zap.AtomicLevel
}

// NewZapLoggerProvider 创建 zap 日志提供者
func NewZapLoggerProvider(options ZapLoggerOptions) *ZapLoggerProvider {
	if options.Output == nil {
		options.Output = os.Stdout
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.NameKey = "category"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if options.Encoding == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core := zapcore.NewCore(encoder, zapcore.AddSync(options.Output), level)

	return &ZapLoggerProvider{
		base:  zap.New(core, zap.WithFatalHook(deferredExit{})),
		level: level,
	}
}

func (p *ZapLoggerProvider) CreateLogger(category string) Logger {
	return &zapLogger{provider: p, logger: p.base.Named(category), category: category}
}

func (p *ZapLoggerProvider) SetMinimumLevel(level LogLevel) {
	p.level.SetLevel(toZapLevel(level))
}

// Close 刷新 zap 缓冲
func (p *ZapLoggerProvider) Close() error {
	return ignoreSyncErr(p.base.Sync())
}

// deferredExit 让 zap 写完 FATAL 条目后不退出，进程退出由本包的 Fatal 统一控制。
// zap 会把 WriteThenNoop 强制改成 WriteThenFatal，所以需要自定义 hook。
type deferredExit struct{}

func (deferredExit) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LogLevelTrace, LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelInfo:
		return zapcore.InfoLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.NamedError(f.Key, err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

// ignoreSyncErr 标准输出在部分平台上 Sync 会返回 EINVAL，可以忽略
func ignoreSyncErr(err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*os.PathError); ok && (pe.Path == "/dev/stdout" || pe.Path == "/dev/stderr") {
		return nil
	}
	return err
}

type zapLogger struct {
	provider *ZapLoggerProvider
	logger   *zap.Logger
	category string
}

func (l *zapLogger) Trace(msg string, fields ...Field) { l.Log(LogLevelTrace, msg, fields...) }
func (l *zapLogger) Debug(msg string, fields ...Field) { l.Log(LogLevelDebug, msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.Log(LogLevelInfo, msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.Log(LogLevelWarn, msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.Log(LogLevelError, msg, fields...) }

func (l *zapLogger) Fatal(msg string, fields ...Field) {
	l.Log(LogLevelFatal, msg, fields...)
	_ = l.Sync()
	exitFunc(1)
}

func (l *zapLogger) Log(level LogLevel, msg string, fields ...Field) {
	if ce := l.logger.Check(toZapLevel(level), msg); ce != nil {
		ce.Write(toZapFields(fields)...)
	}
}

func (l *zapLogger) Sync() error {
	return ignoreSyncErr(l.logger.Sync())
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{provider: l.provider, logger: l.logger.With(toZapFields(fields)...), category: l.category}
}

func (l *zapLogger) WithCategory(category string) Logger {
	return &zapLogger{provider: l.provider, logger: l.provider.base.Named(category), category: category}
}
