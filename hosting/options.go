package hosting

import (
	"fmt"
	"io"
	"os"

	"github.com/gocrud/servicehost/logging"
	"github.com/gocrud/servicehost/signals"
	"github.com/gocrud/servicehost/workerpool"
)

// FatalHandler 处理信号通道失效。默认实现写 stderr、记录 FATAL 日志并以状态码 1 退出；
// 自定义实现如果返回，WaitForSignal 会直接返回该错误而不执行关闭流程
type FatalHandler func(logger logging.Logger, err error)

// StateObserver 接收宿主状态变化
type StateObserver func(state State)

// Option 宿主配置选项
type Option func(*options)

type options struct {
	id          string
	logger      logging.Logger
	notifier    signals.Notifier
	signals     []os.Signal
	fatal       FatalHandler
	poolOptions []workerpool.Option
	observers   []StateObserver
}

func defaultOptions() options {
	return options{
		notifier: signals.OS,
		signals:  signals.Termination,
		fatal:    DefaultFatalHandler,
	}
}

// 便于测试替换
var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

// DefaultFatalHandler 输出诊断信息并以状态码 1 终止进程。
// 以 FATAL 级别记录但不调用 logger.Fatal，退出统一由 exit 完成
func DefaultFatalHandler(logger logging.Logger, err error) {
	fmt.Fprintf(stderr, "servicehost: fatal: %v\n", err)
	logger.Log(logging.LogLevelFatal, "Signal wait failed, terminating", logging.Err(err))
	_ = logging.Sync(logger)
	exit(1)
}

// WithLogger 设置日志记录器，默认输出到控制台
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithID 指定宿主实例 ID，默认生成 UUID
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithNotifier 替换信号通知器（测试使用）
func WithNotifier(n signals.Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithSignals 覆盖监听的信号集合
func WithSignals(sigs ...os.Signal) Option {
	return func(o *options) {
		if len(sigs) > 0 {
			o.signals = sigs
		}
	}
}

// WithFatalHandler 覆盖信号通道失效时的处理
func WithFatalHandler(h FatalHandler) Option {
	return func(o *options) {
		if h != nil {
			o.fatal = h
		}
	}
}

// WithPoolOptions 透传工作者池选项
func WithPoolOptions(opts ...workerpool.Option) Option {
	return func(o *options) {
		o.poolOptions = append(o.poolOptions, opts...)
	}
}

// WithStateObserver 添加状态观察者
func WithStateObserver(fn StateObserver) Option {
	return func(o *options) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}
