package workerpool

import (
	"time"

	"github.com/gocrud/servicehost/logging"
)

// Observer 接收池内事件，用于指标采集。实现必须并发安全；TaskSubmitted 在池锁内调用，不能回调池
type Observer interface {
	TaskSubmitted()
	TaskFinished(d time.Duration, panicked bool)
	StateChanged(state State)
}

type nopObserver struct{}

func (nopObserver) TaskSubmitted()                   {}
func (nopObserver) TaskFinished(time.Duration, bool) {}
func (nopObserver) StateChanged(State)               {}

// Option 池配置选项
type Option func(*options)

type options struct {
	init         func(worker int) error
	lockOSThread bool
	logger       logging.Logger
	observer     Observer
}

func defaultOptions() options {
	return options{
		logger:   logging.Nop(),
		observer: nopObserver{},
	}
}

// WithWorkerInit 设置工作者启动钩子，任一钩子失败（或 panic）都会使 New 返回 InitError
func WithWorkerInit(fn func(worker int) error) Option {
	return func(o *options) {
		o.init = fn
	}
}

// WithOSThreads 将每个工作者固定到独立的 OS 线程
func WithOSThreads() Option {
	return func(o *options) {
		o.lockOSThread = true
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver 设置事件观察者
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}
