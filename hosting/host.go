// Package hosting 托管一个服务及其工作者池的完整生命周期。
//
// 启动顺序：工作者池 → 服务。收到终止信号后的关闭顺序：服务 → 工作者池。
// 服务的 Shutdown 返回之前，池绝不会开始停止。
package hosting

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gocrud/servicehost/logging"
	"github.com/gocrud/servicehost/signals"
	"github.com/gocrud/servicehost/workerpool"
)

// State 宿主状态
type State int32

const (
	StateConstructing State = iota
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ShutdownReport 关闭流程的结果
type ShutdownReport struct {
	// Trigger 触发关闭的信号名，或 ctx 结束的原因
	Trigger  string
	Pool     workerpool.StopReport
	Duration time.Duration
}

// Host 服务宿主：持有一个服务和一个工作者池
type Host[T any, S Service] struct {
	id      string
	shared  T
	service S
	pool    *workerpool.Pool
	opts    options
	logger  logging.Logger

	state  atomic.Int32
	report atomic.Pointer[ShutdownReport]
}

// CreateAndStart 创建工作者池并启动服务。
// 池构建失败时返回 *workerpool.InitError，不返回任何宿主。
func CreateAndStart[T any, S Service](workerCount int, shared T, factory Factory[T, S], opts ...Option) (*Host[T, S], error) {
	if factory == nil {
		return nil, ErrNilFactory
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewLogger().WithCategory("ServiceHost")
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	h := &Host[T, S]{
		id:     o.id,
		shared: shared,
		opts:   o,
	}
	h.logger = o.logger.WithFields(logging.Field{Key: "host_id", Value: h.id})
	h.setState(StateConstructing)

	poolOpts := append([]workerpool.Option{
		workerpool.WithLogger(h.logger.WithCategory("WorkerPool")),
	}, o.poolOptions...)

	pool, err := workerpool.New(workerCount, poolOpts...)
	if err != nil {
		h.logger.Error("Failed to create worker pool", logging.Err(err))
		return nil, err
	}
	h.pool = pool

	h.service = h.construct(factory)
	h.setState(StateRunning)

	h.logger.Info("Service host started",
		logging.Field{Key: "workers", Value: workerCount})
	return h, nil
}

// construct 调用工厂；工厂 panic 时先停止池再继续 panic，不留下运行中的工作者
func (h *Host[T, S]) construct(factory Factory[T, S]) S {
	ok := false
	defer func() {
		if !ok {
			h.pool.Stop()
			h.setState(StateTerminated)
		}
	}()
	service := factory(h.shared, h.pool)
	ok = true
	return service
}

// ID 宿主实例 ID
func (h *Host[T, S]) ID() string {
	return h.id
}

// Shared 返回共享上下文
func (h *Host[T, S]) Shared() T {
	return h.shared
}

// Workers 返回工作者数量
func (h *Host[T, S]) Workers() int {
	return h.pool.Workers()
}

// PoolStats 返回工作者池统计
func (h *Host[T, S]) PoolStats() workerpool.Stats {
	return h.pool.Stats()
}

// State 返回当前状态
func (h *Host[T, S]) State() State {
	return State(h.state.Load())
}

// Report 返回关闭结果，Terminated 之前返回零值
func (h *Host[T, S]) Report() ShutdownReport {
	if r := h.report.Load(); r != nil {
		return *r
	}
	return ShutdownReport{}
}

// WaitForSignal 阻塞直到收到终止信号，然后依次关闭服务和工作者池。
// 宿主只能被等待一次，之后的调用返回 ErrHostConsumed。
// 信号监听保持到关闭流程结束，期间再到达的信号被丢弃；结束后这些信号被忽略。
func (h *Host[T, S]) WaitForSignal() error {
	return h.WaitForSignalContext(context.Background())
}

// WaitForSignalContext 同 WaitForSignal，ctx 结束同样触发关闭
func (h *Host[T, S]) WaitForSignalContext(ctx context.Context) error {
	if !h.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		return ErrHostConsumed
	}
	h.notifyState(StateShuttingDown)

	waiter, err := signals.Register(h.opts.notifier, h.opts.signals...)
	if err != nil {
		// 注册失败时还没有开始任何关闭操作
		h.logger.Error("Failed to register signal handlers", logging.Err(err))
		h.setState(StateTerminated)
		return err
	}
	defer waiter.Close()

	h.logger.Info("Waiting for termination signal",
		logging.Field{Key: "signals", Value: fmt.Sprint(waiter.Signals())})

	sig, err := waiter.Wait(ctx)
	var trigger string
	switch {
	case err == nil:
		trigger = sig.String()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		trigger = "context: " + err.Error()
	default:
		var chErr *signals.ChannelError
		if !errors.As(err, &chErr) {
			chErr = &signals.ChannelError{Err: err}
		}
		h.opts.fatal(h.logger, chErr)
		h.setState(StateTerminated)
		return chErr
	}

	h.shutdown(trigger)
	return nil
}

func (h *Host[T, S]) shutdown(trigger string) {
	start := time.Now()
	h.logger.Info("Shutdown sequence initiated", logging.Field{Key: "signal", Value: trigger})

	h.service.Shutdown()
	h.logger.Debug("Service shutdown complete")

	report, ok := h.stopPool()
	switch {
	case !ok:
	case report.Clean:
		h.logger.Info("Worker pool drained",
			logging.Field{Key: "completed", Value: report.Completed},
			logging.Field{Key: "duration", Value: report.Duration.String()})
	default:
		h.logger.Warn("Worker pool drained with contained panics",
			logging.Field{Key: "panics", Value: len(report.Panics)},
			logging.Err(report.Err()))
	}

	h.report.Store(&ShutdownReport{
		Trigger:  trigger,
		Pool:     report,
		Duration: time.Since(start),
	})
	h.setState(StateTerminated)
	h.logger.Info("Service host stopped")
}

// stopPool 在 panic 边界内停止池
func (h *Host[T, S]) stopPool() (report workerpool.StopReport, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Worker pool stop panicked",
				logging.Field{Key: "panic", Value: fmt.Sprint(r)})
			report = workerpool.StopReport{
				Panics: []workerpool.TaskPanic{{Worker: -1, Value: r, Draining: true}},
			}
			ok = false
		}
	}()
	return h.pool.Stop(), true
}

func (h *Host[T, S]) setState(s State) {
	h.state.Store(int32(s))
	h.notifyState(s)
}

func (h *Host[T, S]) notifyState(s State) {
	for _, fn := range h.opts.observers {
		fn(s)
	}
}
