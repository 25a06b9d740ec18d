// Package workerpool 提供固定大小的工作者池。
//
// 池的生命周期只有一个方向：Running → Draining → Stopped。
// Stop 是排空而不是强杀：它立即拒绝新任务，等待已排队和正在执行的任务全部结束。
// 任务中的 panic 会被捕获并记录，不会让进程崩溃。
//
// 池不对任务做超时控制。一个永不返回的任务会让 Stop 永远阻塞。
package workerpool

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocrud/servicehost/logging"
)

// Task 一个工作单元
type Task func()

// State 池状态
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats 池运行时统计快照
type Stats struct {
	Workers   int
	Submitted uint64
	Completed uint64
	Panicked  uint64
	Queued    int
	Active    int
}

// StopReport Stop 的结果
type StopReport struct {
	// Clean 为 false 表示排空期间有任务 panic（已被捕获）
	Clean     bool
	Completed uint64
	// Panicked 池整个生命周期内捕获的 panic 总数
	Panicked uint64
	// Panics 排空期间捕获的 panic
	Panics   []TaskPanic
	Duration time.Duration
}

// Err 排空不干净时返回 *PanicError
func (r StopReport) Err() error {
	if r.Clean {
		return nil
	}
	return &PanicError{Panics: r.Panics}
}

// Pool 固定大小的工作者池
type Pool struct {
	workers int
	opts    options

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Task
	state  State
	active int
	panics []TaskPanic

	wg sync.WaitGroup

	submitted atomic.Uint64
	completed atomic.Uint64
	panicked  atomic.Uint64

	stopOnce sync.Once
	report   StopReport
}

// New 启动 workers 个工作者并等待它们全部就绪
func New(workers int, opts ...Option) (*Pool, error) {
	if workers < 1 {
		return nil, &InitError{Workers: workers, Worker: -1, Err: ErrInvalidWorkerCount}
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool{
		workers: workers,
		opts:    o,
		state:   StateRunning,
	}
	p.cond = sync.NewCond(&p.mu)

	ready := make(chan error, workers)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(i, ready)
	}

	var initErr error
	for i := 0; i < workers; i++ {
		if err := <-ready; err != nil && initErr == nil {
			initErr = err
		}
	}
	if initErr != nil {
		// 释放已就绪的工作者，构建失败时不留下任何协程
		p.mu.Lock()
		p.state = StateStopped
		p.mu.Unlock()
		p.cond.Broadcast()
		p.wg.Wait()
		return nil, initErr
	}

	p.opts.logger.Debug("Worker pool started",
		logging.Field{Key: "workers", Value: workers},
		logging.Field{Key: "os_threads", Value: o.lockOSThread})
	p.opts.observer.StateChanged(StateRunning)
	return p, nil
}

// Workers 返回工作者数量
func (p *Pool) Workers() int {
	return p.workers
}

// State 返回当前状态
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats 返回统计快照
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	queued, active := len(p.queue), p.active
	p.mu.Unlock()

	return Stats{
		Workers:   p.workers,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Queued:    queued,
		Active:    active,
	}
}

// Submit 提交任务，任何空闲工作者都可能执行它，任务间不保证顺序。
// 队列无界，Submit 不会阻塞。Stop 开始后返回 ErrPoolStopped。
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	p.queue = append(p.queue, task)
	// 在锁内计数，保证任何工作者取到该任务之前已记录提交
	p.submitted.Add(1)
	p.opts.observer.TaskSubmitted()
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Stop 停止接受新任务并等待所有已提交任务执行完毕。
// 只有第一次调用会执行排空，之后的调用等待并返回同一份报告。
// 不能在池内任务中调用 Stop，否则会死锁。
func (p *Pool) Stop() StopReport {
	p.stopOnce.Do(func() {
		start := time.Now()

		p.mu.Lock()
		p.state = StateDraining
		queued, active := len(p.queue), p.active
		p.mu.Unlock()
		p.cond.Broadcast()
		p.opts.observer.StateChanged(StateDraining)

		p.opts.logger.Info("Draining worker pool",
			logging.Field{Key: "queued", Value: queued},
			logging.Field{Key: "active", Value: active})

		p.wg.Wait()

		p.mu.Lock()
		p.state = StateStopped
		var drainPanics []TaskPanic
		for _, tp := range p.panics {
			if tp.Draining {
				drainPanics = append(drainPanics, tp)
			}
		}
		p.mu.Unlock()

		p.report = StopReport{
			Clean:     len(drainPanics) == 0,
			Completed: p.completed.Load(),
			Panicked:  p.panicked.Load(),
			Panics:    drainPanics,
			Duration:  time.Since(start),
		}
		p.opts.observer.StateChanged(StateStopped)
	})
	return p.report
}

func (p *Pool) work(id int, ready chan<- error) {
	defer p.wg.Done()

	if p.opts.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	if err := p.initWorker(id); err != nil {
		ready <- err
		return
	}
	ready <- nil

	for {
		task, ok := p.next()
		if !ok {
			return
		}
		p.run(id, task)
	}
}

func (p *Pool) initWorker(id int) (err error) {
	if p.opts.init == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &InitError{Workers: p.workers, Worker: id, Err: fmt.Errorf("init panicked: %v", r)}
		}
	}()
	if err := p.opts.init(id); err != nil {
		return &InitError{Workers: p.workers, Worker: id, Err: err}
	}
	return nil
}

// next 取出下一个任务；池在排空且队列为空时返回 false
func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && p.state == StateRunning {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}

	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.active++
	return task, true
}

func (p *Pool) run(id int, task Task) {
	start := time.Now()
	panicked := p.safeRun(id, task)

	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	if panicked {
		p.panicked.Add(1)
	} else {
		p.completed.Add(1)
	}
	p.opts.observer.TaskFinished(time.Since(start), panicked)
}

func (p *Pool) safeRun(id int, task Task) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			p.recordPanic(TaskPanic{Worker: id, Value: r, Stack: debug.Stack()})
		}
	}()
	task()
	return false
}

func (p *Pool) recordPanic(tp TaskPanic) {
	p.mu.Lock()
	tp.Draining = p.state != StateRunning
	p.panics = append(p.panics, tp)
	p.mu.Unlock()

	p.opts.logger.Error("Task panicked",
		logging.Field{Key: "worker", Value: tp.Worker},
		logging.Field{Key: "panic", Value: fmt.Sprint(tp.Value)},
		logging.Field{Key: "draining", Value: tp.Draining})
}
