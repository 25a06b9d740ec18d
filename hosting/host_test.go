package hosting

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/servicehost/logging"
	"github.com/gocrud/servicehost/signals"
	"github.com/gocrud/servicehost/workerpool"
)

// events 按发生顺序记录日志与调用
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, s)
}

func (e *events) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

func (e *events) index(s string) int {
	for i, v := range e.snapshot() {
		if v == s {
			return i
		}
	}
	return -1
}

// recordingLogger 把消息写入 events
type recordingLogger struct {
	ev *events
}

func (l recordingLogger) Trace(msg string, fields ...logging.Field) {}
func (l recordingLogger) Debug(msg string, fields ...logging.Field) {}
func (l recordingLogger) Info(msg string, fields ...logging.Field)  { l.ev.add("log:" + msg) }
func (l recordingLogger) Warn(msg string, fields ...logging.Field)  { l.ev.add("log:" + msg) }
func (l recordingLogger) Error(msg string, fields ...logging.Field) { l.ev.add("log:" + msg) }
func (l recordingLogger) Fatal(msg string, fields ...logging.Field) { l.ev.add("exit:" + msg) }
func (l recordingLogger) Log(level logging.LogLevel, msg string, fields ...logging.Field) {
	if level == logging.LogLevelFatal {
		l.ev.add("fatal:" + msg)
		return
	}
	l.ev.add("log:" + msg)
}
func (l recordingLogger) WithFields(...logging.Field) logging.Logger { return l }
func (l recordingLogger) WithCategory(string) logging.Logger         { return l }

// fakeNotifier 允许测试投递信号或模拟注册失败
type fakeNotifier struct {
	mu       sync.Mutex
	err      error
	ch       chan<- os.Signal
	reg      chan struct{}
	released atomic.Bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{reg: make(chan struct{})}
}

func (f *fakeNotifier) Notify(ch chan<- os.Signal, sigs ...os.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ch = ch
	close(f.reg)
	return nil
}

func (f *fakeNotifier) Release(chan<- os.Signal, ...os.Signal) { f.released.Store(true) }

func (f *fakeNotifier) send(t *testing.T, sig os.Signal) {
	t.Helper()
	select {
	case <-f.reg:
	case <-time.After(5 * time.Second):
		t.Fatal("signal handlers were never registered")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case f.ch <- sig:
	default:
	}
}

func (f *fakeNotifier) closeChannel(t *testing.T) {
	t.Helper()
	<-f.reg
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.ch)
}

type limitContext struct {
	Limit int
}

// countingService 启动时提交 Limit 个任务
type countingService struct {
	ev        *events
	executed  *atomic.Int32
	shutdowns atomic.Int32
}

func (s *countingService) Shutdown() {
	s.ev.add("service:shutdown:begin")
	s.shutdowns.Add(1)
	time.Sleep(5 * time.Millisecond)
	s.ev.add("service:shutdown:end")
}

// poolEvents 把池状态变化写入 events
type poolEvents struct {
	ev *events
}

func (p poolEvents) TaskSubmitted()                   {}
func (p poolEvents) TaskFinished(time.Duration, bool) {}
func (p poolEvents) StateChanged(s workerpool.State) {
	p.ev.add("pool:" + s.String())
}

func newCountingHost(t *testing.T, workers int, ev *events, n *fakeNotifier, executed *atomic.Int32, gate <-chan struct{}) (*Host[limitContext, *countingService], *countingService) {
	t.Helper()
	var svc *countingService

	host, err := CreateAndStart(workers, limitContext{Limit: 10},
		func(shared limitContext, pool Pool) *countingService {
			svc = &countingService{ev: ev, executed: executed}
			for i := 0; i < shared.Limit; i++ {
				require.NoError(t, pool.Submit(func() {
					if gate != nil {
						<-gate
					}
					executed.Add(1)
				}))
			}
			return svc
		},
		WithLogger(recordingLogger{ev: ev}),
		WithNotifier(n),
		WithPoolOptions(workerpool.WithObserver(poolEvents{ev: ev})),
	)
	require.NoError(t, err)
	return host, svc
}

func TestCreateAndStart_WorkerCount(t *testing.T) {
	for _, n := range []int{1, 2, 4, 8} {
		host, err := CreateAndStart(n, struct{}{},
			func(struct{}, Pool) ServiceFunc { return func() {} },
			WithLogger(logging.Nop()))
		require.NoError(t, err)

		assert.Equal(t, n, host.Workers())
		assert.Equal(t, StateRunning, host.State())
		assert.NotEmpty(t, host.ID())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, host.WaitForSignalContext(ctx))
	}
}

func TestCreateAndStart_PoolFailure(t *testing.T) {
	var called bool
	host, err := CreateAndStart(0, struct{}{},
		func(struct{}, Pool) ServiceFunc {
			called = true
			return func() {}
		},
		WithLogger(logging.Nop()))

	assert.Nil(t, host)
	var initErr *workerpool.InitError
	assert.ErrorAs(t, err, &initErr)
	assert.False(t, called, "service must not be constructed without a pool")
}

func TestCreateAndStart_WithID(t *testing.T) {
	host, err := CreateAndStart(1, struct{}{},
		func(struct{}, Pool) ServiceFunc { return func() {} },
		WithLogger(logging.Nop()), WithID("edge-1"))
	require.NoError(t, err)
	assert.Equal(t, "edge-1", host.ID())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, host.WaitForSignalContext(ctx))
}

func TestCreateAndStart_NilFactory(t *testing.T) {
	_, err := CreateAndStart[struct{}, ServiceFunc](1, struct{}{}, nil)
	assert.ErrorIs(t, err, ErrNilFactory)
}

func TestWaitForSignal_Scenario(t *testing.T) {
	ev := &events{}
	n := newFakeNotifier()
	var executed atomic.Int32
	gate := make(chan struct{})

	host, svc := newCountingHost(t, 4, ev, n, &executed, gate)
	assert.Equal(t, 4, host.Workers())

	done := make(chan error, 1)
	go func() { done <- host.WaitForSignal() }()

	n.send(t, syscall.SIGINT)
	close(gate)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForSignal did not return")
	}

	assert.EqualValues(t, 10, executed.Load())
	assert.EqualValues(t, 1, svc.shutdowns.Load())
	assert.Equal(t, StateTerminated, host.State())

	report := host.Report()
	assert.True(t, report.Pool.Clean)
	assert.EqualValues(t, 10, report.Pool.Completed)
	assert.Equal(t, syscall.SIGINT.String(), report.Trigger)

	begin := ev.index("log:Shutdown sequence initiated")
	svcBegin := ev.index("service:shutdown:begin")
	svcEnd := ev.index("service:shutdown:end")
	draining := ev.index("pool:draining")
	stopped := ev.index("pool:stopped")
	require.True(t, begin >= 0 && svcBegin >= 0 && svcEnd >= 0 && draining >= 0 && stopped >= 0, ev.snapshot())
	assert.Less(t, begin, svcBegin)
	assert.Less(t, svcEnd, draining, "pool stop must begin after service shutdown returns")
	assert.Less(t, draining, stopped)
}

func TestWaitForSignal_OrderingHoldsEveryRun(t *testing.T) {
	for i := 0; i < 20; i++ {
		ev := &events{}
		n := newFakeNotifier()
		var executed atomic.Int32
		host, _ := newCountingHost(t, 2, ev, n, &executed, nil)

		done := make(chan error, 1)
		go func() { done <- host.WaitForSignal() }()
		n.send(t, syscall.SIGTERM)
		require.NoError(t, <-done)

		assert.Less(t, ev.index("service:shutdown:end"), ev.index("pool:draining"), "run %d", i)
	}
}

func TestWaitForSignal_SecondCallConsumed(t *testing.T) {
	ev := &events{}
	n := newFakeNotifier()
	var executed atomic.Int32
	host, svc := newCountingHost(t, 1, ev, n, &executed, nil)

	done := make(chan error, 1)
	go func() { done <- host.WaitForSignal() }()
	n.send(t, os.Interrupt)
	require.NoError(t, <-done)

	assert.ErrorIs(t, host.WaitForSignal(), ErrHostConsumed)
	assert.EqualValues(t, 1, svc.shutdowns.Load())
}

func TestWaitForSignal_SecondSignalHasNoEffect(t *testing.T) {
	ev := &events{}
	n := newFakeNotifier()
	var executed atomic.Int32
	host, svc := newCountingHost(t, 2, ev, n, &executed, nil)

	done := make(chan error, 1)
	go func() { done <- host.WaitForSignal() }()
	n.send(t, os.Interrupt)
	require.NoError(t, <-done)

	n.send(t, os.Interrupt)
	time.Sleep(10 * time.Millisecond)

	assert.EqualValues(t, 1, svc.shutdowns.Load())
	count := 0
	for _, e := range ev.snapshot() {
		if e == "log:Shutdown sequence initiated" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestWaitForSignal_HandlersOutliveShutdown(t *testing.T) {
	n := newFakeNotifier()
	var releasedDuringShutdown atomic.Bool

	host, err := CreateAndStart(1, struct{}{},
		func(_ struct{}, pool Pool) ServiceFunc {
			return func() {
				n.send(t, os.Interrupt)
				releasedDuringShutdown.Store(n.released.Load())
				done := make(chan struct{})
				if assert.NoError(t, pool.Submit(func() { close(done) })) {
					<-done
				}
			}
		},
		WithLogger(logging.Nop()),
		WithNotifier(n))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- host.WaitForSignal() }()
	n.send(t, syscall.SIGTERM)

	require.NoError(t, <-done)
	assert.False(t, releasedDuringShutdown.Load())
	assert.True(t, n.released.Load(), "released once shutdown completes")
	assert.Equal(t, "terminated", host.State().String())
}

func TestWaitForSignal_ObserversSeeShuttingDownWhileWaiting(t *testing.T) {
	n := newFakeNotifier()
	var observed atomic.Int32

	host, err := CreateAndStart(1, struct{}{},
		func(struct{}, Pool) ServiceFunc { return func() {} },
		WithLogger(logging.Nop()),
		WithNotifier(n),
		WithStateObserver(func(s State) { observed.Store(int32(s)) }))
	require.NoError(t, err)
	assert.Equal(t, StateRunning, State(observed.Load()))
	assert.Equal(t, ShutdownReport{}, host.Report())

	done := make(chan error, 1)
	go func() { done <- host.WaitForSignal() }()

	<-n.reg
	assert.Equal(t, StateShuttingDown, host.State())
	assert.Equal(t, host.State(), State(observed.Load()), "observers agree with State while waiting")

	n.send(t, syscall.SIGTERM)
	require.NoError(t, <-done)
	assert.Equal(t, StateTerminated, State(observed.Load()))
	assert.Equal(t, syscall.SIGTERM.String(), host.Report().Trigger)
}

func TestWaitForSignal_RegistrationFailure(t *testing.T) {
	ev := &events{}
	n := newFakeNotifier()
	n.err = errors.New("signal registration denied")
	var executed atomic.Int32
	host, svc := newCountingHost(t, 2, ev, n, &executed, nil)

	err := host.WaitForSignal()

	var regErr *signals.RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.ErrorIs(t, err, n.err)
	assert.Zero(t, svc.shutdowns.Load())
	assert.Equal(t, -1, ev.index("pool:draining"))
	assert.Equal(t, StateTerminated, host.State())
}

func TestWaitForSignal_ChannelFailureIsFatal(t *testing.T) {
	ev := &events{}
	n := newFakeNotifier()
	var executed atomic.Int32
	host, svc := newCountingHost(t, 1, ev, n, &executed, nil)
	host.opts.fatal = func(logger logging.Logger, err error) {
		logger.Fatal("fatal handler invoked", logging.Err(err))
	}

	done := make(chan error, 1)
	go func() { done <- host.WaitForSignal() }()
	n.closeChannel(t)

	err := <-done
	var chErr *signals.ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.GreaterOrEqual(t, ev.index("exit:fatal handler invoked"), 0)
	assert.Zero(t, svc.shutdowns.Load())
}

func TestDefaultFatalHandler_ExitsNonZero(t *testing.T) {
	var code int
	exit = func(c int) { code = c }
	var buf syncBuffer
	stderr = &buf
	defer func() {
		exit = os.Exit
		stderr = os.Stderr
	}()

	ev := &events{}
	DefaultFatalHandler(recordingLogger{ev: ev}, &signals.ChannelError{Err: errors.New("closed")})

	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "servicehost: fatal:")
	assert.GreaterOrEqual(t, ev.index("fatal:Signal wait failed, terminating"), 0)
	assert.Equal(t, -1, ev.index("exit:Signal wait failed, terminating"), "exit goes through the handler, not the logger")
}

func TestDefaultFatalHandler_ConsoleLogger(t *testing.T) {
	var code int
	exit = func(c int) { code = c }
	stderr = &syncBuffer{}
	defer func() {
		exit = os.Exit
		stderr = os.Stderr
	}()

	var out syncBuffer
	logger := logging.NewLoggingBuilder().
		AddConsole(logging.ConsoleLoggerOptions{Output: &out}).
		Build().
		CreateLogger("ServiceHost")

	// 使用真实 logger：若处理器经由 logger.Fatal 退出，测试进程会直接终止
	DefaultFatalHandler(logger, &signals.ChannelError{Err: errors.New("closed")})

	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "FATAL")
	assert.Contains(t, out.String(), "Signal wait failed, terminating")
}

func TestWaitForSignal_ContainsDrainPanic(t *testing.T) {
	n := newFakeNotifier()
	drain := drainGate{ch: make(chan struct{})}

	host, err := CreateAndStart(2, struct{}{},
		func(_ struct{}, pool Pool) ServiceFunc {
			_ = pool.Submit(func() {
				<-drain.ch
				panic("drain failure")
			})
			return func() {}
		},
		WithLogger(logging.Nop()),
		WithNotifier(n),
		WithPoolOptions(workerpool.WithObserver(drain)))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- host.WaitForSignal() }()
	n.send(t, syscall.SIGTERM)

	require.NoError(t, <-done, "a contained panic is not an error")
	report := host.Report()
	assert.False(t, report.Pool.Clean)
	assert.EqualValues(t, 1, report.Pool.Panicked)
}

// drainGate 在池开始排空时放行被阻塞的任务
type drainGate struct {
	ch chan struct{}
}

func (g drainGate) TaskSubmitted()                   {}
func (g drainGate) TaskFinished(time.Duration, bool) {}
func (g drainGate) StateChanged(s workerpool.State) {
	if s == workerpool.StateDraining {
		close(g.ch)
	}
}

func TestWaitForSignal_ServiceSubmitsDuringShutdown(t *testing.T) {
	n := newFakeNotifier()
	var flushed atomic.Bool

	host, err := CreateAndStart(1, struct{}{},
		func(_ struct{}, pool Pool) ServiceFunc {
			return func() {
				done := make(chan struct{})
				require.NoError(t, pool.Submit(func() {
					flushed.Store(true)
					close(done)
				}))
				<-done
			}
		},
		WithLogger(logging.Nop()),
		WithNotifier(n))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- host.WaitForSignal() }()
	n.send(t, syscall.SIGTERM)

	require.NoError(t, <-done)
	assert.True(t, flushed.Load())
}

func TestStateObserver(t *testing.T) {
	var mu sync.Mutex
	var states []State

	host, err := CreateAndStart(1, struct{}{},
		func(struct{}, Pool) ServiceFunc { return func() {} },
		WithLogger(logging.Nop()),
		WithNotifier(newFakeNotifier()),
		WithStateObserver(func(s State) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, host.WaitForSignalContext(ctx))
	assert.Contains(t, host.Report().Trigger, "context")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConstructing, StateRunning, StateShuttingDown, StateTerminated}, states)
}

func TestCreateAndStart_FactoryPanicStopsPool(t *testing.T) {
	var captured Pool
	assert.PanicsWithValue(t, "broken factory", func() {
		_, _ = CreateAndStart(2, struct{}{},
			func(_ struct{}, pool Pool) ServiceFunc {
				captured = pool
				panic("broken factory")
			},
			WithLogger(logging.Nop()))
	})
	require.NotNil(t, captured)
	assert.ErrorIs(t, captured.Submit(func() {}), workerpool.ErrPoolStopped)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
