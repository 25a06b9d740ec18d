// Package signals 等待进程终止信号。
//
// Waiter 只解析一次：第一个到达的信号被返回，之后的信号被丢弃。
// Wait 返回后监听仍然有效，直到调用 Close；Close 之后这些信号被忽略，
// 不会恢复为进程默认行为（终止进程）。
package signals

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Termination 默认监听的信号集合：中断 + 终止
var Termination = []os.Signal{os.Interrupt, syscall.SIGTERM}

// ErrAlreadyResolved Wait 只能成功调用一次
var ErrAlreadyResolved = errors.New("signals: waiter already resolved")

// Notifier 信号注册接口，OS 为进程实现，测试可注入替身。
// Release 注销 ch 并让 sigs 此后被忽略
type Notifier interface {
	Notify(ch chan<- os.Signal, sigs ...os.Signal) error
	Release(ch chan<- os.Signal, sigs ...os.Signal)
}

type osNotifier struct{}

func (osNotifier) Notify(ch chan<- os.Signal, sigs ...os.Signal) error {
	signal.Notify(ch, sigs...)
	return nil
}

// Release 先 Ignore 再 Stop：中间不存在默认处理器生效的窗口
func (osNotifier) Release(ch chan<- os.Signal, sigs ...os.Signal) {
	signal.Ignore(sigs...)
	signal.Stop(ch)
}

// OS 进程信号通知器
var OS Notifier = osNotifier{}

// RegistrationError 信号注册失败，此时尚未进行任何关闭操作
type RegistrationError struct {
	Signals []os.Signal
	Err     error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("signals: failed to register %v: %v", e.Signals, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// ChannelError 注册成功后通知通道失效，属于致命错误
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("signals: notification channel failed: %v", e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

var errChannelClosed = errors.New("channel closed")

// Waiter 已注册的信号等待器
type Waiter struct {
	notifier Notifier
	sigs     []os.Signal
	ch       chan os.Signal

	mu       sync.Mutex
	resolved bool
	closed   bool
}

// Register 注册对 sigs 的监听；未指定时使用 Termination
func Register(n Notifier, sigs ...os.Signal) (*Waiter, error) {
	if n == nil {
		n = OS
	}
	if len(sigs) == 0 {
		sigs = Termination
	}
	for _, s := range sigs {
		if s == nil {
			return nil, &RegistrationError{Signals: sigs, Err: errors.New("nil signal")}
		}
	}

	// 容量为 1：第一个信号在 Wait 之前到达也不会丢失，之后的信号被丢弃
	ch := make(chan os.Signal, 1)
	if err := n.Notify(ch, sigs...); err != nil {
		return nil, &RegistrationError{Signals: sigs, Err: err}
	}

	return &Waiter{notifier: n, sigs: sigs, ch: ch}, nil
}

// Signals 返回注册的信号
func (w *Waiter) Signals() []os.Signal {
	return w.sigs
}

// C 返回底层通道，供测试或需要 select 的调用方使用
func (w *Waiter) C() <-chan os.Signal {
	return w.ch
}

// Wait 阻塞直到第一个信号到达或 ctx 结束，通道被关闭时返回 *ChannelError。
// 返回后监听保持有效，之后到达的信号落入已满的通道被丢弃
func (w *Waiter) Wait(ctx context.Context) (os.Signal, error) {
	w.mu.Lock()
	if w.resolved {
		w.mu.Unlock()
		return nil, ErrAlreadyResolved
	}
	w.resolved = true
	w.mu.Unlock()

	select {
	case sig, ok := <-w.ch:
		if !ok || sig == nil {
			return nil, &ChannelError{Err: errChannelClosed}
		}
		return sig, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close 注销监听并忽略已注册的信号，可重复调用。
// 应在关闭流程全部完成后调用
func (w *Waiter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.notifier.Release(w.ch, w.sigs...)
}
