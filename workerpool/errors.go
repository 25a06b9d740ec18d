package workerpool

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWorkerCount 工作者数量必须 >= 1
	ErrInvalidWorkerCount = errors.New("workerpool: worker count must be at least 1")
	// ErrPoolStopped 池已开始停止，不再接受新任务
	ErrPoolStopped = errors.New("workerpool: pool is stopped")
	// ErrNilTask 提交了 nil 任务
	ErrNilTask = errors.New("workerpool: nil task")
)

// InitError 池构建失败（致命，不重试）
type InitError struct {
	Workers int
	// Worker 出错的工作者编号，-1 表示参数校验失败
	Worker int
	Err    error
}

func (e *InitError) Error() string {
	if e.Worker < 0 {
		return fmt.Sprintf("workerpool: failed to start %d workers: %v", e.Workers, e.Err)
	}
	return fmt.Sprintf("workerpool: worker %d of %d failed to start: %v", e.Worker, e.Workers, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// TaskPanic 被捕获的任务 panic
type TaskPanic struct {
	Worker int
	Value  any
	Stack  []byte
	// Draining 为 true 表示 panic 发生在 Stop 开始之后
	Draining bool
}

// PanicError 表示排空过程中有任务 panic 被捕获
type PanicError struct {
	Panics []TaskPanic
}

func (e *PanicError) Error() string {
	if len(e.Panics) == 1 {
		return fmt.Sprintf("workerpool: task panicked during drain: %v", e.Panics[0].Value)
	}
	return fmt.Sprintf("workerpool: %d tasks panicked during drain, first: %v", len(e.Panics), e.Panics[0].Value)
}
