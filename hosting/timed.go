package hosting

import (
	"fmt"
	"sync"
	"time"

	"github.com/gocrud/servicehost/logging"
)

// TimedService 定时服务：按固定间隔在自己的 goroutine 中执行 task。
// task 应当很快返回，耗时工作提交给工作者池
type TimedService struct {
	name     string
	interval time.Duration
	task     func()
	logger   logging.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewTimedService 创建并立即启动定时服务
func NewTimedService(name string, interval time.Duration, task func(), logger logging.Logger) (*TimedService, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("hosting: timed service %q: interval must be positive", name)
	}
	if task == nil {
		return nil, fmt.Errorf("hosting: timed service %q: task is required", name)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	s := &TimedService{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go s.run()

	s.logger.Debug(fmt.Sprintf("TimedService '%s' running with interval %v", s.name, s.interval))
	return s, nil
}

func (s *TimedService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.execute()
		case <-s.stopCh:
			return
		}
	}
}

// execute 执行一次 task，panic 只记录日志
func (s *TimedService) execute() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Sprintf("TimedService '%s' task panicked", s.name),
				logging.Field{Key: "panic", Value: fmt.Sprint(r)})
		}
	}()
	s.task()
}

// Stopped 停止后关闭的通道
func (s *TimedService) Stopped() <-chan struct{} {
	return s.doneCh
}

// Shutdown 停止计时并等待正在执行的 task 返回，可重复调用
func (s *TimedService) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
	s.logger.Debug(fmt.Sprintf("TimedService '%s' stopped", s.name))
}
