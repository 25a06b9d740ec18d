package hosting

import (
	"fmt"
	"sync"

	"github.com/gocrud/servicehost/logging"
	"github.com/gocrud/servicehost/workerpool"
)

// Service 托管服务接口
//
// 服务由 Factory 构造并立即开始工作（通常是向 Pool 提交任务）。
// Shutdown 由宿主在收到终止信号后调用且只调用一次；调用返回前工作者池保证仍在运行，
// 所以服务可以在 Shutdown 中向池提交收尾任务并等待它们完成。
type Service interface {
	Shutdown()
}

// Pool 提供给服务的工作者池句柄
type Pool interface {
	Submit(task workerpool.Task) error
	Workers() int
	Stats() workerpool.Stats
}

// Factory 服务工厂。不得无限阻塞；构造失败由服务自行上报（记录日志、降级等）
type Factory[T any, S Service] func(shared T, pool Pool) S

// ServiceFunc 把一个函数适配为 Service
type ServiceFunc func()

func (f ServiceFunc) Shutdown() { f() }

// Group 组合服务：把多个成员当作一个服务托管，按注册的逆序依次关闭
type Group struct {
	members []namedService
	logger  logging.Logger
	mu      sync.Mutex
	stopped bool
}

type namedService struct {
	name    string
	service Service
}

// NewGroup 创建组合服务
func NewGroup(logger logging.Logger) *Group {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Group{logger: logger}
}

// Add 添加成员；name 仅用于日志
func (g *Group) Add(name string, service Service) *Group {
	g.mu.Lock()
	defer g.mu.Unlock()
	if name == "" {
		name = fmt.Sprintf("service-%d", len(g.members)+1)
	}
	g.members = append(g.members, namedService{name: name, service: service})
	return g
}

// Len 返回成员数量
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Shutdown 逆序关闭所有成员。成员的 panic 会被记录，不影响其余成员关闭
func (g *Group) Shutdown() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	members := g.members
	g.mu.Unlock()

	g.logger.Info("Stopping services", logging.Field{Key: "count", Value: len(members)})

	for i := len(members) - 1; i >= 0; i-- {
		m := members[i]
		g.logger.Debug("Stopping service", logging.Field{Key: "service", Value: m.name})
		if r := shutdownSafely(m.service); r != nil {
			g.logger.Error("Service panicked during shutdown",
				logging.Field{Key: "service", Value: m.name},
				logging.Field{Key: "panic", Value: fmt.Sprint(r)})
			continue
		}
		g.logger.Info("Service stopped", logging.Field{Key: "service", Value: m.name})
	}

	g.logger.Info("All services stopped")
}

func shutdownSafely(s Service) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	s.Shutdown()
	return nil
}
