// Package servicehost 进程生命周期宿主：启动工作者池和一个服务，
// 阻塞等待终止信号，然后按 服务 → 工作者池 的顺序关闭。
package servicehost

import (
	"github.com/gocrud/servicehost/hosting"
)

// Run 启动宿主并阻塞直到收到终止信号（唯一入口）
//
// 使用示例：
//
//	err := servicehost.Run(4, cfg, func(cfg Config, pool hosting.Pool) *MyService {
//		return NewMyService(cfg, pool)
//	})
//	if err != nil {
//		os.Exit(1)
//	}
func Run[T any, S hosting.Service](workerCount int, shared T, factory hosting.Factory[T, S], opts ...hosting.Option) error {
	// 1. 创建工作者池并启动服务
	host, err := hosting.CreateAndStart(workerCount, shared, factory, opts...)
	if err != nil {
		return err
	}

	// 2. 阻塞等待信号，然后优雅关闭
	return host.WaitForSignal()
}
