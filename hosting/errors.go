package hosting

import "errors"

var (
	// ErrHostConsumed 宿主已经等待过信号，不能再次使用
	ErrHostConsumed = errors.New("hosting: host already consumed by a previous wait")
	// ErrNilFactory 未提供服务工厂
	ErrNilFactory = errors.New("hosting: nil service factory")
)
