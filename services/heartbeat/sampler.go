package heartbeat

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// Sample 进程资源快照
type Sample struct {
	PID        int32   `json:"pid"`
	RSS        uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
}

// Sampler 进程采样接口
type Sampler interface {
	Sample() (Sample, error)
}

// ProcessSampler 通过 gopsutil 采样当前进程
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler 创建当前进程的采样器
func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("heartbeat: failed to open process: %w", err)
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample 采样；单项失败时返回已采到的部分和第一个错误
func (s *ProcessSampler) Sample() (Sample, error) {
	out := Sample{
		PID:        s.proc.Pid,
		Goroutines: runtime.NumGoroutine(),
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	mem, err := s.proc.MemoryInfo()
	keep(err)
	if mem != nil {
		out.RSS = mem.RSS
	}

	cpu, err := s.proc.CPUPercent()
	keep(err)
	out.CPUPercent = cpu

	threads, err := s.proc.NumThreads()
	keep(err)
	out.Threads = threads

	return out, firstErr
}
