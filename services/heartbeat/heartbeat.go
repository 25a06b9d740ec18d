// Package heartbeat 按 cron 计划对进程采样并发布心跳。
//
// 调度器本身只负责向工作者池提交任务，采样、记录和发布都在池内执行。
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gocrud/servicehost/hosting"
	"github.com/gocrud/servicehost/logging"
	"github.com/gocrud/servicehost/workerpool"
)

// Recorder 心跳记录目标（journal.Journal 实现了该接口）
type Recorder interface {
	Record(kind, message string, payload any)
}

// Beat 一次心跳
type Beat struct {
	HostID   string           `json:"host_id"`
	Sequence uint64           `json:"seq"`
	Time     time.Time        `json:"time"`
	Process  Sample           `json:"process"`
	Pool     workerpool.Stats `json:"pool"`
}

// Options 心跳配置选项
type Options struct {
	// Schedule cron 表达式或描述符，如 "@every 10s"
	Schedule string
	// Seconds 启用六段式（秒级）表达式
	Seconds   bool
	Channel   string
	HostID    string
	Publisher Publisher
	Recorder  Recorder
	Sampler   Sampler
	Logger    logging.Logger
	// CronLogger 输出 cron 库的内部调度日志
	CronLogger bool
}

// Heartbeat 心跳服务
type Heartbeat struct {
	opts   Options
	pool   hosting.Pool
	cron   *cron.Cron
	logger logging.Logger

	seq      atomic.Uint64
	inflight sync.WaitGroup

	mu      sync.RWMutex
	last    *Beat
	stopped bool

	stopOnce sync.Once
}

// New 注册计划并启动调度器
func New(pool hosting.Pool, opts Options) (*Heartbeat, error) {
	if opts.Schedule == "" {
		return nil, fmt.Errorf("heartbeat: schedule is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Sampler == nil {
		sampler, err := NewProcessSampler()
		if err != nil {
			return nil, err
		}
		opts.Sampler = sampler
	}

	cronLog := newCronLogger(opts.Logger)
	cronOpts := []cron.Option{
		cron.WithChain(cron.Recover(cronLog)),
	}
	if opts.CronLogger {
		cronOpts = append(cronOpts, cron.WithLogger(cronLog))
	}
	if opts.Seconds {
		cronOpts = append(cronOpts, cron.WithSeconds())
	}

	h := &Heartbeat{
		opts:   opts,
		pool:   pool,
		cron:   cron.New(cronOpts...),
		logger: opts.Logger,
	}

	if _, err := h.cron.AddFunc(opts.Schedule, h.Trigger); err != nil {
		return nil, fmt.Errorf("heartbeat: invalid schedule %q: %w", opts.Schedule, err)
	}
	h.cron.Start()

	h.logger.Info("Heartbeat scheduled",
		logging.Field{Key: "schedule", Value: opts.Schedule},
		logging.Field{Key: "publish", Value: opts.Publisher != nil})
	return h, nil
}

// Trigger 立即向工作者池提交一次心跳
func (h *Heartbeat) Trigger() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}

	h.inflight.Add(1)
	if err := h.pool.Submit(func() {
		defer h.inflight.Done()
		h.beat()
	}); err != nil {
		h.inflight.Done()
		h.logger.Warn("Heartbeat skipped", logging.Err(err))
	}
}

func (h *Heartbeat) beat() {
	sample, err := h.opts.Sampler.Sample()
	if err != nil {
		h.logger.Warn("Process sampling failed", logging.Err(err))
	}

	b := Beat{
		HostID:   h.opts.HostID,
		Sequence: h.seq.Add(1),
		Time:     time.Now(),
		Process:  sample,
		Pool:     h.pool.Stats(),
	}

	h.mu.Lock()
	h.last = &b
	h.mu.Unlock()

	if h.opts.Recorder != nil {
		h.opts.Recorder.Record("heartbeat", "beat", b)
	}

	if h.opts.Publisher != nil {
		payload, err := json.Marshal(b)
		if err != nil {
			h.logger.Error("Failed to encode heartbeat", logging.Err(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := h.opts.Publisher.Publish(ctx, h.opts.Channel, payload); err != nil {
			h.logger.Warn("Failed to publish heartbeat",
				logging.Field{Key: "channel", Value: h.opts.Channel},
				logging.Err(err))
		}
	}

	h.logger.Trace("Heartbeat", logging.Field{Key: "seq", Value: b.Sequence})
}

// Last 返回最近一次心跳，尚无心跳时返回 false
func (h *Heartbeat) Last() (Beat, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return Beat{}, false
	}
	return *h.last, true
}

// Count 返回已完成的心跳次数
func (h *Heartbeat) Count() uint64 {
	return h.seq.Load()
}

// Shutdown 停止调度器并等待正在运行的调度与已提交的心跳完成，然后关闭发布者
func (h *Heartbeat) Shutdown() {
	h.stopOnce.Do(func() {
		h.logger.Info("Heartbeat stopping")

		<-h.cron.Stop().Done()

		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()

		h.inflight.Wait()

		if h.opts.Publisher != nil {
			if err := h.opts.Publisher.Close(); err != nil {
				h.logger.Warn("Failed to close heartbeat publisher", logging.Err(err))
			}
		}

		h.logger.Info("Heartbeat stopped", logging.Field{Key: "beats", Value: h.seq.Load()})
	})
}
