// Package journal 把宿主生命周期与心跳事件持久化到 SQLite（gorm）。
//
// Record 只写内存缓冲；缓冲满或定时刷新到期时把一次批量写入作为任务提交给工作者池。
// Shutdown 提交最后一次刷新并等待它完成，然后关闭数据库，
// 这依赖于宿主保证服务关闭期间工作者池仍在运行。
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gocrud/servicehost/hosting"
	"github.com/gocrud/servicehost/logging"
	"github.com/gocrud/servicehost/workerpool"
)

// 事件类型
const (
	KindLifecycle = "lifecycle"
	KindHeartbeat = "heartbeat"
)

var errNoPool = errors.New("journal: no worker pool")

// Entry 一条日志记录
type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	HostID    string    `gorm:"size:36;index" json:"host_id"`
	Kind      string    `gorm:"size:32;index" json:"kind"`
	Message   string    `json:"message"`
	Payload   string    `json:"payload,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName 表名
func (Entry) TableName() string {
	return "journal_entries"
}

// Options 日志配置选项
type Options struct {
	// Path SQLite 文件路径；Dialector 非空时忽略
	Path      string
	Dialector gorm.Dialector
	HostID    string
	// BatchSize 缓冲达到该数量时触发一次后台刷新
	BatchSize int
	// FlushInterval 大于 0 时按该间隔刷新未满的缓冲
	FlushInterval time.Duration
	MaxOpenConns  int
	Logger        logging.Logger
}

// Validate 验证配置
func (o *Options) Validate() error {
	if o.Path == "" && o.Dialector == nil {
		return fmt.Errorf("journal: path or dialector is required")
	}
	if o.BatchSize < 0 {
		return fmt.Errorf("journal: batch size must not be negative")
	}
	if o.FlushInterval < 0 {
		return fmt.Errorf("journal: flush interval must not be negative")
	}
	return nil
}

// Journal 生命周期日志服务
type Journal struct {
	db        *gorm.DB
	pool      hosting.Pool
	logger    logging.Logger
	hostID    string
	batchSize int

	mu     sync.Mutex
	buf    []Entry
	closed bool
	// inflight 已提交未完成的刷新数，与 closed 在同一把锁内修改
	inflight int
	idle     *sync.Cond

	ticker    *hosting.TimedService
	closeOnce sync.Once
}

// New 打开数据库、迁移表结构并返回日志服务。pool 为 nil 时所有写入同步进行
func New(pool hosting.Pool, opts Options) (*Journal, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 32
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 1
	}

	dialector := opts.Dialector
	if dialector == nil {
		dialector = sqlite.Open(opts.Path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("journal: failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("journal: failed to get sql.DB: %w", err)
	}
	// SQLite 单写者
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)

	if err := db.AutoMigrate(&Entry{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("journal: auto migrate failed: %w", err)
	}

	j := &Journal{
		db:        db,
		pool:      pool,
		logger:    opts.Logger,
		hostID:    opts.HostID,
		batchSize: opts.BatchSize,
	}
	j.idle = sync.NewCond(&j.mu)

	if opts.FlushInterval > 0 {
		ticker, err := hosting.NewTimedService("journal-flush", opts.FlushInterval, j.flushPending, j.logger)
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("journal: %w", err)
		}
		j.ticker = ticker
	}

	j.logger.Info("Journal opened",
		logging.Field{Key: "dialector", Value: dialector.Name()},
		logging.Field{Key: "batch_size", Value: j.batchSize})
	return j, nil
}

// Record 记录一条事件。payload 为 nil 时不保存负载，否则序列化为 JSON。
// 关闭后的记录会被丢弃
func (j *Journal) Record(kind, message string, payload any) {
	entry := Entry{
		HostID:    j.hostID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			j.logger.Warn("Failed to encode journal payload", logging.Err(err))
		} else {
			entry.Payload = string(data)
		}
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		j.logger.Debug("Journal closed, entry dropped", logging.Field{Key: "kind", Value: kind})
		return
	}
	j.buf = append(j.buf, entry)
	var batch []Entry
	if len(j.buf) >= j.batchSize {
		batch = j.buf
		j.buf = nil
		j.inflight++
	}
	j.mu.Unlock()

	if batch != nil {
		j.flush(batch)
	}
}

// flushPending 把缓冲中未满一批的记录提交写入
func (j *Journal) flushPending() {
	j.mu.Lock()
	if j.closed || len(j.buf) == 0 {
		j.mu.Unlock()
		return
	}
	batch := j.buf
	j.buf = nil
	j.inflight++
	j.mu.Unlock()

	j.flush(batch)
}

// flush 把 batch 提交给工作者池写入，调用方已在锁内登记 inflight
func (j *Journal) flush(batch []Entry) {
	err := j.submit(func() {
		defer j.flushDone()
		j.write(batch)
	})
	if err != nil {
		// 池不可用时同步写入
		j.logger.Warn("Worker pool rejected journal flush, writing inline", logging.Err(err))
		j.write(batch)
		j.flushDone()
	}
}

func (j *Journal) flushDone() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inflight--
	if j.inflight == 0 {
		j.idle.Broadcast()
	}
}

// waitFlushes 等待所有已提交的刷新完成
func (j *Journal) waitFlushes() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for j.inflight > 0 {
		j.idle.Wait()
	}
}

func (j *Journal) submit(task workerpool.Task) error {
	if j.pool == nil {
		return errNoPool
	}
	return j.pool.Submit(task)
}

func (j *Journal) take() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	batch := j.buf
	j.buf = nil
	return batch
}

func (j *Journal) write(batch []Entry) {
	if len(batch) == 0 {
		return
	}
	if err := j.db.CreateInBatches(batch, 100).Error; err != nil {
		j.logger.Error("Failed to write journal entries",
			logging.Field{Key: "count", Value: len(batch)},
			logging.Err(err))
		return
	}
	j.logger.Debug("Journal entries written", logging.Field{Key: "count", Value: len(batch)})
}

// Flush 同步写入缓冲中的所有记录，并等待已提交的后台刷新完成
func (j *Journal) Flush() {
	j.write(j.take())
	j.waitFlushes()
}

// Pending 返回尚未写入的记录数
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.buf)
}

// Recent 按时间倒序返回最近的记录
func (j *Journal) Recent(limit int) ([]Entry, error) {
	var entries []Entry
	err := j.db.Order("id desc").Limit(limit).Find(&entries).Error
	return entries, err
}

// Count 返回指定类型的记录数，kind 为空时统计全部
func (j *Journal) Count(kind string) (int64, error) {
	var n int64
	q := j.db.Model(&Entry{})
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	err := q.Count(&n).Error
	return n, err
}

// Shutdown 写入关闭事件，在工作者池上执行最后一次刷新并等待，然后关闭数据库
func (j *Journal) Shutdown() {
	j.closeOnce.Do(func() {
		if j.ticker != nil {
			j.ticker.Shutdown()
		}
		j.Record(KindLifecycle, "journal closing", nil)

		// 置 closed 之后不会再有新的刷新登记
		j.mu.Lock()
		j.closed = true
		batch := j.buf
		j.buf = nil
		j.mu.Unlock()

		done := make(chan struct{})
		final := func() {
			defer close(done)
			j.write(batch)
		}
		if err := j.submit(final); err != nil {
			j.logger.Warn("Worker pool rejected final journal flush, writing inline", logging.Err(err))
			final()
		}
		<-done
		j.waitFlushes()

		if sqlDB, err := j.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				j.logger.Error("Failed to close journal database", logging.Err(err))
			}
		}
		j.logger.Info("Journal closed")
	})
}
