package main

import (
	"context"
	"sync/atomic"

	"github.com/gocrud/servicehost/config"
	"github.com/gocrud/servicehost/hosting"
	"github.com/gocrud/servicehost/logging"
	"github.com/gocrud/servicehost/metrics"
	"github.com/gocrud/servicehost/services/heartbeat"
	"github.com/gocrud/servicehost/services/journal"
	"github.com/gocrud/servicehost/services/status"
	"github.com/gocrud/servicehost/workerpool"
)

// Shared 所有服务共享的只读数据，构建后不再修改
type Shared struct {
	// Config 原始分层配置，重载由状态服务触发
	Config     config.Configuration
	Settings   config.Settings
	Loggers    logging.LoggerFactory
	Registry   *metrics.Registry
	InstanceID string
	// HostState 由宿主状态观察者写入，状态服务读取
	HostState *HostState
}

func newShared(cfg config.Configuration, settings config.Settings, loggers logging.LoggerFactory, registry *metrics.Registry, id string) *Shared {
	return &Shared{
		Config:     cfg,
		Settings:   settings,
		Loggers:    loggers,
		Registry:   registry,
		InstanceID: id,
		HostState:  &HostState{},
	}
}

// HostState 宿主当前状态
type HostState struct {
	v atomic.Int32
}

// Observe 作为 hosting.StateObserver 使用
func (s *HostState) Observe(state hosting.State) {
	s.v.Store(int32(state))
}

func (s *HostState) String() string {
	return hosting.State(s.v.Load()).String()
}

// newLoggerFactory 按配置创建日志工厂
func newLoggerFactory(cfg config.LoggingSettings) (logging.LoggerFactory, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	builder := logging.NewLoggingBuilder().SetMinimumLevel(level)
	switch cfg.Provider {
	case "zap":
		builder.AddZap(logging.ZapLoggerOptions{Encoding: cfg.Format})
	case "stream":
		opts := logging.StreamLoggerOptions{Path: cfg.Path}
		if cfg.Format == "text" {
			opts.Formatter = logging.NewTextFormatter()
		}
		if _, err := builder.AddStream(opts); err != nil {
			return nil, err
		}
	default:
		builder.AddConsole()
	}
	return builder.Build(), nil
}

// watchLogLevel 配置重载后把新的日志级别应用到所有 logger；非法级别只记录警告
func watchLogLevel(cfg config.Configuration, base config.LoggingSettings, loggers logging.LoggerFactory) error {
	cache, err := config.NewOptionsCache(cfg, "logging", base)
	if err != nil {
		return err
	}
	logger := loggers.CreateLogger("Config")
	cache.OnChange(func(s config.LoggingSettings) {
		level, err := logging.ParseLevel(s.Level)
		if err != nil {
			logger.Warn("Ignoring reloaded log level", logging.Err(err))
			return
		}
		loggers.SetMinimumLevel(level)
		logger.Info("Log level applied", logging.Field{Key: "level", Value: level.String()})
	})
	return nil
}

// newServices 按配置组装服务组。单个成员创建失败时记录日志并跳过，不影响其它成员
func newServices(shared *Shared, pool hosting.Pool) *hosting.Group {
	settings := shared.Settings
	logger := shared.Loggers.CreateLogger("ServiceHost")
	group := hosting.NewGroup(logger)

	var (
		jnl *journal.Journal
		hb  *heartbeat.Heartbeat
	)

	if settings.Journal.Enabled {
		j, err := journal.New(pool, journal.Options{
			Path:          settings.Journal.Path,
			HostID:        shared.InstanceID,
			BatchSize:     settings.Journal.BatchSize,
			FlushInterval: settings.Journal.FlushInterval,
			Logger:        shared.Loggers.CreateLogger("Journal"),
		})
		if err != nil {
			logger.Error("Journal disabled", logging.Err(err))
		} else {
			jnl = j
			jnl.Record(journal.KindLifecycle, "host started", map[string]any{
				"name":    settings.Host.Name,
				"workers": pool.Workers(),
			})
			group.Add("journal", jnl)
		}
	}

	if settings.Heartbeat.Enabled {
		opts := heartbeat.Options{
			Schedule: settings.Heartbeat.Schedule,
			Channel:  settings.Heartbeat.Channel,
			HostID:   shared.InstanceID,
			Logger:   shared.Loggers.CreateLogger("Heartbeat"),
		}
		var recorders []heartbeat.Recorder
		if jnl != nil {
			recorders = append(recorders, jnl)
		}
		if archive := newArchive(settings.Mongo, shared.Loggers.CreateLogger("Archive")); archive != nil {
			recorders = append(recorders, archive)
			group.Add("archive", archive)
		}
		if len(recorders) > 0 {
			opts.Recorder = heartbeat.Recorders(recorders...)
		}
		if pub := newPublisher(settings.Redis, logger); pub != nil {
			opts.Publisher = pub
		}

		h, err := heartbeat.New(pool, opts)
		if err != nil {
			logger.Error("Heartbeat disabled", logging.Err(err))
		} else {
			hb = h
			group.Add("heartbeat", hb)
		}
	}

	if settings.Status.Enabled {
		opts := status.Options{
			Addr:      settings.Status.Addr,
			HostID:    shared.InstanceID,
			Name:      settings.Host.Name,
			RateLimit: settings.Status.RateLimit,
			Burst:     settings.Status.Burst,
			State:     shared.HostState.String,
			Logger:    shared.Loggers.CreateLogger("Status"),
		}
		if shared.Config != nil {
			opts.Reload = shared.Config.Reload
		}
		if shared.Registry != nil {
			opts.Metrics = shared.Registry.Handler()
		}
		if jnl != nil {
			opts.Journal = jnl
		}
		if hb != nil {
			opts.Heartbeat = hb
		}

		s, err := status.New(pool, opts)
		if err != nil {
			logger.Error("Status server disabled", logging.Err(err))
		} else {
			group.Add("status", s)
		}
	}

	logger.Info("Services ready", logging.Field{Key: "count", Value: group.Len()})
	return group
}

// newPublisher 连接 Redis，地址为空或连接失败时返回 nil（只记录不发布）
func newPublisher(cfg config.RedisSettings, logger logging.Logger) heartbeat.Publisher {
	if cfg.Addr == "" {
		return nil
	}

	opts := heartbeat.DefaultRedisOptions(cfg.Addr)
	opts.Password = cfg.Password
	opts.DB = cfg.DB

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()

	pub, err := heartbeat.NewRedisPublisher(ctx, opts)
	if err != nil {
		logger.Warn("Heartbeat publishing disabled", logging.Err(err))
		return nil
	}
	return pub
}

// newArchive 连接 MongoDB，Uri 为空或连接失败时返回 nil
func newArchive(cfg config.MongoSettings, logger logging.Logger) *heartbeat.MongoRecorder {
	if cfg.Uri == "" {
		return nil
	}

	opts := heartbeat.NewDefaultMongoOptions(cfg.Uri)
	if cfg.Database != "" {
		opts.Database = cfg.Database
	}
	if cfg.Collection != "" {
		opts.Collection = cfg.Collection
	}
	opts.Logger = logger

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	archive, err := heartbeat.NewMongoRecorder(ctx, opts)
	if err != nil {
		logger.Warn("Heartbeat archive disabled", logging.Err(err))
		return nil
	}
	return archive
}

// hostOptions 宿主选项：日志、实例 ID、工作者池指标与状态观察者
func hostOptions(shared *Shared) []hosting.Option {
	opts := []hosting.Option{
		hosting.WithLogger(shared.Loggers.CreateLogger("ServiceHost")),
		hosting.WithID(shared.InstanceID),
		hosting.WithStateObserver(shared.HostState.Observe),
	}

	var poolOpts []workerpool.Option
	if shared.Settings.Host.OSThreads {
		poolOpts = append(poolOpts, workerpool.WithOSThreads())
	}
	if shared.Registry != nil {
		poolOpts = append(poolOpts, workerpool.WithObserver(metrics.NewPoolObserver(shared.Registry)))
		opts = append(opts, hosting.WithStateObserver(metrics.HostStateObserver(shared.Registry)))
	}
	return append(opts, hosting.WithPoolOptions(poolOpts...))
}
