package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gocrud/servicehost/logging"
)

// Settings servicehost 进程的完整配置
type Settings struct {
	Host      HostSettings      `json:"host"`
	Logging   LoggingSettings   `json:"logging"`
	Metrics   MetricsSettings   `json:"metrics"`
	Status    StatusSettings    `json:"status"`
	Heartbeat HeartbeatSettings `json:"heartbeat"`
	Journal   JournalSettings   `json:"journal"`
	Redis     RedisSettings     `json:"redis"`
	Mongo     MongoSettings     `json:"mongo"`
}

// HostSettings 宿主配置
type HostSettings struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	OSThreads bool   `json:"osthreads"`
}

// LoggingSettings 日志配置
type LoggingSettings struct {
	Level string `json:"level"`
	// Provider console | zap | stream
	Provider string `json:"provider"`
	// Format stream 使用 text | json，zap 使用 json | console
	Format string `json:"format"`
	// Path stream 输出文件，为空时写 stdout
	Path string `json:"path"`
}

// MetricsSettings 指标配置
type MetricsSettings struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// StatusSettings 状态服务配置
type StatusSettings struct {
	Enabled   bool    `json:"enabled"`
	Addr      string  `json:"addr"`
	RateLimit float64 `json:"ratelimit"`
	Burst     int     `json:"burst"`
}

// HeartbeatSettings 心跳配置
type HeartbeatSettings struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	Channel  string `json:"channel"`
}

// JournalSettings 生命周期日志配置
type JournalSettings struct {
	Enabled   bool   `json:"enabled"`
	Path      string `json:"path"`
	BatchSize int    `json:"batchsize"`
	// FlushInterval 未满一批的记录最长等待时间，如 "5s"；0 表示只按批刷新
	FlushInterval time.Duration `json:"flushinterval"`
}

// RedisSettings Redis 配置，Addr 为空时不发布心跳
type RedisSettings struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// MongoSettings 心跳归档配置，Uri 为空时不归档
type MongoSettings struct {
	Uri        string `json:"uri"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

// DefaultSettings 返回默认配置
func DefaultSettings() Settings {
	return Settings{
		Host: HostSettings{
			Name:    "servicehost",
			Workers: 4,
		},
		Logging: LoggingSettings{
			Level:    "info",
			Provider: "console",
			Format:   "text",
		},
		Metrics: MetricsSettings{
			Enabled:   true,
			Namespace: "servicehost",
		},
		Status: StatusSettings{
			Enabled:   true,
			Addr:      "127.0.0.1:9090",
			RateLimit: 20,
			Burst:     40,
		},
		Heartbeat: HeartbeatSettings{
			Enabled:  true,
			Schedule: "@every 10s",
			Channel:  "servicehost:heartbeat",
		},
		Journal: JournalSettings{
			Enabled:       true,
			Path:          "servicehost.db",
			BatchSize:     32,
			FlushInterval: 5 * time.Second,
		},
		Mongo: MongoSettings{
			Database:   "servicehost",
			Collection: "heartbeats",
		},
	}
}

// LoadSettings 在默认配置之上绑定整个配置并验证
func LoadSettings(cfg Configuration) (Settings, error) {
	s, err := LoadInto(cfg, "", DefaultSettings())
	if err != nil {
		return s, err
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate 验证配置
func (s *Settings) Validate() error {
	var errs []error

	if s.Host.Workers < 1 {
		errs = append(errs, fmt.Errorf("host.workers must be at least 1, got %d", s.Host.Workers))
	}

	if _, err := logging.ParseLevel(s.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch s.Logging.Provider {
	case "", "console":
	case "zap":
		if s.Logging.Format != "" && s.Logging.Format != "json" && s.Logging.Format != "console" {
			errs = append(errs, fmt.Errorf("logging.format %q is not supported by zap", s.Logging.Format))
		}
	case "stream":
		if s.Logging.Format != "" && s.Logging.Format != "json" && s.Logging.Format != "text" {
			errs = append(errs, fmt.Errorf("logging.format %q is not supported by stream", s.Logging.Format))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown logging.provider %q", s.Logging.Provider))
	}

	if s.Status.Enabled {
		if err := validateAddr(s.Status.Addr); err != nil {
			errs = append(errs, fmt.Errorf("status.addr: %w", err))
		}
		if s.Status.RateLimit < 0 || s.Status.Burst < 0 {
			errs = append(errs, errors.New("status.ratelimit and status.burst must not be negative"))
		}
	}

	if s.Heartbeat.Enabled {
		if s.Heartbeat.Schedule == "" {
			errs = append(errs, errors.New("heartbeat.schedule is required when heartbeat is enabled"))
		} else if _, err := cron.ParseStandard(s.Heartbeat.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("heartbeat.schedule: %w", err))
		}
	}

	if s.Journal.Enabled && s.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path is required when journal is enabled"))
	}
	if s.Journal.FlushInterval < 0 {
		errs = append(errs, errors.New("journal.flushinterval must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid settings: %w", errors.Join(errs...))
	}
	return nil
}

func validateAddr(addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port %q", portStr)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}
