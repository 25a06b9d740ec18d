// Package status 提供 HTTP 管理端点：健康检查、宿主与工作者池状态、
// 最近一次心跳、最近的日志记录、Prometheus 指标，以及可选的配置重载。
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gocrud/servicehost/hosting"
	"github.com/gocrud/servicehost/logging"
	"github.com/gocrud/servicehost/services/heartbeat"
	"github.com/gocrud/servicehost/services/journal"
)

// JournalReader 日志查询接口
type JournalReader interface {
	Recent(limit int) ([]journal.Entry, error)
}

// HeartbeatReader 心跳查询接口
type HeartbeatReader interface {
	Last() (heartbeat.Beat, bool)
}

// Options 状态服务配置选项
type Options struct {
	Addr   string
	HostID string
	Name   string
	// RateLimit 每个客户端每秒请求数，0 表示不限流
	RateLimit float64
	Burst     int
	// Metrics 非空时挂载到 /metrics
	Metrics   http.Handler
	Journal   JournalReader
	Heartbeat HeartbeatReader
	// State 返回宿主当前状态
	State func() string
	// Reload 非空时挂载 POST /config/reload
	Reload func() error
	Logger logging.Logger
}

// Server 状态服务
type Server struct {
	opts    Options
	pool    hosting.Pool
	engine  *gin.Engine
	server  *http.Server
	logger  logging.Logger
	started time.Time
	done    chan struct{}
}

// New 创建路由并同步监听地址，随后在后台开始服务
func New(pool hosting.Pool, opts Options) (*Server, error) {
	if opts.Addr == "" {
		return nil, errors.New("status: addr is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	if opts.RateLimit > 0 {
		engine.Use(newRateLimiter(opts.RateLimit, opts.Burst).middleware())
	}

	s := &Server{
		opts:    opts,
		pool:    pool,
		engine:  engine,
		logger:  opts.Logger,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	s.mapRoutes()

	// 同步监听，确保端口可用
	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("status: failed to listen on %s: %w", opts.Addr, err)
	}

	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.serve(ln)

	s.logger.Info("Status server started", logging.Field{Key: "address", Value: s.server.Addr})
	return s, nil
}

func (s *Server) serve(ln net.Listener) {
	defer close(s.done)
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Status server error", logging.Err(err))
	}
}

func (s *Server) mapRoutes() {
	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/status", s.status)
	if s.opts.Heartbeat != nil {
		s.engine.GET("/heartbeat", s.heartbeat)
	}
	if s.opts.Journal != nil {
		s.engine.GET("/journal", s.journal)
	}
	if s.opts.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}
	if s.opts.Reload != nil {
		s.engine.POST("/config/reload", s.reload)
	}
}

func (s *Server) reload(c *gin.Context) {
	if err := s.opts.Reload(); err != nil {
		s.logger.Warn("Configuration reload failed", logging.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("Configuration reloaded")
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

// Addr 实际监听地址
func (s *Server) Addr() string {
	return s.server.Addr
}

// Handler 返回路由，便于测试直接调用
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	body := gin.H{
		"host_id": s.opts.HostID,
		"name":    s.opts.Name,
		"workers": s.pool.Workers(),
		"pool":    s.pool.Stats(),
		"uptime":  time.Since(s.started).Round(time.Millisecond).String(),
	}
	if s.opts.State != nil {
		body["state"] = s.opts.State()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) heartbeat(c *gin.Context) {
	beat, ok := s.opts.Heartbeat.Last()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no heartbeat yet"})
		return
	}
	c.JSON(http.StatusOK, beat)
}

func (s *Server) journal(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	entries, err := s.opts.Journal.Recent(limit)
	if err != nil {
		s.logger.Warn("Failed to query journal", logging.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Shutdown 优雅关闭 HTTP 服务并等待服务循环退出
func (s *Server) Shutdown() {
	s.logger.Info("Stopping status server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown status server gracefully", logging.Err(err))
		_ = s.server.Close()
	}
	<-s.done

	s.logger.Info("Status server stopped")
}
