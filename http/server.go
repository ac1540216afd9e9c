// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
	RateLimit      RateLimitConfig
}

// RateLimitConfig 限流配置；Enabled为false时不限流
type RateLimitConfig struct {
	Enabled        bool
	PredictPerHour int
	GlobalPerDay   int
	MaxClients     int
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           5000,
		Timeout:        30 * time.Second,
		MaxBodyBytes:   1 << 20,
		AllowedOrigins: []string{"*"},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			PredictPerHour: 50,
			GlobalPerDay:   200,
			MaxClients:     10000,
		},
	}
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, handlers *Handlers, logger *zap.Logger) (*Server, error) {
	if handlers == nil {
		return nil, errors.New("handlers are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var predictLimiter, globalLimiter *RateLimiter
	if config.RateLimit.Enabled {
		var err error
		predictLimiter, err = NewRateLimiter(config.RateLimit.PredictPerHour, time.Hour, config.RateLimit.MaxClients)
		if err != nil {
			return nil, fmt.Errorf("predict rate limiter: %w", err)
		}
		globalLimiter, err = NewRateLimiter(config.RateLimit.GlobalPerDay, 24*time.Hour, config.RateLimit.MaxClients)
		if err != nil {
			return nil, fmt.Errorf("global rate limiter: %w", err)
		}
	}

	mux := http.NewServeMux()
	handlers.Register(mux, RateLimitMiddleware(predictLimiter))

	// 创建中间件链
	chain := Chain(
		RecoveryMiddleware(logger),                 // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(logger),                   // 2. 日志中间件
		SecurityHeadersMiddleware,                  // 3. 安全头中间件
		CORSMiddleware(config.AllowedOrigins),      // 4. CORS中间件
		RateLimitMiddleware(globalLimiter),         // 5. 全局限流中间件
		RequestSizeMiddleware(config.MaxBodyBytes), // 6. 请求大小限制
		TimeoutMiddleware(config.Timeout),          // 7. 超时中间件
	)

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           chain(mux),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       config.Timeout,
			WriteTimeout:      config.Timeout + 5*time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		logger: logger,
	}, nil
}

// Handler 返回带中间件的处理器
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
