package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"spottrader/config"
	"spottrader/logger"
)

// WebServer Web服务器
type WebServer struct {
	server *http.Server
	cfg    *config.Config
}

// NewRouter 创建路由（测试可直接使用）
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if logger.GetLevel() == logger.DEBUG {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(GinLoggerMiddleware(logger.GetLevel() == logger.DEBUG))
	SetupRoutes(r, deps, cfg.Web.APIKeyHash)
	return r
}

// NewWebServer 创建Web服务器，未启用时返回 nil
func NewWebServer(cfg *config.Config, deps Deps) *WebServer {
	if !cfg.Web.Enabled {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	return &WebServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(cfg, deps),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		cfg: cfg,
	}
}

// Start 启动Web服务器，ctx 取消时优雅关闭
func (ws *WebServer) Start(ctx context.Context) {
	if ws == nil {
		return
	}

	go func() {
		logger.Info("🌐 Web服务器启动在 http://%s", ws.server.Addr)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("❌ Web服务器启动失败: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		ws.Stop()
	}()
}

// Stop 关闭Web服务器
func (ws *WebServer) Stop() {
	if ws == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("❌ Web服务器关闭失败: %v", err)
		return
	}
	logger.Info("✅ Web服务器已关闭")
}
