// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/LoreChat/internal/api"
	"github.com/Corphon/LoreChat/internal/app"
	"github.com/Corphon/LoreChat/internal/config"
	"github.com/Corphon/LoreChat/internal/di"
	"github.com/Corphon/LoreChat/internal/utils"

	// 注册模型供应商
	_ "github.com/Corphon/LoreChat/internal/llm/providers/anthropic"
	_ "github.com/Corphon/LoreChat/internal/llm/providers/google"
	_ "github.com/Corphon/LoreChat/internal/llm/providers/official"
	_ "github.com/Corphon/LoreChat/internal/llm/providers/openai"
)

func main() {
	log.Println("🚀 启动 LoreChat 服务器...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. 加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s，存储: %s", baseConfig.Port, baseConfig.StorageDriver)

	// 2. 创建必要的目录
	createDirectories(baseConfig)
	log.Println("✅ 目录结构创建完成")

	// 3. 日志文件
	logFile := filepath.Join(baseConfig.LogDir, fmt.Sprintf("server_%s.log", time.Now().Format("2006-01-02")))
	if err := utils.InitLogger(logFile); err != nil {
		log.Printf("⚠️ 初始化日志文件失败，仅输出到控制台: %v", err)
	}
	defer utils.CloseLogger()

	// 4. 配置系统和热加载
	if err := config.InitConfig(baseConfig); err != nil {
		log.Fatalf("初始化配置系统失败: %v", err)
	}
	if err := config.Watch(ctx); err != nil {
		log.Printf("⚠️ 配置文件监听未启动: %v", err)
	}
	log.Printf("✅ 配置系统初始化完成: %s", config.ConfigFile())

	api.InitializeAuth(baseConfig.AuthSecret)

	// 5. 初始化所有服务（按依赖顺序）
	if err := app.InitServices(ctx, baseConfig); err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}
	log.Printf("✅ 所有服务初始化完成，服务数量: %d", len(di.GetContainer().GetNames()))

	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	if metrics := app.GetApp().Metrics(); metrics != nil {
		metrics.StartMetricsCollection(ctx, 5*time.Minute)
	}

	// 6. 设置路由
	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("❌ 设置路由失败: %v", err)
	}
	log.Println("✅ 路由设置完成")

	// 7. 启动服务器
	log.Printf("🌐 服务器启动在端口 %s", baseConfig.Port)
	log.Printf("🔗 访问地址: http://localhost:%s/api", baseConfig.Port)

	setupGracefulShutdown(router, baseConfig.Port, cancel)
}

// 健康检查函数
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{"state", "llm", "scene", "chat", "config", "character"}
	for _, serviceName := range criticalServices {
		if service := container.Get(serviceName); service == nil {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// 优雅关闭函数
func setupGracefulShutdown(router *gin.Engine, port string, cancel context.CancelFunc) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ 启动服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 正在关闭服务器...")
	cancel()

	// 生成中的请求没有超时，这里最多等 30 秒
	ctx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("❌ 服务器强制关闭: %v", err)
	}
	if err := app.GetApp().Stop(); err != nil {
		log.Printf("⚠️ 关闭存储失败: %v", err)
	}

	log.Println("✅ 服务器优雅关闭完成")
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "exports"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}
