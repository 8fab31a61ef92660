// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/Corphon/LoreChat/internal/api"
	"github.com/Corphon/LoreChat/internal/config"
	"github.com/Corphon/LoreChat/internal/di"
	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/prompt"
	"github.com/Corphon/LoreChat/internal/services"
	"github.com/Corphon/LoreChat/internal/storage"
	"github.com/Corphon/LoreChat/internal/utils"
)

// App 进程级的资源：存储、服务容器和 WebSocket 管理器
type App struct {
	base      *config.Config
	store     storage.Store
	container *di.Container
	websocket *api.WebSocketManager
	locks     *services.LockManager
	metrics   *utils.ChatMetrics

	stopChan chan struct{}
	stopOnce sync.Once
}

var (
	instance *App
	mu       sync.Mutex
)

// GetApp 获取应用实例
func GetApp() *App {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		instance = &App{
			container: di.GetContainer(),
			stopChan:  make(chan struct{}),
		}
	}
	return instance
}

// Container 服务容器
func (a *App) Container() *di.Container {
	return a.container
}

// Store 当前存储
func (a *App) Store() storage.Store {
	return a.store
}

// InitServices 打开存储、加载状态并按依赖顺序注册所有服务
func InitServices(ctx context.Context, base *config.Config) error {
	a := GetApp()
	a.base = base

	store, err := storage.Open(ctx, storage.Options{
		Driver:        base.StorageDriver,
		DataDir:       base.DataDir,
		SQLitePath:    base.SQLitePath,
		MongoURI:      base.MongoURI,
		MongoDatabase: base.MongoDatabase,
	})
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	return a.initWithStore(ctx, store)
}

// initWithStore 在给定的存储上装配服务
func (a *App) initWithStore(ctx context.Context, store storage.Store) error {
	a.store = store
	container := a.container
	container.Register("store", store)

	encryptionKey := ""
	if a.base != nil {
		encryptionKey = a.base.EncryptionKey
	}
	state := services.NewStateService(store, encryptionKey)
	if err := state.Load(ctx); err != nil {
		return fmt.Errorf("加载应用状态失败: %w", err)
	}
	container.Register("state", state)

	a.metrics = utils.NewChatMetrics()
	container.Register("metrics", a.metrics)

	a.locks = services.NewLockManager()
	container.Register("locks", a.locks)

	// 模型调用不设超时，由 Abort 或新请求取消
	llmService := services.NewLLMService(state, llm.NewDispatcher(&http.Client{}), a.metrics)
	container.Register("llm", llmService)

	a.websocket = api.NewWebSocketManager()
	container.Register("websocket", a.websocket)

	sceneService := services.NewSceneService(state, a.locks, a.metrics)
	sceneService.SetBroadcaster(a.websocket)
	container.Register("scene", sceneService)

	container.Register("character", services.NewCharacterService(state, a.locks))
	builder := prompt.NewBuilder(prompt.WithMetrics(a.metrics))
	container.Register("chat", services.NewChatService(state, llmService, sceneService, a.locks, builder))
	container.Register("memory", services.NewMemoryService(state, llmService, a.locks))
	container.Register("analyzer", services.NewAnalyzerService(state, llmService, sceneService))
	container.Register("library", services.NewLibraryService(state))
	container.Register("export", services.NewExportService(state))
	container.Register("config", services.NewConfigService(state, llmService))

	utils.GetLogger().Info("服务初始化完成", map[string]interface{}{"services": len(container.GetNames())})
	return nil
}

// Stop 按注册的相反顺序关闭服务：WebSocket、锁清理，最后是存储。可重复调用
func (a *App) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		close(a.stopChan)
		err = a.container.Close()
	})
	return err
}

// Done 在 Stop 之后关闭
func (a *App) Done() <-chan struct{} {
	return a.stopChan
}

// Metrics 运行指标
func (a *App) Metrics() *utils.ChatMetrics {
	return a.metrics
}
