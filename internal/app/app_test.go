package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/Corphon/LoreChat/internal/api"
	"github.com/Corphon/LoreChat/internal/config"
	"github.com/Corphon/LoreChat/internal/di"
	"github.com/Corphon/LoreChat/internal/services"
	"github.com/Corphon/LoreChat/internal/utils"
)

// 测试前的设置工作
func setupTest(t *testing.T) *config.Config {
	t.Helper()

	// 重置全局应用实例
	instance = nil
	di.GetContainer().Clear()
	utils.GetLogger().Enable(false)

	tempDir := t.TempDir()
	base := &config.Config{
		Port:          "0",
		DataDir:       filepath.Join(tempDir, "data"),
		LogDir:        filepath.Join(tempDir, "logs"),
		LogLevel:      "info",
		StorageDriver: "file",
		EncryptionKey: "app-test-key",
	}
	if err := config.InitConfig(base); err != nil {
		t.Fatalf("初始化配置失败: %v", err)
	}

	t.Cleanup(func() {
		if instance != nil {
			instance.Stop()
		}
		instance = nil
		di.GetContainer().Clear()
	})
	return base
}

// TestGetApp 测试获取应用实例
func TestGetApp(t *testing.T) {
	instance = nil

	app1 := GetApp()
	if app1 == nil {
		t.Fatal("GetApp应该返回一个非nil的应用实例")
	}

	// 再次调用，应该返回相同的实例（单例模式）
	app2 := GetApp()
	if app1 != app2 {
		t.Fatal("GetApp应该返回相同的实例")
	}

	if app1.stopChan == nil {
		t.Fatal("应用实例的stopChan应该被初始化")
	}
	instance = nil
}

// TestInitServices 所有服务都注册到容器中
func TestInitServices(t *testing.T) {
	base := setupTest(t)

	if err := InitServices(context.Background(), base); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}

	container := di.GetContainer()
	for _, name := range []string{
		"state", "metrics", "locks", "llm", "websocket", "scene",
		"character", "chat", "memory", "analyzer", "library", "export", "config",
	} {
		if !container.Has(name) {
			t.Errorf("服务 %s 应该已被注册", name)
		}
	}

	if _, err := di.Resolve[*services.SceneService](container, "scene"); err != nil {
		t.Fatalf("场景服务类型错误: %v", err)
	}
	if GetApp().Store() == nil {
		t.Fatal("存储应该已被打开")
	}
}

// TestServiceDependencyOrder 场景服务的变更通过 WebSocket 管理器推送
func TestServiceDependencyOrder(t *testing.T) {
	base := setupTest(t)
	if err := InitServices(context.Background(), base); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}

	manager, err := di.Resolve[*api.WebSocketManager](di.GetContainer(), "websocket")
	if err != nil {
		t.Fatalf("WebSocket 管理器未注册: %v", err)
	}
	status := manager.GetStatus()
	if status["total_connections"] != 0 {
		t.Fatalf("初始连接数应为 0，实际为 %v", status["total_connections"])
	}
}

// TestRouterFromContainer 用容器中的服务建立路由
func TestRouterFromContainer(t *testing.T) {
	base := setupTest(t)
	if err := InitServices(context.Background(), base); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}

	router, err := api.SetupRouter()
	if err != nil {
		t.Fatalf("设置路由失败: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("期望状态码 200，实际为 %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("响应应该带有请求ID")
	}
}

// TestContextBuildMetrics 预览载荷时记录上下文组装指标
func TestContextBuildMetrics(t *testing.T) {
	base := setupTest(t)
	if err := InitServices(context.Background(), base); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}
	router, err := api.SetupRouter()
	if err != nil {
		t.Fatalf("设置路由失败: %v", err)
	}

	call := func(method, path string, body interface{}, want int) map[string]interface{} {
		t.Helper()
		var reader *bytes.Reader
		if body != nil {
			data, _ := json.Marshal(body)
			reader = bytes.NewReader(data)
		} else {
			reader = bytes.NewReader(nil)
		}
		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("%s %s 期望状态码 %d，实际为 %d: %s", method, path, want, w.Code, w.Body.String())
		}
		var resp struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		return resp.Data
	}

	charID, _ := call(http.MethodPost, "/api/characters", map[string]string{"name": "Alice"}, http.StatusCreated)["id"].(string)
	chatID, _ := call(http.MethodPost, "/api/characters/"+charID+"/chats", map[string]string{"name": "first"}, http.StatusCreated)["id"].(string)
	call(http.MethodPut, "/api/session", map[string]string{"characterId": charID, "chatId": chatID}, http.StatusOK)
	call(http.MethodGet, "/api/chat/preview", nil, http.StatusOK)

	metrics, err := di.Resolve[*utils.ChatMetrics](di.GetContainer(), "metrics")
	if err != nil {
		t.Fatalf("指标服务未注册: %v", err)
	}
	if got := metrics.Collector().GetCounterValue("context_builds_total"); got != 1 {
		t.Fatalf("context_builds_total 应为 1，实际为 %d", got)
	}
}

// TestStop 可以重复调用
func TestStop(t *testing.T) {
	base := setupTest(t)
	if err := InitServices(context.Background(), base); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}

	app := GetApp()
	if err := app.Stop(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}
	if err := app.Stop(); err != nil {
		t.Fatalf("重复关闭不应该返回错误: %v", err)
	}

	select {
	case <-app.Done():
	default:
		t.Fatal("Stop 之后 Done 应该已关闭")
	}
}

// TestUnknownStorageDriver 不支持的存储驱动
func TestUnknownStorageDriver(t *testing.T) {
	base := setupTest(t)
	base.StorageDriver = "cassandra"

	if err := InitServices(context.Background(), base); err == nil {
		t.Fatal("不支持的存储驱动应该返回错误")
	}
}
