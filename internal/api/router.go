// internal/api/router.go
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/LoreChat/internal/config"
	"github.com/Corphon/LoreChat/internal/di"
	"github.com/Corphon/LoreChat/internal/services"
	"github.com/Corphon/LoreChat/internal/utils"
)

// RateLimits 一般接口和会调用模型的接口分别限流
type RateLimits struct {
	General *RateLimiter
	Chat    *RateLimiter
}

// NewHandlerFromContainer 从容器取出已初始化的服务
func NewHandlerFromContainer(container *di.Container) (*Handler, error) {
	h := &Handler{}
	var err error
	resolve := func(name string, target func() error) {
		if err == nil {
			if e := target(); e != nil {
				err = fmt.Errorf("%s服务未正确初始化: %w", name, e)
			}
		}
	}

	resolve("角色", func() (e error) { h.Characters, e = di.Resolve[*services.CharacterService](container, "character"); return })
	resolve("聊天", func() (e error) { h.Chat, e = di.Resolve[*services.ChatService](container, "chat"); return })
	resolve("LLM", func() (e error) { h.LLM, e = di.Resolve[*services.LLMService](container, "llm"); return })
	resolve("场景", func() (e error) { h.Scenes, e = di.Resolve[*services.SceneService](container, "scene"); return })
	resolve("分析", func() (e error) { h.Analyzer, e = di.Resolve[*services.AnalyzerService](container, "analyzer"); return })
	resolve("记忆", func() (e error) { h.Memory, e = di.Resolve[*services.MemoryService](container, "memory"); return })
	resolve("资料库", func() (e error) { h.Library, e = di.Resolve[*services.LibraryService](container, "library"); return })
	resolve("导出", func() (e error) { h.Export, e = di.Resolve[*services.ExportService](container, "export"); return })
	resolve("配置", func() (e error) { h.Config, e = di.Resolve[*services.ConfigService](container, "config"); return })
	resolve("指标", func() (e error) { h.Metrics, e = di.Resolve[*utils.ChatMetrics](container, "metrics"); return })

	var manager *WebSocketManager
	resolve("WebSocket", func() (e error) { manager, e = di.Resolve[*WebSocketManager](container, "websocket"); return })
	if err != nil {
		return nil, err
	}

	h.rh = NewResponseHelper(h.Metrics)
	h.WebSocketHandler = NewWebSocketHandler(manager, h.Scenes)
	return h, nil
}

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	handler, err := NewHandlerFromContainer(di.GetContainer())
	if err != nil {
		return nil, err
	}

	limits := RateLimits{
		General: NewRateLimiter(cfg.RateLimitPerMinute),
		Chat:    NewRateLimiter(cfg.ChatRateLimitPerMinute),
	}
	config.Subscribe(func(updated *config.AppConfig) {
		limits.General.SetLimit(updated.RateLimitPerMinute)
		limits.Chat.SetLimit(updated.ChatRateLimitPerMinute)
	})

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewRouter(handler, limits), nil
}

// NewRouter 注册所有路由
func NewRouter(handler *Handler, limits RateLimits) *gin.Engine {
	if handler.rh == nil {
		handler.rh = NewResponseHelper(handler.Metrics)
	}
	rh := handler.rh

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(corsMiddleware())
	if handler.Metrics != nil {
		r.Use(MetricsMiddleware(handler.Metrics))
	}
	r.Use(AuthMiddleware())

	r.GET("/health", handler.HealthCheck)

	// ===============================
	// WebSocket
	// ===============================
	r.GET("/ws/scene/:char_id/:chat_id", handler.WebSocketHandler.SceneWebSocket)
	r.GET("/ws/status", handler.WebSocketHandler.GetStatus)

	api := r.Group("/api")
	api.Use(RateLimitMiddleware(limits.General, rh))
	{
		// 会调用模型的接口另外限流
		chatLimit := RateLimitMiddleware(limits.Chat, rh)

		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.PUT("", handler.UpdateSettings)
			settingsGroup.POST("/test-connection", chatLimit, handler.TestConnection)
		}

		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/providers", handler.ListProviders)
			llmGroup.GET("/status", handler.LLMStatus)
		}

		charactersGroup := api.Group("/characters")
		{
			charactersGroup.GET("", handler.ListCharacters)
			charactersGroup.POST("", handler.CreateCharacter)
			charactersGroup.GET("/:id", handler.GetCharacter)
			charactersGroup.PUT("/:id", handler.UpdateCharacter)
			charactersGroup.DELETE("/:id", handler.DeleteCharacter)

			charactersGroup.GET("/:id/chats", handler.ListChats)
			charactersGroup.POST("/:id/chats", handler.CreateChat)
			charactersGroup.PUT("/:id/chats/:chat_id", handler.UpdateChat)
			charactersGroup.DELETE("/:id/chats/:chat_id", handler.DeleteChat)
		}

		api.GET("/session", handler.GetSession)
		api.PUT("/session", handler.UpdateSession)

		chatGroup := api.Group("/chat")
		{
			chatGroup.GET("/history", handler.GetChatHistory)
			chatGroup.POST("/send", chatLimit, handler.SendMessage)
			chatGroup.POST("/regenerate", chatLimit, handler.RegenerateMessage)
			chatGroup.PUT("/variant", handler.SelectVariant)
			chatGroup.POST("/abort", handler.AbortGeneration)
			chatGroup.GET("/preview", handler.PreviewPayload)
			chatGroup.GET("/memory", handler.GetMemory)
			chatGroup.PUT("/memory", handler.SetMemory)
			chatGroup.POST("/memory/update", chatLimit, handler.UpdateMemory)
			chatGroup.GET("/export", handler.ExportChat)
		}

		personasGroup := api.Group("/personas")
		{
			personasGroup.GET("", handler.ListPersonas)
			personasGroup.POST("", handler.SavePersona)
			personasGroup.PUT("/:id", handler.SavePersona)
		}

		promptSetsGroup := api.Group("/prompt-sets")
		{
			promptSetsGroup.GET("", handler.ListPromptSets)
			promptSetsGroup.POST("", handler.SavePromptSet)
			promptSetsGroup.PUT("/active", handler.SetActivePromptSet)
			promptSetsGroup.PUT("/:id", handler.SavePromptSet)
			promptSetsGroup.DELETE("/:id", handler.DeletePromptSet)
		}

		lorebooksGroup := api.Group("/lorebooks")
		{
			lorebooksGroup.GET("", handler.ListLorebooks)
			lorebooksGroup.POST("", handler.SaveLorebook)
			lorebooksGroup.GET("/:id", handler.GetLorebook)
			lorebooksGroup.PUT("/:id", handler.SaveLorebook)
			lorebooksGroup.DELETE("/:id", handler.DeleteLorebook)
		}

		sceneGroup := api.Group("/scene")
		{
			sceneGroup.GET("", handler.GetSceneMap)
			sceneGroup.POST("/nodes", handler.AddSceneNode)
			sceneGroup.PUT("/nodes/:node_id", handler.UpdateSceneNode)
			sceneGroup.DELETE("/nodes/:node_id", handler.DeleteSceneNode)
			sceneGroup.PUT("/nodes/:node_id/state", handler.UpdateSceneNodeState)
			sceneGroup.POST("/nodes/:node_id/move", handler.MoveSceneNode)
			sceneGroup.GET("/nodes/:node_id/path", handler.GetNodePath)
			sceneGroup.GET("/nodes/:node_id/items", handler.GetItemsInLocation)
			sceneGroup.GET("/by-path", handler.FindNodeByPath)
			sceneGroup.GET("/parents", handler.GetAvailableParents)
			sceneGroup.GET("/prompt", handler.GetScenePrompt)
			sceneGroup.PUT("/injection", handler.SetSceneInjection)
			sceneGroup.PUT("/current-location", handler.SetCurrentLocation)
			sceneGroup.POST("/analyze", chatLimit, handler.AnalyzeScene)
			sceneGroup.POST("/apply", handler.ApplySceneChanges)
			sceneGroup.GET("/export", handler.ExportScene)
			sceneGroup.POST("/import", handler.ImportScene)

			sceneGroup.GET("/keywords", handler.GetKeywords)
			sceneGroup.PUT("/keywords", handler.SetKeyword)
			sceneGroup.DELETE("/keywords/:keyword", handler.DeleteKeyword)
			sceneGroup.POST("/keywords/reset", handler.ResetKeywords)
		}

		configGroup := api.Group("/config")
		{
			configGroup.GET("", handler.GetServerConfig)
			configGroup.PUT("", handler.UpdateServerConfig)
		}

		api.GET("/metrics", handler.GetMetrics)
	}

	return r
}
