package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/services"
	"github.com/Corphon/LoreChat/internal/storage"
	"github.com/Corphon/LoreChat/internal/utils"
)

const echoProviderName = "echo"

func init() {
	gin.SetMode(gin.TestMode)
	llm.Register(echoProviderName, func() llm.Provider { return &echoProvider{} })
	utils.GetLogger().Enable(false)
}

// echoProvider 把 payload 发到 base_url，响应体原样作为回复
type echoProvider struct {
	url string
}

func (p *echoProvider) Initialize(config map[string]string) error {
	p.url = config[llm.ConfigBaseURL]
	return nil
}
func (p *echoProvider) GetName() string { return echoProviderName }
func (p *echoProvider) GetSupportedModels() []string { return []string{"echo-1"} }
func (p *echoProvider) ParseResponse(body []byte) string { return string(body) }

func (p *echoProvider) FormatPayload(messages []models.ChatMessage) llm.Payload {
	return llm.MergeLeadingSystem(llm.DropErrors(messages))
}

func (p *echoProvider) BuildRequest(ctx context.Context, payload llm.Payload, params llm.RequestParams) (*http.Request, error) {
	return llm.NewJSONRequest(ctx, p.url, payload, nil)
}

func (p *echoProvider) BuildTestRequest(ctx context.Context, apiKey, model string) (*http.Request, error) {
	return llm.NewJSONRequest(ctx, p.url, map[string]string{"model": model}, nil)
}

// modelServer 依次返回预设的回复
type modelServer struct {
	mu      sync.Mutex
	status  int
	replies []string
}

func (m *modelServer) queue(status int, replies ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	m.replies = append(m.replies, replies...)
}

func (m *modelServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, r.Body)
	m.mu.Lock()
	status, text := m.status, "ok"
	if len(m.replies) > 0 {
		text, m.replies = m.replies[0], m.replies[1:]
	}
	m.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write([]byte(text))
}

// testEnv 完整装配的路由
type testEnv struct {
	router  *gin.Engine
	handler *Handler
	manager *WebSocketManager
	model   *modelServer
	limits  RateLimits
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	model := &modelServer{}
	upstream := httptest.NewServer(model)
	t.Cleanup(upstream.Close)

	state := services.NewStateService(store, "api-test")
	require.NoError(t, state.Load(ctx))
	require.NoError(t, state.Mutate(func(st *models.AppState) error {
		st.GlobalSettings.APIProvider = echoProviderName
		st.GlobalSettings.APIKey = "sk-api-test-key"
		st.GlobalSettings.APIModel = "echo-1"
		return nil
	}))

	metrics := utils.NewChatMetricsWith(utils.NewMetricsCollector())
	locks := services.NewLockManager()
	t.Cleanup(locks.Close)

	llmService := services.NewLLMService(state, llm.NewDispatcher(upstream.Client()), metrics)
	configService := services.NewConfigService(state, llmService)
	llmService.UpdateProviderConfig(map[string]string{llm.ConfigBaseURL: upstream.URL})

	manager := NewWebSocketManager()
	t.Cleanup(manager.Close)

	scenes := services.NewSceneService(state, locks, metrics)
	scenes.SetBroadcaster(manager)

	h := &Handler{
		Characters: services.NewCharacterService(state, locks),
		Chat:       services.NewChatService(state, llmService, scenes, locks, nil),
		LLM:        llmService,
		Scenes:     scenes,
		Analyzer:   services.NewAnalyzerService(state, llmService, scenes),
		Memory:     services.NewMemoryService(state, llmService, locks),
		Library:    services.NewLibraryService(state),
		Export:     services.NewExportService(state),
		Config:     configService,
		Metrics:    metrics,
	}
	h.WebSocketHandler = NewWebSocketHandler(manager, scenes)

	limits := RateLimits{General: NewRateLimiter(0), Chat: NewRateLimiter(0)}
	return &testEnv{
		router:  NewRouter(h, limits),
		handler: h,
		manager: manager,
		model:   model,
		limits:  limits,
	}
}

// do 发送请求，body 为 nil 时不带请求体
func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// session 建立角色和聊天室并设为当前会话
func (e *testEnv) session(t *testing.T) (charID, chatID string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/characters", map[string]interface{}{
		"name":         "Alice",
		"firstMessage": []string{"Hello, {{user}}."},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	charID = gjson.Get(w.Body.String(), "data.id").String()

	w = e.do(t, http.MethodPost, "/api/characters/"+charID+"/chats", map[string]string{"name": "first"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	chatID = gjson.Get(w.Body.String(), "data.id").String()

	w = e.do(t, http.MethodPut, "/api/session", map[string]string{"characterId": charID, "chatId": chatID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return charID, chatID
}
