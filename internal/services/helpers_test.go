package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/storage"
	"github.com/Corphon/LoreChat/internal/utils"
)

const stubProviderName = "stub"

func init() {
	llm.Register(stubProviderName, func() llm.Provider { return &stubProvider{} })
	utils.GetLogger().Enable(false)
}

// stubProvider 把 payload 发到 base_url，响应体原样作为回复
type stubProvider struct {
	url string
}

func (p *stubProvider) Initialize(config map[string]string) error {
	p.url = config[llm.ConfigBaseURL]
	return nil
}
func (p *stubProvider) GetName() string { return stubProviderName }
func (p *stubProvider) GetSupportedModels() []string { return []string{"stub-1"} }
func (p *stubProvider) ParseResponse(body []byte) string { return string(body) }

func (p *stubProvider) FormatPayload(messages []models.ChatMessage) llm.Payload {
	return llm.MergeLeadingSystem(llm.DropErrors(messages))
}

func (p *stubProvider) BuildRequest(ctx context.Context, payload llm.Payload, params llm.RequestParams) (*http.Request, error) {
	return llm.NewJSONRequest(ctx, p.url, payload, map[string]string{"Authorization": "Bearer " + params.APIKey})
}

func (p *stubProvider) BuildTestRequest(ctx context.Context, apiKey, model string) (*http.Request, error) {
	return llm.NewJSONRequest(ctx, p.url, map[string]string{"model": model}, nil)
}

// upstream 可编程的模型服务
type upstream struct {
	mu       sync.Mutex
	status   int
	replies  []string
	requests []string
}

func (u *upstream) reply(status int, texts ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = status
	u.replies = append(u.replies, texts...)
}

func (u *upstream) lastRequest() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.requests) == 0 {
		return ""
	}
	return u.requests[len(u.requests)-1]
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	u.mu.Lock()
	u.requests = append(u.requests, string(body))
	status := u.status
	text := "ok"
	if len(u.replies) > 0 {
		text = u.replies[0]
		u.replies = u.replies[1:]
	}
	u.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}

// fixture 在临时目录上装配全部服务
type fixture struct {
	ctx      context.Context
	dir      string
	store    storage.Store
	state    *StateService
	locks    *LockManager
	llm      *LLMService
	scenes   *SceneService
	chars    *CharacterService
	chat     *ChatService
	memory   *MemoryService
	analyzer *AnalyzerService
	library  *LibraryService
	export   *ExportService
	upstream *upstream
	url      string
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := storage.NewFileStorage(dir)
	require.NoError(t, err)

	up := &upstream{}
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	f := &fixture{
		ctx:      ctx,
		dir:      dir,
		store:    store,
		upstream: up,
		url:      srv.URL,
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.state = NewStateService(store, "test-passphrase")
	f.state.clock = func() time.Time { return f.now }
	require.NoError(t, f.state.Load(ctx))

	f.locks = NewLockManager()
	t.Cleanup(f.locks.Close)

	metrics := utils.NewChatMetricsWith(utils.NewMetricsCollector())
	f.llm = NewLLMService(f.state, llm.NewDispatcher(srv.Client()), metrics)
	f.llm.UpdateProviderConfig(map[string]string{llm.ConfigBaseURL: srv.URL})

	f.scenes = NewSceneService(f.state, f.locks, metrics)
	f.chars = NewCharacterService(f.state, f.locks)
	f.chat = NewChatService(f.state, f.llm, f.scenes, f.locks, nil)
	f.memory = NewMemoryService(f.state, f.llm, f.locks)
	f.analyzer = NewAnalyzerService(f.state, f.llm, f.scenes)
	f.library = NewLibraryService(f.state)
	f.export = NewExportService(f.state)

	require.NoError(t, f.state.Mutate(func(st *models.AppState) error {
		st.GlobalSettings.APIProvider = stubProviderName
		st.GlobalSettings.APIKey = "sk-test"
		st.GlobalSettings.APIModel = "stub-1"
		return nil
	}))
	return f
}

// session 建立角色和聊天室并设为当前会话
func (f *fixture) session(t *testing.T, firstMessages ...string) models.SessionRef {
	t.Helper()
	name := "Alice"
	c, err := f.chars.CreateCharacter(f.ctx, CharacterInput{Name: &name, FirstMessage: firstMessages})
	require.NoError(t, err)
	chat, err := f.chars.CreateChat(f.ctx, c.ID, "")
	require.NoError(t, err)
	_, err = f.chars.SetSession(f.ctx, SessionUpdate{CharacterID: &c.ID, ChatID: &chat.ID})
	require.NoError(t, err)
	return models.SessionRef{CharacterID: c.ID, ChatID: chat.ID}
}

func ptr[T any](v T) *T { return &v }
