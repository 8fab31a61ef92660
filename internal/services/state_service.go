// internal/services/state_service.go
package services

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/prompt"
	"github.com/Corphon/LoreChat/internal/scene"
	"github.com/Corphon/LoreChat/internal/storage"
	"github.com/Corphon/LoreChat/internal/utils"
)

// settingsKey 设置文档在 keyValueStore 中的 ID
const settingsKey = "settings"

// DefaultPersonaID 预设的用户身份
const DefaultPersonaID = "persona_default"

// charDocument 按角色分组保存的文档：{id: 角色ID, data: {聊天室ID: 值}}
type charDocument[T any] struct {
	ID   string       `json:"id"`
	Data map[string]T `json:"data"`
}

// StateService 持有 AppState，负责加载、加锁访问和持久化
type StateService struct {
	store         storage.Store
	encryptionKey string

	mu    sync.RWMutex
	state *models.AppState

	clock  func() time.Time
	logger *utils.Logger
}

// NewStateService 创建状态服务，encryptionKey 为空时 API 金钥明文保存
func NewStateService(store storage.Store, encryptionKey string) *StateService {
	return &StateService{
		store:         store,
		encryptionKey: encryptionKey,
		state:         models.NewAppState(),
		clock:         time.Now,
		logger:        utils.GetLogger().With("state", nil),
	}
}

// Now 服务使用的时钟
func (s *StateService) Now() time.Time {
	return s.clock()
}

// View 在读锁下访问状态，fn 不得保留状态中的引用
func (s *StateService) View(fn func(st *models.AppState)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

// Mutate 在写锁下修改状态
func (s *StateService) Mutate(fn func(st *models.AppState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// Settings 当前全局设置的副本
func (s *StateService) Settings() models.GlobalSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings := s.state.GlobalSettings
	settings.RegexRules = append([]models.RegexRule(nil), settings.RegexRules...)
	return settings
}

// ActiveSession 当前会话
func (s *StateService) ActiveSession() models.SessionRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ActiveSession()
}

// Load 并发读取所有集合后组装状态，缺失的预设数据会被补齐并保存
func (s *StateService) Load(ctx context.Context) error {
	var (
		settings    = models.NewAppState()
		hasSettings bool
		characters  []*models.Character
		personas    []*models.UserPersona
		promptSets  []*models.PromptSet
		lorebooks   []*models.Lorebook
		histories   []charDocument[[]models.Message]
		memories    []charDocument[string]
		metadatas   []charDocument[*models.ChatMetadata]
		sceneStates []charDocument[*models.SceneMap]
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := storage.GetJSON(gctx, s.store, storage.CollectionKeyValue, settingsKey, settings)
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil
		}
		hasSettings = err == nil
		return err
	})
	g.Go(func() (err error) {
		characters, err = storage.ListJSON[*models.Character](gctx, s.store, storage.CollectionCharacters)
		return err
	})
	g.Go(func() (err error) {
		personas, err = storage.ListJSON[*models.UserPersona](gctx, s.store, storage.CollectionPersonas)
		return err
	})
	g.Go(func() (err error) {
		promptSets, err = storage.ListJSON[*models.PromptSet](gctx, s.store, storage.CollectionPromptSets)
		return err
	})
	g.Go(func() (err error) {
		lorebooks, err = storage.ListJSON[*models.Lorebook](gctx, s.store, storage.CollectionLorebooks)
		return err
	})
	g.Go(func() (err error) {
		histories, err = storage.ListJSON[charDocument[[]models.Message]](gctx, s.store, storage.CollectionHistories)
		return err
	})
	g.Go(func() (err error) {
		memories, err = storage.ListJSON[charDocument[string]](gctx, s.store, storage.CollectionMemories)
		return err
	})
	g.Go(func() (err error) {
		metadatas, err = storage.ListJSON[charDocument[*models.ChatMetadata]](gctx, s.store, storage.CollectionMetadatas)
		return err
	})
	g.Go(func() (err error) {
		sceneStates, err = storage.ListJSON[charDocument[*models.SceneMap]](gctx, s.store, storage.CollectionSceneStates)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("加载数据失败: %w", err)
	}

	st := settings
	st.Characters = characters
	st.UserPersonas = personas
	st.PromptSets = promptSets
	st.Lorebooks = lorebooks
	for _, doc := range histories {
		st.ChatHistories[doc.ID] = doc.Data
	}
	for _, doc := range memories {
		st.LongTermMemories[doc.ID] = doc.Data
	}
	for _, doc := range metadatas {
		st.ChatMetadatas[doc.ID] = doc.Data
	}
	for _, doc := range sceneStates {
		st.SceneStates[doc.ID] = doc.Data
	}
	if st.SceneKeywordMap == nil {
		st.SceneKeywordMap = models.KeywordMap{}
	}
	sortCharacters(st.Characters)

	s.decryptAPIKey(st)
	seeded := s.seedDefaults(st, hasSettings)

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	s.logger.Info("状态加载完成", map[string]interface{}{
		"characters":  len(characters),
		"personas":    len(st.UserPersonas),
		"prompt_sets": len(st.PromptSets),
		"lorebooks":   len(st.Lorebooks),
		"seeded":      seeded,
	})

	return s.persistSeeds(ctx, seeded)
}

// seedDefaults 补齐预设数据，返回需要保存的集合
func (s *StateService) seedDefaults(st *models.AppState, hasSettings bool) []string {
	var seeded []string
	if len(st.UserPersonas) == 0 {
		st.UserPersonas = []*models.UserPersona{{ID: DefaultPersonaID, Name: prompt.DefaultUserName}}
		seeded = append(seeded, storage.CollectionPersonas)
	}
	if len(st.PromptSets) == 0 {
		st.PromptSets = []*models.PromptSet{models.DefaultPromptSet()}
		seeded = append(seeded, storage.CollectionPromptSets)
	}
	if len(st.Lorebooks) == 0 {
		st.Lorebooks = []*models.Lorebook{models.DefaultLorebook()}
		seeded = append(seeded, storage.CollectionLorebooks)
	}
	if !hasSettings {
		st.SceneKeywordMap = scene.DefaultKeywordMap()
		seeded = append(seeded, storage.CollectionKeyValue)
	}
	if st.ActiveUserPersonaID == "" {
		st.ActiveUserPersonaID = st.UserPersonas[0].ID
	}
	if st.ActivePromptSet() != nil && st.ActivePromptSetID == "" {
		st.ActivePromptSetID = st.ActivePromptSet().ID
	}
	return seeded
}

func (s *StateService) persistSeeds(ctx context.Context, seeded []string) error {
	for _, collection := range seeded {
		var err error
		switch collection {
		case storage.CollectionPersonas:
			err = s.SavePersona(ctx, DefaultPersonaID)
		case storage.CollectionPromptSets:
			err = s.SavePromptSet(ctx, models.DefaultPromptSet().ID)
		case storage.CollectionLorebooks:
			err = s.SaveLorebook(ctx, models.DefaultLorebook().ID)
		case storage.CollectionKeyValue:
			err = s.SaveSettings(ctx)
		}
		if err != nil {
			return fmt.Errorf("保存预设数据失败: %w", err)
		}
	}
	return nil
}

func (s *StateService) decryptAPIKey(st *models.AppState) {
	key := st.GlobalSettings.APIKey
	if !utils.IsEncryptedSecret(key) {
		return
	}
	if s.encryptionKey == "" {
		s.logger.Warn("API 金钥已加密但未设置 ENCRYPTION_KEY，已忽略", nil)
		st.GlobalSettings.APIKey = ""
		return
	}
	plain, err := utils.DecryptSecret(key, s.encryptionKey)
	if err != nil {
		s.logger.Warn("解密 API 金钥失败", map[string]interface{}{"error": err.Error()})
		st.GlobalSettings.APIKey = ""
		return
	}
	st.GlobalSettings.APIKey = plain
}

func sortCharacters(chars []*models.Character) {
	sort.SliceStable(chars, func(i, j int) bool {
		if chars[i].Order != chars[j].Order {
			return chars[i].Order < chars[j].Order
		}
		return chars[i].CreatedAt.Before(chars[j].CreatedAt)
	})
}

// SaveSettings 保存全局设置、当前选择和关键字映射
func (s *StateService) SaveSettings(ctx context.Context) error {
	s.mu.RLock()
	doc := *s.state
	s.mu.RUnlock()

	if doc.GlobalSettings.APIKey != "" && s.encryptionKey != "" {
		encrypted, err := utils.EncryptSecret(doc.GlobalSettings.APIKey, s.encryptionKey)
		if err != nil {
			return fmt.Errorf("加密 API 金钥失败: %w", err)
		}
		doc.GlobalSettings.APIKey = encrypted
	}

	s.mu.RLock()
	data, err := json.Marshal(&doc)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("序列化设置失败: %w", err)
	}
	return s.store.Put(ctx, storage.CollectionKeyValue, settingsKey, data)
}

// saveDoc 在读锁下序列化 pick 的结果；pick 返回 false 时删除记录
func (s *StateService) saveDoc(ctx context.Context, collection, id string, pick func(st *models.AppState) (interface{}, bool)) error {
	s.mu.RLock()
	v, ok := pick(s.state)
	var data []byte
	var err error
	if ok {
		data, err = json.Marshal(v)
	}
	s.mu.RUnlock()

	if !ok {
		return s.store.Delete(ctx, collection, id)
	}
	if err != nil {
		return fmt.Errorf("序列化 %s/%s 失败: %w", collection, id, err)
	}
	return s.store.Put(ctx, collection, id, data)
}

// SaveCharacter 保存角色，角色不存在时删除记录
func (s *StateService) SaveCharacter(ctx context.Context, id string) error {
	return s.saveDoc(ctx, storage.CollectionCharacters, id, func(st *models.AppState) (interface{}, bool) {
		c := st.Character(id)
		return c, c != nil
	})
}

// SavePersona 保存用户身份
func (s *StateService) SavePersona(ctx context.Context, id string) error {
	return s.saveDoc(ctx, storage.CollectionPersonas, id, func(st *models.AppState) (interface{}, bool) {
		for _, p := range st.UserPersonas {
			if p.ID == id {
				return p, true
			}
		}
		return nil, false
	})
}

// SavePromptSet 保存提示词库
func (s *StateService) SavePromptSet(ctx context.Context, id string) error {
	return s.saveDoc(ctx, storage.CollectionPromptSets, id, func(st *models.AppState) (interface{}, bool) {
		for _, ps := range st.PromptSets {
			if ps.ID == id {
				return ps, true
			}
		}
		return nil, false
	})
}

// SaveLorebook 保存世界书
func (s *StateService) SaveLorebook(ctx context.Context, id string) error {
	return s.saveDoc(ctx, storage.CollectionLorebooks, id, func(st *models.AppState) (interface{}, bool) {
		for _, lb := range st.Lorebooks {
			if lb.ID == id {
				return lb, true
			}
		}
		return nil, false
	})
}

func saveCharDoc[T any](ctx context.Context, s *StateService, collection, charID string, pick func(st *models.AppState) map[string]T) error {
	return s.saveDoc(ctx, collection, charID, func(st *models.AppState) (interface{}, bool) {
		data := pick(st)
		if len(data) == 0 {
			return nil, false
		}
		return charDocument[T]{ID: charID, Data: data}, true
	})
}

// SaveHistories 保存角色的全部聊天记录
func (s *StateService) SaveHistories(ctx context.Context, charID string) error {
	return saveCharDoc(ctx, s, storage.CollectionHistories, charID, func(st *models.AppState) map[string][]models.Message {
		return st.ChatHistories[charID]
	})
}

// SaveMemories 保存角色的长期记忆
func (s *StateService) SaveMemories(ctx context.Context, charID string) error {
	return saveCharDoc(ctx, s, storage.CollectionMemories, charID, func(st *models.AppState) map[string]string {
		return st.LongTermMemories[charID]
	})
}

// SaveMetadatas 保存角色的聊天室元数据
func (s *StateService) SaveMetadatas(ctx context.Context, charID string) error {
	return saveCharDoc(ctx, s, storage.CollectionMetadatas, charID, func(st *models.AppState) map[string]*models.ChatMetadata {
		return st.ChatMetadatas[charID]
	})
}

// SaveSceneStates 保存角色的场景地图
func (s *StateService) SaveSceneStates(ctx context.Context, charID string) error {
	return saveCharDoc(ctx, s, storage.CollectionSceneStates, charID, func(st *models.AppState) map[string]*models.SceneMap {
		return st.SceneStates[charID]
	})
}

// SaveCharacterData 并发保存角色的聊天记录、记忆、元数据和场景地图
func (s *StateService) SaveCharacterData(ctx context.Context, charID string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.SaveHistories(gctx, charID) })
	g.Go(func() error { return s.SaveMemories(gctx, charID) })
	g.Go(func() error { return s.SaveMetadatas(gctx, charID) })
	g.Go(func() error { return s.SaveSceneStates(gctx, charID) })
	return g.Wait()
}

// logSaveError 持久化失败只记录日志，不回滚内存状态
func (s *StateService) logSaveError(what string, err error) {
	if err != nil {
		s.logger.Error("保存失败", map[string]interface{}{"what": what, "error": err.Error()})
	}
}
