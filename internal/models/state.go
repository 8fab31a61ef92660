// internal/models/state.go
package models

// AppState 应用状态。由服务层持有并加锁，核心模块只接收显式参数
type AppState struct {
	GlobalSettings      GlobalSettings `json:"globalSettings"`
	ActiveUserPersonaID string         `json:"activeUserPersonaId,omitempty"`
	ActiveCharacterID   string         `json:"activeCharacterId,omitempty"`
	ActiveChatID        string         `json:"activeChatId,omitempty"`
	ActivePromptSetID   string         `json:"activePromptSetId,omitempty"`

	Characters   []*Character   `json:"-"`
	UserPersonas []*UserPersona `json:"-"`
	PromptSets   []*PromptSet   `json:"-"`
	Lorebooks    []*Lorebook    `json:"-"`

	ChatHistories    map[string]map[string][]Message     `json:"-"`
	LongTermMemories map[string]map[string]string        `json:"-"`
	ChatMetadatas    map[string]map[string]*ChatMetadata `json:"-"`
	SceneStates      map[string]map[string]*SceneMap     `json:"-"`
	SceneKeywordMap  KeywordMap                          `json:"sceneKeywordMap,omitempty"`
}

// NewAppState 创建空状态
func NewAppState() *AppState {
	return &AppState{
		GlobalSettings:   DefaultGlobalSettings(),
		ChatHistories:    make(map[string]map[string][]Message),
		LongTermMemories: make(map[string]map[string]string),
		ChatMetadatas:    make(map[string]map[string]*ChatMetadata),
		SceneStates:      make(map[string]map[string]*SceneMap),
		SceneKeywordMap:  KeywordMap{},
	}
}

// SessionRef 标识一个 (角色, 聊天室)
type SessionRef struct {
	CharacterID string `json:"characterId"`
	ChatID      string `json:"chatId"`
}

// Valid 角色和聊天室都已选择
func (r SessionRef) Valid() bool {
	return r.CharacterID != "" && r.ChatID != ""
}

// Key 作为锁和 WebSocket 频道的键
func (r SessionRef) Key() string {
	return r.CharacterID + "/" + r.ChatID
}

// ActiveSession 当前会话
func (s *AppState) ActiveSession() SessionRef {
	return SessionRef{CharacterID: s.ActiveCharacterID, ChatID: s.ActiveChatID}
}

// Character 按 ID 查找角色
func (s *AppState) Character(id string) *Character {
	for _, c := range s.Characters {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Persona 当前用户身份
func (s *AppState) Persona() *UserPersona {
	for _, p := range s.UserPersonas {
		if p.ID == s.ActiveUserPersonaID {
			return p
		}
	}
	if len(s.UserPersonas) > 0 {
		return s.UserPersonas[0]
	}
	return nil
}

// ActivePromptSet 当前提示词库，找不到时取第一个
func (s *AppState) ActivePromptSet() *PromptSet {
	for _, ps := range s.PromptSets {
		if ps.ID == s.ActivePromptSetID {
			return ps
		}
	}
	if len(s.PromptSets) > 0 {
		return s.PromptSets[0]
	}
	return nil
}

// History 会话聊天记录
func (s *AppState) History(ref SessionRef) []Message {
	if chats, ok := s.ChatHistories[ref.CharacterID]; ok {
		return chats[ref.ChatID]
	}
	return nil
}

// SetHistory 写入会话聊天记录
func (s *AppState) SetHistory(ref SessionRef, history []Message) {
	if s.ChatHistories[ref.CharacterID] == nil {
		s.ChatHistories[ref.CharacterID] = make(map[string][]Message)
	}
	s.ChatHistories[ref.CharacterID][ref.ChatID] = history
}

// Memory 会话长期记忆
func (s *AppState) Memory(ref SessionRef) string {
	if m, ok := s.LongTermMemories[ref.CharacterID]; ok {
		return m[ref.ChatID]
	}
	return ""
}

// SceneMap 会话场景地图，不存在时返回 nil
func (s *AppState) SceneMap(ref SessionRef) *SceneMap {
	if maps, ok := s.SceneStates[ref.CharacterID]; ok {
		return maps[ref.ChatID]
	}
	return nil
}

// SetSceneMap 写入会话场景地图
func (s *AppState) SetSceneMap(ref SessionRef, m *SceneMap) {
	if s.SceneStates[ref.CharacterID] == nil {
		s.SceneStates[ref.CharacterID] = make(map[string]*SceneMap)
	}
	s.SceneStates[ref.CharacterID][ref.ChatID] = m
}
