// internal/services/character_service.go
package services

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/prompt"
	"github.com/Corphon/LoreChat/internal/utils"
)

const (
	ErrMsgCharacterNotFound = "角色不存在"
	ErrMsgChatNotFound      = "聊天室不存在"
	ErrMsgPersonaNotFound   = "使用者角色不存在"
	ErrMsgEmptyName         = "名稱不能為空"

	// DefaultChatName 新聊天室的默认名称
	DefaultChatName = "新的聊天"
)

// requireSession 角色和聊天室都存在
func requireSession(st *models.AppState, ref models.SessionRef) error {
	if st.Character(ref.CharacterID) == nil {
		return errors.NewNotFoundError(ErrMsgCharacterNotFound, nil)
	}
	if st.ChatMetadatas[ref.CharacterID][ref.ChatID] == nil {
		return errors.NewNotFoundError(ErrMsgChatNotFound, nil)
	}
	return nil
}

// CharacterInput 新增或修改角色的输入，nil 字段保持不变
type CharacterInput struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	Personality  *string  `json:"personality"`
	Scenario     *string  `json:"scenario"`
	FirstMessage []string `json:"firstMessage"`
	CreatorNotes *string  `json:"creatorNotes"`
	AvatarURL    *string  `json:"avatarUrl"`
	Loved        *bool    `json:"loved"`
	Order        *int     `json:"order"`
}

func (in CharacterInput) apply(c *models.Character) {
	if in.Name != nil {
		c.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		c.Description = *in.Description
	}
	if in.Personality != nil {
		c.Personality = *in.Personality
	}
	if in.Scenario != nil {
		c.Scenario = *in.Scenario
	}
	if in.FirstMessage != nil {
		c.FirstMessage = append([]string(nil), in.FirstMessage...)
	}
	if in.CreatorNotes != nil {
		c.CreatorNotes = *in.CreatorNotes
	}
	if in.AvatarURL != nil {
		c.AvatarURL = *in.AvatarURL
	}
	if in.Loved != nil {
		c.Loved = *in.Loved
	}
	if in.Order != nil {
		c.Order = *in.Order
	}
}

// SessionInfo 当前选择
type SessionInfo struct {
	CharacterID   string `json:"characterId"`
	ChatID        string `json:"chatId"`
	PersonaID     string `json:"personaId"`
	PromptSetID   string `json:"promptSetId"`
	CharacterName string `json:"characterName,omitempty"`
	ChatName      string `json:"chatName,omitempty"`
}

// SessionUpdate 修改当前选择，nil 字段保持不变，空字符串表示取消选择
type SessionUpdate struct {
	CharacterID *string `json:"characterId"`
	ChatID      *string `json:"chatId"`
	PersonaID   *string `json:"personaId"`
	PromptSetID *string `json:"promptSetId"`
}

// CharacterService 角色、聊天室、用户身份和当前选择
type CharacterService struct {
	state  *StateService
	locks  *LockManager
	logger *utils.Logger
}

// NewCharacterService 创建角色服务
func NewCharacterService(state *StateService, locks *LockManager) *CharacterService {
	return &CharacterService{
		state:  state,
		locks:  locks,
		logger: utils.GetLogger().With("character", nil),
	}
}

func copyCharacter(c *models.Character) *models.Character {
	out := *c
	out.FirstMessage = append([]string(nil), c.FirstMessage...)
	return &out
}

// ListCharacters 按顺序返回所有角色
func (s *CharacterService) ListCharacters() []*models.Character {
	var out []*models.Character
	s.state.View(func(st *models.AppState) {
		out = make([]*models.Character, 0, len(st.Characters))
		for _, c := range st.Characters {
			out = append(out, copyCharacter(c))
		}
	})
	return out
}

// GetCharacter 获取角色
func (s *CharacterService) GetCharacter(id string) (*models.Character, error) {
	var out *models.Character
	s.state.View(func(st *models.AppState) {
		if c := st.Character(id); c != nil {
			out = copyCharacter(c)
		}
	})
	if out == nil {
		return nil, errors.NewNotFoundError(ErrMsgCharacterNotFound, nil)
	}
	return out, nil
}

// CreateCharacter 新增角色
func (s *CharacterService) CreateCharacter(ctx context.Context, in CharacterInput) (*models.Character, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, errors.NewValidationError(ErrMsgEmptyName, nil)
	}

	now := s.state.Now()
	c := &models.Character{
		ID:           uuid.NewString(),
		FirstMessage: []string{},
		CreatedAt:    now,
		LastUpdated:  now,
	}
	in.apply(c)

	var out *models.Character
	_ = s.state.Mutate(func(st *models.AppState) error {
		if in.Order == nil {
			c.Order = len(st.Characters)
		}
		st.Characters = append(st.Characters, c)
		sortCharacters(st.Characters)
		out = copyCharacter(c)
		return nil
	})

	if err := s.state.SaveCharacter(ctx, c.ID); err != nil {
		return nil, errors.NewProcessingError("保存角色失败", err)
	}
	s.logger.Info("角色已建立", map[string]interface{}{"id": c.ID, "name": c.Name})
	return out, nil
}

// UpdateCharacter 修改角色
func (s *CharacterService) UpdateCharacter(ctx context.Context, id string, in CharacterInput) (*models.Character, error) {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, errors.NewValidationError(ErrMsgEmptyName, nil)
	}

	var out *models.Character
	err := s.state.Mutate(func(st *models.AppState) error {
		c := st.Character(id)
		if c == nil {
			return errors.NewNotFoundError(ErrMsgCharacterNotFound, nil)
		}
		in.apply(c)
		c.LastUpdated = s.state.Now()
		sortCharacters(st.Characters)
		out = copyCharacter(c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.state.SaveCharacter(ctx, id); err != nil {
		return nil, errors.NewProcessingError("保存角色失败", err)
	}
	return out, nil
}

// DeleteCharacter 删除角色及其所有聊天室
func (s *CharacterService) DeleteCharacter(ctx context.Context, id string) error {
	var clearedActive bool
	err := s.state.Mutate(func(st *models.AppState) error {
		idx := -1
		for i, c := range st.Characters {
			if c.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errors.NewNotFoundError(ErrMsgCharacterNotFound, nil)
		}
		st.Characters = append(st.Characters[:idx], st.Characters[idx+1:]...)
		delete(st.ChatHistories, id)
		delete(st.LongTermMemories, id)
		delete(st.ChatMetadatas, id)
		delete(st.SceneStates, id)
		if st.ActiveCharacterID == id {
			st.ActiveCharacterID, st.ActiveChatID = "", ""
			clearedActive = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.state.logSaveError("character", s.state.SaveCharacter(ctx, id))
	s.state.logSaveError("character data", s.state.SaveCharacterData(ctx, id))
	if clearedActive {
		s.state.logSaveError("settings", s.state.SaveSettings(ctx))
	}
	s.logger.Info("角色已删除", map[string]interface{}{"id": id})
	return nil
}

// ListChats 角色的聊天室，置顶优先，其次按顺序
func (s *CharacterService) ListChats(charID string) ([]models.ChatSummary, error) {
	var out []models.ChatSummary
	var err error
	s.state.View(func(st *models.AppState) {
		if st.Character(charID) == nil {
			err = errors.NewNotFoundError(ErrMsgCharacterNotFound, nil)
			return
		}
		for chatID, meta := range st.ChatMetadatas[charID] {
			m := *meta
			out = append(out, models.ChatSummary{
				ID:           chatID,
				Metadata:     &m,
				MessageCount: len(st.ChatHistories[charID][chatID]),
			})
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Metadata, out[j].Metadata
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return out[i].ID < out[j].ID
	})
	if out == nil {
		out = []models.ChatSummary{}
	}
	return out, nil
}

// CreateChat 建立聊天室；角色有开场白时写入第一条 AI 消息，多个开场白作为变体
func (s *CharacterService) CreateChat(ctx context.Context, charID, name string) (*models.ChatSummary, error) {
	if name = strings.TrimSpace(name); name == "" {
		name = DefaultChatName
	}
	chatID := "chat_" + uuid.NewString()
	ref := models.SessionRef{CharacterID: charID, ChatID: chatID}

	var out *models.ChatSummary
	err := s.state.Mutate(func(st *models.AppState) error {
		c := st.Character(charID)
		if c == nil {
			return errors.NewNotFoundError(ErrMsgCharacterNotFound, nil)
		}
		if st.ChatMetadatas[charID] == nil {
			st.ChatMetadatas[charID] = make(map[string]*models.ChatMetadata)
		}
		meta := &models.ChatMetadata{
			Name:      name,
			Order:     len(st.ChatMetadatas[charID]),
			CreatedAt: s.state.Now(),
		}
		st.ChatMetadatas[charID][chatID] = meta

		history := []models.Message{}
		if greetings := nonEmpty(c.FirstMessage); len(greetings) > 0 {
			expander := prompt.NewStateExpander(st, ref)
			for i := range greetings {
				greetings[i] = expander.ReplacePlaceholders(greetings[i])
			}
			msg := models.Message{Role: models.RoleAssistant, Timestamp: s.state.Now().UnixMilli()}
			if len(greetings) == 1 {
				msg.Content = models.Text(greetings[0])
			} else {
				msg.Content = models.Variants(greetings...)
			}
			history = append(history, msg)
		}
		st.SetHistory(ref, history)

		m := *meta
		out = &models.ChatSummary{ID: chatID, Metadata: &m, MessageCount: len(history)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.state.logSaveError("chat metadata", s.state.SaveMetadatas(ctx, charID))
	s.state.logSaveError("chat history", s.state.SaveHistories(ctx, charID))
	return out, nil
}

func nonEmpty(list []string) []string {
	var out []string
	for _, s := range list {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// RenameChat 修改聊天室名称或置顶
func (s *CharacterService) RenameChat(ctx context.Context, charID, chatID string, name *string, pinned *bool) (*models.ChatMetadata, error) {
	ref := models.SessionRef{CharacterID: charID, ChatID: chatID}
	var out models.ChatMetadata
	err := s.state.Mutate(func(st *models.AppState) error {
		if err := requireSession(st, ref); err != nil {
			return err
		}
		meta := st.ChatMetadatas[charID][chatID]
		if name != nil {
			if strings.TrimSpace(*name) == "" {
				return errors.NewValidationError(ErrMsgEmptyName, nil)
			}
			meta.Name = strings.TrimSpace(*name)
		}
		if pinned != nil {
			meta.Pinned = *pinned
		}
		out = *meta
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.state.logSaveError("chat metadata", s.state.SaveMetadatas(ctx, charID))
	return &out, nil
}

// DeleteChat 删除聊天室及其聊天记录、长期记忆和场景地图
func (s *CharacterService) DeleteChat(ctx context.Context, charID, chatID string) error {
	ref := models.SessionRef{CharacterID: charID, ChatID: chatID}
	var clearedActive bool
	err := s.locks.ExecuteWithSessionLock(ref.Key(), func() error {
		return s.state.Mutate(func(st *models.AppState) error {
			if err := requireSession(st, ref); err != nil {
				return err
			}
			delete(st.ChatMetadatas[charID], chatID)
			delete(st.ChatHistories[charID], chatID)
			delete(st.LongTermMemories[charID], chatID)
			delete(st.SceneStates[charID], chatID)
			if st.ActiveSession() == ref {
				st.ActiveChatID = ""
				clearedActive = true
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.state.logSaveError("character data", s.state.SaveCharacterData(ctx, charID))
	if clearedActive {
		s.state.logSaveError("settings", s.state.SaveSettings(ctx))
	}
	s.logger.Info("聊天室已删除", map[string]interface{}{"session": ref.Key()})
	return nil
}

// Session 当前选择
func (s *CharacterService) Session() SessionInfo {
	var info SessionInfo
	s.state.View(func(st *models.AppState) {
		info = sessionInfo(st)
	})
	return info
}

func sessionInfo(st *models.AppState) SessionInfo {
	info := SessionInfo{
		CharacterID: st.ActiveCharacterID,
		ChatID:      st.ActiveChatID,
		PersonaID:   st.ActiveUserPersonaID,
		PromptSetID: st.ActivePromptSetID,
	}
	if c := st.Character(st.ActiveCharacterID); c != nil {
		info.CharacterName = c.Name
	}
	if meta := st.ChatMetadatas[st.ActiveCharacterID][st.ActiveChatID]; meta != nil {
		info.ChatName = meta.Name
	}
	return info
}

// SetSession 修改当前选择；切换角色时若未指定聊天室则清除聊天室选择
func (s *CharacterService) SetSession(ctx context.Context, up SessionUpdate) (SessionInfo, error) {
	var info SessionInfo
	err := s.state.Mutate(func(st *models.AppState) error {
		charID, chatID := st.ActiveCharacterID, st.ActiveChatID
		if up.CharacterID != nil && *up.CharacterID != charID {
			charID, chatID = *up.CharacterID, ""
		}
		if up.ChatID != nil {
			chatID = *up.ChatID
		}
		if charID != "" && st.Character(charID) == nil {
			return errors.NewNotFoundError(ErrMsgCharacterNotFound, nil)
		}
		if chatID != "" && st.ChatMetadatas[charID][chatID] == nil {
			return errors.NewNotFoundError(ErrMsgChatNotFound, nil)
		}

		personaID := st.ActiveUserPersonaID
		if up.PersonaID != nil {
			personaID = *up.PersonaID
			if !hasPersona(st, personaID) {
				return errors.NewNotFoundError(ErrMsgPersonaNotFound, nil)
			}
		}
		promptSetID := st.ActivePromptSetID
		if up.PromptSetID != nil {
			promptSetID = *up.PromptSetID
			if findPromptSet(st, promptSetID) == nil {
				return errors.NewNotFoundError(ErrMsgPromptSetNotFound, nil)
			}
		}

		st.ActiveCharacterID, st.ActiveChatID = charID, chatID
		st.ActiveUserPersonaID, st.ActivePromptSetID = personaID, promptSetID
		info = sessionInfo(st)
		return nil
	})
	if err != nil {
		return info, err
	}
	s.state.logSaveError("settings", s.state.SaveSettings(ctx))
	return info, nil
}

func hasPersona(st *models.AppState, id string) bool {
	for _, p := range st.UserPersonas {
		if p.ID == id {
			return true
		}
	}
	return false
}

// ListPersonas 所有用户身份
func (s *CharacterService) ListPersonas() []models.UserPersona {
	var out []models.UserPersona
	s.state.View(func(st *models.AppState) {
		for _, p := range st.UserPersonas {
			out = append(out, *p)
		}
	})
	return out
}

// SavePersona 新增或修改用户身份，ID 为空时新增
func (s *CharacterService) SavePersona(ctx context.Context, p models.UserPersona) (*models.UserPersona, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, errors.NewValidationError(ErrMsgEmptyName, nil)
	}
	err := s.state.Mutate(func(st *models.AppState) error {
		if p.ID == "" {
			p.ID = "persona_" + uuid.NewString()
			created := p
			st.UserPersonas = append(st.UserPersonas, &created)
			return nil
		}
		for _, existing := range st.UserPersonas {
			if existing.ID == p.ID {
				*existing = p
				return nil
			}
		}
		return errors.NewNotFoundError(ErrMsgPersonaNotFound, nil)
	})
	if err != nil {
		return nil, err
	}
	if err := s.state.SavePersona(ctx, p.ID); err != nil {
		return nil, errors.NewProcessingError("保存使用者角色失败", err)
	}
	return &p, nil
}
