// internal/services/library_service.go
package services

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/utils"
)

const (
	ErrMsgPromptSetNotFound = "提示詞庫不存在"
	ErrMsgLastPromptSet     = "至少需要保留一個提示詞庫"
	ErrMsgLorebookNotFound  = "世界書不存在"
	ErrMsgEmptyIdentifier   = "提示詞條目缺少識別碼"
	ErrMsgInvalidPosition   = "無效的注入位置"
)

func findPromptSet(st *models.AppState, id string) *models.PromptSet {
	for _, ps := range st.PromptSets {
		if ps.ID == id {
			return ps
		}
	}
	return nil
}

func copyPromptSet(ps *models.PromptSet) models.PromptSet {
	out := *ps
	out.Prompts = slices.Clone(ps.Prompts)
	return out
}

func copyLorebook(lb *models.Lorebook) models.Lorebook {
	out := *lb
	out.Entries = make([]models.LorebookEntry, len(lb.Entries))
	for i, e := range lb.Entries {
		e.Keys = slices.Clone(e.Keys)
		out.Entries[i] = e
	}
	return out
}

// LibraryService 提示词库和世界书
type LibraryService struct {
	state  *StateService
	logger *utils.Logger
}

// NewLibraryService 创建提示词库/世界书服务
func NewLibraryService(state *StateService) *LibraryService {
	return &LibraryService{
		state:  state,
		logger: utils.GetLogger().With("library", nil),
	}
}

// ListPromptSets 所有提示词库及当前使用的 ID
func (s *LibraryService) ListPromptSets() ([]models.PromptSet, string) {
	var out []models.PromptSet
	var active string
	s.state.View(func(st *models.AppState) {
		for _, ps := range st.PromptSets {
			out = append(out, copyPromptSet(ps))
		}
		if ps := st.ActivePromptSet(); ps != nil {
			active = ps.ID
		}
	})
	return out, active
}

// SavePromptSet 新增或覆盖提示词库，ID 为空时新增
func (s *LibraryService) SavePromptSet(ctx context.Context, ps models.PromptSet) (*models.PromptSet, error) {
	if strings.TrimSpace(ps.Name) == "" {
		return nil, errors.NewValidationError(ErrMsgEmptyName, nil)
	}
	for _, p := range ps.Prompts {
		if strings.TrimSpace(p.Identifier) == "" {
			return nil, errors.NewValidationError(ErrMsgEmptyIdentifier, nil)
		}
	}
	if ps.Prompts == nil {
		ps.Prompts = []models.PromptEntry{}
	}

	err := s.state.Mutate(func(st *models.AppState) error {
		if ps.ID == "" {
			ps.ID = "ps_" + uuid.NewString()
		}
		stored := copyPromptSet(&ps)
		if existing := findPromptSet(st, ps.ID); existing != nil {
			*existing = stored
		} else {
			st.PromptSets = append(st.PromptSets, &stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.state.SavePromptSet(ctx, ps.ID); err != nil {
		return nil, errors.NewProcessingError("保存提示詞庫失败", err)
	}
	return &ps, nil
}

// DeletePromptSet 删除提示词库，至少保留一个；删除当前使用的库时改用第一个
func (s *LibraryService) DeletePromptSet(ctx context.Context, id string) error {
	err := s.state.Mutate(func(st *models.AppState) error {
		idx := slices.IndexFunc(st.PromptSets, func(ps *models.PromptSet) bool { return ps.ID == id })
		if idx < 0 {
			return errors.NewNotFoundError(ErrMsgPromptSetNotFound, nil)
		}
		if len(st.PromptSets) == 1 {
			return errors.NewConflictError(ErrMsgLastPromptSet, nil)
		}
		st.PromptSets = slices.Delete(st.PromptSets, idx, idx+1)
		if st.ActivePromptSetID == id {
			st.ActivePromptSetID = st.PromptSets[0].ID
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.state.logSaveError("prompt set", s.state.SavePromptSet(ctx, id))
	s.state.logSaveError("settings", s.state.SaveSettings(ctx))
	return nil
}

// SetActivePromptSet 切换当前提示词库
func (s *LibraryService) SetActivePromptSet(ctx context.Context, id string) error {
	err := s.state.Mutate(func(st *models.AppState) error {
		if findPromptSet(st, id) == nil {
			return errors.NewNotFoundError(ErrMsgPromptSetNotFound, nil)
		}
		st.ActivePromptSetID = id
		return nil
	})
	if err != nil {
		return err
	}
	s.state.logSaveError("settings", s.state.SaveSettings(ctx))
	return nil
}

// ListLorebooks 所有世界书
func (s *LibraryService) ListLorebooks() []models.Lorebook {
	var out []models.Lorebook
	s.state.View(func(st *models.AppState) {
		for _, lb := range st.Lorebooks {
			out = append(out, copyLorebook(lb))
		}
	})
	return out
}

// GetLorebook 获取世界书
func (s *LibraryService) GetLorebook(id string) (*models.Lorebook, error) {
	var out *models.Lorebook
	s.state.View(func(st *models.AppState) {
		for _, lb := range st.Lorebooks {
			if lb.ID == id {
				c := copyLorebook(lb)
				out = &c
			}
		}
	})
	if out == nil {
		return nil, errors.NewNotFoundError(ErrMsgLorebookNotFound, nil)
	}
	return out, nil
}

// SaveLorebook 新增或覆盖世界书；没有 ID 的条目会被分配 ID
func (s *LibraryService) SaveLorebook(ctx context.Context, lb models.Lorebook) (*models.Lorebook, error) {
	if strings.TrimSpace(lb.Name) == "" {
		return nil, errors.NewValidationError(ErrMsgEmptyName, nil)
	}
	lb = copyLorebook(&lb)
	for i := range lb.Entries {
		e := &lb.Entries[i]
		if e.Position != models.InjectBefore && e.Position != models.InjectAfter {
			return nil, errors.NewValidationError(ErrMsgInvalidPosition, nil)
		}
		if e.ID == "" {
			e.ID = "entry_" + uuid.NewString()
		}
	}

	err := s.state.Mutate(func(st *models.AppState) error {
		if lb.ID == "" {
			lb.ID = "lb_" + uuid.NewString()
		}
		stored := copyLorebook(&lb)
		for i, existing := range st.Lorebooks {
			if existing.ID == lb.ID {
				st.Lorebooks[i] = &stored
				return nil
			}
		}
		st.Lorebooks = append(st.Lorebooks, &stored)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.state.SaveLorebook(ctx, lb.ID); err != nil {
		return nil, errors.NewProcessingError("保存世界書失败", err)
	}
	return &lb, nil
}

// DeleteLorebook 删除世界书
func (s *LibraryService) DeleteLorebook(ctx context.Context, id string) error {
	err := s.state.Mutate(func(st *models.AppState) error {
		idx := slices.IndexFunc(st.Lorebooks, func(lb *models.Lorebook) bool { return lb.ID == id })
		if idx < 0 {
			return errors.NewNotFoundError(ErrMsgLorebookNotFound, nil)
		}
		st.Lorebooks = slices.Delete(st.Lorebooks, idx, idx+1)
		return nil
	})
	if err != nil {
		return err
	}
	s.state.logSaveError("lorebook", s.state.SaveLorebook(ctx, id))
	return nil
}
