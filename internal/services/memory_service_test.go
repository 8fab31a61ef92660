package services

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/prompt"
)

func TestRenderConversationKeepsNewest(t *testing.T) {
	history := []models.Message{
		models.NewMessage(models.RoleUser, "aaaaaaaaaa"),
		models.NewMessage(models.RoleAssistant, "bbbb"),
		models.NewMessage(models.RoleUser, "cc"),
	}
	est := prompt.UTF16Estimator{}

	all := renderConversation(history, 1000, est)
	assert.Equal(t, "User: aaaaaaaaaa\nAI: bbbb\nUser: cc", all)

	// 第一条放不下的消息结束扫描
	budget := est.Estimate("bbbb") + est.Estimate("cc")
	assert.Equal(t, "AI: bbbb\nUser: cc", renderConversation(history, budget, est))
	assert.Equal(t, "", renderConversation(history, 0, est))
}

func TestUpdateMemory(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t)

	_, err := f.memory.UpdateMemory(f.ctx)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	f.upstream.reply(http.StatusOK, "我很好", "  - 使用者問候了角色  ")
	_, err = f.chat.Send(f.ctx, "你好嗎")
	require.NoError(t, err)

	require.NoError(t, f.state.Mutate(func(st *models.AppState) error {
		st.GlobalSettings.SummarizationPrompt = "總結：{{history}}。完畢"
		return nil
	}))
	summary, err := f.memory.UpdateMemory(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "- 使用者問候了角色", summary)
	assert.Contains(t, f.upstream.lastRequest(), "總結：User: 你好嗎")

	stored, err := f.memory.Memory(ref)
	require.NoError(t, err)
	assert.Equal(t, summary, stored)
}

func TestUpdateMemoryWarningReply(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t)
	f.upstream.reply(http.StatusOK, "hi", "⚠️ 無法取得回應")
	_, err := f.chat.Send(f.ctx, "hello")
	require.NoError(t, err)

	_, err = f.memory.UpdateMemory(f.ctx)
	require.Error(t, err)
	stored, err := f.memory.Memory(ref)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestSetMemoryRequiresSession(t *testing.T) {
	f := newFixture(t)
	err := f.memory.SetMemory(f.ctx, models.SessionRef{}, "x")
	assert.True(t, errors.IsPreconditionError(err))
}
