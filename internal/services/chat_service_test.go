package services

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/models"
)

func TestSendWithoutSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.chat.Send(f.ctx, "hello")
	require.Error(t, err)
	assert.True(t, errors.IsPreconditionError(err))
}

func TestSendAppendsUserAndReply(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t, "Welcome!")
	f.upstream.reply(http.StatusOK, "<think>plan</think>Nice to meet you")

	reply, err := f.chat.Send(f.ctx, "  hi  ")
	require.NoError(t, err)
	assert.Equal(t, 2, reply.Index)
	assert.Equal(t, "Nice to meet you", reply.Message.ActiveText())

	history, err := f.chat.History(ref)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.RoleAssistant, history[0].Role)
	assert.Equal(t, "hi", history[1].ActiveText())
	assert.Equal(t, f.now.UnixMilli(), history[1].Timestamp)

	req := f.upstream.lastRequest()
	assert.Contains(t, req, "Welcome!")
	assert.Contains(t, req, "hi")

	// 第一次发送时建立预设场景
	m, err := f.scenes.Map(f.ctx, ref)
	require.NoError(t, err)
	assert.Contains(t, m.Nodes, "node_home")
}

func TestSendStoresUpstreamErrorAsMessage(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t)
	f.upstream.reply(http.StatusInternalServerError, "boom")

	reply, err := f.chat.Send(f.ctx, "hello")
	require.Error(t, err)
	assert.True(t, errors.IsTransportError(err))
	require.NotNil(t, reply)
	assert.True(t, reply.Message.Error)

	history, err := f.chat.History(ref)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[1].Error)

	// 错误消息不会被发往上游
	f.upstream.reply(http.StatusOK, "recovered")
	_, err = f.chat.Regenerate(f.ctx)
	require.NoError(t, err)
	assert.NotContains(t, f.upstream.lastRequest(), "boom")

	history, err = f.chat.History(ref)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[1].Error)
	assert.Equal(t, "recovered", history[1].ActiveText())
	assert.False(t, history[1].Content.IsMulti())
}

func TestSendPreconditionDoesNotAppendReply(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t)
	setProvider(t, f, stubProviderName, "")

	_, err := f.chat.Send(f.ctx, "hello")
	require.Error(t, err)
	assert.True(t, errors.IsPreconditionError(err))

	history, err := f.chat.History(ref)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.RoleUser, history[0].Role)
}

func TestRegenerateAddsVariant(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t)
	f.upstream.reply(http.StatusOK, "first", "second")

	_, err := f.chat.Send(f.ctx, "hello")
	require.NoError(t, err)
	reply, err := f.chat.Regenerate(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reply.Index)
	assert.Equal(t, []string{"first", "second"}, reply.Message.Content.Variants)
	assert.Equal(t, 1, reply.Message.ActiveContentIndex)

	// 重新生成不包含被替换的回复
	assert.NotContains(t, f.upstream.lastRequest(), "first")

	selected, err := f.chat.SelectVariant(f.ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", selected.Message.ActiveText())

	history, err := f.chat.History(ref)
	require.NoError(t, err)
	assert.Equal(t, 0, history[1].ActiveContentIndex)
}

func TestRegenerateFailureLeavesHistory(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t)
	f.upstream.reply(http.StatusOK, "first")
	_, err := f.chat.Send(f.ctx, "hello")
	require.NoError(t, err)

	f.upstream.reply(http.StatusBadGateway, "down")
	_, err = f.chat.Regenerate(f.ctx)
	require.Error(t, err)

	history, err := f.chat.History(ref)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[1].ActiveText())
	assert.False(t, history[1].Content.IsMulti())
}

func TestRegenerateNeedsAssistantMessage(t *testing.T) {
	f := newFixture(t)
	f.session(t)
	_, err := f.chat.Regenerate(f.ctx)
	require.Error(t, err)
	assert.Equal(t, ErrMsgNothingToRegenerate, err.Error())
}

func TestSelectVariantErrors(t *testing.T) {
	f := newFixture(t)
	f.session(t, "a", "b")

	_, err := f.chat.SelectVariant(f.ctx, 5, 0)
	assert.True(t, errors.IsNotFoundError(err))
	_, err = f.chat.SelectVariant(f.ctx, 0, 2)
	assert.True(t, errors.IsValidationError(err))

	reply, err := f.chat.SelectVariant(f.ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", reply.Message.ActiveText())
}

func TestApplyRegexRules(t *testing.T) {
	f := newFixture(t)
	rules := []models.RegexRule{
		{Name: "think", Find: `<think>[\s\S]*?<\/think>`, Enabled: true},
		{Name: "disabled", Find: "Hello", Replace: "Bye", Enabled: false},
		{Name: "broken", Find: "(", Enabled: true},
		{Name: "swap", Find: `(\w+)@(\w+)`, Replace: "$2@$1", Enabled: true},
	}
	out := f.chat.ApplyRegexRules("<think>\nsecret\n</think>Hello a@b", rules)
	assert.Equal(t, "Hello b@a", out)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	f.session(t, "Greetings")

	result, err := f.chat.Preview(f.ctx)
	require.NoError(t, err)
	assert.NotNil(t, result.Payload)
	assert.Greater(t, result.Budget, 0)
	assert.Empty(t, f.upstream.lastRequest())
}
