package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/models"
)

func TestCharacterCRUD(t *testing.T) {
	f := newFixture(t)

	_, err := f.chars.CreateCharacter(f.ctx, CharacterInput{Name: ptr("   ")})
	assert.True(t, errors.IsValidationError(err))

	a, err := f.chars.CreateCharacter(f.ctx, CharacterInput{Name: ptr("Alice"), Personality: ptr("curious")})
	require.NoError(t, err)
	b, err := f.chars.CreateCharacter(f.ctx, CharacterInput{Name: ptr("Bob")})
	require.NoError(t, err)
	assert.Equal(t, 0, a.Order)
	assert.Equal(t, 1, b.Order)

	updated, err := f.chars.UpdateCharacter(f.ctx, a.ID, CharacterInput{Loved: ptr(true), Order: ptr(5)})
	require.NoError(t, err)
	assert.True(t, updated.Loved)
	assert.Equal(t, "curious", updated.Personality)

	list := f.chars.ListCharacters()
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)

	_, err = f.chars.GetCharacter("missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCreateChatWithGreetings(t *testing.T) {
	f := newFixture(t)
	c, err := f.chars.CreateCharacter(f.ctx, CharacterInput{
		Name:         ptr("Alice"),
		FirstMessage: []string{"Hi {{user}}, I'm {{char}}", "", "Welcome back"},
	})
	require.NoError(t, err)

	chat, err := f.chars.CreateChat(f.ctx, c.ID, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultChatName, chat.Metadata.Name)
	assert.Equal(t, 1, chat.MessageCount)

	history, err := f.chat.History(models.SessionRef{CharacterID: c.ID, ChatID: chat.ID})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, []string{"Hi User, I'm Alice", "Welcome back"}, history[0].Content.Variants)

	_, err = f.chars.CreateChat(f.ctx, "missing", "x")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestChatListingAndRename(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t)
	second, err := f.chars.CreateChat(f.ctx, ref.CharacterID, "第二個")
	require.NoError(t, err)

	_, err = f.chars.RenameChat(f.ctx, ref.CharacterID, second.ID, ptr("置頂"), ptr(true))
	require.NoError(t, err)

	chats, err := f.chars.ListChats(ref.CharacterID)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, second.ID, chats[0].ID)
	assert.Equal(t, "置頂", chats[0].Metadata.Name)
	assert.True(t, chats[0].Metadata.Pinned)
}

func TestDeleteChatRemovesSessionData(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t, "hello")
	require.NoError(t, f.memory.SetMemory(f.ctx, ref, "memo"))
	_, err := f.scenes.Map(f.ctx, ref)
	require.NoError(t, err)

	require.NoError(t, f.chars.DeleteChat(f.ctx, ref.CharacterID, ref.ChatID))

	f.state.View(func(st *models.AppState) {
		assert.Nil(t, st.ChatMetadatas[ref.CharacterID][ref.ChatID])
		assert.Nil(t, st.History(ref))
		assert.Empty(t, st.Memory(ref))
		assert.Nil(t, st.SceneMap(ref))
	})
	assert.True(t, errors.IsNotFoundError(f.chars.DeleteChat(f.ctx, ref.CharacterID, ref.ChatID)))
}

func TestSetSession(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t)

	info := f.chars.Session()
	assert.Equal(t, ref.CharacterID, info.CharacterID)
	assert.Equal(t, ref.ChatID, info.ChatID)
	assert.Equal(t, "Alice", info.CharacterName)

	other, err := f.chars.CreateCharacter(f.ctx, CharacterInput{Name: ptr("Bob")})
	require.NoError(t, err)

	// 切换角色时清除聊天室
	info, err = f.chars.SetSession(f.ctx, SessionUpdate{CharacterID: &other.ID})
	require.NoError(t, err)
	assert.Equal(t, other.ID, info.CharacterID)
	assert.Empty(t, info.ChatID)

	_, err = f.chars.SetSession(f.ctx, SessionUpdate{ChatID: &ref.ChatID})
	assert.True(t, errors.IsNotFoundError(err))
	_, err = f.chars.SetSession(f.ctx, SessionUpdate{PersonaID: ptr("missing")})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestPersonas(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t, "Hello {{user}}")

	p, err := f.chars.SavePersona(f.ctx, models.UserPersona{Name: "Mika", Description: "a traveler"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Len(t, f.chars.ListPersonas(), 2)

	_, err = f.chars.SetSession(f.ctx, SessionUpdate{PersonaID: &p.ID})
	require.NoError(t, err)

	chat, err := f.chars.CreateChat(f.ctx, ref.CharacterID, "")
	require.NoError(t, err)
	history, err := f.chat.History(models.SessionRef{CharacterID: ref.CharacterID, ChatID: chat.ID})
	require.NoError(t, err)
	assert.Equal(t, "Hello Mika", history[0].ActiveText())
}
