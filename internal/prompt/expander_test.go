package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/scene"
)

func newState() *models.AppState {
	state := models.NewAppState()
	state.Characters = []*models.Character{{
		ID: "c1", Name: "Aria", Description: "bard", Personality: "cheerful", Scenario: "a tavern",
	}}
	state.PromptSets = []*models.PromptSet{models.DefaultPromptSet()}
	state.LongTermMemories["c1"] = map[string]string{"chat1": "met Ken yesterday"}
	return state
}

func TestReplacePlaceholders(t *testing.T) {
	state := newState()
	state.UserPersonas = []*models.UserPersona{{ID: "p1", Name: "Ken", Description: "a smith"}}
	e := NewStateExpander(state, session)

	got := e.ReplacePlaceholders("{{char}}/{{user}}/{{description}}/{{personality}}/{{scenario}}/{{persona}}/{{memory}}/{{scene}}")
	assert.Equal(t, "Aria/Ken/bard/cheerful/a tavern/a smith/met Ken yesterday/", got)
}

func TestReplacePlaceholdersDefaults(t *testing.T) {
	e := NewStateExpander(models.NewAppState(), session)
	assert.Equal(t, "User says hi to ", e.ReplacePlaceholders("{{user}} says hi to {{char}}"))
	assert.Equal(t, "", e.PromptContent(models.PromptMain))
}

func TestScenePlaceholder(t *testing.T) {
	state := newState()
	state.SetSceneMap(session, scene.DefaultSceneMap("Aria", time.Unix(0, 0)))
	state.SceneKeywordMap = scene.DefaultKeywordMap()
	state.SetHistory(session, []models.Message{models.NewMessage(models.RoleUser, "我走進廚房")})

	text := NewStateExpander(state, session).ReplacePlaceholders("{{scene}}")
	assert.True(t, strings.Contains(text, "廚房"), text)

	state.SceneMap(session).SetEnabled(false)
	assert.Equal(t, "", NewStateExpander(state, session).ReplacePlaceholders("{{scene}}"))
}

func TestBuildFinalMessages(t *testing.T) {
	state := newState()
	state.PromptSets = []*models.PromptSet{{ID: "s", Prompts: []models.PromptEntry{
		{Identifier: models.PromptChatHistory, Enabled: true, Position: 2},
		{Identifier: "note", Role: models.RoleUser, Content: "note for {{char}}", Enabled: true, Position: 3},
		{Identifier: models.PromptMain, Content: "main", Enabled: true, Position: 0},
		{Identifier: models.PromptScenario, Content: "{{persona}}", Enabled: true, Position: 1},
		{Identifier: "off", Content: "disabled", Enabled: false, Position: 1},
	}}}
	e := NewStateExpander(state, session)

	got := e.BuildFinalMessages([]models.Message{
		models.NewMessage(models.RoleUser, "hello"),
		models.NewMessage(models.RoleAssistant, "hi"),
	})
	assert.Equal(t, []models.ChatMessage{
		{Role: models.RoleSystem, Content: "main"},
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi"},
		{Role: models.RoleUser, Content: "note for Aria"},
	}, got)
}
