package services

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/utils"
)

type broadcast struct {
	ref   models.SessionRef
	event string
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcast
}

func (r *recordingBroadcaster) BroadcastScene(ref models.SessionRef, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, broadcast{ref: ref, event: event})
}

func (r *recordingBroadcaster) last() broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return broadcast{}
	}
	return r.events[len(r.events)-1]
}

func TestSceneMapCreatedOnFirstAccess(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t)

	m, err := f.scenes.Map(f.ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "node_home", m.CurrentLocation)
	assert.True(t, m.Enabled())

	// 返回的是副本
	m.Nodes["node_home"].Name = "changed"
	again, err := f.scenes.Map(f.ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "家", again.Nodes["node_home"].Name)
}

func TestSceneMapRequiresSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.scenes.Map(f.ctx, models.SessionRef{})
	assert.True(t, errors.IsPreconditionError(err))

	_, err = f.scenes.Map(f.ctx, models.SessionRef{CharacterID: "x", ChatID: "y"})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSceneMutationsBroadcast(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t)
	rec := &recordingBroadcaster{}
	f.scenes.SetBroadcaster(rec)

	kind := models.NodeItem
	node, m, err := f.scenes.AddNode(f.ctx, ref, "冰箱", models.NodeData{Name: ptr("牛奶"), Type: &kind})
	require.NoError(t, err)
	assert.Equal(t, "node_fridge", node.Parent)
	assert.Contains(t, m.Nodes["node_fridge"].Children, node.ID)
	assert.Equal(t, broadcast{ref: ref, event: SceneEventUpdated}, rec.last())

	path, err := f.scenes.NodePath(ref, node.ID)
	require.NoError(t, err)
	assert.Equal(t, "家 → 廚房 → 冰箱 → 牛奶", path)

	found, err := f.scenes.NodeByPath(ref, "家/廚房/冰箱/牛奶")
	require.NoError(t, err)
	assert.Equal(t, node.ID, found.ID)

	// 物品不能成为父节点
	_, _, err = f.scenes.AddNode(f.ctx, ref, node.ID, models.NodeData{Name: ptr("蓋子")})
	assert.True(t, errors.IsValidationError(err))

	_, err = f.scenes.MoveItem(f.ctx, ref, node.ID, "node_bed", -1)
	require.NoError(t, err)
	items, err := f.scenes.ItemsInLocation(ref, "node_bedroom", true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "牛奶", items[0].Name)

	_, err = f.scenes.SetCurrentLocation(f.ctx, ref, "node_kitchen")
	require.NoError(t, err)
	_, err = f.scenes.SetCurrentLocation(f.ctx, ref, "missing")
	assert.True(t, errors.IsNotFoundError(err))

	m, err = f.scenes.DeleteNode(f.ctx, ref, "node_bedroom")
	require.NoError(t, err)
	assert.NotContains(t, m.Nodes, node.ID)
	assert.NotContains(t, m.Nodes, "node_bed")
}

func TestSceneMutationMetrics(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t)
	collector := utils.NewMetricsCollector()
	f.scenes.metrics = utils.NewChatMetricsWith(collector)

	_, err := f.scenes.SetInjection(f.ctx, ref, false)
	require.NoError(t, err)
	assert.Positive(t, collector.GetCounterValue("scene_mutations_total"))

	text, err := f.scenes.ScenePrompt(ref, "")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestSceneExportImport(t *testing.T) {
	f := newFixture(t)
	ref := f.session(t)
	_, _, err := f.scenes.AddNode(f.ctx, ref, "", models.NodeData{Name: ptr("花園")})
	require.NoError(t, err)

	doc, name, err := f.scenes.Export(ref)
	require.NoError(t, err)
	assert.Contains(t, name, ref.CharacterID)

	other := f.session(t)
	doc.KeywordMapping = models.KeywordMap{"澆花": {"花園"}}
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	imported, err := f.scenes.Import(f.ctx, other, data)
	require.NoError(t, err)
	assert.Len(t, imported.Nodes, len(doc.SceneMap.Nodes))
	assert.Contains(t, f.scenes.Keywords(), "澆花")

	_, err = f.scenes.Import(f.ctx, other, []byte(`{"version":1}`))
	assert.Error(t, err)
}

func TestKeywordMappings(t *testing.T) {
	f := newFixture(t)
	rec := &recordingBroadcaster{}
	f.scenes.SetBroadcaster(rec)

	km, err := f.scenes.SetKeyword(f.ctx, "喝水", []string{"kitchen"})
	require.NoError(t, err)
	assert.Equal(t, []string{"kitchen"}, km["喝水"])
	assert.Equal(t, SceneEventKeywords, rec.last().event)

	_, err = f.scenes.SetKeyword(f.ctx, "  ", nil)
	assert.True(t, errors.IsValidationError(err))

	_, err = f.scenes.DeleteKeyword(f.ctx, "喝水")
	require.NoError(t, err)
	_, err = f.scenes.DeleteKeyword(f.ctx, "喝水")
	assert.True(t, errors.IsNotFoundError(err))

	km, err = f.scenes.ResetKeywords(f.ctx)
	require.NoError(t, err)
	assert.Contains(t, km, "冰箱")
}
