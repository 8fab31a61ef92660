package scene

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/models"
)

func msgs(texts ...string) []models.Message {
	out := make([]models.Message, 0, len(texts))
	for i, s := range texts {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		out = append(out, models.NewMessage(role, s))
	}
	return out
}

func TestRelevantNodesKeywordMatchedOnce(t *testing.T) {
	g := newDefaultGraph()
	ids := g.RelevantNodes(msgs("我想打開冰箱看看", "冰箱裡什麼都沒有"), nil)
	assert.Equal(t, 1, countOf(ids, "node_fridge"))
}

func TestRelevantNodesUsesActiveVariant(t *testing.T) {
	g := newDefaultGraph()
	m := models.Message{Role: models.RoleAssistant, Content: models.Variants("去睡覺吧", "我們去廚房")}
	m.ActiveContentIndex = 1

	ids := g.RelevantNodes([]models.Message{m}, nil)
	assert.Contains(t, ids, "node_kitchen")
	assert.NotContains(t, ids, "node_bedroom")
}

func TestRelevantNodesTiers(t *testing.T) {
	m := DefaultSceneMap("", fixedNow)
	g := NewGraph(m)
	stove := g.AddNode("node_kitchen", models.NodeData{Name: strPtr("Stove"), Type: typePtr(models.NodeItem)})
	tv := g.AddNode("node_home", models.NodeData{Name: strPtr("電視機"), Type: typePtr(models.NodeItem)})
	one := g.AddNode("node_home", models.NodeData{Name: strPtr("門")})

	km := models.KeywordMap{"晚餐": {"stove"}}

	ids := g.RelevantNodes(msgs("晚餐時間到了，打開電視機，走到門口"), km)
	// 第二层：关键字映射大小写不敏感地匹配 Stove
	assert.Contains(t, ids, stove.ID)
	// 第三层：名称直接出现
	assert.Contains(t, ids, tv.ID)
	// 单字名称不参与直接匹配
	assert.NotContains(t, ids, one.ID)
}

func TestRelevantNodesDiscoveryOrder(t *testing.T) {
	g := newDefaultGraph()
	ids := g.RelevantNodes(msgs("躺在床上想著冰箱"), nil)
	// 第一层按稳定遍历顺序：冰箱在床之前
	assert.Equal(t, []string{"node_fridge", "node_bed"}, ids)
}

func TestRelevantNodesNormalisesWidth(t *testing.T) {
	g := newDefaultGraph()
	g.AddNode("node_home", models.NodeData{Name: strPtr("sofa"), Keywords: []string{"SOFA"}})
	ids := g.RelevantNodes(msgs("坐在ＳＯＦＡ上"), nil)
	require.Len(t, ids, 1)
	assert.Equal(t, "sofa", g.Node(ids[0]).Name)
}

func TestBuildRelevantScenePrompt(t *testing.T) {
	g := newDefaultGraph()
	got := g.BuildRelevantScenePrompt(msgs("冰箱"), nil)
	want := "[場景地圖 - 背景參考資訊]\n" +
		"注意：以下是場景的基礎設定，請以最新對話內容為準。\n\n" +
		"家 → 廚房 → 冰箱：雙門冰箱，目前是空的，裡面很冷\n"
	assert.Equal(t, want, got)

	assert.Equal(t, "", g.BuildRelevantScenePrompt(msgs("天氣很好"), nil))

	g.SetInjection(false)
	assert.Equal(t, "", g.BuildRelevantScenePrompt(msgs("冰箱"), nil))
}

func TestBuildScenePromptText(t *testing.T) {
	g := newDefaultGraph()
	got := g.BuildScenePromptText("node_kitchen")
	want := "[場景背景設定]\n" +
		"注意：此為場景的基礎狀態。若對話中有更新的資訊，請以對話為準。\n\n" +
		"位置：家 → 廚房\n" +
		"描述：開放式廚房，整潔乾淨\n" +
		"\n可見物件：\n" +
		"- 冰箱：雙門冰箱，目前是空的，裡面很冷\n" +
		"\n所在區域：家\n"
	assert.Equal(t, want, got)

	// 默认使用当前位置
	assert.Contains(t, g.BuildScenePromptText(""), "位置：家\n")

	g.SetInjection(false)
	assert.Equal(t, "", g.BuildScenePromptText("node_kitchen"))
}

func TestNodePathAndLookup(t *testing.T) {
	g := newDefaultGraph()
	assert.Equal(t, "家 → 臥室 → 床", g.NodePath("node_bed"))
	assert.Equal(t, "", g.NodePath("node_nope"))

	n := g.NodeByPath("家/廚房/冰箱")
	require.NotNil(t, n)
	assert.Equal(t, "node_fridge", n.ID)
	assert.Nil(t, g.NodeByPath("家/浴室"))
	assert.Nil(t, g.NodeByPath(""))
}

func TestItemsInLocation(t *testing.T) {
	g := newDefaultGraph()
	milk := g.AddNode("node_fridge", models.NodeData{Name: strPtr("牛奶"), Type: typePtr(models.NodeItem)})
	pan := g.AddNode("node_kitchen", models.NodeData{Name: strPtr("平底鍋"), Type: typePtr(models.NodeItem)})

	direct := g.ItemsInLocation("node_kitchen", false)
	require.Len(t, direct, 1)
	assert.Equal(t, pan.ID, direct[0].ID)

	all := g.ItemsInLocation("node_home", true)
	ids := []string{}
	for _, n := range all {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{milk.ID, pan.ID}, ids)
}

func TestAvailableParents(t *testing.T) {
	g := newDefaultGraph()
	g.AddNode("node_bed", models.NodeData{Name: strPtr("枕頭"), Type: typePtr(models.NodeItem)})

	parents := g.AvailableParents("node_kitchen")
	var ids []string
	for _, p := range parents {
		ids = append(ids, p.ID)
		assert.NotEqual(t, models.NodeItem, p.Type)
	}
	assert.ElementsMatch(t, []string{"node_home", "node_bedroom", "node_bed"}, ids)
	for i := 1; i < len(parents); i++ {
		assert.LessOrEqual(t, parents[i-1].Path, parents[i].Path)
	}
}

func TestKeywordMapOperations(t *testing.T) {
	km := DefaultKeywordMap()
	assert.Equal(t, []string{"fridge"}, km["冰箱"])

	assert.True(t, AddKeywordMapping(km, "電視", []string{"tv"}))
	assert.False(t, AddKeywordMapping(km, "  ", []string{"x"}))
	assert.True(t, DeleteKeywordMapping(km, "電視"))
	assert.False(t, DeleteKeywordMapping(km, "電視"))

	merged := MergeKeywordMaps(models.KeywordMap{"床": {"bed"}}, models.KeywordMap{
		"床":  {"bed", "pillow"},
		"沙發": {"sofa"},
	})
	want := models.KeywordMap{"床": {"bed", "pillow"}, "沙發": {"sofa"}}
	assert.Empty(t, cmp.Diff(want, merged))
}

func TestExportImportRoundTrip(t *testing.T) {
	g := newDefaultGraph()
	g.AddNode("node_fridge", models.NodeData{Name: strPtr("牛奶"), Type: typePtr(models.NodeItem)})
	g.UpdateNodeState("node_fridge", map[string]interface{}{"open": true})

	doc := Export("char_1", "chat_1", g.Map(), DefaultKeywordMap(), fixedNow)
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	back, err := ParseImport(data)
	require.NoError(t, err)
	assert.Equal(t, models.SceneMapExportVersion, back.Version)
	assert.Equal(t, "char_1", back.CharID)
	assert.Empty(t, cmp.Diff(g.Map(), back.SceneMap))
	assert.Equal(t, "scene_map_char_1_chat_1_2025-01-02.json", ExportFileName("char_1", "chat_1", fixedNow))
}

func TestParseImportRejectsInvalidFiles(t *testing.T) {
	for name, body := range map[string]string{
		"not json":        `{`,
		"no scene map":    `{"version":1}`,
		"no nodes":        `{"sceneMap":{"rootNodes":[]}}`,
		"null root nodes": `{"sceneMap":{"nodes":{},"rootNodes":null}}`,
		"dangling root":   `{"sceneMap":{"nodes":{},"rootNodes":["node_x"]}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseImport([]byte(body))
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}

	doc, err := ParseImport([]byte(`{"sceneMap":{"nodes":{},"rootNodes":[]}}`))
	require.NoError(t, err)
	assert.Empty(t, doc.SceneMap.Nodes)
}

func countOf(list []string, id string) int {
	n := 0
	for _, v := range list {
		if v == id {
			n++
		}
	}
	return n
}
