package scene

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/LoreChat/internal/models"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newDefaultGraph() *Graph {
	return NewGraph(DefaultSceneMap("", fixedNow.Add(-time.Hour)), WithClock(func() time.Time { return fixedNow }))
}

func strPtr(s string) *string { return &s }

func typePtr(t models.NodeType) *models.NodeType { return &t }

func TestDefaultSceneMapIsValidForest(t *testing.T) {
	g := newDefaultGraph()
	require.NoError(t, g.Validate())
	assert.Equal(t, []string{"node_home", "node_kitchen", "node_fridge", "node_bedroom", "node_bed"}, g.OrderedIDs())
	assert.True(t, g.Map().Enabled())
}

func TestAddNodeResolvesParent(t *testing.T) {
	g := newDefaultGraph()

	byID := g.AddNode("node_kitchen", models.NodeData{Name: strPtr("爐子"), Type: typePtr(models.NodeContainer)})
	require.NotNil(t, byID)
	assert.Equal(t, "node_kitchen", byID.Parent)
	assert.Contains(t, g.Node("node_kitchen").Children, byID.ID)
	assert.Regexp(t, `^node_\d+_\d{1,3}$`, byID.ID)
	assert.Equal(t, fixedNow, g.Map().LastUpdated)

	byName := g.AddNode("臥室", models.NodeData{Name: strPtr("衣櫃")})
	require.NotNil(t, byName)
	assert.Equal(t, "node_bedroom", byName.Parent)
	assert.Equal(t, models.NodeLocation, byName.Type)

	orphan := g.AddNode("不存在的地方", models.NodeData{})
	require.NotNil(t, orphan)
	assert.Equal(t, DefaultNodeName, orphan.Name)
	assert.True(t, orphan.IsRoot())
	assert.Contains(t, g.Map().RootNodes, orphan.ID)

	root := g.AddNode("", models.NodeData{Name: strPtr("公園")})
	require.NotNil(t, root)
	assert.True(t, root.IsRoot())

	require.NoError(t, g.Validate())
}

func TestAddNodeRejectsItemParent(t *testing.T) {
	g := newDefaultGraph()
	item := g.AddNode("node_fridge", models.NodeData{Name: strPtr("牛奶"), Type: typePtr(models.NodeItem)})
	require.NotNil(t, item)

	before := g.Map().Clone()
	assert.Nil(t, g.AddNode(item.ID, models.NodeData{Name: strPtr("瓶蓋")}))
	assert.Nil(t, g.AddNode("牛奶", models.NodeData{Name: strPtr("瓶蓋")}))
	assert.Empty(t, cmp.Diff(before, g.Map()))
}

func TestAddNodeGeneratesUniqueIDsWithinSameMillisecond(t *testing.T) {
	g := newDefaultGraph()
	ids := make(map[string]bool)
	for i := 0; i < 200; i++ {
		n := g.AddNode("", models.NodeData{})
		require.NotNil(t, n)
		require.False(t, ids[n.ID], "duplicate id %s", n.ID)
		ids[n.ID] = true
	}
	assert.Len(t, g.Map().Nodes, 205)
}

func TestMoveItem(t *testing.T) {
	g := newDefaultGraph()

	require.True(t, g.MoveItem("node_fridge", "node_bedroom", 0))
	assert.Equal(t, []string{"node_fridge", "node_bed"}, g.Node("node_bedroom").Children)
	assert.Empty(t, g.Node("node_kitchen").Children)
	assert.Equal(t, "node_bedroom", g.Node("node_fridge").Parent)

	require.True(t, g.MoveItem("node_kitchen", "", 0))
	assert.Equal(t, []string{"node_kitchen", "node_home"}, g.Map().RootNodes)
	assert.True(t, g.Node("node_kitchen").IsRoot())

	// 越界索引追加到末尾
	require.True(t, g.MoveItem("node_kitchen", "node_home", 99))
	assert.Equal(t, []string{"node_bedroom", "node_kitchen"}, g.Node("node_home").Children)
	require.NoError(t, g.Validate())
}

func TestMoveItemRejectsCyclesWithoutMutation(t *testing.T) {
	g := newDefaultGraph()
	before := g.Map().Clone()

	cases := []struct {
		name   string
		node   string
		parent string
	}{
		{"self", "node_home", "node_home"},
		{"child", "node_home", "node_kitchen"},
		{"grandchild", "node_home", "node_fridge"},
		{"missing node", "node_nope", "node_home"},
		{"missing parent", "node_bed", "node_nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, g.MoveItem(tc.node, tc.parent, -1))
			assert.Empty(t, cmp.Diff(before, g.Map()))
		})
	}

	item := g.AddNode("node_bed", models.NodeData{Type: typePtr(models.NodeItem)})
	snapshot := g.Map().Clone()
	assert.False(t, g.MoveItem("node_fridge", item.ID, -1))
	assert.Empty(t, cmp.Diff(snapshot, g.Map()))
}

func TestIsDescendant(t *testing.T) {
	g := newDefaultGraph()
	assert.True(t, g.IsDescendant("node_home", "node_home"))
	assert.True(t, g.IsDescendant("node_home", "node_fridge"))
	assert.False(t, g.IsDescendant("node_kitchen", "node_bed"))
	assert.False(t, g.IsDescendant("node_fridge", "node_kitchen"))
	assert.False(t, g.IsDescendant("node_nope", "node_nope"))
}

func TestDeleteNodeIsIdempotent(t *testing.T) {
	g := newDefaultGraph()
	require.True(t, g.DeleteNode("node_kitchen"))
	assert.Nil(t, g.Node("node_kitchen"))
	assert.Nil(t, g.Node("node_fridge"))
	assert.Equal(t, []string{"node_bedroom"}, g.Node("node_home").Children)

	after := g.Map().Clone()
	assert.False(t, g.DeleteNode("node_kitchen"))
	assert.Empty(t, cmp.Diff(after, g.Map()))

	require.True(t, g.DeleteNode("node_home"))
	assert.Empty(t, g.Map().Nodes)
	assert.Empty(t, g.Map().RootNodes)
	assert.Equal(t, "", g.Map().CurrentLocation)
}

// 随机操作序列后森林不变量始终成立
func TestRandomMutationsKeepForest(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	g := newDefaultGraph()
	types := []models.NodeType{models.NodeLocation, models.NodeContainer, models.NodeItem}

	pick := func() string {
		ids := g.OrderedIDs()
		if len(ids) == 0 || r.IntN(8) == 0 {
			return ""
		}
		return ids[r.IntN(len(ids))]
	}

	for i := 0; i < 500; i++ {
		switch r.IntN(4) {
		case 0, 1:
			g.AddNode(pick(), models.NodeData{Name: strPtr(fmt.Sprintf("n%d", i)), Type: typePtr(types[r.IntN(3)])})
		case 2:
			node, parent := pick(), pick()
			wasDesc := parent != "" && g.IsDescendant(node, parent)
			before := g.Map().Clone()
			ok := g.MoveItem(node, parent, r.IntN(4)-1)
			if wasDesc {
				require.False(t, ok)
				require.Empty(t, cmp.Diff(before, g.Map()))
			}
		case 3:
			if r.IntN(3) == 0 {
				g.DeleteNode(pick())
			}
		}
		require.NoError(t, g.Validate(), "step %d", i)
	}
}

func TestValidateDetectsBrokenMaps(t *testing.T) {
	m := DefaultSceneMap("", fixedNow)
	m.Nodes["node_home"].Parent = "node_bed"
	assert.Error(t, NewGraph(m).Validate())

	m = DefaultSceneMap("", fixedNow)
	m.RootNodes = append(m.RootNodes, "node_ghost")
	assert.Error(t, NewGraph(m).Validate())

	m = DefaultSceneMap("", fixedNow)
	m.Nodes["node_kitchen"].Children = nil
	assert.Error(t, NewGraph(m).Validate())
}

func TestUpdateNodeAndState(t *testing.T) {
	g := newDefaultGraph()
	require.True(t, g.UpdateNode("node_fridge", models.NodeData{Description: strPtr("塞滿了啤酒")}))
	assert.Equal(t, "冰箱", g.Node("node_fridge").Name)
	assert.Equal(t, "塞滿了啤酒", g.Node("node_fridge").Description)

	require.True(t, g.UpdateNodeState("node_fridge", map[string]interface{}{"open": true}))
	require.True(t, g.UpdateNodeState("node_fridge", map[string]interface{}{"temp": 4}))
	assert.Equal(t, map[string]interface{}{"open": true, "temp": 4}, g.Node("node_fridge").State)

	assert.False(t, g.UpdateNode("node_nope", models.NodeData{}))
	assert.False(t, g.SetCurrentLocation("node_nope"))
	assert.True(t, g.SetCurrentLocation("node_kitchen"))
}

func TestNilMapIsInert(t *testing.T) {
	g := NewGraph(nil)
	assert.Nil(t, g.AddNode("", models.NodeData{}))
	assert.False(t, g.MoveItem("a", "", -1))
	assert.False(t, g.DeleteNode("a"))
	assert.Equal(t, "", g.BuildScenePromptText(""))
	assert.Equal(t, "", g.BuildRelevantScenePrompt([]models.Message{models.NewMessage("user", "冰箱")}, nil))
	assert.Error(t, g.Validate())
}
