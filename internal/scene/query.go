// internal/scene/query.go
package scene

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/Corphon/LoreChat/internal/models"
)

// PathSeparator 节点路径显示分隔符
const PathSeparator = " → "

// NodePath 根到节点的名称路径，节点不存在时为空
func (g *Graph) NodePath(nodeID string) string {
	if g.Node(nodeID) == nil {
		return ""
	}
	var names []string
	for cur := g.m.Nodes[nodeID]; cur != nil; {
		names = append(names, cur.Name)
		if cur.Parent == "" || len(names) > len(g.m.Nodes) {
			break
		}
		cur = g.m.Nodes[cur.Parent]
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, PathSeparator)
}

// NodeByPath 按 "家/廚房/冰箱" 形式的路径查找节点
func (g *Graph) NodeByPath(path string) *models.SceneNode {
	if g.m == nil {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return nil
	}

	current := g.findChild(g.m.RootNodes, parts[0])
	for _, name := range parts[1:] {
		if current == nil {
			return nil
		}
		current = g.findChild(current.Children, name)
	}
	return current
}

func (g *Graph) findChild(ids []string, name string) *models.SceneNode {
	for _, id := range ids {
		if n := g.m.Nodes[id]; n != nil && n.Name == name {
			return n
		}
	}
	return nil
}

// ItemsInLocation 位置下的 item 节点，recursive 时包含整棵子树
func (g *Graph) ItemsInLocation(locationID string, recursive bool) []*models.SceneNode {
	loc := g.Node(locationID)
	if loc == nil {
		return nil
	}
	var items []*models.SceneNode
	for _, id := range loc.Children {
		child := g.m.Nodes[id]
		if child == nil {
			continue
		}
		if child.Type == models.NodeItem {
			items = append(items, child)
		}
		if recursive && len(child.Children) > 0 {
			items = append(items, g.ItemsInLocation(id, true)...)
		}
	}
	return items
}

// AvailableParents 可作为父节点的 location/container，排除 excludeID 及其子树，按路径排序
func (g *Graph) AvailableParents(excludeID string) []models.AvailableParent {
	if g.m == nil {
		return nil
	}
	var out []models.AvailableParent
	for _, id := range g.OrderedIDs() {
		n := g.m.Nodes[id]
		if excludeID != "" && g.IsDescendant(excludeID, id) {
			continue
		}
		if !n.Type.CanHoldChildren() {
			continue
		}
		out = append(out, models.AvailableParent{
			ID:   id,
			Name: n.Name,
			Path: g.NodePath(id),
			Type: n.Type,
		})
	}

	c := collate.New(language.Und)
	sort.SliceStable(out, func(i, j int) bool {
		return c.CompareString(out[i].Path, out[j].Path) < 0
	})
	return out
}
