// internal/scene/relevance.go
package scene

import (
	"strings"

	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/utils"
)

const (
	relevantHeader = "[場景地圖 - 背景參考資訊]"
	relevantNote   = "注意：以下是場景的基礎設定，請以最新對話內容為準。"
	sceneHeader    = "[場景背景設定]"
	sceneNote      = "注意：此為場景的基礎狀態。若對話中有更新的資訊，請以對話為準。"

	// 名称直接匹配的最短字符数
	minDirectNameRunes = 2
)

// ConversationText 把最近消息的生效文本拼接并归一化
func ConversationText(recent []models.Message) string {
	parts := make([]string, 0, len(recent))
	for _, m := range recent {
		parts = append(parts, m.ActiveText())
	}
	return utils.FoldText(strings.Join(parts, " "))
}

// RelevantNodes 按三层规则找出与对话相关的节点：
// 节点自带关键字、全局关键字映射（名称双向模糊包含）、节点名称直接出现。
// 结果按发现顺序排列且不重复。
func (g *Graph) RelevantNodes(recent []models.Message, keywordMap models.KeywordMap) []string {
	if g.m == nil {
		return nil
	}
	text := ConversationText(recent)
	if text == "" {
		return nil
	}

	order := g.OrderedIDs()
	var result []string
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			result = append(result, id)
		}
	}

	for _, id := range order {
		for _, kw := range g.m.Nodes[id].Keywords {
			if utils.ContainsFold(text, kw) {
				add(id)
				break
			}
		}
	}

	for _, kw := range sortedKeywords(keywordMap) {
		if !utils.ContainsFold(text, kw) {
			continue
		}
		for _, target := range keywordMap[kw] {
			t := utils.FoldText(target)
			if t == "" {
				continue
			}
			for _, id := range order {
				name := utils.FoldText(g.m.Nodes[id].Name)
				if name == "" {
					continue
				}
				if strings.Contains(name, t) || strings.Contains(t, name) {
					add(id)
				}
			}
		}
	}

	for _, id := range order {
		if seen[id] {
			continue
		}
		name := utils.FoldText(g.m.Nodes[id].Name)
		if utils.RuneLen(name) >= minDirectNameRunes && strings.Contains(text, name) {
			add(id)
		}
	}

	return result
}

// BuildRelevantScenePrompt 只包含相关节点的场景提示，地图停用、不存在或无匹配时为空
func (g *Graph) BuildRelevantScenePrompt(recent []models.Message, keywordMap models.KeywordMap) string {
	if !g.m.Enabled() {
		return ""
	}
	ids := g.RelevantNodes(recent, keywordMap)
	if len(ids) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(relevantHeader + "\n")
	sb.WriteString(relevantNote + "\n\n")
	for _, id := range ids {
		sb.WriteString(g.NodePath(id))
		if d := g.m.Nodes[id].Description; d != "" {
			sb.WriteString("：" + d)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// BuildScenePromptText 以某个节点（默认当前位置）为中心的场景描述
func (g *Graph) BuildScenePromptText(focusID string) string {
	if !g.m.Enabled() {
		return ""
	}
	if focusID == "" {
		focusID = g.m.CurrentLocation
	}
	node := g.Node(focusID)
	if node == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(sceneHeader + "\n")
	sb.WriteString(sceneNote + "\n\n")
	sb.WriteString("位置：" + g.NodePath(node.ID) + "\n")
	if node.Description != "" {
		sb.WriteString("描述：" + node.Description + "\n")
	}

	if len(node.Children) > 0 {
		sb.WriteString("\n可見物件：\n")
		for _, id := range node.Children {
			child := g.m.Nodes[id]
			if child == nil {
				continue
			}
			sb.WriteString("- " + child.Name)
			if child.Description != "" {
				sb.WriteString("：" + child.Description)
			}
			sb.WriteByte('\n')
		}
	}

	if parent := g.Node(node.Parent); parent != nil {
		sb.WriteString("\n所在區域：" + parent.Name + "\n")
	}
	return sb.String()
}
