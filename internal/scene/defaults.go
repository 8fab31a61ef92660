// internal/scene/defaults.go
package scene

import (
	"sort"
	"strings"
	"time"

	"github.com/Corphon/LoreChat/internal/models"
)

// DefaultSceneMap 新聊天室的预设场景：家 → 廚房 → 冰箱，家 → 臥室 → 床
func DefaultSceneMap(name string, now time.Time) *models.SceneMap {
	if name == "" {
		name = "預設場景"
	}
	m := &models.SceneMap{
		Name:            name,
		Description:     "預設場景地圖",
		RootNodes:       []string{"node_home"},
		CurrentLocation: "node_home",
		LastUpdated:     now,
		Nodes: map[string]*models.SceneNode{
			"node_home": {
				ID: "node_home", Name: "家", Type: models.NodeLocation,
				Description: "溫馨的住所",
				Keywords:    []string{"家", "回家", "住所"},
				Children:    []string{"node_kitchen", "node_bedroom"},
			},
			"node_kitchen": {
				ID: "node_kitchen", Name: "廚房", Type: models.NodeLocation,
				Description: "開放式廚房，整潔乾淨",
				Keywords:    []string{"廚房", "做飯", "煮", "煮飯", "烹飪"},
				Children:    []string{"node_fridge"},
				Parent:      "node_home",
			},
			"node_fridge": {
				ID: "node_fridge", Name: "冰箱", Type: models.NodeContainer,
				Description: "雙門冰箱，目前是空的，裡面很冷",
				Keywords:    []string{"冰箱", "食物", "吃", "飲料", "冰"},
				Children:    []string{},
				Parent:      "node_kitchen",
			},
			"node_bedroom": {
				ID: "node_bedroom", Name: "臥室", Type: models.NodeLocation,
				Description: "舒適的臥室",
				Keywords:    []string{"臥室", "睡覺", "休息", "房間"},
				Children:    []string{"node_bed"},
				Parent:      "node_home",
			},
			"node_bed": {
				ID: "node_bed", Name: "床", Type: models.NodeContainer,
				Description: "雙人床，還沒整理",
				Keywords:    []string{"床", "睡", "躺", "睡覺"},
				Children:    []string{},
				Parent:      "node_bedroom",
			},
		},
	}
	m.SetEnabled(true)
	return m
}

// DefaultKeywordMap 预设的全局关键字映射
func DefaultKeywordMap() models.KeywordMap {
	return models.KeywordMap{
		"吃":  {"fridge", "kitchen", "stove"},
		"飯":  {"fridge", "kitchen", "stove"},
		"煮":  {"kitchen", "stove", "fridge"},
		"食物": {"fridge", "kitchen"},
		"冰箱": {"fridge"},
		"睡":  {"bedroom", "bed"},
		"手機": {"phone"},
		"洗澡": {"bathroom"},
		"浴室": {"bathroom"},
		"家":  {"home", "bedroom", "kitchen"},
		"廚房": {"kitchen", "fridge", "stove"},
		"臥室": {"bedroom", "bed"},
		"床":  {"bed"},
	}
}

// AddKeywordMapping 新增或覆盖关键字映射
func AddKeywordMapping(km models.KeywordMap, keyword string, nodeNames []string) bool {
	keyword = strings.TrimSpace(keyword)
	if km == nil || keyword == "" || nodeNames == nil {
		return false
	}
	km[keyword] = append([]string(nil), nodeNames...)
	return true
}

// DeleteKeywordMapping 删除关键字映射，不存在时返回 false
func DeleteKeywordMapping(km models.KeywordMap, keyword string) bool {
	if _, ok := km[keyword]; !ok {
		return false
	}
	delete(km, keyword)
	return true
}

// MergeKeywordMaps 把 src 合并进 dst：新关键字直接加入，已有关键字的节点名去重追加
func MergeKeywordMaps(dst, src models.KeywordMap) models.KeywordMap {
	if dst == nil {
		dst = models.KeywordMap{}
	}
	for _, kw := range sortedKeywords(src) {
		existing, ok := dst[kw]
		if !ok {
			dst[kw] = append([]string(nil), src[kw]...)
			continue
		}
		seen := make(map[string]bool, len(existing))
		for _, n := range existing {
			seen[n] = true
		}
		for _, n := range src[kw] {
			if !seen[n] {
				seen[n] = true
				existing = append(existing, n)
			}
		}
		dst[kw] = existing
	}
	return dst
}

func sortedKeywords(km models.KeywordMap) []string {
	keys := make([]string, 0, len(km))
	for k := range km {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
