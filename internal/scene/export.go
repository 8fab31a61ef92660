// internal/scene/export.go
package scene

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/models"
)

// ErrInvalidExport 导入文件缺少 sceneMap.nodes 或 sceneMap.rootNodes
const ErrInvalidExport = "無效的場景地圖檔案格式"

// Export 生成场景地图导出文档
func Export(charID, chatID string, m *models.SceneMap, km models.KeywordMap, now time.Time) *models.SceneMapExport {
	return &models.SceneMapExport{
		Version:        models.SceneMapExportVersion,
		Timestamp:      now,
		CharID:         charID,
		ChatID:         chatID,
		SceneMap:       m.Clone(),
		KeywordMapping: km,
	}
}

// ExportFileName scene_map_<char>_<chat>_<日期>.json
func ExportFileName(charID, chatID string, now time.Time) string {
	return fmt.Sprintf("scene_map_%s_%s_%s.json", charID, chatID, now.Format("2006-01-02"))
}

// ParseImport 解析并校验导入文件
func ParseImport(data []byte) (*models.SceneMapExport, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.NewValidationError(ErrInvalidExport, nil)
	}
	nodes := gjson.GetBytes(data, "sceneMap.nodes")
	roots := gjson.GetBytes(data, "sceneMap.rootNodes")
	if !nodes.IsObject() || !roots.IsArray() {
		return nil, errors.NewValidationError(ErrInvalidExport, nil)
	}

	var doc models.SceneMapExport
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewValidationError(ErrInvalidExport, err)
	}
	if err := NewGraph(doc.SceneMap).Validate(); err != nil {
		return nil, errors.NewValidationError(ErrInvalidExport+": "+err.Error(), err)
	}
	return &doc, nil
}
