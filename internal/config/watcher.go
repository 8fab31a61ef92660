// internal/config/watcher.go
package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Corphon/LoreChat/internal/utils"
)

// reloadDebounce 编辑器保存时会连续产生多个事件
const reloadDebounce = 200 * time.Millisecond

// Watch 监听配置文件变化并重新加载，ctx 结束时停止
func Watch(ctx context.Context) error {
	path := ConfigFile()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// 监听目录：编辑器通常以重命名方式替换文件
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	logger := utils.GetLogger().With("config", map[string]interface{}{"file": path})
	go func() {
		defer watcher.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C

			case <-fire:
				fire = nil
				if err := Reload(); err != nil {
					logger.Warn("重新加载配置失败", map[string]interface{}{"error": err.Error()})
				} else {
					logger.Info("配置已重新加载", nil)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("配置监听错误", map[string]interface{}{"error": err.Error()})
			}
		}
	}()
	return nil
}

// Reload 从配置文件重新读取并通知订阅者
func Reload() error {
	configMutex.RLock()
	base := currentConfig
	path := configFile
	configMutex.RUnlock()
	if base == nil {
		return nil
	}

	cfg, err := readFile(path, base)
	if err != nil {
		return err
	}
	if *cfg == *base {
		return nil
	}

	configMutex.Lock()
	currentConfig = cfg
	configMutex.Unlock()

	publish(cfg)
	return nil
}
