// internal/services/lock_manager.go
package services

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxSessionLocks = 200              // 超过后才清理
	lockIdleTimeout = 30 * time.Minute // 锁的闲置超时
)

// LockManager 按会话 (角色/聊天室) 加锁，串行化同一会话的状态修改
type LockManager struct {
	sessionLocks map[string]*LockInfo
	globalLock   sync.RWMutex

	stop chan struct{}
	once sync.Once
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex          *sync.RWMutex
	LastUsed       atomic.Int64 // unix 纳秒
	ReferenceCount atomic.Int32 // 正在使用的协程数，大于 0 时不会被清理
}

// NewLockManager 创建锁管理器并启动清理
func NewLockManager() *LockManager {
	lm := &LockManager{
		sessionLocks: make(map[string]*LockInfo),
		stop:         make(chan struct{}),
	}
	lm.startCleanup(5 * time.Minute)
	return lm
}

// acquire 获取锁信息并增加引用计数
func (lm *LockManager) acquire(key string) *LockInfo {
	lm.globalLock.RLock()
	info, exists := lm.sessionLocks[key]
	if exists {
		info.ReferenceCount.Add(1)
	}
	lm.globalLock.RUnlock()

	if !exists {
		lm.globalLock.Lock()
		// 双重检查
		if info, exists = lm.sessionLocks[key]; !exists {
			info = &LockInfo{Mutex: &sync.RWMutex{}}
			lm.sessionLocks[key] = info
		}
		info.ReferenceCount.Add(1)
		lm.globalLock.Unlock()
	}

	info.LastUsed.Store(time.Now().UnixNano())
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	info.LastUsed.Store(time.Now().UnixNano())
	info.ReferenceCount.Add(-1)
}

// ExecuteWithSessionLock 在会话写锁保护下执行操作
func (lm *LockManager) ExecuteWithSessionLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(info)

	info.Mutex.Lock()
	defer info.Mutex.Unlock()
	return fn()
}

// ExecuteWithSessionReadLock 在会话读锁保护下执行操作
func (lm *LockManager) ExecuteWithSessionReadLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(info)

	info.Mutex.RLock()
	defer info.Mutex.RUnlock()
	return fn()
}

// Size 当前持有的锁数量
func (lm *LockManager) Size() int {
	lm.globalLock.RLock()
	defer lm.globalLock.RUnlock()
	return len(lm.sessionLocks)
}

// Close 停止后台清理
func (lm *LockManager) Close() {
	lm.once.Do(func() { close(lm.stop) })
}

// 定期清理未使用的锁
func (lm *LockManager) startCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				lm.cleanupUnusedLocks(maxSessionLocks, lockIdleTimeout)
			case <-lm.stop:
				return
			}
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks(limit int, idle time.Duration) int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 只有在锁数量过多时才清理
	if len(lm.sessionLocks) <= limit {
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-idle).UnixNano()
	for key, info := range lm.sessionLocks {
		if info.ReferenceCount.Load() > 0 {
			continue
		}
		if info.LastUsed.Load() < cutoff {
			delete(lm.sessionLocks, key)
			removed++
		}
	}
	return removed
}
