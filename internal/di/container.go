// internal/di/container.go
package di

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Container 按名称注册的服务容器，记录注册顺序以便按相反顺序关闭
type Container struct {
	mutex    sync.RWMutex
	services map[string]interface{}
	order    []string
}

var (
	globalContainer *Container
	once            sync.Once
)

// NewContainer 创建空容器
func NewContainer() *Container {
	return &Container{services: make(map[string]interface{})}
}

// GetContainer 进程级容器
func GetContainer() *Container {
	once.Do(func() {
		globalContainer = NewContainer()
	})
	return globalContainer
}

// Register 注册服务。同名服务被替换，但保留最初的注册位置
func (c *Container) Register(name string, service interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if _, exists := c.services[name]; !exists {
		c.order = append(c.order, name)
	}
	c.services[name] = service
}

// Get 按名称取服务，不存在时返回 nil
func (c *Container) Get(name string) interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.services[name]
}

func (c *Container) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, exists := c.services[name]
	return exists
}

// Clear 清空容器，不关闭服务
func (c *Container) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.services = make(map[string]interface{})
	c.order = nil
}

// GetNames 已注册的服务名（字母序）
func (c *Container) GetNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	names := slices.Clone(c.order)
	sort.Strings(names)
	return names
}

// Order 服务的注册顺序
func (c *Container) Order() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return slices.Clone(c.order)
}

// Close 按注册的相反顺序关闭实现了 Close() 或 Close() error 的服务，
// 后注册的服务可能依赖先注册的服务。返回所有关闭错误
func (c *Container) Close() error {
	c.mutex.RLock()
	order := slices.Clone(c.order)
	services := make([]interface{}, len(order))
	for i, name := range order {
		services[i] = c.services[name]
	}
	c.mutex.RUnlock()

	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		switch s := services[i].(type) {
		case interface{ Close() error }:
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("关闭服务 %s 失败: %w", order[i], err))
			}
		case interface{ Close() }:
			s.Close()
		}
	}
	return errors.Join(errs...)
}

// Resolve 按名称取出服务并断言为 T
func Resolve[T any](c *Container, name string) (T, error) {
	var zero T
	service := c.Get(name)
	if service == nil {
		return zero, fmt.Errorf("服务未注册: %s", name)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("服务 %s 类型不匹配: %T", name, service)
	}
	return typed, nil
}

// MustResolve 同 Resolve，失败时 panic，只用于启动阶段
func MustResolve[T any](c *Container, name string) T {
	v, err := Resolve[T](c, name)
	if err != nil {
		panic(err)
	}
	return v
}
