// internal/utils/metrics.go
package utils

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector 进程内计数器、仪表和直方图
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram 只记录 count/sum/min/max
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// NewMetricsCollector 独立的收集器（测试用）
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// slot 读锁快路径，不存在时加写锁创建
func (m *MetricsCollector) slot(set map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, ok := set[name]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = set[name]; !ok {
		v = new(int64)
		set[name] = v
	}
	return v
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	v, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	v, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// ChatMetrics 聊天服务的业务指标
type ChatMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewChatMetrics 使用全局收集器
func NewChatMetrics() *ChatMetrics {
	return NewChatMetricsWith(GetMetricsCollector())
}

// NewChatMetricsWith 使用指定收集器
func NewChatMetricsWith(c *MetricsCollector) *ChatMetrics {
	return &ChatMetrics{
		metrics: c,
		logger:  GetLogger().With("metrics", nil),
	}
}

// Collector 底层收集器
func (cm *ChatMetrics) Collector() *MetricsCollector {
	return cm.metrics
}

// RecordAPIRequest 记录一次 HTTP 请求
func (cm *ChatMetrics) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	cm.metrics.IncrementCounter("api_requests_total")
	cm.metrics.IncrementCounter("api_requests_" + method + "_" + route)
	cm.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	cm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
}

// RecordLLMRequest 记录一次模型调用
func (cm *ChatMetrics) RecordLLMRequest(provider, model string, ok bool, duration time.Duration) {
	cm.metrics.IncrementCounter("llm_requests_total")
	cm.metrics.IncrementCounter("llm_requests_" + provider)
	if !ok {
		cm.metrics.IncrementCounter("llm_failures_" + provider)
	}
	cm.metrics.RecordHistogram("llm_response_time_ms", duration.Milliseconds())

	cm.logger.Info("LLM request completed", map[string]interface{}{
		"provider": provider,
		"model":    model,
		"ok":       ok,
		"duration": duration.Milliseconds(),
	})
}

// RecordContextBuild 记录上下文组装结果
func (cm *ChatMetrics) RecordContextBuild(kept, total, injections int) {
	cm.metrics.IncrementCounter("context_builds_total")
	cm.metrics.AddCounter("context_history_dropped", int64(total-kept))
	cm.metrics.AddCounter("context_injections_total", int64(injections))
}

// RecordSceneMutation 记录场景地图变更（add/move/delete/update/import/apply）
func (cm *ChatMetrics) RecordSceneMutation(kind string) {
	cm.metrics.IncrementCounter("scene_mutations_total")
	cm.metrics.IncrementCounter("scene_mutations_" + kind)
}

// RecordError records an error metric
func (cm *ChatMetrics) RecordError(errorType, component string) {
	cm.metrics.IncrementCounter("errors_total")
	cm.metrics.IncrementCounter("errors_" + errorType)
	cm.metrics.IncrementCounter("errors_" + component)
}

// StartMetricsCollection 定期输出指标摘要
func (cm *ChatMetrics) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cm.logger.Debug("Periodic metrics report", map[string]interface{}{
					"metrics": cm.metrics.GetMetrics(),
				})
			}
		}
	}()
}
