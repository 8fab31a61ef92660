// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/Corphon/LoreChat/internal/llm"
	"github.com/Corphon/LoreChat/internal/utils"
)

// ProxyDirect 配置文件中表示直连的代理值
const ProxyDirect = "none"

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string

	subscribersMu sync.RWMutex
	subscribers   []func(*AppConfig)
)

// Config 进程启动参数，来自环境变量和 .env
type Config struct {
	Port          string
	DataDir       string
	LogDir        string
	LogLevel      string
	DebugMode     bool
	StorageDriver string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
	ProxyURL      string
	AuthSecret    string
	EncryptionKey string

	RateLimitPerMinute     int
	ChatRateLimitPerMinute int
}

// AppConfig 可持久化、可热加载的服务配置（DATA_DIR/config.toml）
type AppConfig struct {
	Port          string `toml:"port" json:"port"`
	DataDir       string `toml:"-" json:"data_dir"`
	LogDir        string `toml:"-" json:"log_dir"`
	DebugMode     bool   `toml:"debug_mode" json:"debug_mode"`
	LogLevel      string `toml:"log_level" json:"log_level"`
	StorageDriver string `toml:"-" json:"storage_driver"`

	// 空字符串使用默认代理，"none" 表示直连
	ProxyURL string `toml:"proxy_url" json:"proxy_url"`

	RateLimitPerMinute     int `toml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	ChatRateLimitPerMinute int `toml:"chat_rate_limit_per_minute" json:"chat_rate_limit_per_minute"`
}

// LLMConfig 供应商初始化参数
func (c *AppConfig) LLMConfig() map[string]string {
	switch c.ProxyURL {
	case "":
		return map[string]string{}
	case ProxyDirect:
		return map[string]string{llm.ConfigProxyURL: ""}
	default:
		return map[string]string{llm.ConfigProxyURL: c.ProxyURL}
	}
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	config := &Config{
		Port:          getEnv("PORT", "8080"),
		DataDir:       getEnvPath("DATA_DIR", "data"),
		LogDir:        getEnvPath("LOG_DIR", "logs"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DebugMode:     getEnvBool("DEBUG_MODE", false),
		StorageDriver: getEnv("STORAGE_DRIVER", "file"),
		SQLitePath:    getEnv("SQLITE_PATH", ""),
		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "lorechat"),
		ProxyURL:      getEnv("PROXY_URL", ""),
		AuthSecret:    getEnv("AUTH_SECRET", ""),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		RateLimitPerMinute:     getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		ChatRateLimitPerMinute: getEnvInt("CHAT_RATE_LIMIT_PER_MINUTE", 20),
	}

	if config.AuthSecret == "" {
		utils.GetLogger().Warn("未设置 AUTH_SECRET，官方模型和付费功能将无法使用", nil)
	}
	if config.EncryptionKey == "" {
		utils.GetLogger().Warn("未设置 ENCRYPTION_KEY，API 金鑰将以明文保存", nil)
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			utils.GetLogger().Warnf("创建目录失败 %s: %v", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数类型环境变量，无法解析时返回默认值
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// FromEnv 用启动参数生成初始配置
func FromEnv(base *Config) *AppConfig {
	return &AppConfig{
		Port:                   base.Port,
		DataDir:                base.DataDir,
		LogDir:                 base.LogDir,
		DebugMode:              base.DebugMode,
		LogLevel:               base.LogLevel,
		StorageDriver:          base.StorageDriver,
		ProxyURL:               base.ProxyURL,
		RateLimitPerMinute:     base.RateLimitPerMinute,
		ChatRateLimitPerMinute: base.ChatRateLimitPerMinute,
	}
}

// InitConfig 初始化配置管理器：环境变量为基础，config.toml 中的值覆盖可热加载的部分
func InitConfig(base *Config) error {
	configFile = filepath.Join(base.DataDir, "config.toml")

	cfg := FromEnv(base)
	if _, err := os.Stat(configFile); err == nil {
		loaded, err := readFile(configFile, cfg)
		if err != nil {
			utils.GetLogger().Warn("读取配置文件失败，使用环境变量配置", map[string]interface{}{
				"file":  configFile,
				"error": err.Error(),
			})
		} else {
			cfg = loaded
		}
	}

	configMutex.Lock()
	currentConfig = cfg
	configMutex.Unlock()

	applyLogLevel(cfg)
	return SaveConfig()
}

// readFile 在 base 的副本上解码配置文件
func readFile(path string, base *AppConfig) (*AppConfig, error) {
	cfg := *base
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	// 这些字段只来自环境变量
	cfg.DataDir, cfg.LogDir, cfg.StorageDriver = base.DataDir, base.LogDir, base.StorageDriver
	return &cfg, nil
}

// ConfigFile 配置文件路径
func ConfigFile() string {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return configFile
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		base, _ := Load()
		return FromEnv(base)
	}

	configCopy := *currentConfig
	return &configCopy
}

// UpdateConfig 修改配置、保存并通知订阅者
func UpdateConfig(fn func(*AppConfig)) error {
	configMutex.Lock()
	if currentConfig == nil {
		configMutex.Unlock()
		return fmt.Errorf("配置系统未初始化")
	}
	next := *currentConfig
	fn(&next)
	currentConfig = &next
	configMutex.Unlock()

	if err := SaveConfig(); err != nil {
		return err
	}
	publish(&next)
	return nil
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	tmp := configFile + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("创建配置文件失败: %w", err)
	}
	fmt.Fprintln(file, "# LoreChat 服务配置，修改后自动生效")
	fmt.Fprintln(file, "")
	if err := toml.NewEncoder(file).Encode(currentConfig); err != nil {
		file.Close()
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, configFile)
}

// Subscribe 配置变更回调（热加载或 UpdateConfig）
func Subscribe(fn func(*AppConfig)) {
	subscribersMu.Lock()
	defer subscribersMu.Unlock()
	subscribers = append(subscribers, fn)
}

func publish(cfg *AppConfig) {
	applyLogLevel(cfg)

	subscribersMu.RLock()
	fns := slices.Clone(subscribers)
	subscribersMu.RUnlock()

	for _, fn := range fns {
		c := *cfg
		fn(&c)
	}
}

func applyLogLevel(cfg *AppConfig) {
	if cfg.LogLevel != "" {
		utils.GetLogger().SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	}
}

// resetForTesting 清空全局状态
func resetForTesting() {
	configMutex.Lock()
	currentConfig, configFile = nil, ""
	configMutex.Unlock()

	subscribersMu.Lock()
	subscribers = nil
	subscribersMu.Unlock()
}
