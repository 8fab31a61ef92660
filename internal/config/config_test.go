package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/LoreChat/internal/llm"
)

func testBase(t *testing.T) *Config {
	t.Helper()
	t.Cleanup(resetForTesting)
	dir := t.TempDir()
	return &Config{
		Port:                   "9090",
		DataDir:                dir,
		LogDir:                 filepath.Join(dir, "logs"),
		LogLevel:               "info",
		StorageDriver:          "file",
		RateLimitPerMinute:     60,
		ChatRateLimitPerMinute: 10,
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("LC_TEST_INT", "42")
	t.Setenv("LC_TEST_BAD", "x")
	t.Setenv("LC_TEST_BOOL", "yes")

	assert.Equal(t, 42, getEnvInt("LC_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("LC_TEST_BAD", 1))
	assert.Equal(t, 7, getEnvInt("LC_TEST_MISSING", 7))
	assert.True(t, getEnvBool("LC_TEST_BOOL", false))
	assert.Equal(t, "d", getEnv("LC_TEST_MISSING", "d"))
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PORT", "7000")
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("CHAT_RATE_LIMIT_PER_MINUTE", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "sqlite", cfg.StorageDriver)
	assert.Equal(t, 5, cfg.ChatRateLimitPerMinute)
	assert.DirExists(t, cfg.DataDir)
}

func TestInitWritesAndMergesFile(t *testing.T) {
	base := testBase(t)
	require.NoError(t, os.WriteFile(filepath.Join(base.DataDir, "config.toml"),
		[]byte("log_level = \"debug\"\nproxy_url = \"none\"\nrate_limit_per_minute = 30\n"), 0600))

	require.NoError(t, InitConfig(base))
	cfg := GetCurrentConfig()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30, cfg.RateLimitPerMinute)
	assert.Equal(t, 10, cfg.ChatRateLimitPerMinute)
	assert.Equal(t, base.DataDir, cfg.DataDir)
	assert.Equal(t, map[string]string{llm.ConfigProxyURL: ""}, cfg.LLMConfig())
}

func TestUpdateConfigNotifies(t *testing.T) {
	base := testBase(t)
	require.NoError(t, InitConfig(base))

	got := make(chan *AppConfig, 1)
	Subscribe(func(c *AppConfig) { got <- c })

	require.NoError(t, UpdateConfig(func(c *AppConfig) { c.ProxyURL = "http://proxy/" }))
	select {
	case c := <-got:
		assert.Equal(t, "http://proxy/", c.ProxyURL)
	default:
		t.Fatal("subscriber not notified")
	}

	data, err := os.ReadFile(ConfigFile())
	require.NoError(t, err)
	assert.Contains(t, string(data), `proxy_url = "http://proxy/"`)
}

func TestPublishGivesEachSubscriberACopy(t *testing.T) {
	base := testBase(t)
	require.NoError(t, InitConfig(base))

	var seen []string
	Subscribe(func(c *AppConfig) {
		seen = append(seen, c.ProxyURL)
		c.ProxyURL = "mutated"
		// 回调中再订阅不会死锁，本轮也不会收到
		Subscribe(func(*AppConfig) { seen = append(seen, "late") })
	})
	Subscribe(func(c *AppConfig) { seen = append(seen, c.ProxyURL) })

	require.NoError(t, UpdateConfig(func(c *AppConfig) { c.ProxyURL = "http://a/" }))
	assert.Equal(t, []string{"http://a/", "http://a/"}, seen)
	assert.Equal(t, "http://a/", GetCurrentConfig().ProxyURL)
}

func TestReloadOnFileChange(t *testing.T) {
	base := testBase(t)
	require.NoError(t, InitConfig(base))

	got := make(chan *AppConfig, 4)
	Subscribe(func(c *AppConfig) { got <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, Watch(ctx))

	require.NoError(t, os.WriteFile(ConfigFile(), []byte("port = \"9090\"\nlog_level = \"warn\"\nchat_rate_limit_per_minute = 3\n"), 0600))

	select {
	case c := <-got:
		assert.Equal(t, "warn", c.LogLevel)
		assert.Equal(t, 3, c.ChatRateLimitPerMinute)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not picked up")
	}
}

func TestLLMConfigDefaultProxy(t *testing.T) {
	c := &AppConfig{}
	assert.Equal(t, llm.DefaultProxyURL, llm.ProxyFrom(c.LLMConfig()))
}
