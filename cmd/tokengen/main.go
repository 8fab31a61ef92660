// cmd/tokengen/main.go
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Corphon/LoreChat/internal/auth"
)

// tokenConfig 命令行参数
type tokenConfig struct {
	UserID string
	Tier   string
	Days   int
	Secret string
	Verify string
}

func (c tokenConfig) Validate() error {
	if c.Secret == "" {
		return errors.New("缺少签名密钥：设置 AUTH_SECRET 或使用 -secret")
	}
	if c.Verify != "" {
		return nil
	}
	if c.UserID == "" {
		return errors.New("缺少 -user")
	}
	if c.Tier != auth.TierFree && c.Tier != auth.TierPremium {
		return fmt.Errorf("无效的等级 %q，可选 free 或 premium", c.Tier)
	}
	if c.Days <= 0 {
		return errors.New("-days 必须大于 0")
	}
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (tokenConfig, error) {
	var cfg tokenConfig
	fs.StringVar(&cfg.UserID, "user", "", "用户 ID")
	fs.StringVar(&cfg.Tier, "tier", auth.TierFree, "用户等级：free 或 premium")
	fs.IntVar(&cfg.Days, "days", 30, "有效天数")
	fs.StringVar(&cfg.Secret, "secret", os.Getenv("AUTH_SECRET"), "签名密钥，默认读取 AUTH_SECRET")
	fs.StringVar(&cfg.Verify, "verify", "", "校验已有令牌并输出内容")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// run 签发或校验令牌，结果写到标准输出
func run(cfg tokenConfig) (string, error) {
	tc := &auth.TokenConfig{
		Secret:     []byte(cfg.Secret),
		Expiration: time.Duration(cfg.Days) * 24 * time.Hour,
	}
	if cfg.Verify != "" {
		token, err := auth.ParseToken(cfg.Verify, tc)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("user=%s tier=%s expires=%s", token.UserID, token.Tier,
			time.Unix(token.ExpiresAt, 0).UTC().Format(time.RFC3339)), nil
	}
	return auth.GenerateToken(cfg.UserID, cfg.Tier, tc)
}

func main() {
	_ = godotenv.Load()

	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	out, err := run(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Println(out)
}
