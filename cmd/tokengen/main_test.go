package main

import (
	"flag"
	"strings"
	"testing"
)

func TestParseFlags_Overrides(t *testing.T) {
	t.Setenv("AUTH_SECRET", "env-secret")

	fs := flag.NewFlagSet("tokengen", flag.ContinueOnError)
	cfg, err := parseFlags(fs, []string{"-user", "u1", "-tier", "premium", "-days", "7"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Secret != "env-secret" {
		t.Fatalf("Secret=%q", cfg.Secret)
	}
	if cfg.Days != 7 || cfg.Tier != "premium" || cfg.UserID != "u1" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []tokenConfig{
		{UserID: "u1", Tier: "free", Days: 1},
		{Secret: "s", Tier: "free", Days: 1},
		{Secret: "s", UserID: "u1", Tier: "gold", Days: 1},
		{Secret: "s", UserID: "u1", Tier: "free", Days: 0},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestRun_GenerateThenVerify(t *testing.T) {
	token, err := run(tokenConfig{Secret: "s3cret", UserID: "alice", Tier: "premium", Days: 1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	out, err := run(tokenConfig{Secret: "s3cret", Verify: token, Days: 1})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "user=alice") || !strings.Contains(out, "tier=premium") {
		t.Fatalf("out=%q", out)
	}

	if _, err := run(tokenConfig{Secret: "other", Verify: token, Days: 1}); err == nil {
		t.Fatalf("expected signature error")
	}
}
