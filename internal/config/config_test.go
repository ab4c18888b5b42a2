package config

import (
	"os"
	"path/filepath"
	"testing"

	"poly-copyrelay/internal/clob"
)

func validConfig() *Config {
	cfg := &Config{
		Leader: "0x56687bf447db6ffa42ffe2204a05edaa20f55839",
		Relay: RelayConfig{
			Scale:       "0.1",
			MaxPerTrade: "50",
			MaxSlippage: "0.05",
			OrderType:   "FAK",
			DryRun:      true,
		},
	}
	return cfg
}

func TestSessionConfig_Valid(t *testing.T) {
	sc, err := validConfig().SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig: %v", err)
	}
	if sc.Trade.OrderType != clob.OrderTypeFAK {
		t.Fatalf("order type mismatch: %s", sc.Trade.OrderType)
	}
	if sc.Trade.Scale.String() != "0.1" {
		t.Fatalf("scale mismatch: %s", sc.Trade.Scale)
	}
	if !sc.Trade.DryRun {
		t.Fatal("dry run lost")
	}
}

func TestSessionConfig_Rejects(t *testing.T) {
	cfg := validConfig()
	cfg.Leader = "not-an-address"
	if _, err := cfg.SessionConfig(); err == nil {
		t.Fatal("expected error for bad leader")
	}

	cfg = validConfig()
	cfg.Relay.OrderType = "GTD"
	if _, err := cfg.SessionConfig(); err == nil {
		t.Fatal("expected error for unsupported order type")
	}

	cfg = validConfig()
	cfg.Relay.Scale = "abc"
	if _, err := cfg.SessionConfig(); err == nil {
		t.Fatal("expected error for bad decimal")
	}

	cfg = validConfig()
	cfg.Relay.MaxPerTrade = "-5"
	if _, err := cfg.SessionConfig(); err == nil {
		t.Fatal("expected error for negative value")
	}
}

func TestLoad_FileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	data := []byte(`
leader: "0x56687bf447db6ffa42ffe2204a05edaa20f55839"
relay:
  scale: "0.25"
  total_cap: "100"
  dry_run: false
telegram:
  bot_token: "tok"
  chat_id: "42"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.Scale != "0.25" {
		t.Fatalf("scale mismatch: %q", cfg.Relay.Scale)
	}
	if cfg.Relay.OrderType != "FAK" { // default survives partial file
		t.Fatalf("order type default missing: %q", cfg.Relay.OrderType)
	}
	if cfg.Clob.ChainID != 137 {
		t.Fatalf("chain id default missing: %d", cfg.Clob.ChainID)
	}
	if cfg.Relay.DryRun {
		t.Fatal("dry_run override lost")
	}
	if cfg.Telegram.ChatID != "42" {
		t.Fatalf("telegram chat id mismatch: %q", cfg.Telegram.ChatID)
	}

	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig: %v", err)
	}
	if sc.Trade.TotalCap.String() != "100" {
		t.Fatalf("total cap mismatch: %s", sc.Trade.TotalCap)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.Scale != "0.1" || !cfg.Relay.DryRun {
		t.Fatalf("defaults missing: %+v", cfg.Relay)
	}
}
