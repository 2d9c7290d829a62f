package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"CONFIG_FILE", "DB_SOURCE", "SERVER_PORT", "ENVIRONMENT", "LOG_LEVEL", "STORE_BACKEND",
		"LEVELDB_PATH", "MINER_ID", "MINING_DIFFICULTY", "MINING_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" || cfg.StoreBackend != BackendLevelDB || cfg.Difficulty != 4 || cfg.MinerID != "SYSTEM" || cfg.MiningTimeout != 30*time.Second {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("port: \"9090\"\nstore_backend: memory\nmining_difficulty: 2\nmining_timeout: 5s\nminer_id: file-miner\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MINER_ID", "env-miner")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9090" || cfg.StoreBackend != BackendMemory || cfg.Difficulty != 2 || cfg.MiningTimeout != 5*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.MinerID != "env-miner" {
		t.Errorf("env should override file, got miner %q", cfg.MinerID)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"postgres without dsn": {"STORE_BACKEND": "postgres"},
		"unknown backend":      {"STORE_BACKEND": "mongo"},
		"bad difficulty":       {"MINING_DIFFICULTY": "hard"},
		"difficulty too high":  {"MINING_DIFFICULTY": "65"},
		"bad timeout":          {"MINING_TIMEOUT": "soon"},
		"negative timeout":     {"MINING_TIMEOUT": "-1s"},
		"missing file":         {"CONFIG_FILE": "/does/not/exist.yaml"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestConfigureLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())

	cfg := Default()
	cfg.LogLevel = "debug"
	if err := cfg.ConfigureLogging(); err != nil {
		t.Fatal(err)
	}
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %s, want debug", logrus.GetLevel())
	}

	cfg.LogLevel = "chatty"
	if err := cfg.ConfigureLogging(); err == nil {
		t.Error("invalid level accepted")
	}
}
