package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
)

type Config struct {
	DBSource      string        `yaml:"db_source"`
	Port          string        `yaml:"port"`
	Env           string        `yaml:"environment"`
	LogLevel      string        `yaml:"log_level"`
	StoreBackend  string        `yaml:"store_backend"`
	LevelDBPath   string        `yaml:"leveldb_path"`
	Difficulty    int           `yaml:"mining_difficulty"`
	MinerID       string        `yaml:"miner_id"`
	MiningTimeout time.Duration `yaml:"mining_timeout"`
}

// Default returns the settings used when neither file nor env set a value.
func Default() *Config {
	return &Config{
		Port:          "8080",
		Env:           "development",
		LogLevel:      "info",
		StoreBackend:  BackendLevelDB,
		LevelDBPath:   "data/trustledger",
		Difficulty:    4,
		MinerID:       "SYSTEM",
		MiningTimeout: 30 * time.Second,
	}
}

// Load reads CONFIG_FILE (YAML, optional) and then applies environment
// overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("DB_SOURCE", &c.DBSource)
	setString("SERVER_PORT", &c.Port)
	setString("ENVIRONMENT", &c.Env)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("STORE_BACKEND", &c.StoreBackend)
	setString("LEVELDB_PATH", &c.LevelDBPath)
	setString("MINER_ID", &c.MinerID)

	if v := os.Getenv("MINING_DIFFICULTY"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "MINING_DIFFICULTY %q", v)
		}
		c.Difficulty = d
	}
	if v := os.Getenv("MINING_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "MINING_TIMEOUT %q", v)
		}
		c.MiningTimeout = d
	}
	return nil
}

// Validate checks that the combination of settings is usable.
func (c *Config) Validate() error {
	c.StoreBackend = strings.ToLower(c.StoreBackend)
	switch c.StoreBackend {
	case BackendMemory:
	case BackendLevelDB:
		if c.LevelDBPath == "" {
			return errors.New("LEVELDB_PATH is required for the leveldb backend")
		}
	case BackendPostgres:
		if c.DBSource == "" {
			return errors.New("DB_SOURCE environment variable is required")
		}
	default:
		return errors.Newf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.Difficulty < 0 || c.Difficulty > 64 {
		return errors.Newf("MINING_DIFFICULTY must be between 0 and 64, got %d", c.Difficulty)
	}
	if c.MinerID == "" {
		return errors.New("MINER_ID must not be empty")
	}
	if c.MiningTimeout <= 0 {
		return errors.Newf("MINING_TIMEOUT must be positive, got %s", c.MiningTimeout)
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
