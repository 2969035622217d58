package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-webhooks/core"
	"github.com/joho/godotenv"
)

const configSection = "webhooks"

// daemonConfig holds process settings that sit outside core.Config: where
// to listen, which database and which transport.
type daemonConfig struct {
	ListenAddr  string        `env:"WEBHOOK_LISTEN_ADDR" envDefault:":8080"`
	DBDriver    string        `env:"WEBHOOK_DB_DRIVER" envDefault:"sqlite3"`
	DBDSN       string        `env:"WEBHOOK_DB_DSN" envDefault:"file:webhooks.db?_busy_timeout=5000"`
	DBDebug     bool          `env:"WEBHOOK_DB_DEBUG"`
	AutoMigrate bool          `env:"WEBHOOK_AUTO_MIGRATE" envDefault:"true"`
	RedisURL    string        `env:"WEBHOOK_REDIS_URL"`
	Transport   string        `env:"WEBHOOK_TRANSPORT" envDefault:"http"`
	CacheTTL    time.Duration `env:"WEBHOOK_CACHE_TTL" envDefault:"5m"`
	ConfigFile  string        `env:"WEBHOOK_CONFIG_FILE"`
	WorkerOwner string        `env:"WEBHOOK_WORKER_OWNER"`
}

// loadEnvFiles loads the dotenv files that exist and skips the rest.
func loadEnvFiles(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		file = strings.TrimSpace(file)
		if file == "" {
			continue
		}
		if _, err := os.Stat(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, fmt.Errorf("webhookd: stat %s: %w", file, err)
		}
		existing = append(existing, file)
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func loadDaemonConfig(environment map[string]string) (daemonConfig, error) {
	var cfg daemonConfig
	options := env.Options{}
	if environment != nil {
		options.Environment = environment
	}
	if err := env.ParseWithOptions(&cfg, options); err != nil {
		return daemonConfig{}, fmt.Errorf("webhookd: parse environment: %w", err)
	}
	return cfg, nil
}

// configProvider layers WEBHOOK_* variables over the optional YAML file.
func (c daemonConfig) configProvider() core.ConfigProvider {
	file := core.FileConfigLoader{
		Path:     c.ConfigFile,
		Section:  configSection,
		Optional: true,
	}
	return core.NewEnvConfigProvider(core.NewCfgxConfigProvider(file))
}
