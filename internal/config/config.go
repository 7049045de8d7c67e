// Package config содержит логику чтения конфигурации бота автомойки.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/carwash-bot/internal/model"
)

const (
	defaultRunAddress    = "localhost:8080"
	defaultTerminalsFile = "config.yml"
)

// Config содержит параметры конфигурации бота автомойки.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	RedisURL      string `env:"REDIS_URL"`
	BotToken      string `env:"BOT_TOKEN"`
	TerminalsFile string `env:"TERMINALS_FILE"`
	AdminToken    string `env:"ADMIN_TOKEN"`

	SyncSchedule     string        `env:"SYNC_SCHEDULE" envDefault:"*/1 * * * *"`
	FeedbackMinDelay time.Duration `env:"FEEDBACK_MIN_DELAY" envDefault:"15m"`
	FeedbackMaxDelay time.Duration `env:"FEEDBACK_MAX_DELAY" envDefault:"1h"`
	NotifyInterval   time.Duration `env:"NOTIFY_INTERVAL" envDefault:"60ms"`
	Timezone         string        `env:"TIMEZONE" envDefault:"Europe/Moscow"`
	BadFeedbackBonus int           `env:"BAD_FEEDBACK_BONUS" envDefault:"100"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения приоритетнее флагов, файл .env подгружается, если он есть.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisURL := cfg.RedisURL
	envBotToken := cfg.BotToken
	envTerminalsFile := cfg.TerminalsFile

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for operator HTTP API")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisURL, "r", "", "redis URL, in-memory state when empty")
	flag.StringVar(&cfg.BotToken, "t", "", "telegram bot token")
	flag.StringVar(&cfg.TerminalsFile, "c", defaultTerminalsFile, "terminals YAML file")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisURL != "" {
		cfg.RedisURL = envRedisURL
	}
	if envBotToken != "" {
		cfg.BotToken = envBotToken
	}
	if envTerminalsFile != "" {
		cfg.TerminalsFile = envTerminalsFile
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.TerminalsFile == "" {
		cfg.TerminalsFile = defaultTerminalsFile
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.FeedbackMinDelay < 0 || c.FeedbackMaxDelay < c.FeedbackMinDelay {
		return fmt.Errorf("invalid feedback delay window [%s, %s]", c.FeedbackMinDelay, c.FeedbackMaxDelay)
	}
	if c.BadFeedbackBonus < 0 {
		return fmt.Errorf("invalid bad feedback bonus %d", c.BadFeedbackBonus)
	}
	return nil
}

type terminalsFile struct {
	Terminals []struct {
		Terminal model.Terminal `yaml:"terminal"`
	} `yaml:"terminals"`
}

// LoadTerminals читает список терминалов из YAML-файла.
func LoadTerminals(path string) ([]model.Terminal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read terminals file: %w", err)
	}

	var f terminalsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse terminals file: %w", err)
	}

	terminals := make([]model.Terminal, 0, len(f.Terminals))
	seen := make(map[int]struct{}, len(f.Terminals))
	for _, el := range f.Terminals {
		t := el.Terminal
		if t.URL == "" {
			return nil, fmt.Errorf("terminal %d: empty url", t.ID)
		}
		if _, ok := seen[t.ID]; ok {
			return nil, fmt.Errorf("terminal %d: duplicate id", t.ID)
		}
		seen[t.ID] = struct{}{}
		terminals = append(terminals, t)
	}

	return terminals, nil
}
