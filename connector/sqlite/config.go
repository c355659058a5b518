package sqlite

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config describes the database file and pool settings.
type Config struct {
	Path          string `env:"ENTITY_SQLITE_PATH" envDefault:"entity.db"`
	BusyTimeoutMS int    `env:"ENTITY_SQLITE_BUSY_TIMEOUT_MS" envDefault:"5000"`
	MaxOpenConns  int    `env:"ENTITY_SQLITE_MAX_OPEN_CONNS" envDefault:"10"`
}

// LoadConfig reads Config from ENTITY_SQLITE_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("sqlite: parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("sqlite: storage path is required")
	}
	if c.BusyTimeoutMS < 0 {
		return fmt.Errorf("sqlite: busy timeout must not be negative")
	}
	return nil
}

func (c Config) inMemory() bool {
	return c.Path == ":memory:" || strings.Contains(c.Path, "mode=memory")
}

func (c Config) dsn() string {
	separator := "?"
	if strings.Contains(c.Path, "?") {
		separator = "&"
	}
	pragmas := fmt.Sprintf("_pragma=busy_timeout(%d)", c.BusyTimeoutMS)
	if !c.inMemory() {
		pragmas += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	return c.Path + separator + pragmas
}

func (c Config) maxOpenConns() int {
	if c.inMemory() {
		return 1
	}
	if c.MaxOpenConns <= 0 {
		return 10
	}
	return c.MaxOpenConns
}
