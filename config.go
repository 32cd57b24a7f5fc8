package redistasks

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the runtime configuration shared by the worker and
// scheduler binaries.
type Config struct {
	Queues             []string      `env:"QUEUE_NAMES" envDefault:"default"`
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout    time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"10"`
	SchedulerInterval  time.Duration `env:"QUEUE_SCHEDULER_INTERVAL" envDefault:"30s"`

	// HistoryDSN, when set, enables the sqlite execution audit trail
	HistoryDSN string `env:"QUEUE_HISTORY_DSN"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	Redis RedisConfig
}

// LoadConfig parses configuration from the environment, loading a local
// .env file first when present.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrConfigParse, err)
	}
	return cfg, nil
}
