package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Settings configures a process engine server.
type Settings struct {
	Port     int    `env:"PE_PORT" envDefault:"50000" yaml:"port"`
	LogLevel string `env:"PE_LOG_LEVEL" envDefault:"info" yaml:"logLevel"`

	Storage   string `env:"PE_STORAGE" envDefault:"memory" yaml:"storage"`
	BoltPath  string `env:"PE_BOLT_PATH" envDefault:"pengine.db" yaml:"boltPath"`
	CacheSize int    `env:"PE_CACHE_SIZE" envDefault:"1024" yaml:"cacheSize"`

	CoreWorkers   int           `env:"PE_CORE_WORKERS" envDefault:"2" yaml:"coreWorkers"`
	MaxWorkers    int           `env:"PE_MAX_WORKERS" envDefault:"8" yaml:"maxWorkers"`
	KeepAlive     time.Duration `env:"PE_WORKER_KEEPALIVE" envDefault:"30s" yaml:"workerKeepAlive"`
	NotifierQueue int           `env:"PE_NOTIFIER_QUEUE" envDefault:"64" yaml:"notifierQueue"`
	PollInterval  time.Duration `env:"PE_NOTIFIER_POLL" envDefault:"1s" yaml:"notifierPoll"`
	HTTPTimeout   time.Duration `env:"PE_HTTP_TIMEOUT" envDefault:"30s" yaml:"httpTimeout"`

	NatsURL   string `env:"NATS_URL" yaml:"natsURL"`
	JaegerURL string `env:"JAEGER_URL" yaml:"jaegerURL"`
	Endpoint  string `env:"PE_ENDPOINT" yaml:"endpoint"`

	ConflictRetries    int           `env:"PE_CONFLICT_RETRIES" envDefault:"5" yaml:"conflictRetries"`
	RedispatchAttempts int           `env:"PE_REDISPATCH_ATTEMPTS" envDefault:"0" yaml:"redispatchAttempts"`
	RedispatchMin      time.Duration `env:"PE_REDISPATCH_MIN" envDefault:"1s" yaml:"redispatchMin"`
	RedispatchMax      time.Duration `env:"PE_REDISPATCH_MAX" envDefault:"1m" yaml:"redispatchMax"`
}

// GetEnvironment reads the settings from the environment.
func GetEnvironment() (*Settings, error) {
	cfg := &Settings{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, cfg.validate()
}

// Load reads the settings from the environment, then overlays the YAML file
// at path. Values in the file win. An empty path reads the environment only.
func Load(path string) (*Settings, error) {
	cfg := &Settings{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse settings file %s: %w", path, err)
		}
	}
	return cfg, cfg.validate()
}

func (s *Settings) validate() error {
	switch s.Storage {
	case "memory", "bolt":
	default:
		return fmt.Errorf("unknown storage backend %q", s.Storage)
	}
	if s.MaxWorkers < s.CoreWorkers {
		return fmt.Errorf("max workers %d is less than core workers %d", s.MaxWorkers, s.CoreWorkers)
	}
	return nil
}
