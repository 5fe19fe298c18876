package counter

import (
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Supported backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config exposes counter configuration options.
type Config struct {
	// TTL is the default lifetime of a computed counter value.
	TTL time.Duration `yaml:"ttl"`

	// RaceTTL is the lifetime of the interim value written while a counter is
	// being computed. It should be seconds, not the full TTL.
	RaceTTL time.Duration `yaml:"race_ttl"`

	KeyPrefix    string `yaml:"key_prefix"`
	MaxKeyLength int    `yaml:"max_key_length"`

	// Backend is either "memory" or "redis".
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`

	// LocalReads enables the in-process read layer when set.
	LocalReads *LocalReadsConfig `yaml:"local_reads"`

	// MetricsNamespace enables backend instrumentation when not empty.
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// RedisConfig holds the redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:          7 * 24 * time.Hour,
		RaceTTL:      10 * time.Second,
		MaxKeyLength: DefaultMaxKeyLength,
		Backend:      BackendMemory,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RaceTTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxKeyLength, validation.Min(0)),
		validation.Field(&c.Backend, validation.Required, validation.In(BackendMemory, BackendRedis)),
	)
	if err != nil {
		return &ConfigError{Message: err.Error()}
	}

	if c.RaceTTL > c.TTL {
		return &ConfigError{Name: "race_ttl", Message: "must not exceed ttl"}
	}

	if c.Backend == BackendRedis {
		r := c.Redis
		if err := validation.ValidateStruct(&r, validation.Field(&r.Addr, validation.Required)); err != nil {
			return &ConfigError{Name: "redis", Message: err.Error()}
		}
	}

	if c.LocalReads != nil {
		if err := c.LocalReads.Validate(); err != nil {
			return &ConfigError{Name: "local_reads", Message: err.Error()}
		}
	}

	return nil
}

// LoadConfig reads a yaml file on top of DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}

	if cfg.LocalReads != nil {
		cfg.LocalReads.fillDefaults()
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// KeyDeriver returns the key deriver described by the configuration.
func (c Config) KeyDeriver() KeyDeriver {
	return NewDefaultKeyDeriver(WithKeyPrefix(c.KeyPrefix), WithMaxKeyLength(c.MaxKeyLength))
}
