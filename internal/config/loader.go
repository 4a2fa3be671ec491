package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to setting names for environment overrides, as in
// STREAMCACHE_READAHEAD.
const EnvPrefix = "STREAMCACHE"

// Load reads the TOML file at path, if any, applies environment overrides
// and defaults, and validates the result. An empty path only uses defaults
// and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	cfg.CacheDir = abs

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("CacheDir", defaultCacheDir())
	v.SetDefault("Listen", "127.0.0.1:8089")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("ReadAhead", 200000)
	v.SetDefault("ChunkSize", 32*1024)
	v.SetDefault("BlockSize", 64*1024)
	v.SetDefault("MaxResponseBytes", 8*1024*1024)
	v.SetDefault("MetricsPath", "/metrics")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "streamcache")
}

// durationDecodeHook accepts Go duration strings as well as plain numbers of
// seconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(time.Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				return time.Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return parsed, nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return time.Duration(seconds * float64(time.Second)), nil
			}
			return nil, fmt.Errorf("invalid duration %q", v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case time.Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type %T", v)
		}
	}
}

// Validate checks settings that would make the cache misbehave.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.CacheDir) == "" {
		return newFieldError("CacheDir", "must not be empty")
	}
	if c.Listen == "" {
		return newFieldError("Listen", "must not be empty")
	}
	if c.UpstreamTimeout <= 0 {
		return newFieldError("UpstreamTimeout", "must be positive")
	}
	if c.ReadAhead <= 0 {
		return newFieldError("ReadAhead", "must be positive")
	}
	if c.ChunkSize <= 0 {
		return newFieldError("ChunkSize", "must be positive")
	}
	if c.BlockSize <= 0 {
		return newFieldError("BlockSize", "must be positive")
	}
	if c.MaxResponseBytes <= 0 {
		return newFieldError("MaxResponseBytes", "must be positive")
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		return newFieldError("MetricsPath", "must start with /")
	}
	return nil
}
