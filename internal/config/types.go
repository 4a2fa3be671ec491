package config

import "time"

// Config holds the runtime settings of the cache daemon and CLI.
type Config struct {
	CacheDir         string        `mapstructure:"CacheDir"`
	Listen           string        `mapstructure:"Listen"`
	UpstreamTimeout  time.Duration `mapstructure:"UpstreamTimeout"`
	ReadAhead        int64         `mapstructure:"ReadAhead"`
	ChunkSize        int           `mapstructure:"ChunkSize"`
	BlockSize        int64         `mapstructure:"BlockSize"`
	MaxResponseBytes int64         `mapstructure:"MaxResponseBytes"`
	MetricsPath      string        `mapstructure:"MetricsPath"`

	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}
