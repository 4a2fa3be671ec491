package main

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/KarpelesLab/streamcache"
	"github.com/KarpelesLab/streamcache/internal/config"
	"github.com/KarpelesLab/streamcache/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *logrus.Logger
	loggerErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

func (c *commandContext) ensureLogger() (*logrus.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.New(cfg)
	})
	return c.logger, c.loggerErr
}

// coordinatorOptions maps the configuration onto coordinator options.
func coordinatorOptions(cfg *config.Config, observer streamcache.Observer) streamcache.Options {
	return streamcache.Options{
		ReadAhead: cfg.ReadAhead,
		ChunkSize: cfg.ChunkSize,
		Observer:  observer,
		Client:    streamcache.NewHTTPClient(cfg.UpstreamTimeout),
	}
}
