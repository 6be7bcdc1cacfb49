package main

import (
	"fmt"
	"sync"

	"easel/internal/config"
	"easel/internal/queue"
)

// commandContext carries lazily loaded configuration shared across commands.
type commandContext struct {
	configFlag *string

	once    sync.Once
	cfg     *config.Config
	cfgPath string
	loadErr error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = *c.configFlag
		}
		cfg, resolvedPath, _, err := config.Load(path)
		if err != nil {
			c.loadErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.loadErr = fmt.Errorf("prepare directories: %w", err)
			return
		}
		c.cfg = cfg
		c.cfgPath = resolvedPath
	})
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	return c.cfg, nil
}

func (c *commandContext) config() (*config.Config, error) {
	return c.ensureConfig()
}

func (c *commandContext) flagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return *c.configFlag
}

func (c *commandContext) configPath() string {
	if c.configFlag != nil && *c.configFlag != "" {
		return *c.configFlag
	}
	return c.cfgPath
}

func (c *commandContext) openStore() (*queue.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return queue.Open(cfg)
}

func (c *commandContext) apiBaseURL() (string, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	bind := cfg.Paths.APIBind
	if bind == "" {
		bind = "127.0.0.1:7733"
	}
	return "http://" + bind, nil
}
