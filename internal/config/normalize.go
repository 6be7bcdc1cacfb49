package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeGenerator()
	c.normalizeCMS()
	c.normalizeWorkflow()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.FlagsDir) == "" {
		c.Paths.FlagsDir = defaultFlagsDir
	}
	if c.Paths.FlagsDir, err = expandPath(c.Paths.FlagsDir); err != nil {
		return fmt.Errorf("paths.flags_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeGenerator() {
	c.Generator.Binary = strings.TrimSpace(c.Generator.Binary)
	if c.Generator.Binary == "" {
		c.Generator.Binary = defaultGeneratorBinary
	}
	if c.Generator.TimeoutSeconds <= 0 {
		c.Generator.TimeoutSeconds = defaultGeneratorTimeoutSeconds
	}
	if c.Generator.Variations <= 0 {
		c.Generator.Variations = defaultGeneratorVariations
	}
}

func (c *Config) normalizeCMS() {
	c.CMS.BaseURL = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(c.CMS.BaseURL), "/"))
	c.CMS.Dataset = strings.TrimSpace(c.CMS.Dataset)
	c.CMS.Token = strings.TrimSpace(c.CMS.Token)
	if c.CMS.Token == "" {
		if value, ok := os.LookupEnv("EASEL_CMS_TOKEN"); ok {
			c.CMS.Token = strings.TrimSpace(value)
		}
	}
	if c.CMS.RequestTimeout <= 0 {
		c.CMS.RequestTimeout = defaultCMSRequestTimeout
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.MaxRetries <= 0 {
		c.Workflow.MaxRetries = defaultMaxRetries
	}
	if c.Workflow.BackgroundThresholdMinutes <= 0 {
		c.Workflow.BackgroundThresholdMinutes = defaultBackgroundThresholdMinutes
	}
	if c.Workflow.SessionTimeoutMinutes <= 0 {
		c.Workflow.SessionTimeoutMinutes = defaultSessionTimeoutMinutes
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
