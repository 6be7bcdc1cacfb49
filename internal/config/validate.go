package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateGenerator(); err != nil {
		return err
	}
	if err := c.validateCMS(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateGenerator() error {
	if strings.TrimSpace(c.Generator.Binary) == "" {
		return errors.New("generator.binary must be set")
	}
	if c.Generator.TimeoutSeconds <= 0 {
		return errors.New("generator.timeout_seconds must be positive")
	}
	if c.Generator.Variations <= 0 {
		return errors.New("generator.variations must be positive")
	}
	return nil
}

func (c *Config) validateCMS() error {
	if strings.TrimSpace(c.CMS.BaseURL) == "" {
		return nil
	}
	if strings.TrimSpace(c.CMS.Dataset) == "" {
		return errors.New("cms.dataset must be set when cms.base_url is set")
	}
	if strings.TrimSpace(c.CMS.Token) == "" {
		return errors.New("cms.token must be set when cms.base_url is set (or set EASEL_CMS_TOKEN)")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":          c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval":         c.Workflow.ErrorRetryInterval,
		"workflow.max_retries":                  c.Workflow.MaxRetries,
		"workflow.background_threshold_minutes": c.Workflow.BackgroundThresholdMinutes,
		"workflow.session_timeout_minutes":      c.Workflow.SessionTimeoutMinutes,
		"generator.timeout_seconds":             c.Generator.TimeoutSeconds,
		"notifications.request_timeout":         c.Notifications.RequestTimeout,
		"cms.request_timeout":                   c.CMS.RequestTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported (debug, info, warn, or error)", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
