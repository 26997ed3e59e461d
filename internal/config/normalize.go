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
	c.normalizeAPI()
	c.normalizePipeline()
	c.normalizeSupervisor()
	c.normalizeLogging()
	if err := c.normalizeChapters(); err != nil {
		return err
	}
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
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.EnvFile) != "" {
		if c.Paths.EnvFile, err = expandPath(strings.TrimSpace(c.Paths.EnvFile)); err != nil {
			return fmt.Errorf("paths.env_file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.BaseURL == "" {
		c.API.BaseURL = defaultAPIBaseURL
	}
	c.API.Model = strings.TrimSpace(c.API.Model)
	if c.API.Model == "" {
		c.API.Model = defaultAPIModel
	}
	c.API.KeyEnvPrefix = strings.TrimSpace(c.API.KeyEnvPrefix)
	if c.API.KeyEnvPrefix == "" {
		c.API.KeyEnvPrefix = defaultKeyEnvPrefix
	}
	keys := make([]string, 0, len(c.API.Keys))
	for _, key := range c.API.Keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	c.API.Keys = keys
	if c.API.MaxRetriesPerKey <= 0 {
		c.API.MaxRetriesPerKey = defaultMaxRetriesPerKey
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = defaultAPITimeoutSeconds
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.MinPageChars <= 0 {
		c.Pipeline.MinPageChars = defaultMinPageChars
	}
	if c.Pipeline.VariantsPerParent <= 0 {
		c.Pipeline.VariantsPerParent = defaultVariantsPerParent
	}
	c.Pipeline.MetricsBind = strings.TrimSpace(c.Pipeline.MetricsBind)
}

func (c *Config) normalizeSupervisor() {
	c.Supervisor.APIBind = strings.TrimSpace(c.Supervisor.APIBind)
	if c.Supervisor.APIBind == "" {
		c.Supervisor.APIBind = defaultSupervisorAPIBind
	}
	c.Supervisor.APIToken = strings.TrimSpace(c.Supervisor.APIToken)
	if c.Supervisor.APIToken == "" {
		if value, ok := os.LookupEnv("QFORGE_API_TOKEN"); ok {
			c.Supervisor.APIToken = strings.TrimSpace(value)
		}
	}
	if c.Supervisor.StopGraceSeconds <= 0 {
		c.Supervisor.StopGraceSeconds = defaultStopGraceSeconds
	}
	if c.Supervisor.LogTailLines <= 0 {
		c.Supervisor.LogTailLines = defaultLogTailLines
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeChapters() error {
	for i := range c.Chapters {
		entry := &c.Chapters[i]
		entry.Subject = strings.TrimSpace(entry.Subject)
		entry.Chapter = strings.TrimSpace(entry.Chapter)
		if strings.TrimSpace(entry.Document) == "" {
			continue
		}
		document, err := expandPath(strings.TrimSpace(entry.Document))
		if err != nil {
			return fmt.Errorf("chapters[%d].document: %w", i, err)
		}
		entry.Document = document
	}
	return nil
}
