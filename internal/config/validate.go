package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable. Credentials are checked by the
// API client at construction so control commands work without keys.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateChapters(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAPI() error {
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.CooldownSeconds < 0 {
		return errors.New("api.cooldown_seconds must be >= 0")
	}
	if c.API.InitialBackoffSeconds < 0 {
		return errors.New("api.initial_backoff_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.VariantsPerParent > 50 {
		return errors.New("pipeline.variants_per_parent must be <= 50")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateChapters() error {
	seen := make(map[string]struct{}, len(c.Chapters))
	for i, entry := range c.Chapters {
		if entry.Subject == "" || entry.Chapter == "" {
			return fmt.Errorf("chapters[%d]: subject and chapter are required", i)
		}
		if entry.Document == "" {
			return fmt.Errorf("chapters[%d]: document is required", i)
		}
		if entry.StartPage < 0 || entry.EndPage < 0 {
			return fmt.Errorf("chapters[%d]: page numbers must be >= 0", i)
		}
		if entry.EndPage > 0 && entry.StartPage > entry.EndPage {
			return fmt.Errorf("chapters[%d]: start_page %d is after end_page %d", i, entry.StartPage, entry.EndPage)
		}
		key := strings.ToLower(entry.Subject + "|" + entry.Chapter)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("chapters[%d]: duplicate entry for %s - %s", i, entry.Subject, entry.Chapter)
		}
		seen[key] = struct{}{}
	}
	return nil
}
