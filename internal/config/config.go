package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	EnvFile string `toml:"env_file"`
}

// API contains settings for the generative-language API client.
type API struct {
	BaseURL               string   `toml:"base_url"`
	Model                 string   `toml:"model"`
	Keys                  []string `toml:"keys"`
	KeyEnvPrefix          string   `toml:"key_env_prefix"`
	CooldownSeconds       float64  `toml:"cooldown_seconds"`
	MaxRetriesPerKey      int      `toml:"max_retries_per_key"`
	InitialBackoffSeconds float64  `toml:"initial_backoff_seconds"`
	TimeoutSeconds        int      `toml:"timeout_seconds"`
}

// Pipeline contains augmentation pipeline tuning.
type Pipeline struct {
	MinPageChars        int    `toml:"min_page_chars"`
	VariantsPerParent   int    `toml:"variants_per_parent"`
	DetectQuestionPages bool   `toml:"detect_question_pages"`
	MetricsBind         string `toml:"metrics_bind"`
}

// Supervisor contains process supervision and host API settings.
type Supervisor struct {
	APIBind          string `toml:"api_bind"`
	APIToken         string `toml:"api_token"`
	StopGraceSeconds int    `toml:"stop_grace_seconds"`
	LogTailLines     int    `toml:"log_tail_lines"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Chapter maps a subject/chapter pair to a document page range.
type Chapter struct {
	Subject   string `toml:"subject"`
	Chapter   string `toml:"chapter"`
	Document  string `toml:"document"`
	StartPage int    `toml:"start_page"`
	EndPage   int    `toml:"end_page"`
}

// Config encapsulates all configuration values for qforge.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and .env locations
//   - API: generative-language endpoint, credentials, and pacing
//   - Pipeline: page thresholds and variant batch size
//   - Supervisor: host API bind and stop behaviour
//   - Logging: log format, level, and retention
//   - Chapters: chapter map used by `qforge augment`
type Config struct {
	Paths      Paths      `toml:"paths"`
	API        API        `toml:"api"`
	Pipeline   Pipeline   `toml:"pipeline"`
	Supervisor Supervisor `toml:"supervisor"`
	Logging    Logging    `toml:"logging"`
	Chapters   []Chapter  `toml:"chapters"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("qforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "qforge.db")
}

// LockPath returns the process lock file holding the running pipeline's process group id.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "process.pid")
}

// HostLockPath returns the lock file held by a running `qforge serve` host.
func (c *Config) HostLockPath() string {
	return filepath.Join(c.Paths.DataDir, "qforge-serve.lock")
}

// PipelineLogPath returns the append-only log sink for supervised pipeline runs.
func (c *Config) PipelineLogPath() string {
	return filepath.Join(c.Paths.LogDir, "pipeline.log")
}

// Cooldown returns the global inter-call cooldown.
func (c *Config) Cooldown() time.Duration {
	return secondsToDuration(c.API.CooldownSeconds)
}

// InitialBackoff returns the seed delay for transient-failure retries.
func (c *Config) InitialBackoff() time.Duration {
	return secondsToDuration(c.API.InitialBackoffSeconds)
}

// StopGracePeriod returns how long stop waits after SIGTERM before escalating.
func (c *Config) StopGracePeriod() time.Duration {
	return time.Duration(c.Supervisor.StopGraceSeconds) * time.Second
}

// FindChapter resolves a chapter map entry by subject and chapter name (case-insensitive).
func (c *Config) FindChapter(subject, chapter string) (Chapter, bool) {
	subject = strings.TrimSpace(subject)
	chapter = strings.TrimSpace(chapter)
	for _, entry := range c.Chapters {
		if strings.EqualFold(entry.Subject, subject) && strings.EqualFold(entry.Chapter, chapter) {
			return entry, true
		}
	}
	return Chapter{}, false
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LoadEnvFile loads paths.env_file into the process environment when the file
// exists. Variables already present in the environment are left untouched.
func (c *Config) LoadEnvFile() error {
	path := strings.TrimSpace(c.Paths.EnvFile)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
