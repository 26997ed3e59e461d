package testsupport

import (
	"path/filepath"
	"testing"

	"qforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// API pacing is zeroed so tests never wait on real cooldowns.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.EnvFile = ""
	cfgVal.API.Keys = []string{"test-key"}
	cfgVal.API.CooldownSeconds = 0
	cfgVal.API.InitialBackoffSeconds = 0
	cfgVal.Supervisor.APIBind = "127.0.0.1:0"
	cfgVal.Supervisor.StopGraceSeconds = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPIKeys replaces the configured credential pool.
func WithAPIKeys(keys ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Keys = keys
	}
}

// WithChapter appends a chapter map entry.
func WithChapter(entry config.Chapter) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Chapters = append(b.cfg.Chapters, entry)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
