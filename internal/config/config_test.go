package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qforge/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "qforge")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.LockPath() != filepath.Join(wantData, "process.pid") {
		t.Fatalf("unexpected lock path: %q", cfg.LockPath())
	}
	if cfg.Cooldown() != 13*time.Second {
		t.Fatalf("unexpected cooldown: %s", cfg.Cooldown())
	}
	if cfg.InitialBackoff() != 5*time.Second {
		t.Fatalf("unexpected initial backoff: %s", cfg.InitialBackoff())
	}
	if cfg.API.MaxRetriesPerKey != 3 {
		t.Fatalf("unexpected retries per key: %d", cfg.API.MaxRetriesPerKey)
	}
	if cfg.Pipeline.MinPageChars != 150 || cfg.Pipeline.VariantsPerParent != 6 || cfg.Pipeline.DetectQuestionPages {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Supervisor.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Supervisor.APIBind)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}
}

func TestLoadCustomConfigWithChapters(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("QFORGE_API_TOKEN", "from-env")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
data_dir = "~/qf-data"

[api]
keys = [" key-a ", "", "key-b"]
cooldown_seconds = 0.5

[logging]
format = "JSON"

[[chapters]]
subject = "Physics"
chapter = "Kinematics"
document = "~/books/physics.pdf"
start_page = 3
end_page = 9
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "qf-data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if len(cfg.API.Keys) != 2 || cfg.API.Keys[0] != "key-a" || cfg.API.Keys[1] != "key-b" {
		t.Fatalf("unexpected keys: %v", cfg.API.Keys)
	}
	if cfg.Cooldown() != 500*time.Millisecond {
		t.Fatalf("unexpected cooldown: %s", cfg.Cooldown())
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lowercased log format, got %q", cfg.Logging.Format)
	}
	if cfg.Supervisor.APIToken != "from-env" {
		t.Fatalf("expected token from env, got %q", cfg.Supervisor.APIToken)
	}

	chapter, ok := cfg.FindChapter("physics", "KINEMATICS")
	if !ok {
		t.Fatal("expected chapter lookup to succeed")
	}
	if chapter.Document != filepath.Join(tempHome, "books", "physics.pdf") {
		t.Fatalf("unexpected chapter document: %q", chapter.Document)
	}
	if chapter.StartPage != 3 || chapter.EndPage != 9 {
		t.Fatalf("unexpected chapter range: %+v", chapter)
	}
	if _, ok := cfg.FindChapter("Physics", "Optics"); ok {
		t.Fatal("expected unknown chapter lookup to fail")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "relative base url",
			mutate: func(c *config.Config) { c.API.BaseURL = "not-a-url" },
			want:   "api.base_url",
		},
		{
			name:   "unknown log format",
			mutate: func(c *config.Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
		{
			name: "inverted chapter range",
			mutate: func(c *config.Config) {
				c.Chapters = []config.Chapter{{Subject: "S", Chapter: "C", Document: "/tmp/x.pdf", StartPage: 9, EndPage: 3}}
			},
			want: "start_page",
		},
		{
			name: "duplicate chapter",
			mutate: func(c *config.Config) {
				entry := config.Chapter{Subject: "S", Chapter: "C", Document: "/tmp/x.pdf"}
				c.Chapters = []config.Chapter{entry, entry}
			},
			want: "duplicate",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("GEMINI_API_KEY_1=from-file\nQFORGE_TEST_ONLY=file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("GEMINI_API_KEY_1", "from-env")
	t.Setenv("QFORGE_TEST_ONLY", "")
	os.Unsetenv("QFORGE_TEST_ONLY")

	cfg := config.Default()
	cfg.Paths.EnvFile = envPath
	if err := cfg.LoadEnvFile(); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("GEMINI_API_KEY_1"); got != "from-env" {
		t.Fatalf("expected env value to win, got %q", got)
	}
	if got := os.Getenv("QFORGE_TEST_ONLY"); got != "file" {
		t.Fatalf("expected value loaded from file, got %q", got)
	}

	cfg.Paths.EnvFile = filepath.Join(dir, "missing.env")
	if err := cfg.LoadEnvFile(); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("expected sample config to load, exists=%v err=%v", exists, err)
	}
}
