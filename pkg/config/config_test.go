package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := NewDefault()
	cfg.UpstreamBaseURL = "https://api.example.com"
	cfg.Normalize()
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejectsBadListenAddr(t *testing.T) {
	for _, addr := range []string{"127.0.0.1", "127.0.0.1:0", "127.0.0.1:-1", ":notaport"} {
		cfg := validConfig()
		cfg.ListenAddr = addr
		if err := cfg.Validate(); err == nil {
			t.Errorf("listen_addr %q accepted", addr)
		}
	}
}

func TestValidateRejectsMissingOrRelativeUpstream(t *testing.T) {
	for _, u := range []string{"", "api.example.com", "/v1", "ftp://api.example.com"} {
		cfg := validConfig()
		cfg.UpstreamBaseURL = u
		if err := cfg.Validate(); err == nil {
			t.Errorf("upstream_base_url %q accepted", u)
		}
	}
}

func TestValidateRejectsFilesystemModeWithoutDirectory(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Mode = LogModeFileSystem
	cfg.Logging.Directory = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("filesystem mode without directory accepted")
	}
}

func TestValidateRejectsUnknownLogMode(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Mode = "syslog"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown logging mode accepted")
	}
}

func TestNormalizePathPrefix(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"/v1/chat/completions/", "/v1/chat/completions/"},
		{"/v1/chat/completions", "/v1/chat/completions/"},
		{"v1/messages", "/v1/messages/"},
		{"  /v1/  ", "/v1/"},
		{"/", ""},
		{"", ""},
	} {
		if got := NormalizePathPrefix(tc.in); got != tc.want {
			t.Errorf("NormalizePathPrefix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeDeduplicatesPrefixes(t *testing.T) {
	cfg := validConfig()
	cfg.AllowedPathPrefixes = []string{"/v1/", "v1", "/v1/chat", ""}
	cfg.Normalize()
	want := []string{"/v1/", "/v1/chat/"}
	if len(cfg.AllowedPathPrefixes) != len(want) {
		t.Fatalf("got prefixes %v, want %v", cfg.AllowedPathPrefixes, want)
	}
	for i, p := range want {
		if cfg.AllowedPathPrefixes[i] != p {
			t.Fatalf("got prefixes %v, want %v", cfg.AllowedPathPrefixes, want)
		}
	}
}

func TestNormalizeAppliesEnvKeyOverride(t *testing.T) {
	t.Setenv(UpstreamKeyEnv, "sk-from-env")
	cfg := validConfig()
	cfg.UpstreamAPIKey = "sk-from-file"
	cfg.Normalize()
	if cfg.UpstreamAPIKey != "sk-from-env" {
		t.Fatalf("env override not applied, got %q", cfg.UpstreamAPIKey)
	}
}

func TestLoadOrCreateWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relaytap.toml")
	cfg, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if cfg.ListenAddr == "" || cfg.Logging.Mode != LogModeFileSystem {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if !strings.Contains(string(b), "listen_addr") {
		t.Fatalf("default config missing listen_addr:\n%s", b)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaytap.toml")
	cfg := validConfig()
	cfg.ModelOverride = "gpt-4"
	cfg.AllowedPathPrefixes = []string{"/v1/chat/completions/"}
	cfg.Logging.Mode = LogModeStream
	cfg.Logging.Directory = ""
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ModelOverride != "gpt-4" || got.Logging.Mode != LogModeStream {
		t.Fatalf("round trip lost fields: %+v", got)
	}
	if len(got.AllowedPathPrefixes) != 1 || got.AllowedPathPrefixes[0] != "/v1/chat/completions/" {
		t.Fatalf("round trip lost prefixes: %v", got.AllowedPathPrefixes)
	}
}
