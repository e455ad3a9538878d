package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const defaultConfigFileName = "relaytap.toml"

// UpstreamKeyEnv overrides upstream_api_key when set, so the credential can
// be kept out of the config file.
const UpstreamKeyEnv = "RELAYTAP_UPSTREAM_KEY"

const (
	LogModeFileSystem = "filesystem"
	LogModeStream     = "stream"
)

const DefaultMaxBodyBytes = 8 << 20

type LoggingConfig struct {
	Mode      string `toml:"mode"`
	Directory string `toml:"directory,omitempty"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Domain   string `toml:"domain,omitempty"`
	Email    string `toml:"email,omitempty"`
	CacheDir string `toml:"cache_dir,omitempty"`
}

type Config struct {
	ListenAddr          string        `toml:"listen_addr"`
	UpstreamBaseURL     string        `toml:"upstream_base_url"`
	ModelOverride       string        `toml:"model_override,omitempty"`
	UpstreamAPIKey      string        `toml:"upstream_api_key,omitempty"`
	AllowedPathPrefixes []string      `toml:"allowed_path_prefixes,omitempty"`
	MaxBodyBytes        int64         `toml:"max_body_bytes,omitempty"`
	Logging             LoggingConfig `toml:"logging"`
	TLS                 TLSConfig     `toml:"tls"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", "relaytap", defaultConfigFileName)
}

func DefaultLogDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "relaytap-logs"
	}
	return filepath.Join(home, ".local", "share", "relaytap", "logs")
}

func DefaultTLSCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tls-autocert"
	}
	return filepath.Join(home, ".cache", "relaytap", "tls-autocert")
}

func NewDefault() *Config {
	return &Config{
		ListenAddr:      "127.0.0.1:8080",
		UpstreamBaseURL: "",
		MaxBodyBytes:    DefaultMaxBodyBytes,
		Logging: LoggingConfig{
			Mode:      LogModeFileSystem,
			Directory: DefaultLogDirectory(),
		},
		TLS: TLSConfig{
			Enabled:  false,
			CacheDir: DefaultTLSCacheDir(),
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := NewDefault()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrCreate writes a default config on first run, then loads it. The
// default has no upstream configured, so Validate is left to the caller once
// overrides have been applied.
func LoadOrCreate(path string) (*Config, error) {
	cfg := NewDefault()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeAtomic(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		cfg.Normalize()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return writeAtomic(path, cfg)
}

func writeAtomic(path string, v any) error {
	b, err := marshalTOML(v)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func marshalTOML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetArraysMultiline(true)
	enc.SetIndentSymbol("  ")
	enc.SetIndentTables(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}

func (c *Config) Normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8080"
	}
	c.UpstreamBaseURL = strings.TrimSpace(c.UpstreamBaseURL)
	c.ModelOverride = strings.TrimSpace(c.ModelOverride)
	c.UpstreamAPIKey = strings.TrimSpace(c.UpstreamAPIKey)
	if env := strings.TrimSpace(os.Getenv(UpstreamKeyEnv)); env != "" {
		c.UpstreamAPIKey = env
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	prefixes := make([]string, 0, len(c.AllowedPathPrefixes))
	seen := map[string]struct{}{}
	for _, p := range c.AllowedPathPrefixes {
		p = NormalizePathPrefix(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		prefixes = append(prefixes, p)
	}
	c.AllowedPathPrefixes = prefixes
	c.Logging.Mode = strings.ToLower(strings.TrimSpace(c.Logging.Mode))
	if c.Logging.Mode == "" {
		c.Logging.Mode = LogModeFileSystem
	}
	c.Logging.Directory = strings.TrimSpace(c.Logging.Directory)
	if c.Logging.Mode == LogModeFileSystem && c.Logging.Directory == "" {
		c.Logging.Directory = DefaultLogDirectory()
	}
	c.TLS.Domain = strings.TrimSpace(c.TLS.Domain)
	c.TLS.Email = strings.TrimSpace(c.TLS.Email)
	c.TLS.CacheDir = strings.TrimSpace(c.TLS.CacheDir)
	if c.TLS.CacheDir == "" {
		c.TLS.CacheDir = DefaultTLSCacheDir()
	}
}

func (c *Config) Validate() error {
	_, portRaw, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", c.ListenAddr, err)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid listen_addr %q: port must be a positive integer", c.ListenAddr)
	}
	if c.UpstreamBaseURL == "" {
		return errors.New("upstream_base_url is required")
	}
	u, err := url.Parse(c.UpstreamBaseURL)
	if err != nil {
		return fmt.Errorf("invalid upstream_base_url %q: %w", c.UpstreamBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream_base_url %q must be an absolute http(s) URL", c.UpstreamBaseURL)
	}
	if c.Logging.Mode != LogModeFileSystem && c.Logging.Mode != LogModeStream {
		return fmt.Errorf("logging.mode must be %q or %q", LogModeFileSystem, LogModeStream)
	}
	if c.Logging.Mode == LogModeFileSystem && c.Logging.Directory == "" {
		return errors.New("logging.directory is required when logging.mode=filesystem")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be > 0")
	}
	if c.TLS.Enabled && c.TLS.Domain == "" {
		return errors.New("tls.domain is required when tls.enabled=true")
	}
	return nil
}

// NormalizePathPrefix trims a prefix and pins it between slashes so that
// admission checks compare like against like.
func NormalizePathPrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
