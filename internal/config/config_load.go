package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
)

// ErrMissingCredentials is returned by Validate when the app id or secret is
// not configured anywhere.
var ErrMissingCredentials = errors.New("config: lark app_id and app_secret are required")

const (
	DefaultPath      = "config.json"
	DefaultQueueFile = "tasks/queue.md"
	envPrefix        = "LARKBRIDGE_"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Lark: LarkConfig{
			Domain: "lark",
		},
		Queue: QueueConfig{
			File: DefaultQueueFile,
		},
		Connection: ConnectionConfig{
			Backoff: "fixed",
			Delay:   "30s",
		},
		Worker: WorkerConfig{
			Cooldown: "15s",
		},
	}
}

// ResolvePath picks the config file: flag, then $LARKBRIDGE_CONFIG, then
// config.json in the working directory.
func ResolvePath(flag string) string {
	if flag != "" {
		return ExpandHome(flag)
	}
	if v := os.Getenv(envPrefix + "CONFIG"); v != "" {
		return ExpandHome(v)
	}
	return DefaultPath
}

// Load reads config from a JSON5 file, then overlays env vars. A missing file
// yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("APP_ID", &c.Lark.AppID)
	envStr("APP_SECRET", &c.Lark.AppSecret)
	envStr("DOMAIN", &c.Lark.Domain)

	envStr("QUEUE_FILE", &c.Queue.File)
	envStr("ACK_TEXT", &c.Ingest.AckText)

	if v := os.Getenv(envPrefix + "WORKER_COMMAND"); v != "" {
		c.Worker.Command = strings.Fields(v)
	}
	envStr("WORKER_DIR", &c.Worker.Dir)
	envStr("WORKER_COOLDOWN", &c.Worker.Cooldown)

	envStr("RECONNECT_BACKOFF", &c.Connection.Backoff)
	envStr("RECONNECT_DELAY", &c.Connection.Delay)

	// Telemetry
	envBool("TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// Overrides are command-line values; non-empty fields win over file and env.
type Overrides struct {
	AppID     string
	AppSecret string
	Domain    string
	QueueFile string
}

func (c *Config) Override(o Overrides) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := func(src string, dst *string) {
		if src != "" {
			*dst = src
		}
	}
	set(o.AppID, &c.Lark.AppID)
	set(o.AppSecret, &c.Lark.AppSecret)
	set(o.Domain, &c.Lark.Domain)
	set(o.QueueFile, &c.Queue.File)
}

// Validate checks what the bridge cannot run without.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.Lark.HasCredentials() {
		return ErrMissingCredentials
	}
	switch c.Connection.Backoff {
	case "", "fixed", "exponential":
	default:
		return fmt.Errorf("config: unknown connection.backoff %q", c.Connection.Backoff)
	}
	return nil
}

// QueuePath returns the expanded queue file path.
func (c *Config) QueuePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Queue.File == "" {
		return DefaultQueueFile
	}
	return ExpandHome(c.Queue.File)
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 of the config, for doctor output.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a copy of the config with secrets masked, for display.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Lark.AppSecret)
	for k := range cp.Telemetry.Headers {
		cp.Telemetry.Headers[k] = secretMask
	}
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
