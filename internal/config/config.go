// Package config loads the forkline configuration document.
//
// The resolved Config is passed into every component at construction;
// nothing reads the environment or the working directory mid-operation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aretw0/forkline/pkg/retry"
	"gopkg.in/yaml.v3"
)

var secretName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DefaultFile is the configuration file name looked up in the config directory.
const DefaultFile = "forkline.yaml"

// Config is the root configuration document.
type Config struct {
	Paths  Paths        `yaml:"paths"`
	Quota  Quota        `yaml:"quota"`
	Retry  retry.Config `yaml:"retry"`
	Fork   Fork         `yaml:"fork"`
	Proxy  Proxy        `yaml:"proxy"`
	GitHub GitHub       `yaml:"github"`
	State  State        `yaml:"state"`
	Lease  Lease        `yaml:"lease"`
	Alerts Alerts       `yaml:"alerts"`
	Server Server       `yaml:"server"`
	Log    Log          `yaml:"log"`

	// Secrets are pushed to every Active fork.
	Secrets []Secret `yaml:"secrets"`
}

// Paths locates every file the tool reads or writes.
// Relative entries are resolved against Dir.
type Paths struct {
	Dir        string `yaml:"dir"`
	StateFile  string `yaml:"state_file"`
	ProxyCache string `yaml:"proxy_cache"`
	NameCache  string `yaml:"name_cache"`
	Tokens     string `yaml:"tokens"`
	Proxies    string `yaml:"proxies"`
}

// Quota holds the classification thresholds, in hours-equivalent.
type Quota struct {
	WarningHours  float64 `yaml:"warning_hours"`
	CriticalHours float64 `yaml:"critical_hours"`
	CeilingHours  float64 `yaml:"ceiling_hours"`
	Multiplier    float64 `yaml:"multiplier"`
	Product       string  `yaml:"product"`
	UnitType      string  `yaml:"unit_type"`

	// ProbePause separates consecutive probes in a sweep.
	ProbePause time.Duration `yaml:"probe_pause"`
}

// Fork bounds the fork lifecycle waits.
type Fork struct {
	ReadyAttempts int           `yaml:"ready_attempts"`
	ReadyInterval time.Duration `yaml:"ready_interval"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	CleanupPause  time.Duration `yaml:"cleanup_pause"`
	WorkflowHint  string        `yaml:"workflow_hint"`
	WorkflowRef   string        `yaml:"workflow_ref"`
	RunAttempts   int           `yaml:"run_attempts"`
	RunInterval   time.Duration `yaml:"run_interval"`
	SourceRepo    string        `yaml:"source_repo"`

	// SecretVerifyAttempts bounds the read-back after a secret is set.
	SecretVerifyAttempts int           `yaml:"secret_verify_attempts"`
	SecretVerifyInterval time.Duration `yaml:"secret_verify_interval"`
}

// Secret names an Actions secret and the file holding its value.
// Lines of the file are trimmed, blank lines dropped, and the rest
// joined with a newline.
type Secret struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
}

// Proxy configures the connectivity probe.
type Proxy struct {
	ProbeURL     string        `yaml:"probe_url"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// GitHub configures the remote API client.
type GitHub struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// State selects the persistence backend.
type State struct {
	Backend   string `yaml:"backend"` // "file" or "redis"
	RedisAddr string `yaml:"redis_addr"`
	RedisKey  string `yaml:"redis_key"`
}

// Lease configures the optional cross-process rotation lease.
// An empty RedisAddr disables it.
type Lease struct {
	RedisAddr string        `yaml:"redis_addr"`
	Key       string        `yaml:"key"`
	TTL       time.Duration `yaml:"ttl"`
	Wait      time.Duration `yaml:"wait"`

	// RenewInterval extends a held lease back to TTL. Zero uses TTL/3.
	RenewInterval time.Duration `yaml:"renew_interval"`
}

// Alerts configures operator notifications. Empty values disable a channel.
type Alerts struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
	DiscordWebhook string `yaml:"discord_webhook"`
}

// Server configures the HTTP status API.
type Server struct {
	Addr string `yaml:"addr"`
}

// Log configures the application logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Paths: Paths{
			Dir:        ".forkline",
			StateFile:  filepath.Join("cache", "active.json"),
			ProxyCache: filepath.Join("cache", "proxymap.json"),
			NameCache:  filepath.Join("cache", "tokenmap.json"),
			Tokens:     "tokens.txt",
			Proxies:    "proxies.txt",
		},
		Quota: Quota{
			WarningHours:  118,
			CriticalHours: 119.5,
			CeilingHours:  120,
			Multiplier:    2,
			Product:       "actions",
			UnitType:      "Minutes",
			ProbePause:    time.Second,
		},
		Retry: retry.DefaultConfig(),
		Fork: Fork{
			ReadyAttempts: 24,
			ReadyInterval: 5 * time.Second,
			SettleDelay:   3 * time.Second,
			CleanupPause:  2 * time.Second,
			WorkflowHint:  "nexus.yml",
			WorkflowRef:   "main",
			RunAttempts:   120,
			RunInterval:   30 * time.Second,

			SecretVerifyAttempts: 3,
			SecretVerifyInterval: 2 * time.Second,
		},
		Proxy: Proxy{
			ProbeURL:     "https://api.github.com/",
			ProbeTimeout: 15 * time.Second,
		},
		GitHub: GitHub{
			BaseURL: "https://api.github.com",
			Timeout: 30 * time.Second,
		},
		State: State{
			Backend:  "file",
			RedisKey: "forkline:state",
		},
		Lease: Lease{
			Key:  "rotation",
			TTL:  2 * time.Minute,
			Wait: 10 * time.Second,
		},
		Server: Server{Addr: ":8080"},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. A missing file yields Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.Quota.WarningHours >= c.Quota.CriticalHours {
		errs = append(errs, fmt.Errorf("quota.warning_hours (%.2f) must be below quota.critical_hours (%.2f)", c.Quota.WarningHours, c.Quota.CriticalHours))
	}
	if c.Quota.CriticalHours > c.Quota.CeilingHours {
		errs = append(errs, fmt.Errorf("quota.critical_hours (%.2f) must not exceed quota.ceiling_hours (%.2f)", c.Quota.CriticalHours, c.Quota.CeilingHours))
	}
	if c.Quota.Multiplier <= 0 {
		errs = append(errs, errors.New("quota.multiplier must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Fork.ReadyAttempts < 1 {
		errs = append(errs, errors.New("fork.ready_attempts must be at least 1"))
	}
	if c.Lease.RedisAddr != "" {
		if c.Lease.TTL <= 0 {
			errs = append(errs, errors.New("lease.ttl must be positive when lease.redis_addr is set"))
		}
		if c.Lease.Wait <= 0 {
			errs = append(errs, errors.New("lease.wait must be positive when lease.redis_addr is set"))
		}
		if c.Lease.RenewInterval < 0 || (c.Lease.TTL > 0 && c.Lease.RenewInterval >= c.Lease.TTL) {
			errs = append(errs, errors.New("lease.renew_interval must be below lease.ttl"))
		}
	}
	seen := make(map[string]bool, len(c.Secrets))
	for i, sec := range c.Secrets {
		switch {
		case !secretName.MatchString(sec.Name):
			errs = append(errs, fmt.Errorf("secrets[%d].name %q is not a valid secret name", i, sec.Name))
		case strings.HasPrefix(strings.ToUpper(sec.Name), "GITHUB_"):
			errs = append(errs, fmt.Errorf("secrets[%d].name %q uses the reserved GITHUB_ prefix", i, sec.Name))
		case seen[strings.ToUpper(sec.Name)]:
			errs = append(errs, fmt.Errorf("secrets[%d].name %q is duplicated", i, sec.Name))
		}
		seen[strings.ToUpper(sec.Name)] = true
		if sec.File == "" {
			errs = append(errs, fmt.Errorf("secrets[%d].file is required", i))
		}
	}
	switch c.State.Backend {
	case "file":
	case "redis":
		if c.State.RedisAddr == "" {
			errs = append(errs, errors.New("state.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state.backend %q", c.State.Backend))
	}
	return errors.Join(errs...)
}

// Resolve returns p joined to the config directory unless p is absolute.
func (c Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.Dir, p)
}

// StatePath is the resolved state file path.
func (c Config) StatePath() string { return c.Resolve(c.Paths.StateFile) }

// ProxyCachePath is the resolved proxy cache path.
func (c Config) ProxyCachePath() string { return c.Resolve(c.Paths.ProxyCache) }

// NameCachePath is the resolved token-to-login cache path.
func (c Config) NameCachePath() string { return c.Resolve(c.Paths.NameCache) }

// TokensPath is the resolved tokens file path.
func (c Config) TokensPath() string { return c.Resolve(c.Paths.Tokens) }

// ProxiesPath is the resolved raw proxy list path.
func (c Config) ProxiesPath() string { return c.Resolve(c.Paths.Proxies) }
