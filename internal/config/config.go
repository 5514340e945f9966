package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the assistant.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Session   SessionConfig   `json:"session" yaml:"session"`
	AI        AIConfig        `json:"ai" yaml:"ai"`
	Sticker   StickerConfig   `json:"sticker" yaml:"sticker"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
	Reconnect ReconnectConfig `json:"reconnect" yaml:"reconnect"`
	Audit     AuditConfig     `json:"audit" yaml:"audit"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel" yaml:"logLevel"`
	LogFile               string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	Prefix                string `json:"prefix" yaml:"prefix"`               // command prefix character
	ReactionEmoji         string `json:"reactionEmoji" yaml:"reactionEmoji"` // acknowledgment reaction
	MaxConcurrentMessages int    `json:"maxConcurrentMessages" yaml:"maxConcurrentMessages"`
}

// SessionConfig locates the credential store owned by the session connector.
type SessionConfig struct {
	Dir        string `json:"dir" yaml:"dir"`
	DeviceName string `json:"deviceName" yaml:"deviceName"`                                 // shown in the phone's linked devices
	PairPhone  string `json:"pairPhone,omitempty" yaml:"pairPhone,omitempty" secret:"true"` // pair with a code instead of a QR scan
}

type AIConfig struct {
	DefaultProvider string                    `json:"defaultProvider" yaml:"defaultProvider"`
	FailoverChain   []string                  `json:"failoverChain,omitempty" yaml:"failoverChain,omitempty"`
	Providers       map[string]ProviderConfig `json:"providers" yaml:"providers"`
	RateLimitPerMin int                       `json:"rateLimitPerMinute" yaml:"rateLimitPerMinute"`
	RateLimitBurst  int                       `json:"rateLimitBurst" yaml:"rateLimitBurst"`
	TimeoutSeconds  int                       `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Kind         string `json:"kind" yaml:"kind"` // gemini, openai, claude or ollama
	APIBase      string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty" secret:"true"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
}

type StickerConfig struct {
	PackID     string   `json:"packId" yaml:"packId"`
	Author     string   `json:"author" yaml:"author"`
	Pack       string   `json:"pack" yaml:"pack"`
	Categories []string `json:"categories" yaml:"categories"`
	Quality    int      `json:"quality" yaml:"quality"`
	Background string   `json:"background" yaml:"background"`
}

// Group guard policies for group-admin commands.
const (
	GuardOwnerInGroup = "owner-in-group"
	GuardLiteral      = "literal"
)

type DispatchConfig struct {
	GroupGuard string `json:"groupGuard" yaml:"groupGuard"`
}

// ReconnectConfig is the retry policy applied when the connection drops.
type ReconnectConfig struct {
	InitialBackoffMs int     `json:"initialBackoffMs" yaml:"initialBackoffMs"`
	MaxBackoffMs     int     `json:"maxBackoffMs" yaml:"maxBackoffMs"`
	Multiplier       float64 `json:"multiplier" yaml:"multiplier"`
	AlertAfter       int     `json:"alertAfter" yaml:"alertAfter"` // consecutive failures before alerting the owner
}

type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Listen   string `json:"listen" yaml:"listen"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Token   string         `json:"token,omitempty" yaml:"token,omitempty" secret:"true"`
	ChatIDs FlexStringList `json:"chatIds,omitempty" yaml:"chatIds,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.wabot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wabot"
	}
	return filepath.Join(home, ".wabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// SessionDBPath is the sqlite file holding the linked-device credentials.
func (c *Config) SessionDBPath() string {
	return filepath.Join(c.Session.Dir, "session.db")
}

// LoadEnvFiles loads .env from the working directory and from the config
// directory. Variables already set in the environment win.
func LoadEnvFiles(cfgPath string) {
	candidates := []string{".env", filepath.Join(filepath.Dir(ExpandPath(cfgPath)), ".env")}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Session.Dir = ExpandPath(cfg.Session.Dir)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if !validPrefix(cfg.General.Prefix) {
		errs = append(errs, "general.prefix must be a single non-word, non-space character")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.Session.Dir == "" {
		errs = append(errs, "session.dir is required")
	}

	if cfg.Sticker.Quality < 1 || cfg.Sticker.Quality > 100 {
		errs = append(errs, "sticker.quality must be between 1 and 100")
	}

	switch cfg.Dispatch.GroupGuard {
	case GuardOwnerInGroup, GuardLiteral:
	default:
		errs = append(errs, fmt.Sprintf("dispatch.groupGuard must be one of: %s, %s", GuardOwnerInGroup, GuardLiteral))
	}

	r := cfg.Reconnect
	if r.InitialBackoffMs < 1 {
		errs = append(errs, "reconnect.initialBackoffMs must be >= 1")
	}
	if r.MaxBackoffMs < r.InitialBackoffMs {
		errs = append(errs, "reconnect.maxBackoffMs must be >= reconnect.initialBackoffMs")
	}
	if r.Multiplier < 1 {
		errs = append(errs, "reconnect.multiplier must be >= 1")
	}

	if cfg.AI.RateLimitPerMin < 0 {
		errs = append(errs, "ai.rateLimitPerMinute must be >= 0")
	}
	if cfg.AI.TimeoutSeconds < 1 {
		errs = append(errs, "ai.timeoutSeconds must be >= 1")
	}

	if cfg.AI.DefaultProvider != "" {
		if _, ok := cfg.AI.Providers[cfg.AI.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("ai.defaultProvider references unknown provider: %s", cfg.AI.DefaultProvider))
		}
	}
	// Validate failover chain references exist in providers.
	for _, provName := range cfg.AI.FailoverChain {
		if _, ok := cfg.AI.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("ai.failoverChain references unknown provider: %s", provName))
		}
	}
	for name, pc := range cfg.AI.Providers {
		switch pc.Kind {
		case "gemini", "ollama":
		case "claude":
			if pc.Enabled && pc.APIKey == "" {
				errs = append(errs, fmt.Sprintf("ai.providers.%s: apiKey is required for claude kind", name))
			}
		case "openai":
			if pc.Enabled && pc.APIBase == "" {
				errs = append(errs, fmt.Sprintf("ai.providers.%s: apiBase is required for openai kind", name))
			}
		default:
			errs = append(errs, fmt.Sprintf("ai.providers.%s: kind must be gemini, openai, claude or ollama", name))
		}
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}
	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.Token == "" {
		errs = append(errs, "notify.telegram.token is required when telegram alerts are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validPrefix(p string) bool {
	runes := []rune(p)
	if len(runes) != 1 {
		return false
	}
	r := runes[0]
	return !unicode.IsSpace(r) && !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
