// Package config loads tutor settings from ~/.tutor/config.toml and TUTOR_*
// environment variables through viper.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "TUTOR"
	configDirName  = ".tutor"
	configFileName = "config.toml"
)

const (
	KeyServerAddr         = "server.addr"
	KeyServerReadTimeout  = "server.read_timeout"
	KeyServerWriteTimeout = "server.write_timeout"
	KeyLogLevel           = "log.level"
	KeyLogFormat          = "log.format"
	KeyStorePath          = "store.path"
	KeyLedgerPath         = "ledger.path"
	KeyGeneratorBaseURL   = "generator.base_url"
	KeyGeneratorModel     = "generator.model"
	KeyGeneratorAPIKey    = "generator.api_key"
	KeyGeneratorTimeout   = "generator.timeout"
	KeySecretsDir         = "secrets.dir"
	KeyQuotaDefaultPlan   = "quota.default_plan"
	KeyQuotaPlans         = "quota.plans"
	KeyPromptsPath        = "prompts.path"
	KeyAuthTokens         = "auth.tokens"
	KeyOAuthAuthorizeURL  = "oauth.authorize_url"
	KeyOAuthClientID      = "oauth.client_id"
	KeyOAuthRedirectURI   = "oauth.redirect_uri"
	KeyOAuthScopes        = "oauth.scopes"
)

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	StorePath string
	// LedgerPath is also read directly by the TOML ledger repository.
	LedgerPath string
	Generator  GeneratorConfig
	SecretsDir string
	Quota      QuotaConfig
	// PromptsPath is optional; empty keeps the embedded prompt pack.
	PromptsPath string
	// Tokens maps bearer token to user id.
	Tokens map[string]string
	OAuth  OAuthConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type GeneratorConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

type QuotaConfig struct {
	DefaultPlan string
	// Plans maps plan name to monthly token limit; -1 is unlimited.
	Plans map[string]int64
}

type OAuthConfig struct {
	AuthorizeURL string
	ClientID     string
	RedirectURI  string
	Scopes       []string
}

type tokenEntry struct {
	Token string `mapstructure:"token"`
	User  string `mapstructure:"user"`
}

// New builds a viper instance with defaults, TUTOR_ env overrides and the
// config file. An empty configFile means ~/.tutor/config.toml, which may be
// absent; an explicit file must exist.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	SetDefaults(v, filepath.Join(homeDir, configDirName))

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := configFile != ""
	if !explicit {
		configFile = filepath.Join(homeDir, configDirName, configFileName)
	}
	v.SetConfigFile(configFile)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || (!errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	return v, nil
}

func SetDefaults(v *viper.Viper, baseDir string) {
	v.SetDefault(KeyServerAddr, ":8080")
	v.SetDefault(KeyServerReadTimeout, "30s")
	v.SetDefault(KeyServerWriteTimeout, "0s")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "json")
	v.SetDefault(KeyStorePath, filepath.Join(baseDir, "tutor.db"))
	v.SetDefault(KeyLedgerPath, filepath.Join(baseDir, "ledger.toml"))
	v.SetDefault(KeyGeneratorBaseURL, "http://localhost:8787")
	v.SetDefault(KeyGeneratorModel, "")
	v.SetDefault(KeyGeneratorAPIKey, "")
	v.SetDefault(KeyGeneratorTimeout, "60s")
	v.SetDefault(KeySecretsDir, filepath.Join(baseDir, "secrets"))
	v.SetDefault(KeyQuotaDefaultPlan, "free")
	v.SetDefault(KeyQuotaPlans, map[string]any{
		"free":      int64(100000),
		"standard":  int64(1000000),
		"unlimited": int64(-1),
	})
	v.SetDefault(KeyPromptsPath, "")
	v.SetDefault(KeyOAuthScopes, []string{"openid", "profile"})
}

// Load reads and validates the settings held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Addr:         strings.TrimSpace(v.GetString(KeyServerAddr)),
			ReadTimeout:  v.GetDuration(KeyServerReadTimeout),
			WriteTimeout: v.GetDuration(KeyServerWriteTimeout),
		},
		Log: LogConfig{
			Level:  strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
			Format: strings.ToLower(strings.TrimSpace(v.GetString(KeyLogFormat))),
		},
		StorePath:  strings.TrimSpace(v.GetString(KeyStorePath)),
		LedgerPath: strings.TrimSpace(v.GetString(KeyLedgerPath)),
		Generator: GeneratorConfig{
			BaseURL: strings.TrimSpace(v.GetString(KeyGeneratorBaseURL)),
			Model:   strings.TrimSpace(v.GetString(KeyGeneratorModel)),
			APIKey:  strings.TrimSpace(v.GetString(KeyGeneratorAPIKey)),
			Timeout: v.GetDuration(KeyGeneratorTimeout),
		},
		SecretsDir:  strings.TrimSpace(v.GetString(KeySecretsDir)),
		PromptsPath: strings.TrimSpace(v.GetString(KeyPromptsPath)),
		Quota: QuotaConfig{
			DefaultPlan: strings.ToLower(strings.TrimSpace(v.GetString(KeyQuotaDefaultPlan))),
			Plans:       map[string]int64{},
		},
		Tokens: map[string]string{},
		OAuth: OAuthConfig{
			AuthorizeURL: strings.TrimSpace(v.GetString(KeyOAuthAuthorizeURL)),
			ClientID:     strings.TrimSpace(v.GetString(KeyOAuthClientID)),
			RedirectURI:  strings.TrimSpace(v.GetString(KeyOAuthRedirectURI)),
			Scopes:       v.GetStringSlice(KeyOAuthScopes),
		},
	}

	for name := range v.GetStringMap(KeyQuotaPlans) {
		cfg.Quota.Plans[strings.ToLower(name)] = v.GetInt64(KeyQuotaPlans + "." + name)
	}

	// Tokens are case-sensitive, so they live in an array of tables rather
	// than map keys, which viper lowercases.
	var tokens []tokenEntry
	if err := v.UnmarshalKey(KeyAuthTokens, &tokens); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", KeyAuthTokens, err)
	}
	for _, entry := range tokens {
		cfg.Tokens[strings.TrimSpace(entry.Token)] = strings.TrimSpace(entry.User)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyServerAddr))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server timeouts must not be negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("%s must be json or text, got %q", KeyLogFormat, c.Log.Format))
	}
	if c.StorePath == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyStorePath))
	}
	if c.LedgerPath == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyLedgerPath))
	}
	if c.Generator.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", KeyGeneratorBaseURL))
	}
	if c.Generator.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyGeneratorTimeout))
	}
	if len(c.Quota.Plans) == 0 {
		errs = append(errs, fmt.Errorf("%s must define at least one plan", KeyQuotaPlans))
	}
	for _, name := range c.PlanNames() {
		if limit := c.Quota.Plans[name]; limit < -1 {
			errs = append(errs, fmt.Errorf("plan %q limit must be -1 or more, got %d", name, limit))
		}
	}
	if _, ok := c.Quota.Plans[c.Quota.DefaultPlan]; !ok {
		errs = append(errs, fmt.Errorf("%s %q is not a configured plan", KeyQuotaDefaultPlan, c.Quota.DefaultPlan))
	}
	for token, user := range c.Tokens {
		if token == "" || user == "" {
			errs = append(errs, fmt.Errorf("%s entries need both token and user", KeyAuthTokens))
			break
		}
	}
	return errors.Join(errs...)
}

// PlanNames returns the configured plans in a stable order.
func (c Config) PlanNames() []string {
	names := make([]string, 0, len(c.Quota.Plans))
	for name := range c.Quota.Plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%s must be debug, info, warn or error, got %q", KeyLogLevel, raw)
	}
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
