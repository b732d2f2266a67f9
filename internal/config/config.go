// Package config provides configuration management for digestpin.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultConfigDir   = ".config/digestpin"
	DefaultConfigFile  = "config.yaml"
	DefaultDataDir     = ".local/share/digestpin"
	ProjectConfigFile  = ".digestpin.yaml"
	DefaultDirectory   = "./.tekton"
	DefaultLinePattern = "quay.io/konflux-ci/tekton-catalog/"
	DefaultTimeout     = 30 * time.Second
)

// Sentinel errors for configuration operations.
var (
	ErrInvalidKey     = errors.New("invalid configuration key")
	ErrInvalidValue   = errors.New("invalid configuration value")
	ErrInvalidBackend = errors.New("invalid registry backend")
	ErrInvalidFormat  = errors.New("invalid output format")
	ErrNoEditor       = errors.New("$EDITOR environment variable not set")
)

var (
	validBackends = []string{"remote", "skopeo"}
	validFormats  = []string{"text", "json", "yaml"}
)

// validKeys is built once from Config struct reflection.
var validKeys = buildValidKeys()

// validate is the shared validator instance.
var validate = validator.New()

// Config represents the full digestpin configuration.
type Config struct {
	Default  DefaultConfig  `mapstructure:"default" validate:"required"`
	Registry RegistryConfig `mapstructure:"registry"`
	Resolve  ResolveConfig  `mapstructure:"resolve"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
}

// DefaultConfig holds the defaults for a check run.
type DefaultConfig struct {
	Directory string `mapstructure:"directory" validate:"required"`
	Pattern   string `mapstructure:"pattern" validate:"required"`
}

// RegistryConfig holds registry access configuration.
type RegistryConfig struct {
	Backend   string        `mapstructure:"backend" validate:"omitempty,oneof=remote skopeo"`
	Insecure  bool          `mapstructure:"insecure"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
	RateLimit int           `mapstructure:"rate_limit" validate:"gte=0"`
}

// ResolveConfig holds tag resolution configuration.
type ResolveConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"gte=1"`
}

// OutputConfig holds report output configuration.
type OutputConfig struct {
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json yaml"`
}

// StorageConfig holds storage location configuration.
type StorageConfig struct {
	Keyring string `mapstructure:"keyring" validate:"required"`
}

// Validate checks the configuration for errors using struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Loader provides configuration loading and saving.
type Loader struct {
	v          *viper.Viper
	path       string
	homeDir    string
	projectDir string
}

// NewLoader creates a new configuration loader. The project file is looked
// up in the current working directory.
func NewLoader() (*Loader, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	configPath := filepath.Join(home, DefaultConfigDir, DefaultConfigFile)

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Environment variable binding
	v.SetEnvPrefix("DIGESTPIN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("default.directory", "DIGESTPIN_DIRECTORY")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("default.pattern", "DIGESTPIN_PATTERN")
	//nolint:errcheck // BindEnv only fails with zero arguments
	v.BindEnv("registry.backend", "DIGESTPIN_BACKEND")

	l := &Loader{
		v:          v,
		path:       configPath,
		homeDir:    home,
		projectDir: wd,
	}

	// Set defaults before any config reading
	setDefaults(l.v)

	return l, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("default.directory", DefaultDirectory)
	v.SetDefault("default.pattern", DefaultLinePattern)
	v.SetDefault("registry.backend", "remote")
	v.SetDefault("registry.insecure", false)
	v.SetDefault("registry.timeout", DefaultTimeout.String())
	v.SetDefault("registry.rate_limit", 0)
	v.SetDefault("resolve.concurrency", 1)
	v.SetDefault("output.format", "text")
	v.SetDefault("storage.keyring", "~/"+DefaultDataDir)
}

// Load reads the user configuration file, creating it with defaults if it
// doesn't exist, and merges the project file over it when present.
func (l *Loader) Load() (*Config, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		if err := l.createDefault(); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := l.mergeProject(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Storage.Keyring = l.expandPath(cfg.Storage.Keyring)

	return &cfg, nil
}

// mergeProject merges the project configuration file, if any.
func (l *Loader) mergeProject() error {
	path := l.ProjectPath()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open project config: %w", err)
	}
	defer f.Close()

	if err := l.v.MergeConfig(f); err != nil {
		return fmt.Errorf("read project config %s: %w", path, err)
	}
	return nil
}

// Path returns the user configuration file path.
func (l *Loader) Path() string {
	return l.path
}

// ProjectPath returns the project configuration file path.
func (l *Loader) ProjectPath() string {
	return filepath.Join(l.projectDir, ProjectConfigFile)
}

// Get returns a configuration value by dot-notation key.
func (l *Loader) Get(key string) (any, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return l.v.Get(key), nil
}

// All returns every configuration value as a nested map.
func (l *Loader) All() map[string]any {
	return l.v.AllSettings()
}

// Set validates value for key and writes it to the user configuration
// file. Project file values are never written back.
func (l *Loader) Set(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	parsed, err := parseValue(key, value)
	if err != nil {
		return err
	}

	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		if err := l.createDefault(); err != nil {
			return fmt.Errorf("create default config: %w", err)
		}
	}

	user := viper.New()
	user.SetConfigFile(l.path)
	user.SetConfigType("yaml")
	setDefaults(user)
	if err := user.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	user.Set(key, parsed)
	if err := user.WriteConfig(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	l.v.Set(key, parsed)
	return nil
}

// parseValue converts a command-line value to the type stored under key.
func parseValue(key, value string) (any, error) {
	switch key {
	case "registry.backend":
		if !slices.Contains(validBackends, value) {
			return nil, fmt.Errorf("%w: %s (valid: %s)", ErrInvalidBackend, value, strings.Join(validBackends, ", "))
		}
		return value, nil
	case "output.format":
		if !slices.Contains(validFormats, value) {
			return nil, fmt.Errorf("%w: %s (valid: %s)", ErrInvalidFormat, value, strings.Join(validFormats, ", "))
		}
		return value, nil
	case "registry.insecure":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be true or false", ErrInvalidValue, key)
		}
		return b, nil
	case "registry.timeout":
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: %s must be a duration such as 30s", ErrInvalidValue, key)
		}
		return d.String(), nil
	case "registry.rate_limit", "resolve.concurrency":
		n, err := strconv.Atoi(value)
		lowest := 0
		if key == "resolve.concurrency" {
			lowest = 1
		}
		if err != nil || n < lowest {
			return nil, fmt.Errorf("%w: %s must be an integer >= %d", ErrInvalidValue, key, lowest)
		}
		return n, nil
	case "default.directory", "default.pattern", "storage.keyring":
		if value == "" {
			return nil, fmt.Errorf("%w: %s must not be empty", ErrInvalidValue, key)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("%w: %s is a section, not a value", ErrInvalidKey, key)
	}
}

// createDefault writes the default configuration file using Viper.
func (l *Loader) createDefault() error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	return l.v.SafeWriteConfigAs(l.path)
}

// expandPath replaces ~ with the home directory.
func (l *Loader) expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(l.homeDir, path[2:])
	}
	if path == "~" {
		return l.homeDir
	}
	return path
}

// ValidateKey checks if a key is a valid configuration key.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if validKeys[key] {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidKey, key)
}

// buildValidKeys builds the set of valid keys from Config struct using reflection.
func buildValidKeys() map[string]bool {
	keys := make(map[string]bool)
	addKeysFromType(reflect.TypeOf(Config{}), "", keys)
	return keys
}

// addKeysFromType recursively adds keys from a struct type.
func addKeysFromType(t reflect.Type, prefix string, keys map[string]bool) {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		keys[key] = true

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct {
			addKeysFromType(field.Type, key, keys)
		}
	}
}

// ValidBackends returns the accepted registry backend names.
func ValidBackends() []string {
	return append([]string(nil), validBackends...)
}

// ValidFormats returns the accepted output format names.
func ValidFormats() []string {
	return append([]string(nil), validFormats...)
}
