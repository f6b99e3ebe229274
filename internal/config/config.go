// Package config provides configuration management for the agentd server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the server configuration.
type Config struct {
	// Server settings
	Port        int    `json:"port"`
	Host        string `json:"host"`
	TLSEnabled  bool   `json:"tls_enabled"`
	TLSCertFile string `json:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file"`

	// Data storage
	DataDir string `json:"data_dir"`

	// WebSocket settings
	WebSocket WebSocketConfig `json:"websocket"`

	// Execution settings
	Execution ExecutionConfig `json:"execution"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
}

// WebSocketConfig contains WebSocket-specific configuration.
type WebSocketConfig struct {
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	PingInterval    time.Duration `json:"ping_interval"`
	PongTimeout     time.Duration `json:"pong_timeout"`
	MaxMessageSize  int64         `json:"max_message_size"`
	WriteBufferSize int           `json:"write_buffer_size"`
	ReadBufferSize  int           `json:"read_buffer_size"`
}

// ExecutionConfig contains Claude execution configuration.
type ExecutionConfig struct {
	CommandTimeout    time.Duration `json:"command_timeout"`
	MaxProjects       int           `json:"max_projects"`
	MaxLogSize        int64         `json:"max_log_size"`
	MaxMessagesPerLog int           `json:"max_messages_per_log"`
	ClaudeBinaryPath  string        `json:"claude_binary_path"`
}

// Options represents configuration options passed via command line.
type Options struct {
	RootDir string
	Port    int
	DataDir string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".pocket_agent")

	return &Config{
		Port:        8443,
		Host:        "0.0.0.0",
		TLSEnabled:  false,
		DataDir:     baseDir,
		LogLevel:    "info",
		LogFile:     filepath.Join(baseDir, "logs", "pocket-agent.log"),
		TLSCertFile: filepath.Join(baseDir, "certs", "server.crt"),
		TLSKeyFile:  filepath.Join(baseDir, "certs", "server.key"),

		WebSocket: WebSocketConfig{
			ReadTimeout:     10 * time.Minute,
			WriteTimeout:    10 * time.Second,
			PingInterval:    5 * time.Minute,
			PongTimeout:     30 * time.Second,
			MaxMessageSize:  1024 * 1024, // 1MB
			WriteBufferSize: 1024,
			ReadBufferSize:  1024,
		},

		Execution: ExecutionConfig{
			CommandTimeout:    5 * time.Minute,
			MaxProjects:       100,
			MaxLogSize:        100 * 1024 * 1024, // 100MB
			MaxMessagesPerLog: 10000,
			ClaudeBinaryPath:  "claude",
		},
	}
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	return DefaultConfigPathWithRoot("")
}

// DefaultConfigPathWithRoot returns the configuration file path for a given root directory
func DefaultConfigPathWithRoot(rootDir string) string {
	if rootDir == "" {
		homeDir, _ := os.UserHomeDir()
		rootDir = filepath.Join(homeDir, ".pocket_agent")
	}
	return filepath.Join(rootDir, "config.json")
}

// EnsureDefaultConfig ensures the default config file and directories exist
func EnsureDefaultConfig() error {
	return EnsureDefaultConfigWithRoot("")
}

// EnsureDefaultConfigWithRoot ensures the config file and directories exist for a given root
func EnsureDefaultConfigWithRoot(rootDir string) error {
	if rootDir == "" {
		homeDir, _ := os.UserHomeDir()
		rootDir = filepath.Join(homeDir, ".pocket_agent")
	}

	// Create directory structure
	dirs := []string{
		rootDir,
		filepath.Join(rootDir, "certs"),
		filepath.Join(rootDir, "projects"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// Check if config file exists
	configPath := filepath.Join(rootDir, "config.json")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Create default config file with paths relative to root
		cfg := DefaultConfig()
		cfg.DataDir = rootDir
		cfg.LogFile = filepath.Join(rootDir, "logs", "pocket-agent.log")
		cfg.TLSCertFile = filepath.Join(rootDir, "certs", "server.crt")
		cfg.TLSKeyFile = filepath.Join(rootDir, "certs", "server.key")

		v := viper.New()
		v.SetConfigType("json")
		setDefaults(v, cfg)
		if err := v.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to write default config file: %w", err)
		}
	}

	return nil
}

// Load loads configuration from file, environment and command line options,
// in that order of increasing precedence.
func Load(configPath string, opts Options) (*Config, error) {
	v, err := buildViper(configPath, opts)
	if err != nil {
		return nil, err
	}
	return decode(v, opts)
}

// Watcher ties a loaded configuration to its backing viper instance so the
// file can be re-read when it changes on disk (SIGHUP, or an external editor
// writing the file) without losing the env/flag layering Load applies.
type Watcher struct {
	v         *viper.Viper
	opts      Options
	fileBased bool
}

// NewWatcher builds a Watcher around the same layered configuration that
// Load would produce. Call Config to get the current snapshot and Watch to
// be notified when the backing file changes.
func NewWatcher(configPath string, opts Options) (*Watcher, error) {
	v, err := buildViper(configPath, opts)
	if err != nil {
		return nil, err
	}
	return &Watcher{v: v, opts: opts, fileBased: configPath != ""}, nil
}

// Config decodes the current state of the watched configuration.
func (w *Watcher) Config() (*Config, error) {
	return decode(w.v, w.opts)
}

// Watch invokes onChange whenever the backing config file is modified. It is
// a no-op when the Watcher was not built from a file path.
func (w *Watcher) Watch(onChange func(*Config, error)) {
	if !w.fileBased {
		return
	}
	w.v.OnConfigChange(func(_ fsnotify.Event) {
		onChange(decode(w.v, w.opts))
	})
	w.v.WatchConfig()
}

// buildViper assembles a viper instance with defaults, an optional config
// file and environment variable binding applied, but does not yet decode or
// validate the result.
func buildViper(configPath string, opts Options) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("json")

	defaults := DefaultConfig()
	if opts.RootDir != "" {
		defaults.DataDir = opts.RootDir
		defaults.LogFile = filepath.Join(opts.RootDir, "logs", "pocket-agent.log")
		defaults.TLSCertFile = filepath.Join(opts.RootDir, "certs", "server.crt")
		defaults.TLSKeyFile = filepath.Join(opts.RootDir, "certs", "server.key")
	}
	setDefaults(v, defaults)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables use the prefix POCKET_AGENT_ and follow the
	// pattern POCKET_AGENT_<SECTION>_<KEY>, overriding the config file.
	v.SetEnvPrefix("POCKET_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// decode unmarshals v into a Config, applies command line overrides (the
// highest-precedence layer) and validates and prepares the result.
func decode(v *viper.Viper, opts Options) (*Config, error) {
	cfg := &Config{}

	// sizeHook lets int64 fields take human units ("5MB") during Unmarshal;
	// time.Duration is a distinct type and is not matched here.
	sizeHook := func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(int64(0)) {
			return data, nil
		}
		return parseSize(data.(string))
	}
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		sizeHook,
	)
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "json"
		dc.DecodeHook = decodeHook
	}); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	// Byte-size fields accept human units ("5MB", "100KB"); sizeHook converts
	// them during Unmarshal, and they are also parsed here from the raw setting.
	if raw := v.Get("websocket.max_message_size"); raw != nil {
		size, err := parseSize(fmt.Sprintf("%v", raw))
		if err != nil {
			return nil, fmt.Errorf("invalid websocket.max_message_size %v: %w", raw, err)
		}
		cfg.WebSocket.MaxMessageSize = size
	}
	if raw := v.Get("execution.max_log_size"); raw != nil {
		size, err := parseSize(fmt.Sprintf("%v", raw))
		if err != nil {
			return nil, fmt.Errorf("invalid execution.max_log_size %v: %w", raw, err)
		}
		cfg.Execution.MaxLogSize = size
	}

	// Command line options take precedence over everything else.
	if opts.Port != 0 {
		cfg.Port = opts.Port
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	projectsDir := filepath.Join(cfg.DataDir, "projects")
	if err := os.MkdirAll(projectsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create projects directory: %w", err)
	}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return cfg, nil
}

// setDefaults registers cfg's values as viper defaults, keyed the same way
// json.Marshal would key them, so SetConfigFile/ReadInConfig, AutomaticEnv
// and Unmarshal all agree on field names.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("port", cfg.Port)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("tls_enabled", cfg.TLSEnabled)
	v.SetDefault("tls_cert_file", cfg.TLSCertFile)
	v.SetDefault("tls_key_file", cfg.TLSKeyFile)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)

	v.SetDefault("websocket.read_timeout", cfg.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", cfg.WebSocket.WriteTimeout)
	v.SetDefault("websocket.ping_interval", cfg.WebSocket.PingInterval)
	v.SetDefault("websocket.pong_timeout", cfg.WebSocket.PongTimeout)
	v.SetDefault("websocket.max_message_size", cfg.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.write_buffer_size", cfg.WebSocket.WriteBufferSize)
	v.SetDefault("websocket.read_buffer_size", cfg.WebSocket.ReadBufferSize)

	v.SetDefault("execution.command_timeout", cfg.Execution.CommandTimeout)
	v.SetDefault("execution.max_projects", cfg.Execution.MaxProjects)
	v.SetDefault("execution.max_log_size", cfg.Execution.MaxLogSize)
	v.SetDefault("execution.max_messages_per_log", cfg.Execution.MaxMessagesPerLog)
	v.SetDefault("execution.claude_binary_path", cfg.Execution.ClaudeBinaryPath)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 1-65535)", c.Port)
	}

	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" || c.TLSKeyFile == "" {
			return fmt.Errorf("TLS is enabled but cert/key files not specified")
		}
		if c.TLSCertFile != "" {
			if _, err := os.Stat(c.TLSCertFile); err != nil {
				return fmt.Errorf("TLS cert file not found: %s", c.TLSCertFile)
			}
		}
		if c.TLSKeyFile != "" {
			if _, err := os.Stat(c.TLSKeyFile); err != nil {
				return fmt.Errorf("TLS key file not found: %s", c.TLSKeyFile)
			}
		}
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}

	// Validate WebSocket settings
	if c.WebSocket.MaxMessageSize < 1024 {
		return fmt.Errorf("max_message_size must be at least 1KB")
	}
	if c.WebSocket.MaxMessageSize > 10*1024*1024 {
		return fmt.Errorf("max_message_size cannot exceed 10MB")
	}
	if c.WebSocket.ReadTimeout < time.Second {
		return fmt.Errorf("read_timeout must be at least 1 second")
	}
	if c.WebSocket.PingInterval < time.Second {
		return fmt.Errorf("ping_interval must be at least 1 second")
	}
	if c.WebSocket.PongTimeout < time.Second {
		return fmt.Errorf("pong_timeout must be at least 1 second")
	}

	// Validate Execution settings
	if c.Execution.MaxProjects < 1 {
		return fmt.Errorf("max_projects must be at least 1")
	}
	if c.Execution.MaxProjects > 1000 {
		return fmt.Errorf("max_projects cannot exceed 1000")
	}
	if c.Execution.CommandTimeout < 0 {
		return fmt.Errorf("command_timeout cannot be negative")
	}
	if c.Execution.MaxLogSize < 1024*1024 {
		return fmt.Errorf("max_log_size must be at least 1MB")
	}
	if c.Execution.MaxMessagesPerLog < 100 {
		return fmt.Errorf("max_messages_per_log must be at least 100")
	}
	if c.Execution.ClaudeBinaryPath == "" {
		return fmt.Errorf("claude_binary_path cannot be empty")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// parseSize parses size strings like "1MB", "100KB", "1024" (bytes).
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		multiplier = 1
		numStr = strings.TrimSuffix(s, "B")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size format: %s", s)
	}

	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", s)
	}

	return num * multiplier, nil
}
