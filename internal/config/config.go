package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	configDirName  = ".config/chorus"
	configFileName = "config.toml"
	envPrefix      = "CHORUS"

	TransportHTTP    = "http"
	TransportCommand = "command"
)

// Keys are dotted viper keys; the matching environment variable is
// CHORUS_<KEY> with dots replaced by underscores.
const (
	KeyHost             = "server.host"
	KeyPort             = "server.port"
	KeyToken            = "server.token"
	KeyDBPath           = "storage.db_path"
	KeySeatsFile        = "seats.file"
	KeyConstructsDir    = "constructs.dir"
	KeyTransport        = "transport.kind"
	KeyModelHost        = "transport.host"
	KeyBridgeCommand    = "transport.command"
	KeyMode             = "engine.mode"
	KeySeatTimeout      = "engine.seat_timeout"
	KeySynthesisTimeout = "engine.synthesis_timeout"
	KeyRequestTimeout   = "engine.request_timeout"
	KeyFallbackTimeout  = "engine.fallback_timeout"
	KeySummaryTimeout   = "engine.summary_timeout"
	KeyMaxRetries       = "engine.max_retries"
	KeyRetryOnTimeout   = "engine.retry_on_timeout"
	KeyContextBudget    = "engine.context_budget"
	KeyChatMinInterval  = "chat.min_interval"
	KeyRetainExchanges  = "chat.retain_exchanges"
	KeyTraceExporter    = "trace.exporter"
	KeyLogLevel         = "log.level"
)

type Config struct {
	Host       string
	Port       int
	Token      string
	ConfigPath string

	DBPath        string
	SeatsFile     string
	ConstructsDir string

	Transport     string
	ModelHost     string
	BridgeCommand string

	Mode             string
	SeatTimeout      time.Duration
	SynthesisTimeout time.Duration
	RequestTimeout   time.Duration
	FallbackTimeout  time.Duration
	SummaryTimeout   time.Duration
	MaxRetries       int
	RetryOnTimeout   bool
	ContextBudget    int

	ChatMinInterval time.Duration
	RetainExchanges int
	TraceExporter   string
	LogLevel        string
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultPath returns ~/.config/chorus/config.toml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, configDirName, configFileName), nil
}

// SetDefaults registers every key with its default so that environment
// variables resolve even for keys absent from the file.
func SetDefaults(v *viper.Viper, baseDir string) {
	v.SetDefault(KeyHost, "127.0.0.1")
	v.SetDefault(KeyPort, 8765)
	v.SetDefault(KeyToken, "")
	v.SetDefault(KeyDBPath, filepath.Join(baseDir, "chorus.db"))
	v.SetDefault(KeySeatsFile, filepath.Join(baseDir, "seats.yaml"))
	v.SetDefault(KeyConstructsDir, filepath.Join(baseDir, "constructs"))
	v.SetDefault(KeyTransport, TransportHTTP)
	v.SetDefault(KeyModelHost, "http://127.0.0.1:11434")
	v.SetDefault(KeyBridgeCommand, "")
	v.SetDefault(KeyMode, "branded")
	v.SetDefault(KeySeatTimeout, 45*time.Second)
	v.SetDefault(KeySynthesisTimeout, 60*time.Second)
	v.SetDefault(KeyRequestTimeout, 90*time.Second)
	v.SetDefault(KeyFallbackTimeout, 20*time.Second)
	v.SetDefault(KeySummaryTimeout, 10*time.Second)
	v.SetDefault(KeyMaxRetries, 2)
	v.SetDefault(KeyRetryOnTimeout, false)
	v.SetDefault(KeyContextBudget, 12000)
	v.SetDefault(KeyChatMinInterval, 500*time.Millisecond)
	v.SetDefault(KeyRetainExchanges, 0)
	v.SetDefault(KeyTraceExporter, "none")
	v.SetDefault(KeyLogLevel, "info")
}

// Load layers defaults < config file < CHORUS_* environment < flags already
// bound on v. A missing config file is not an error. When no token is
// configured one is generated and written back to the file.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	if strings.TrimSpace(path) == "" {
		def, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = def
	}

	SetDefaults(v, filepath.Dir(path))
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg := &Config{
		Host:             strings.TrimSpace(v.GetString(KeyHost)),
		Port:             v.GetInt(KeyPort),
		Token:            strings.TrimSpace(v.GetString(KeyToken)),
		ConfigPath:       path,
		DBPath:           v.GetString(KeyDBPath),
		SeatsFile:        v.GetString(KeySeatsFile),
		ConstructsDir:    v.GetString(KeyConstructsDir),
		Transport:        strings.ToLower(strings.TrimSpace(v.GetString(KeyTransport))),
		ModelHost:        strings.TrimRight(strings.TrimSpace(v.GetString(KeyModelHost)), "/"),
		BridgeCommand:    strings.TrimSpace(v.GetString(KeyBridgeCommand)),
		Mode:             strings.ToLower(strings.TrimSpace(v.GetString(KeyMode))),
		SeatTimeout:      v.GetDuration(KeySeatTimeout),
		SynthesisTimeout: v.GetDuration(KeySynthesisTimeout),
		RequestTimeout:   v.GetDuration(KeyRequestTimeout),
		FallbackTimeout:  v.GetDuration(KeyFallbackTimeout),
		SummaryTimeout:   v.GetDuration(KeySummaryTimeout),
		MaxRetries:       v.GetInt(KeyMaxRetries),
		RetryOnTimeout:   v.GetBool(KeyRetryOnTimeout),
		ContextBudget:    v.GetInt(KeyContextBudget),
		ChatMinInterval:  v.GetDuration(KeyChatMinInterval),
		RetainExchanges:  v.GetInt(KeyRetainExchanges),
		TraceExporter:    strings.ToLower(strings.TrimSpace(v.GetString(KeyTraceExporter))),
		LogLevel:         strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	switch c.Transport {
	case TransportHTTP:
		if c.ModelHost == "" {
			return fmt.Errorf("transport.host is required for the http transport")
		}
	case TransportCommand:
		if c.BridgeCommand == "" {
			return fmt.Errorf("transport.command is required for the command transport")
		}
	default:
		return fmt.Errorf("unknown transport %q: want %s or %s", c.Transport, TransportHTTP, TransportCommand)
	}
	switch c.Mode {
	case "branded", "linear":
	default:
		return fmt.Errorf("unknown mode %q: want branded or linear", c.Mode)
	}
	for name, d := range map[string]time.Duration{
		KeySeatTimeout:      c.SeatTimeout,
		KeySynthesisTimeout: c.SynthesisTimeout,
		KeyRequestTimeout:   c.RequestTimeout,
		KeyFallbackTimeout:  c.FallbackTimeout,
		KeySummaryTimeout:   c.SummaryTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%s must not be negative", KeyMaxRetries)
	}
	switch c.TraceExporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("unknown trace exporter %q: want none or stdout", c.TraceExporter)
	}
	return nil
}

// EnsureToken generates and persists a token when none is configured.
func (c *Config) EnsureToken() error {
	if c.Token != "" {
		return nil
	}
	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	c.Token = token
	if err := c.saveToken(); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// saveToken writes server.token into the config file, keeping every other
// setting already in it.
func (c *Config) saveToken() error {
	doc := map[string]any{}
	data, err := os.ReadFile(c.ConfigPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", c.ConfigPath, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}

	server, _ := doc["server"].(map[string]any)
	if server == nil {
		server = map[string]any{}
	}
	server["token"] = c.Token
	doc["server"] = server

	out, err := toml.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.ConfigPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.ConfigPath, out, 0o600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
