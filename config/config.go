package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type APIConfig struct {
	BaseURL string `toml:"base_url"`
	Origin  string `toml:"origin"`
}

type ChatConfig struct {
	DefaultModel    string   `toml:"default_model"`
	ServerType      string   `toml:"server_type"`
	ChatMode        string   `toml:"chat_mode"`
	ClientVersion   string   `toml:"client_version"`
	Theme           string   `toml:"theme"`
	DataframeFormat string   `toml:"dataframe_format"`
	KnownModels     []string `toml:"known_models"`
}

type PipelineConfig struct {
	AttachmentConcurrency int    `toml:"attachment_concurrency"`
	StrictTruncation      bool   `toml:"strict_truncation"`
	MaxFragmentBytes      int    `toml:"max_fragment_bytes"`
	RequestTimeout        string `toml:"request_timeout"`
}

type SecurityConfig struct {
	CredentialStorage SecurityMethod `toml:"credential_storage"`
	SSHKeyPath        string         `toml:"ssh_key_path,omitempty"`
}

type UserConfig struct {
	API      APIConfig      `toml:"api"`
	Chat     ChatConfig     `toml:"chat"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Security SecurityConfig `toml:"security"`
}

// Config is the merged view of settings.toml, config.toml and the environment.
// APIKey is only ever populated from the environment or the credential store.
type Config struct {
	DataDirectory string

	BaseURL string
	Origin  string
	APIKey  string

	DefaultModel    string
	ServerType      string
	ChatMode        string
	ClientVersion   string
	Theme           string
	DataframeFormat string
	KnownModels     []string

	AttachmentConcurrency int
	StrictTruncation      bool
	MaxFragmentBytes      int
	RequestTimeout        time.Duration

	CredentialStorage SecurityMethod
	SSHKeyPath        string
}

var Debug = false
var DebugLog = zap.NewNop()

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

func (c *Config) applyUserConfig(u *UserConfig) error {
	c.BaseURL = u.API.BaseURL
	c.Origin = u.API.Origin
	c.DefaultModel = u.Chat.DefaultModel
	c.ServerType = u.Chat.ServerType
	c.ChatMode = u.Chat.ChatMode
	c.ClientVersion = u.Chat.ClientVersion
	c.Theme = u.Chat.Theme
	c.DataframeFormat = u.Chat.DataframeFormat
	c.KnownModels = u.Chat.KnownModels
	c.AttachmentConcurrency = u.Pipeline.AttachmentConcurrency
	c.StrictTruncation = u.Pipeline.StrictTruncation
	c.MaxFragmentBytes = u.Pipeline.MaxFragmentBytes
	c.CredentialStorage = u.Security.CredentialStorage
	c.SSHKeyPath = ExpandPath(u.Security.SSHKeyPath)

	if c.CredentialStorage == "" {
		c.CredentialStorage = SecurityPlainText
	}

	if u.Pipeline.RequestTimeout != "" {
		d, err := time.ParseDuration(u.Pipeline.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid pipeline.request_timeout %q: %w", u.Pipeline.RequestTimeout, err)
		}
		c.RequestTimeout = d
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("JULIUS_API_KEY"); key != "" {
		c.APIKey = key
	}
	if baseURL := os.Getenv("JULIUS_BASE_URL"); baseURL != "" {
		c.BaseURL = baseURL
	}
	if model := os.Getenv("JULIUS_MODEL"); model != "" {
		c.DefaultModel = model
	}
}

func CheckDebug() bool {
	debug := os.Getenv("JULIUS_DEBUG")
	return debug == "true" || debug == "1"
}

// InitDebugLog builds the process logger and stores it in DebugLog.
// Console output goes to stderr at warn level, or debug when verbose is set.
// With JULIUS_DEBUG enabled every entry is also written as JSON to
// <dataDir>/debug.log.
func InitDebugLog(dataDir string, verbose bool) (*zap.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), level),
	}

	if CheckDebug() && dataDir != "" {
		logPath := filepath.Join(dataDir, "debug.log")

		// Create debug log with secure permissions (0600 - may contain request metadata)
		f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("could not open debug log at %s: %w", logPath, err)
		}
		Debug = true
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.DebugLevel))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	if Debug {
		logger.Debug("debug logging started", zap.String("JULIUS_DEBUG", os.Getenv("JULIUS_DEBUG")), zap.String("data_dir", dataDir))
	}

	DebugLog = logger
	return logger, nil
}

func Load() (*Config, error) {
	defaults := DefaultUserConfig()
	cfg := &Config{DataDirectory: DefaultSystemConfig().DataDirectory}
	if err := cfg.applyUserConfig(defaults); err != nil {
		return nil, err
	}

	if dataDir := os.Getenv("JULIUS_DATA_DIR"); dataDir != "" {
		cfg.DataDirectory = dataDir
	} else {
		systemCfg, err := LoadSystemConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load system config: %w", err)
		}
		cfg.DataDirectory = systemCfg.DataDirectory
	}

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Ensure data directory has correct permissions (fix if needed)
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}
	if err := cfg.applyUserConfig(userCfg); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}
