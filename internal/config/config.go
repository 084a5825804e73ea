package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture/geometry"
	"github.com/screen-recorder/screen-recorder/internal/capture/pipewire"
	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// AppName names the config directory, the IPC socket and the portal token.
const AppName = "screen-recorder"

// EnvPrefix prefixes environment overrides, e.g. SCREENREC_STREAM_BACKEND.
const EnvPrefix = "SCREENREC"

// IPCConfig tunes the picker-to-app query.
type IPCConfig struct {
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout"`
	DialAttempts int           `json:"dial_attempts" yaml:"dial_attempts"`
}

// PortalConfig tunes the screencast handshake.
type PortalConfig struct {
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// CursorMode is hidden, embedded or metadata.
	CursorMode string `json:"cursor_mode" yaml:"cursor_mode"`
	// PersistMode is none, application or session.
	PersistMode string `json:"persist_mode" yaml:"persist_mode"`
	// TokenPath overrides where the restore token is kept.
	TokenPath string `json:"token_path,omitempty" yaml:"token_path,omitempty"`
}

// StreamConfig tunes the media stream consumer.
type StreamConfig struct {
	// Backend is gst (in-process) or subprocess (gst-launch-1.0).
	Backend      string        `json:"backend" yaml:"backend"`
	QueueDepth   int           `json:"queue_depth" yaml:"queue_depth"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// RegionConfig bounds region selections.
type RegionConfig struct {
	MinWidth     int     `json:"min_width" yaml:"min_width"`
	MinHeight    int     `json:"min_height" yaml:"min_height"`
	WarnFraction float64 `json:"warn_fraction" yaml:"warn_fraction"`
}

// PreviewConfig tunes the MJPEG preview of the running recording.
type PreviewConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	FPS     int  `json:"fps" yaml:"fps"`
	Quality int  `json:"quality" yaml:"quality"`
	// Label draws the elapsed time and frame size onto preview frames.
	Label bool `json:"label" yaml:"label"`
}

// Config represents the application configuration
type Config struct {
	LogLevel    string `json:"log_level" yaml:"log_level"`
	LogPretty   bool   `json:"log_pretty" yaml:"log_pretty"`
	AppName     string `json:"app_name" yaml:"app_name"`
	RuntimeDir  string `json:"runtime_dir,omitempty" yaml:"runtime_dir,omitempty"`
	ControlPort int    `json:"control_port" yaml:"control_port"`
	OutputDir   string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`

	IPC     IPCConfig     `json:"ipc" yaml:"ipc"`
	Portal  PortalConfig  `json:"portal" yaml:"portal"`
	Stream  StreamConfig  `json:"stream" yaml:"stream"`
	Region  RegionConfig  `json:"region" yaml:"region"`
	Preview PreviewConfig `json:"preview" yaml:"preview"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		LogLevel:    "info",
		AppName:     AppName,
		ControlPort: 8787,
		IPC: IPCConfig{
			QueryTimeout: 2 * time.Second,
			DialAttempts: 3,
		},
		Portal: PortalConfig{
			Timeout:     pipewire.DefaultPortalTimeout,
			CursorMode:  "embedded",
			PersistMode: "none",
		},
		Stream: StreamConfig{
			Backend:      "gst",
			QueueDepth:   4,
			PollInterval: pipewire.DefaultPollTimeout,
		},
		Region: RegionConfig{
			MinWidth:     geometry.DefaultLimits.MinWidth,
			MinHeight:    geometry.DefaultLimits.MinHeight,
			WarnFraction: geometry.DefaultLimits.WarnFraction,
		},
		Preview: PreviewConfig{
			Enabled: true,
			FPS:     5,
			Quality: 75,
			Label:   true,
		},
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", c.LogLevel)
	}
	if c.AppName == "" {
		return fmt.Errorf("app_name must not be empty")
	}
	if c.ControlPort < 0 || c.ControlPort > 65535 {
		return fmt.Errorf("invalid control port: %d", c.ControlPort)
	}
	if c.IPC.QueryTimeout <= 0 || c.IPC.DialAttempts < 1 {
		return fmt.Errorf("ipc: query_timeout and dial_attempts must be positive")
	}
	if c.Portal.Timeout <= 0 {
		return fmt.Errorf("portal: timeout must be positive")
	}
	if _, err := cursorMode(c.Portal.CursorMode); err != nil {
		return err
	}
	if _, err := persistMode(c.Portal.PersistMode); err != nil {
		return err
	}
	switch c.Stream.Backend {
	case "gst", "subprocess":
	default:
		return fmt.Errorf("invalid stream backend: %s (use: gst, subprocess)", c.Stream.Backend)
	}
	if c.Stream.QueueDepth < 1 || c.Stream.PollInterval <= 0 {
		return fmt.Errorf("stream: queue_depth and poll_interval must be positive")
	}
	if c.Region.MinWidth < 1 || c.Region.MinHeight < 1 {
		return fmt.Errorf("region: minimum size must be positive")
	}
	if c.Region.WarnFraction < 0 || c.Region.WarnFraction > 1 {
		return fmt.Errorf("region: warn_fraction must be within [0, 1]")
	}
	if c.Preview.FPS < 1 || c.Preview.FPS > 60 {
		return fmt.Errorf("preview: fps must be within [1, 60]")
	}
	if c.Preview.Quality < 1 || c.Preview.Quality > 100 {
		return fmt.Errorf("preview: quality must be within [1, 100]")
	}
	return nil
}

// Limits returns the region limits for geometry validation.
func (c *Config) Limits() geometry.Limits {
	return geometry.Limits{
		MinWidth:     c.Region.MinWidth,
		MinHeight:    c.Region.MinHeight,
		WarnFraction: c.Region.WarnFraction,
	}
}

// PortalOptions returns the portal client settings.
func (c *Config) PortalOptions() pipewire.PortalOptions {
	cm, _ := cursorMode(c.Portal.CursorMode)
	pm, _ := persistMode(c.Portal.PersistMode)
	tokenPath := c.Portal.TokenPath
	if tokenPath == "" {
		tokenPath = pipewire.DefaultTokenPath(c.AppName)
	}
	return pipewire.PortalOptions{
		Timeout:     c.Portal.Timeout,
		CursorMode:  cm,
		PersistMode: pm,
		TokenPath:   tokenPath,
	}
}

func cursorMode(s string) (uint32, error) {
	switch s {
	case "hidden":
		return pipewire.CursorModeHidden, nil
	case "embedded", "":
		return pipewire.CursorModeEmbedded, nil
	case "metadata":
		return pipewire.CursorModeMetadata, nil
	}
	return 0, fmt.Errorf("invalid cursor mode: %s (use: hidden, embedded, metadata)", s)
}

func persistMode(s string) (uint32, error) {
	switch s {
	case "none", "":
		return pipewire.PersistModeNone, nil
	case "application":
		return pipewire.PersistModeApplication, nil
	case "session":
		return pipewire.PersistModeSession, nil
	}
	return 0, fmt.Errorf("invalid persist mode: %s (use: none, application, session)", s)
}

// Manager handles configuration. The file holds the persisted values;
// flags and SCREENREC_* variables bound through the viper instance
// override them in Get without being written back.
type Manager struct {
	configPath string
	config     *Config
	v          *viper.Viper
	mu         sync.RWMutex
}

// DefaultPath returns $XDG_CONFIG_HOME/screen-recorder/config.yaml.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(configDir, AppName, "config.yaml"), nil
}

// NewManager loads configFile, or the default path when empty, creating
// it with defaults if it does not exist.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{configPath: path, v: v}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config loaded")
	return m, nil
}

// load reads the configuration from disk. Missing keys keep their defaults.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// GetViper exposes the override layer so commands can bind their flags.
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// Get returns the effective configuration: file values with flag and
// environment overrides applied.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	cfg := *m.config
	m.mu.RUnlock()

	m.override(&cfg)
	return &cfg
}

// File returns a copy of the persisted configuration, without overrides.
func (m *Manager) File() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

func (m *Manager) override(cfg *Config) {
	v := m.v
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	str("log_level", &cfg.LogLevel)
	if v.IsSet("log_pretty") {
		cfg.LogPretty = v.GetBool("log_pretty")
	}
	str("app_name", &cfg.AppName)
	str("runtime_dir", &cfg.RuntimeDir)
	num("control_port", &cfg.ControlPort)
	str("output_dir", &cfg.OutputDir)
	dur("ipc.query_timeout", &cfg.IPC.QueryTimeout)
	num("ipc.dial_attempts", &cfg.IPC.DialAttempts)
	dur("portal.timeout", &cfg.Portal.Timeout)
	str("portal.cursor_mode", &cfg.Portal.CursorMode)
	str("portal.persist_mode", &cfg.Portal.PersistMode)
	str("portal.token_path", &cfg.Portal.TokenPath)
	str("stream.backend", &cfg.Stream.Backend)
	num("stream.queue_depth", &cfg.Stream.QueueDepth)
	dur("stream.poll_interval", &cfg.Stream.PollInterval)
	num("region.min_width", &cfg.Region.MinWidth)
	num("region.min_height", &cfg.Region.MinHeight)
	if v.IsSet("region.warn_fraction") {
		cfg.Region.WarnFraction = v.GetFloat64("region.warn_fraction")
	}
	if v.IsSet("preview.enabled") {
		cfg.Preview.Enabled = v.GetBool("preview.enabled")
	}
	num("preview.fps", &cfg.Preview.FPS)
	num("preview.quality", &cfg.Preview.Quality)
	if v.IsSet("preview.label") {
		cfg.Preview.Label = v.GetBool("preview.label")
	}
}

// Save saves the persisted configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates and persists cfg.
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c := *cfg
	m.mu.Lock()
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}

// Set changes one dotted key (e.g. "stream.backend") in the file and saves.
// The value is parsed as a YAML scalar, so "3s", "100" and "true" work.
func (m *Manager) Set(key, value string) error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}

	var scalar interface{}
	if err := yaml.Unmarshal([]byte(value), &scalar); err != nil {
		return fmt.Errorf("invalid value %q: %w", value, err)
	}
	if err := setPath(tree, strings.Split(key, "."), scalar); err != nil {
		return err
	}

	data, err = yaml.Marshal(tree)
	if err != nil {
		return err
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return m.Update(cfg)
}

func setPath(tree map[string]interface{}, path []string, value interface{}) error {
	node := tree
	for i, p := range path {
		if i == len(path)-1 {
			if _, ok := node[p]; !ok && !optionalKeys[strings.Join(path, ".")] {
				return fmt.Errorf("configuration key not found: %s", strings.Join(path, "."))
			}
			node[p] = value
			return nil
		}
		next, ok := node[p].(map[string]interface{})
		if !ok {
			return fmt.Errorf("configuration key not found: %s", strings.Join(path, "."))
		}
		node = next
	}
	return nil
}

// optionalKeys are omitted from the file while empty.
var optionalKeys = map[string]bool{
	"runtime_dir":       true,
	"output_dir":        true,
	"portal.token_path": true,
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// ResolvedOutputDir returns where recordings are written: the configured
// directory, or ~/Videos/<app>.
func (c *Config) ResolvedOutputDir() string {
	if c.OutputDir != "" {
		return c.OutputDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), c.AppName)
	}
	return filepath.Join(home, "Videos", c.AppName)
}
