package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/comalice/hsmx/internal/logging"
)

type (
	// Config holds the settings for the hsmx command and its scenarios
	Config struct {
		Log      LogConfig      `yaml:"log"`
		Metrics  MetricsConfig  `yaml:"metrics"`
		Trace    TraceConfig    `yaml:"trace"`
		Devices  DevicesConfig  `yaml:"devices"`
		Workflow WorkflowConfig `yaml:"workflow"`
		Flow     FlowConfig     `yaml:"flow"`
	}

	LogConfig struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	MetricsConfig struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	}

	// TraceConfig selects where engine trace records are published
	TraceConfig struct {
		Buffer int         `yaml:"buffer"`
		Redis  RedisConfig `yaml:"redis"`
	}

	RedisConfig struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Stream   string `yaml:"stream"`
		MaxLen   int64  `yaml:"maxLen"`
	}

	// DevicesConfig drives the device connection manager scenario
	DevicesConfig struct {
		Count            int           `yaml:"count"`
		ConnectDelay     time.Duration `yaml:"connectDelay"`
		RetryDelay       time.Duration `yaml:"retryDelay"`
		Heartbeat        time.Duration `yaml:"heartbeat"`
		MaxMissedBeats   int           `yaml:"maxMissedBeats"`
		MaxRetries       int           `yaml:"maxRetries"`
		StartSpacing     time.Duration `yaml:"startSpacing"`
		HealthInterval   time.Duration `yaml:"healthInterval"`
		RunFor           time.Duration `yaml:"runFor"`
		ConnectSuccess   float64       `yaml:"connectSuccess"`
		HeartbeatSuccess float64       `yaml:"heartbeatSuccess"`
		Seed             uint64        `yaml:"seed"`
	}

	// WorkflowConfig drives the staged workflow scenario
	WorkflowConfig struct {
		InitDelay        time.Duration `yaml:"initDelay"`
		LoadDelay        time.Duration `yaml:"loadDelay"`
		LoadTimeout      time.Duration `yaml:"loadTimeout"`
		ValidateDelay    time.Duration `yaml:"validateDelay"`
		ProgressInterval time.Duration `yaml:"progressInterval"`
		ProgressStep     int           `yaml:"progressStep"`
		SaveDelay        time.Duration `yaml:"saveDelay"`
		CleanupDelay     time.Duration `yaml:"cleanupDelay"`
		ErrorDelay       time.Duration `yaml:"errorDelay"`
		MaxRetries       int           `yaml:"maxRetries"`
		LoadSuccess      float64       `yaml:"loadSuccess"`
		Seed             uint64        `yaml:"seed"`
	}

	// FlowConfig drives the cross-module flow scenario
	FlowConfig struct {
		Sequence  []string      `yaml:"sequence"`
		WorkDelay time.Duration `yaml:"workDelay"`
	}
)

const (
	DefaultLogLevel    = "info"
	DefaultMetricsAddr = ":9090"
	DefaultTraceBuffer = 256

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisStream = "hsmx:trace"
	DefaultRedisMaxLen = 10000

	DefaultDeviceCount      = 3
	DefaultConnectDelay     = 2 * time.Second
	DefaultRetryDelay       = time.Second
	DefaultHeartbeat        = 3 * time.Second
	DefaultMaxMissedBeats   = 3
	DefaultDeviceRetries    = 5
	DefaultStartSpacing     = 500 * time.Millisecond
	DefaultHealthInterval   = 5 * time.Second
	DefaultDevicesRunFor    = 15 * time.Second
	DefaultConnectSuccess   = 0.8
	DefaultHeartbeatSuccess = 0.9

	DefaultInitDelay        = time.Second
	DefaultLoadDelay        = 1500 * time.Millisecond
	DefaultLoadTimeout      = 3 * time.Second
	DefaultValidateDelay    = 500 * time.Millisecond
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultProgressStep     = 25
	DefaultSaveDelay        = time.Second
	DefaultCleanupDelay     = 500 * time.Millisecond
	DefaultErrorDelay       = time.Second
	DefaultWorkflowRetries  = 3
	DefaultLoadSuccess      = 0.7

	DefaultWorkDelay = 500 * time.Millisecond
)

// DefaultSequence is the cross-module flow order.
var DefaultSequence = []string{
	"A1", "A2", "B1", "B2", "B3", "B4", "A3", "A4", "B5", "A5",
}

var (
	ErrInvalidLogLevel     = errors.New("invalid log level")
	ErrInvalidLogFormat    = errors.New("invalid log format")
	ErrInvalidMetricsAddr  = errors.New("metrics address is required")
	ErrInvalidTraceBuffer  = errors.New("trace buffer cannot be negative")
	ErrInvalidRedisAddr    = errors.New("redis address is required")
	ErrInvalidRedisStream  = errors.New("redis stream is required")
	ErrInvalidDeviceCount  = errors.New("device count must be positive")
	ErrInvalidDuration     = errors.New("duration must be positive")
	ErrInvalidRetries      = errors.New("retries cannot be negative")
	ErrInvalidProbability  = errors.New("probability must be within [0, 1]")
	ErrInvalidProgressStep = errors.New("progress step must be within (0, 100]")
	ErrEmptySequence       = errors.New("flow sequence is empty")
	ErrInvalidFlowStep     = errors.New("flow step must be a module letter followed by digits")
)

// Default returns a configuration matching the reference scenarios
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: string(logging.FormatText),
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
		},
		Trace: TraceConfig{
			Buffer: DefaultTraceBuffer,
			Redis: RedisConfig{
				Addr:   DefaultRedisAddr,
				Stream: DefaultRedisStream,
				MaxLen: DefaultRedisMaxLen,
			},
		},
		Devices: DevicesConfig{
			Count:            DefaultDeviceCount,
			ConnectDelay:     DefaultConnectDelay,
			RetryDelay:       DefaultRetryDelay,
			Heartbeat:        DefaultHeartbeat,
			MaxMissedBeats:   DefaultMaxMissedBeats,
			MaxRetries:       DefaultDeviceRetries,
			StartSpacing:     DefaultStartSpacing,
			HealthInterval:   DefaultHealthInterval,
			RunFor:           DefaultDevicesRunFor,
			ConnectSuccess:   DefaultConnectSuccess,
			HeartbeatSuccess: DefaultHeartbeatSuccess,
			Seed:             1,
		},
		Workflow: WorkflowConfig{
			InitDelay:        DefaultInitDelay,
			LoadDelay:        DefaultLoadDelay,
			LoadTimeout:      DefaultLoadTimeout,
			ValidateDelay:    DefaultValidateDelay,
			ProgressInterval: DefaultProgressInterval,
			ProgressStep:     DefaultProgressStep,
			SaveDelay:        DefaultSaveDelay,
			CleanupDelay:     DefaultCleanupDelay,
			ErrorDelay:       DefaultErrorDelay,
			MaxRetries:       DefaultWorkflowRetries,
			LoadSuccess:      DefaultLoadSuccess,
			Seed:             1,
		},
		Flow: FlowConfig{
			Sequence:  append([]string(nil), DefaultSequence...),
			WorkDelay: DefaultWorkDelay,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// Keys missing from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks every section and returns the first problem found
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return ErrInvalidMetricsAddr
	}
	if c.Trace.Buffer < 0 {
		return ErrInvalidTraceBuffer
	}
	if r := c.Trace.Redis; r.Enabled {
		if r.Addr == "" {
			return ErrInvalidRedisAddr
		}
		if r.Stream == "" {
			return ErrInvalidRedisStream
		}
	}
	if err := c.Devices.Validate(); err != nil {
		return fmt.Errorf("devices: %w", err)
	}
	if err := c.Workflow.Validate(); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	if err := c.Flow.Validate(); err != nil {
		return fmt.Errorf("flow: %w", err)
	}
	return nil
}

// Validate checks the device scenario settings
func (c *DevicesConfig) Validate() error {
	if c.Count <= 0 {
		return ErrInvalidDeviceCount
	}
	if err := positive(map[string]time.Duration{
		"connectDelay":   c.ConnectDelay,
		"retryDelay":     c.RetryDelay,
		"heartbeat":      c.Heartbeat,
		"startSpacing":   c.StartSpacing,
		"healthInterval": c.HealthInterval,
		"runFor":         c.RunFor,
	}); err != nil {
		return err
	}
	if c.MaxRetries < 0 || c.MaxMissedBeats < 0 {
		return ErrInvalidRetries
	}
	if !probability(c.ConnectSuccess) || !probability(c.HeartbeatSuccess) {
		return ErrInvalidProbability
	}
	return nil
}

// Validate checks the workflow scenario settings
func (c *WorkflowConfig) Validate() error {
	if err := positive(map[string]time.Duration{
		"initDelay":        c.InitDelay,
		"loadDelay":        c.LoadDelay,
		"loadTimeout":      c.LoadTimeout,
		"validateDelay":    c.ValidateDelay,
		"progressInterval": c.ProgressInterval,
		"saveDelay":        c.SaveDelay,
		"cleanupDelay":     c.CleanupDelay,
		"errorDelay":       c.ErrorDelay,
	}); err != nil {
		return err
	}
	if c.ProgressStep <= 0 || c.ProgressStep > 100 {
		return ErrInvalidProgressStep
	}
	if c.MaxRetries < 0 {
		return ErrInvalidRetries
	}
	if !probability(c.LoadSuccess) {
		return ErrInvalidProbability
	}
	return nil
}

// Validate checks the flow scenario settings
func (c *FlowConfig) Validate() error {
	if len(c.Sequence) == 0 {
		return ErrEmptySequence
	}
	for _, step := range c.Sequence {
		if _, ok := ModuleOf(step); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidFlowStep, step)
		}
	}
	if c.WorkDelay <= 0 {
		return fmt.Errorf("%w: workDelay", ErrInvalidDuration)
	}
	return nil
}

// ModuleOf returns the module a flow step belongs to: its leading letters.
func ModuleOf(step string) (string, bool) {
	i := 0
	for i < len(step) && isLetter(step[i]) {
		i++
	}
	if i == 0 || i == len(step) {
		return "", false
	}
	for j := i; j < len(step); j++ {
		if step[j] < '0' || step[j] > '9' {
			return "", false
		}
	}
	return step[:i], true
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func positive(durations map[string]time.Duration) error {
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidDuration, name)
		}
	}
	return nil
}

func probability(p float64) bool {
	return p >= 0 && p <= 1
}
