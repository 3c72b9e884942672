// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Humanoid() HumanoidConfig
	Perception() PerceptionConfig
	Agent() AgentConfig
	Remediation() RemediationConfig
	Metrics() MetricsConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserDevToolsURL(string)

	// Agent Setters
	SetAgentMaxCycles(int)
	SetAgentPlanner(PlannerStrategy)

	// Remediation Setters
	SetRemediationMaxConcurrentTasks(int)
	SetRemediationVerifyEnabled(bool)
}

// Config holds the entire application configuration. Sections are exported so
// viper can populate them; callers should go through the Interface getters.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	HumanoidCfg    HumanoidConfig    `mapstructure:"humanoid" yaml:"humanoid"`
	PerceptionCfg  PerceptionConfig  `mapstructure:"perception" yaml:"perception"`
	AgentCfg       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	RemediationCfg RemediationConfig `mapstructure:"remediation" yaml:"remediation"`
	MetricsCfg     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Humanoid() HumanoidConfig       { return c.HumanoidCfg }
func (c *Config) Perception() PerceptionConfig   { return c.PerceptionCfg }
func (c *Config) Agent() AgentConfig             { return c.AgentCfg }
func (c *Config) Remediation() RemediationConfig { return c.RemediationCfg }
func (c *Config) Metrics() MetricsConfig         { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)         { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserDevToolsURL(u string)    { c.BrowserCfg.DevToolsURL = u }
func (c *Config) SetAgentMaxCycles(n int)           { c.AgentCfg.MaxCycles = n }
func (c *Config) SetAgentPlanner(p PlannerStrategy) { c.AgentCfg.Planner = p }
func (c *Config) SetRemediationMaxConcurrentTasks(n int) {
	c.RemediationCfg.MaxConcurrentTasks = n
}
func (c *Config) SetRemediationVerifyEnabled(b bool) { c.RemediationCfg.VerifyEnabled = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls how the control channel reaches a browser tab.
type BrowserConfig struct {
	// DevToolsURL points at a running browser (ws:// or http://host:port).
	// When empty, a local browser is launched.
	DevToolsURL      string             `mapstructure:"devtools_url" yaml:"devtools_url"`
	Headless         bool               `mapstructure:"headless" yaml:"headless"`
	Args             []string           `mapstructure:"args" yaml:"args"`
	ViewportWidth    int                `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight   int                `mapstructure:"viewport_height" yaml:"viewport_height"`
	OperationTimeout time.Duration      `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	OpsPerSecond     float64            `mapstructure:"ops_per_second" yaml:"ops_per_second"`
	OpsBurst         int                `mapstructure:"ops_burst" yaml:"ops_burst"`
	Capabilities     CapabilityOverride `mapstructure:"capabilities" yaml:"capabilities"`
}

// CapabilityOverride lets operators switch off capabilities the probe would
// otherwise report. A nil pointer means "use the probe result".
type CapabilityOverride struct {
	SimulateInput      *bool `mapstructure:"simulate_input" yaml:"simulate_input"`
	InjectStyle        *bool `mapstructure:"inject_style" yaml:"inject_style"`
	ModifyDOM          *bool `mapstructure:"modify_dom" yaml:"modify_dom"`
	CaptureScreenshots *bool `mapstructure:"capture_screenshots" yaml:"capture_screenshots"`
}

// HumanoidConfig tunes the timing of simulated input.
type HumanoidConfig struct {
	Enabled          bool    `mapstructure:"enabled" yaml:"enabled"`
	KeyHoldMeanMs    float64 `mapstructure:"key_hold_mean_ms" yaml:"key_hold_mean_ms"`
	KeyHoldStdDevMs  float64 `mapstructure:"key_hold_stddev_ms" yaml:"key_hold_stddev_ms"`
	KeyPauseMeanMs   float64 `mapstructure:"key_pause_mean_ms" yaml:"key_pause_mean_ms"`
	KeyPauseStdDevMs float64 `mapstructure:"key_pause_stddev_ms" yaml:"key_pause_stddev_ms"`
	KeyPauseMinMs    float64 `mapstructure:"key_pause_min_ms" yaml:"key_pause_min_ms"`
	ClickHoldMinMs   int     `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs   int     `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`
	DragSteps        int     `mapstructure:"drag_steps" yaml:"drag_steps"`
	TrapWindow       int     `mapstructure:"trap_window" yaml:"trap_window"`
}

// PerceptionConfig configures snapshotting and change detection.
type PerceptionConfig struct {
	FocusableSelectors []string      `mapstructure:"focusable_selectors" yaml:"focusable_selectors"`
	DebounceWindow     time.Duration `mapstructure:"debounce_window" yaml:"debounce_window"`
	EventQueueSize     int           `mapstructure:"event_queue_size" yaml:"event_queue_size"`
	StabilityPoll      time.Duration `mapstructure:"stability_poll" yaml:"stability_poll"`
	StabilityTimeout   time.Duration `mapstructure:"stability_timeout" yaml:"stability_timeout"`
}

// PlannerStrategy selects the reasoning strategy behind the planning engine.
type PlannerStrategy string

const (
	PlannerRules PlannerStrategy = "rules"
	PlannerLLM   PlannerStrategy = "llm"
)

// AgentConfig holds settings for the PRAR loop coordinator.
type AgentConfig struct {
	MaxCycles     int             `mapstructure:"max_cycles" yaml:"max_cycles"`
	MaxCycleTime  time.Duration   `mapstructure:"max_cycle_time" yaml:"max_cycle_time"`
	MaxLoopTime   time.Duration   `mapstructure:"max_loop_time" yaml:"max_loop_time"`
	WalkMaxSteps  int             `mapstructure:"walk_max_steps" yaml:"walk_max_steps"`
	AutoRemediate bool            `mapstructure:"auto_remediate" yaml:"auto_remediate"`
	Planner       PlannerStrategy `mapstructure:"planner" yaml:"planner"`
	LLM           LLMModelConfig  `mapstructure:"llm" yaml:"llm"`
}

// LLMModelConfig defines the configuration for the optional LLM planner.
type LLMModelConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	// Endpoint overrides the Gemini API base URL.
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// RemediationConfig controls the auto-remediation engine.
type RemediationConfig struct {
	MaxConcurrentTasks  int      `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	VerifyEnabled       bool     `mapstructure:"verify_enabled" yaml:"verify_enabled"`
	RollbackOnFailure   bool     `mapstructure:"rollback_on_failure" yaml:"rollback_on_failure"`
	CaptureScreenshots  bool     `mapstructure:"capture_screenshots" yaml:"capture_screenshots"`
	TargetContrastRatio float64  `mapstructure:"target_contrast_ratio" yaml:"target_contrast_ratio"`
	OutlineWidthPx      int      `mapstructure:"outline_width_px" yaml:"outline_width_px"`
	OutlineOffsetPx     int      `mapstructure:"outline_offset_px" yaml:"outline_offset_px"`
	StrategyOrder       []string `mapstructure:"strategy_order" yaml:"strategy_order"`
	MinConfidence       float64  `mapstructure:"min_confidence" yaml:"min_confidence"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// DefaultFocusableSelectors lists the selectors the perception engine treats
// as keyboard-relevant. Clickable-but-unfocusable widgets are included so the
// keyboard-inaccessible check can see them.
var DefaultFocusableSelectors = []string{
	"a[href]",
	"button",
	"input:not([type=hidden])",
	"select",
	"textarea",
	"summary",
	"[tabindex]",
	"[contenteditable=true]",
	"[role=button]",
	"[role=link]",
	"[onclick]",
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "focusfix")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.devtools_url", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.operation_timeout", "15s")
	v.SetDefault("browser.ops_per_second", 50.0)
	v.SetDefault("browser.ops_burst", 10)

	// -- Humanoid --
	v.SetDefault("humanoid.enabled", true)
	v.SetDefault("humanoid.key_hold_mean_ms", 55.0)
	v.SetDefault("humanoid.key_hold_stddev_ms", 15.0)
	v.SetDefault("humanoid.key_pause_mean_ms", 70.0)
	v.SetDefault("humanoid.key_pause_stddev_ms", 28.0)
	v.SetDefault("humanoid.key_pause_min_ms", 35.0)
	v.SetDefault("humanoid.click_hold_min_ms", 50)
	v.SetDefault("humanoid.click_hold_max_ms", 120)
	v.SetDefault("humanoid.drag_steps", 12)
	v.SetDefault("humanoid.trap_window", 4)

	// -- Perception --
	v.SetDefault("perception.focusable_selectors", DefaultFocusableSelectors)
	v.SetDefault("perception.debounce_window", "400ms")
	v.SetDefault("perception.event_queue_size", 256)
	v.SetDefault("perception.stability_poll", "100ms")
	v.SetDefault("perception.stability_timeout", "5s")

	// -- Agent --
	v.SetDefault("agent.max_cycles", 200)
	v.SetDefault("agent.max_cycle_time", "30s")
	v.SetDefault("agent.max_loop_time", "10m")
	v.SetDefault("agent.walk_max_steps", 50)
	v.SetDefault("agent.auto_remediate", true)
	v.SetDefault("agent.planner", string(PlannerRules))
	v.SetDefault("agent.llm.model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.endpoint", "")
	v.SetDefault("agent.llm.api_timeout", "30s")
	v.SetDefault("agent.llm.temperature", 0.1)
	v.SetDefault("agent.llm.max_tokens", 2048)

	// -- Remediation --
	v.SetDefault("remediation.max_concurrent_tasks", 5)
	v.SetDefault("remediation.verify_enabled", true)
	v.SetDefault("remediation.rollback_on_failure", true)
	v.SetDefault("remediation.capture_screenshots", false)
	v.SetDefault("remediation.target_contrast_ratio", 4.5)
	v.SetDefault("remediation.outline_width_px", 2)
	v.SetDefault("remediation.outline_offset_px", 2)
	v.SetDefault("remediation.strategy_order", []string{"stylesheet", "rule", "inline"})
	v.SetDefault("remediation.min_confidence", 0.0)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("agent.llm.api_key", "FOCUSFIX_AGENT_LLM_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.AgentCfg.Planner == PlannerLLM && cfg.AgentCfg.LLM.APIKey == "" {
		cfg.AgentCfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.HumanoidCfg.Validate(); err != nil {
		return fmt.Errorf("humanoid configuration invalid: %w", err)
	}
	if err := c.PerceptionCfg.Validate(); err != nil {
		return fmt.Errorf("perception configuration invalid: %w", err)
	}
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.RemediationCfg.Validate(); err != nil {
		return fmt.Errorf("remediation configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	if b.OperationTimeout <= 0 {
		return fmt.Errorf("browser.operation_timeout must be a positive duration")
	}
	if b.OpsPerSecond < 0 {
		return fmt.Errorf("browser.ops_per_second must not be negative")
	}
	if b.DevToolsURL != "" && !hasAnyPrefix(b.DevToolsURL, "ws://", "wss://", "http://", "https://") {
		return fmt.Errorf("browser.devtools_url must be a ws:// or http:// URL")
	}
	return nil
}

// Validate checks the humanoid timing settings.
func (h *HumanoidConfig) Validate() error {
	if h.ClickHoldMaxMs < h.ClickHoldMinMs {
		return fmt.Errorf("humanoid.click_hold_max_ms must be >= click_hold_min_ms")
	}
	if h.TrapWindow < 2 {
		return fmt.Errorf("humanoid.trap_window must be at least 2")
	}
	if h.DragSteps <= 0 {
		return fmt.Errorf("humanoid.drag_steps must be a positive integer")
	}
	return nil
}

// Validate checks the perception settings.
func (p *PerceptionConfig) Validate() error {
	if len(p.FocusableSelectors) == 0 {
		return fmt.Errorf("perception.focusable_selectors must not be empty")
	}
	if p.DebounceWindow <= 0 {
		return fmt.Errorf("perception.debounce_window must be a positive duration")
	}
	if p.EventQueueSize <= 0 {
		return fmt.Errorf("perception.event_queue_size must be a positive integer")
	}
	if p.StabilityPoll <= 0 {
		return fmt.Errorf("perception.stability_poll must be a positive duration")
	}
	return nil
}

// Validate checks the agent settings.
func (a *AgentConfig) Validate() error {
	if a.MaxCycles <= 0 {
		return fmt.Errorf("agent.max_cycles must be a positive integer")
	}
	if a.MaxCycleTime <= 0 {
		return fmt.Errorf("agent.max_cycle_time must be a positive duration")
	}
	if a.WalkMaxSteps <= 0 {
		return fmt.Errorf("agent.walk_max_steps must be a positive integer")
	}
	switch a.Planner {
	case PlannerRules:
	case PlannerLLM:
		if a.LLM.Model == "" {
			return fmt.Errorf("agent.llm.model is required when agent.planner is llm")
		}
		if a.LLM.APIKey == "" {
			return fmt.Errorf("LLM API key is required but not found. Ensure FOCUSFIX_AGENT_LLM_API_KEY is set")
		}
	default:
		return fmt.Errorf("agent.planner must be one of rules, llm (got %q)", a.Planner)
	}
	return nil
}

// Validate checks the remediation settings.
func (r *RemediationConfig) Validate() error {
	if r.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("remediation.max_concurrent_tasks must be a positive integer")
	}
	if r.TargetContrastRatio < 1.0 || r.TargetContrastRatio > 21.0 {
		return fmt.Errorf("remediation.target_contrast_ratio must be between 1 and 21")
	}
	if r.MinConfidence < 0.0 || r.MinConfidence > 1.0 {
		return fmt.Errorf("remediation.min_confidence must be between 0.0 and 1.0")
	}
	if len(r.StrategyOrder) == 0 {
		return fmt.Errorf("remediation.strategy_order must name at least one strategy")
	}
	for _, s := range r.StrategyOrder {
		switch s {
		case "stylesheet", "rule", "inline":
		default:
			return fmt.Errorf("remediation.strategy_order: unknown strategy %q", s)
		}
	}
	return nil
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
