// Package policy loads configuration and implements workspace guards.
package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides (IDUMB_STATE_BACKEND, IDUMB_BUDGETS_COMPACTION, ...).
const EnvPrefix = "IDUMB_"

// Storage backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

const maxConfigFileSize = 1024 * 1024

// BudgetsConfig caps injected context, in characters.
type BudgetsConfig struct {
	SystemPrompt int `yaml:"system_prompt" koanf:"system_prompt"`
	Compaction   int `yaml:"compaction" koanf:"compaction"`
}

// AnchorsConfig controls anchor decay.
type AnchorsConfig struct {
	StaleHours int `yaml:"stale_hours" koanf:"stale_hours"`
}

// TasksConfig controls task staleness.
type TasksConfig struct {
	StaleMinutes int `yaml:"stale_minutes" koanf:"stale_minutes"`
}

// PlansConfig controls the purge sweep for closed plans.
type PlansConfig struct {
	GraceHours int `yaml:"grace_hours" koanf:"grace_hours"`
}

// DelegationConfig controls delegation expiry.
type DelegationConfig struct {
	TTLMinutes int `yaml:"ttl_minutes" koanf:"ttl_minutes"`
}

// ShellConfig bounds governed shell execution. Values above the hard ceilings are clamped by the executor.
type ShellConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds" koanf:"default_timeout_seconds"`
	MaxTimeoutSeconds     int `yaml:"max_timeout_seconds" koanf:"max_timeout_seconds"`
	MaxOutputBytes        int `yaml:"max_output_bytes" koanf:"max_output_bytes"`
}

// Config holds policy configuration
type Config struct {
	WorkspaceRoot string   `yaml:"workspace_root" koanf:"workspace_root"`
	StateDir      string   `yaml:"state_dir" koanf:"state_dir"`
	StateBackend  string   `yaml:"state_backend" koanf:"state_backend"`
	LogFile       string   `yaml:"log_file" koanf:"log_file"`
	LogLevel      string   `yaml:"log_level" koanf:"log_level"`
	HTTPPort      int      `yaml:"http_port" koanf:"http_port"`
	DefaultAgent  string   `yaml:"default_agent" koanf:"default_agent"`
	EnabledTools  []string `yaml:"enabled_tools" koanf:"enabled_tools"`

	Budgets    BudgetsConfig    `yaml:"budgets" koanf:"budgets"`
	Anchors    AnchorsConfig    `yaml:"anchors" koanf:"anchors"`
	Tasks      TasksConfig      `yaml:"tasks" koanf:"tasks"`
	Plans      PlansConfig      `yaml:"plans" koanf:"plans"`
	Delegation DelegationConfig `yaml:"delegation" koanf:"delegation"`
	Shell      ShellConfig      `yaml:"shell" koanf:"shell"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StateDir:     filepath.Join(".idumb", "brain"),
		StateBackend: BackendJSON,
		LogLevel:     "info",
		DefaultAgent: "coordinator",
		EnabledTools: []string{"*"},
		Budgets:      BudgetsConfig{SystemPrompt: 1000, Compaction: 2000},
		Anchors:      AnchorsConfig{StaleHours: 48},
		Tasks:        TasksConfig{StaleMinutes: 30},
		Plans:        PlansConfig{GraceHours: 24},
		Delegation:   DelegationConfig{TTLMinutes: 30},
		Shell:        ShellConfig{DefaultTimeoutSeconds: 30, MaxTimeoutSeconds: 120, MaxOutputBytes: 100 * 1024},
	}
}

// sections are the nested config blocks; env keys starting with one of these
// map to "section.field", everything else stays top level.
var sections = []string{"budgets", "anchors", "tasks", "plans", "delegation", "shell"}

// envKey maps IDUMB_SHELL_MAX_TIMEOUT_SECONDS to shell.max_timeout_seconds
// and IDUMB_STATE_BACKEND to state_backend.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if strings.HasPrefix(key, sec+"_") {
			return sec + "." + strings.TrimPrefix(key, sec+"_")
		}
	}
	return key
}

// LoadConfig loads configuration from an optional YAML file, then applies
// IDUMB_* environment overrides on top. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("read config: %s exceeds %d bytes", path, maxConfigFileSize)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.StateBackend {
	case BackendJSON, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("state_backend must be %q or %q, got %q", BackendJSON, BackendSQLite, c.StateBackend))
	}
	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir must not be empty"))
	}
	if c.Budgets.SystemPrompt <= 0 || c.Budgets.Compaction <= 0 {
		errs = append(errs, errors.New("budgets must be positive"))
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port out of range: %d", c.HTTPPort))
	}
	for name, v := range map[string]int{
		"anchors.stale_hours":             c.Anchors.StaleHours,
		"tasks.stale_minutes":             c.Tasks.StaleMinutes,
		"plans.grace_hours":               c.Plans.GraceHours,
		"delegation.ttl_minutes":          c.Delegation.TTLMinutes,
		"shell.default_timeout_seconds":   c.Shell.DefaultTimeoutSeconds,
		"shell.max_timeout_seconds":       c.Shell.MaxTimeoutSeconds,
		"shell.max_output_bytes":          c.Shell.MaxOutputBytes,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Policy enforces workspace rules and exposes resolved settings.
type Policy struct {
	config *Config
	root   string
}

// New creates a new policy enforcer. An empty workspace root means the current directory.
func New(cfg *Config) *Policy {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	root := cfg.WorkspaceRoot
	if root == "" {
		if wd, err := os.Getwd(); err == nil {
			root = wd
		}
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Policy{config: cfg, root: root}
}

// Config returns the effective configuration.
func (p *Policy) Config() *Config { return p.config }

// WorkspaceRoot returns the absolute workspace root.
func (p *Policy) WorkspaceRoot() string { return p.root }

// StateDir returns the absolute directory holding persisted governance state.
func (p *Policy) StateDir() string {
	if filepath.IsAbs(p.config.StateDir) {
		return p.config.StateDir
	}
	return filepath.Join(p.root, p.config.StateDir)
}

// StateBackend returns json or sqlite.
func (p *Policy) StateBackend() string { return p.config.StateBackend }

// SignalFilePath returns the path to the notify signal file inside the state dir.
// Watchers use this to detect writes from other processes without relying on SQLite WAL file events.
func (p *Policy) SignalFilePath() string {
	return filepath.Join(p.StateDir(), ".idumb-notify")
}

// LogFile returns the configured log file path.
// If unset, defaults to idumb.log inside the state dir.
// "none" or "off" disables file logging entirely.
func (p *Policy) LogFile() string {
	lf := p.config.LogFile
	if lf == "" {
		return filepath.Join(p.StateDir(), "idumb.log")
	}
	if lf == "none" || lf == "off" || filepath.IsAbs(lf) {
		return lf
	}
	return filepath.Join(p.root, lf)
}

// LogLevel returns the zap level name.
func (p *Policy) LogLevel() string { return p.config.LogLevel }

// HTTPPort returns the dashboard port; 0 disables it.
func (p *Policy) HTTPPort() int { return p.config.HTTPPort }

// DefaultAgent is used when neither the call nor the session names an agent.
func (p *Policy) DefaultAgent() string { return p.config.DefaultAgent }

// ValidatePath checks if a path is within the workspace
func (p *Policy) ValidatePath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.root, path)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	relPath, err := filepath.Rel(p.root, absPath)
	if err != nil {
		return "", fmt.Errorf("relative path: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside workspace", path)
	}
	return absPath, nil
}

// IsToolEnabled checks if a tool is enabled
func (p *Policy) IsToolEnabled(name string) bool {
	for _, t := range p.config.EnabledTools {
		if t == "*" || t == name {
			return true
		}
	}
	return false
}

// SystemPromptBudget caps the system-prompt governance block.
func (p *Policy) SystemPromptBudget() int { return p.config.Budgets.SystemPrompt }

// CompactionBudget caps the post-compaction context block.
func (p *Policy) CompactionBudget() int { return p.config.Budgets.Compaction }

// AnchorStaleAfter is the age after which an anchor is stale.
func (p *Policy) AnchorStaleAfter() time.Duration {
	return time.Duration(p.config.Anchors.StaleHours) * time.Hour
}

// TaskStaleAfter is how long an active task may go without a checkpoint.
func (p *Policy) TaskStaleAfter() time.Duration {
	return time.Duration(p.config.Tasks.StaleMinutes) * time.Minute
}

// PlanGrace is how long a closed plan stays in active context.
func (p *Policy) PlanGrace() time.Duration {
	return time.Duration(p.config.Plans.GraceHours) * time.Hour
}

// DelegationTTL is how long a pending delegation lives.
func (p *Policy) DelegationTTL() time.Duration {
	return time.Duration(p.config.Delegation.TTLMinutes) * time.Minute
}

// ShellDefaultTimeout applies when a run gives no timeout.
func (p *Policy) ShellDefaultTimeout() time.Duration {
	return time.Duration(p.config.Shell.DefaultTimeoutSeconds) * time.Second
}

// ShellMaxTimeout is the configured ceiling.
func (p *Policy) ShellMaxTimeout() time.Duration {
	return time.Duration(p.config.Shell.MaxTimeoutSeconds) * time.Second
}

// ShellMaxOutput caps the captured bytes of each output stream.
func (p *Policy) ShellMaxOutput() int { return p.config.Shell.MaxOutputBytes }
