// Package config holds devloop's configuration struct and the overlay-merge
// resolver across the five configuration layers. Loading config files
// themselves is a thin convenience (the daemon entrypoint typically
// receives an already-resolved *Config), kept here for symmetry with
// Save and for tests.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// TaskMasterConfig points at the on-disk tasks file consumed by the Task
// Store.
type TaskMasterConfig struct {
	TasksPath string `yaml:"tasksPath"`
}

// MetricsConfig configures where Hierarchical Metrics persists its data.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// SessionManagementConfig bounds IPC session bookkeeping.
type SessionManagementConfig struct {
	MaxSessionAge   time.Duration `yaml:"maxSessionAge"`
	MaxHistoryItems int           `yaml:"maxHistoryItems"`
}

// IPCConfig configures the IPC Supervisor.
type IPCConfig struct {
	SessionManagement SessionManagementConfig `yaml:"sessionManagement"`
}

// FrameworkConfig configures pattern-memory and rule behavior.
type FrameworkConfig struct {
	Rules              []string          `yaml:"rules"`
	ErrorPathPatterns  []string          `yaml:"errorPathPatterns"`
	ErrorGuidance      map[string]string `yaml:"errorGuidance"`
}

// CodebaseConfig configures which directories/globs the scheduler and
// validation gate consider when resolving target file boundaries.
type CodebaseConfig struct {
	SearchDirs  []string `yaml:"searchDirs"`
	ExcludeDirs []string `yaml:"excludeDirs"`
	IgnoreGlobs []string `yaml:"ignoreGlobs"`
}

// HooksConfig names external hook commands run around scheduler steps.
type HooksConfig struct {
	PreTest   []string `yaml:"preTest"`
	PostApply []string `yaml:"postApply"`
}

// MonitorThreshold configures one issue-type threshold for the Monitor.
type MonitorThreshold struct {
	IssueType  string        `yaml:"issueType"`
	Count      int           `yaml:"count"`
	Rate       float64       `yaml:"rate"`
	Window     time.Duration `yaml:"window"`
	Confidence float64       `yaml:"confidence"`
	AutoAction bool          `yaml:"autoAction"`
}

// MonitorConfig configures the Monitor/Intervention loop.
type MonitorConfig struct {
	PollingInterval   time.Duration      `yaml:"pollingInterval"`
	Thresholds        []MonitorThreshold `yaml:"thresholds"`
	MaxPerHour        int                `yaml:"maxPerHour"`
}

// LoggingConfig mirrors internal/logging.Options in a YAML-friendly shape.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debugMode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"jsonFormat"`
}

// Config holds all devloop configuration, resolved to a single effective
// value by Merge's overlay chain.
type Config struct {
	MaxRetries int `yaml:"maxRetries"`

	TaskMasterConfig TaskMasterConfig `yaml:"taskMaster"`
	Metrics          MetricsConfig    `yaml:"metrics"`
	IPC              IPCConfig        `yaml:"ipc"`
	Framework        FrameworkConfig  `yaml:"framework"`
	Codebase         CodebaseConfig   `yaml:"codebase"`
	Hooks            HooksConfig      `yaml:"hooks"`
	Monitor          MonitorConfig    `yaml:"monitor"`
	Logging          LoggingConfig    `yaml:"logging"`
}

// DefaultConfig returns the baseline configuration used when no overlay
// supplies a value.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		TaskMasterConfig: TaskMasterConfig{
			TasksPath: "tasks.json",
		},
		Metrics: MetricsConfig{
			Path: ".devloop/metrics",
		},
		IPC: IPCConfig{
			SessionManagement: SessionManagementConfig{
				MaxSessionAge:   24 * time.Hour,
				MaxHistoryItems: 100,
			},
		},
		Monitor: MonitorConfig{
			PollingInterval: 5 * time.Second,
			MaxPerHour:      10,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads a YAML config file, falling back to DefaultConfig when the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration back to a YAML file.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks invariants the scheduler depends on.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0, got %d", c.MaxRetries)
	}
	if c.TaskMasterConfig.TasksPath == "" {
		return fmt.Errorf("taskMaster.tasksPath must be set")
	}
	return nil
}
