// Package config resolves the kernel's on-disk YAML configuration into a
// single Config struct, in the style of the teacher's internal/config
// package: nested sub-configs, env-var expansion, default application, and
// an issues[] validation pass rather than a single fail-fast error.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ikernel "github.com/open-autonomy/kernel/internal/kernel"
)

// Config is the kernel's root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Trust      TrustConfig      `yaml:"trust"`
	Approval   ApprovalConfig   `yaml:"approval"`
	MemoryGate MemoryGateConfig `yaml:"memory_gate"`
	Drift      DriftConfig      `yaml:"drift"`
	SafeMode   SafeModeConfig   `yaml:"safe_mode"`
	Retention  RetentionConfig  `yaml:"retention"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig configures the kernel's inward-facing API surface.
type ServerConfig struct {
	HTTPPort    int `yaml:"http_port"`
	MetricsPort int `yaml:"metrics_port"`
}

// LoggingConfig configures internal/klog.
type LoggingConfig struct {
	Level      string  `yaml:"level"`
	JSON       bool    `yaml:"json"`
	SampleRate float64 `yaml:"sample_rate"`
}

// StorageConfig selects and configures persistence.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`
	// DSN is the sqlite data source, e.g. "file:kernel.db?_pragma=foreign_keys(1)".
	DSN string `yaml:"dsn"`
	// MigrationsPath overrides the embedded migration source when set.
	MigrationsPath string `yaml:"migrations_path"`
}

// TrustConfig configures the Trust Scorer's baselines and update bounds.
type TrustConfig struct {
	Baselines  map[string]float64 `yaml:"baselines"`
	MaxStep    float64            `yaml:"max_step"`
	WindowSize int                `yaml:"window_size"`
}

// ApprovalConfig configures default risk-class approval requirements and
// timeouts for the Approval Gate.
type ApprovalConfig struct {
	HumanTimeout    time.Duration      `yaml:"human_timeout"`
	TrustFloors     map[string]float64 `yaml:"trust_floors"`
	DefaultPolicyID string             `yaml:"default_policy_id"`
}

// MemoryGateConfig configures admission thresholds and quarantine bounds.
type MemoryGateConfig struct {
	WriteThreshold      float64       `yaml:"write_threshold"`
	QuarantineThreshold float64       `yaml:"quarantine_threshold"`
	MaxQuarantineSize   int           `yaml:"max_quarantine_size"`
	ReviewInterval      time.Duration `yaml:"review_interval"`
}

// DriftConfig configures the Persona Drift Monitor.
type DriftConfig struct {
	WindowSize      int                `yaml:"window_size"`
	Weights         map[string]float64 `yaml:"weights"`
	HighThreshold   float64            `yaml:"high_threshold"`
	MediumThreshold float64            `yaml:"medium_threshold"`
	// BoundaryMarkers feeds the default heuristic DimensionScorer: any
	// output containing one of these substrings (case-insensitive)
	// penalizes DimensionBoundaryRespect.
	BoundaryMarkers []string `yaml:"boundary_markers"`
}

// SafeModeConfig configures the Safe-Mode Controller.
type SafeModeConfig struct {
	ConsecutiveErrorThreshold int     `yaml:"consecutive_error_threshold"`
	ExitTrustFloor            float64 `yaml:"exit_trust_floor"`
}

// RetentionConfig configures the default data-retention sweep.
type RetentionConfig struct {
	EventTTL             time.Duration `yaml:"event_ttl"`
	AuditTTL             time.Duration `yaml:"audit_ttl"`
	ExportBeforeEviction bool          `yaml:"export_before_eviction"`
	SweepCron            string        `yaml:"sweep_cron"`
}

// TelemetryConfig configures OpenTelemetry tracing export.
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"service_name"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// Load reads path, expands environment variables, decodes strictly (unknown
// keys rejected), applies defaults, and returns the resolved Config plus any
// validation issues. Load never panics; callers decide whether issues are
// fatal, matching pkg/kernel.InitKernel's {enabled, issues[]} contract.
func Load(path string) (Config, []string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, []string{fmt.Sprintf("read config: %v", err)}
	}
	cfg, issues := decode(data)
	applyDefaults(&cfg)
	issues = append(issues, Validate(cfg)...)
	return cfg, issues
}

func decode(data []byte) (Config, []string) {
	expanded := os.ExpandEnv(string(data))
	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, []string{fmt.Sprintf("parse config: %v", err)}
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return Config{}, []string{"parse config: expected a single YAML document"}
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.SampleRate == 0 {
		cfg.Logging.SampleRate = 1.0
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Trust.Baselines == nil {
		cfg.Trust.Baselines = map[string]float64{
			"user": 0.8, "system": 0.9, "llm": 0.5, "plugin": 0.6, "external": 0.3,
		}
	}
	if cfg.Trust.MaxStep == 0 {
		cfg.Trust.MaxStep = 0.05
	}
	if cfg.Trust.WindowSize == 0 {
		cfg.Trust.WindowSize = 100
	}
	if cfg.Approval.HumanTimeout == 0 {
		cfg.Approval.HumanTimeout = 10 * time.Minute
	}
	if cfg.MemoryGate.WriteThreshold == 0 {
		cfg.MemoryGate.WriteThreshold = 0.7
	}
	if cfg.MemoryGate.QuarantineThreshold == 0 {
		cfg.MemoryGate.QuarantineThreshold = 0.3
	}
	if cfg.MemoryGate.MaxQuarantineSize == 0 {
		cfg.MemoryGate.MaxQuarantineSize = 1000
	}
	if cfg.MemoryGate.ReviewInterval == 0 {
		cfg.MemoryGate.ReviewInterval = 1 * time.Hour
	}
	if cfg.Drift.WindowSize == 0 {
		cfg.Drift.WindowSize = 20
	}
	if cfg.Drift.Weights == nil {
		cfg.Drift.Weights = map[string]float64{
			"valueAlignment": 0.25, "styleConsistency": 0.25,
			"boundaryRespect": 0.25, "topicFocus": 0.25,
		}
	}
	if cfg.Drift.HighThreshold == 0 {
		cfg.Drift.HighThreshold = 0.25
	}
	if cfg.Drift.MediumThreshold == 0 {
		cfg.Drift.MediumThreshold = 0.15
	}
	if cfg.SafeMode.ConsecutiveErrorThreshold == 0 {
		cfg.SafeMode.ConsecutiveErrorThreshold = 3
	}
	if cfg.SafeMode.ExitTrustFloor == 0 {
		cfg.SafeMode.ExitTrustFloor = ikernel.DefaultExitTrustFloor
	}
	if cfg.Retention.EventTTL == 0 {
		cfg.Retention.EventTTL = 30 * 24 * time.Hour
	}
	if cfg.Retention.AuditTTL == 0 {
		cfg.Retention.AuditTTL = 90 * 24 * time.Hour
	}
	if cfg.Retention.SweepCron == "" {
		cfg.Retention.SweepCron = "0 */1 * * *"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "autonomy-kernel"
	}
}

// Validate returns structural issues that applyDefaults cannot paper over.
// It never panics and is additive to Load's own issues list.
func Validate(cfg Config) []string {
	var issues []string
	if cfg.Storage.Driver != "memory" && cfg.Storage.Driver != "sqlite" {
		issues = append(issues, fmt.Sprintf("storage.driver must be memory or sqlite, got %q", cfg.Storage.Driver))
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DSN == "" {
		issues = append(issues, "storage.dsn is required when storage.driver is sqlite")
	}
	if cfg.MemoryGate.QuarantineThreshold >= cfg.MemoryGate.WriteThreshold {
		issues = append(issues, "memory_gate.quarantine_threshold must be less than memory_gate.write_threshold")
	}
	if cfg.Drift.HighThreshold <= cfg.Drift.MediumThreshold {
		issues = append(issues, "drift.high_threshold must be greater than drift.medium_threshold")
	}
	var weightSum float64
	for _, w := range cfg.Drift.Weights {
		weightSum += w
	}
	if len(cfg.Drift.Weights) > 0 && (weightSum < 0.99 || weightSum > 1.01) {
		issues = append(issues, fmt.Sprintf("drift.weights must sum to 1.0, got %.4f", weightSum))
	}
	if cfg.SafeMode.ConsecutiveErrorThreshold <= 0 {
		issues = append(issues, "safe_mode.consecutive_error_threshold must be positive")
	}
	return issues
}
