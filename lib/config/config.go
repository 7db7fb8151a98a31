// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/cobalt/lib/aggregate"
	"github.com/bureau-foundation/cobalt/lib/compress"
	"github.com/bureau-foundation/cobalt/lib/encrypt"
	"github.com/bureau-foundation/cobalt/lib/registry"
)

// EnvVar names the environment variable Load reads the config path
// from.
const EnvVar = "COBALT_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Duration is a time.Duration written as a Go duration string
// ("6h", "90s") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string like \"6h\"", node.Line)
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the configuration of the collection daemon and CLI.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	// It is also bound into every encrypted message.
	Environment Environment `yaml:"environment"`

	// Enabled false makes recording and uploading no-ops.
	Enabled bool `yaml:"enabled"`

	CustomerID uint32 `yaml:"customer_id"`
	ProjectID  uint32 `yaml:"project_id"`

	// ReleaseStage is the device's release stage, one of DEBUG,
	// FISHFOOD, DOGFOOD, OPEN_BETA, GA.
	ReleaseStage string `yaml:"release_stage"`

	// Registry is the path of the JSONC registry file.
	Registry string `yaml:"registry"`

	// StateDir holds the aggregation database.
	StateDir string `yaml:"state_dir"`

	SystemProfile SystemProfileConfig `yaml:"system_profile"`
	Encryption    EncryptionConfig    `yaml:"encryption"`
	Privacy       PrivacyConfig       `yaml:"privacy"`
	Upload        UploadConfig        `yaml:"upload"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Log           LogConfig           `yaml:"log"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Enabled      *bool             `yaml:"enabled,omitempty"`
	ReleaseStage string            `yaml:"release_stage,omitempty"`
	Encryption   *EncryptionConfig `yaml:"encryption,omitempty"`
	Upload       *UploadConfig     `yaml:"upload,omitempty"`
	Schedule     *ScheduleConfig   `yaml:"schedule,omitempty"`
	Metrics      *MetricsConfig    `yaml:"metrics,omitempty"`
	Log          *LogConfig        `yaml:"log,omitempty"`
}

// SystemProfileConfig describes the device to reports that ask for it.
type SystemProfileConfig struct {
	// AppVersion must be a semantic version when set.
	AppVersion    string `yaml:"app_version"`
	SystemVersion string `yaml:"system_version"`
}

// EncryptionConfig selects the encrypter.
type EncryptionConfig struct {
	// Scheme is hpke, age or none.
	Scheme string `yaml:"scheme"`

	// PublicKey is the collector's base64 X25519 key (hpke) or age
	// recipient. Usually ${COBALT_PUBLIC_KEY}.
	PublicKey string `yaml:"public_key"`

	// KeyIndex identifies PublicKey to the collector.
	KeyIndex uint32 `yaml:"key_index"`

	// Compression applied to envelopes before sealing: none, lz4 or zstd.
	Compression string `yaml:"compression"`
}

// PrivacyConfig tunes the noise mechanism.
type PrivacyConfig struct {
	// MinChaffLambda is the smallest Poisson mean that fabricates
	// observations.
	MinChaffLambda float64 `yaml:"min_chaff_lambda"`

	// ReportsToIgnore are "customer/project/metric/report" ids that
	// are never uploaded.
	ReportsToIgnore []string `yaml:"reports_to_ignore"`
}

// UploadConfig configures delivery to the collector.
type UploadConfig struct {
	// Endpoint is the collector URL. Empty keeps uploads in memory
	// and discards them, for development.
	Endpoint string `yaml:"endpoint"`

	// Headers are sent with every request. Values are expanded, so an
	// API key can come from ${COBALT_API_KEY}.
	Headers map[string]string `yaml:"headers"`

	// Timeout bounds one HTTP request.
	Timeout Duration `yaml:"timeout"`

	EnvelopeMaxBytes int     `yaml:"envelope_max_bytes"`
	MaxBufferBytes   int     `yaml:"max_buffer_bytes"`
	MaxBatchBytes    int     `yaml:"max_batch_bytes"`
	MaxAttempts      int     `yaml:"max_attempts"`
	RequestsPerSec   float64 `yaml:"requests_per_second"`
	Burst            int     `yaml:"burst"`
}

// ScheduleConfig controls the upload cycle.
type ScheduleConfig struct {
	Period   Duration `yaml:"period"`
	Deadline Duration `yaml:"deadline"`
}

// MetricsConfig controls export of operation counters.
type MetricsConfig struct {
	// OTLPEndpoint is a gRPC collector address such as
	// "localhost:4317". Empty keeps counters in process.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	Interval Duration `yaml:"interval"`
}

// LogConfig controls the daemon's slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is auto, text or json. Auto picks text on a terminal.
	Format string `yaml:"format"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	return &Config{
		Environment:  Development,
		Enabled:      true,
		ReleaseStage: registry.StageGA.String(),
		StateDir:     "${STATE_DIRECTORY:-/var/lib/cobalt}",
		Encryption: EncryptionConfig{
			Scheme:      string(encrypt.SchemeHPKE),
			KeyIndex:    1,
			Compression: compress.TagZstd.String(),
		},
		Upload: UploadConfig{
			Timeout:          Duration(30 * time.Second),
			EnvelopeMaxBytes: 256 << 10,
			MaxBufferBytes:   4 << 20,
			MaxBatchBytes:    512 << 10,
			MaxAttempts:      5,
		},
		Schedule: ScheduleConfig{
			Period:   Duration(6 * time.Hour),
			Deadline: Duration(10 * time.Minute),
		},
		Metrics: MetricsConfig{
			Interval: Duration(time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the COBALT_CONFIG environment variable.
//
// There are no fallbacks or defaults - if COBALT_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your cobalt.yaml config file, or use --config flag", EnvVar)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// Environment overrides are applied, then ${VAR} and ${VAR:-default}
// patterns are expanded in paths, the endpoint and the public key.
// The result is not validated; call Validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables(filepath.Dir(path))

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the section named by Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production logs JSON unless it has its own section.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Log: &LogConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Enabled != nil {
		c.Enabled = *overrides.Enabled
	}
	if overrides.ReleaseStage != "" {
		c.ReleaseStage = overrides.ReleaseStage
	}

	if overrides.Encryption != nil {
		if overrides.Encryption.Scheme != "" {
			c.Encryption.Scheme = overrides.Encryption.Scheme
		}
		if overrides.Encryption.PublicKey != "" {
			c.Encryption.PublicKey = overrides.Encryption.PublicKey
		}
		if overrides.Encryption.KeyIndex != 0 {
			c.Encryption.KeyIndex = overrides.Encryption.KeyIndex
		}
		if overrides.Encryption.Compression != "" {
			c.Encryption.Compression = overrides.Encryption.Compression
		}
	}

	if overrides.Upload != nil {
		if overrides.Upload.Endpoint != "" {
			c.Upload.Endpoint = overrides.Upload.Endpoint
		}
		if overrides.Upload.Timeout != 0 {
			c.Upload.Timeout = overrides.Upload.Timeout
		}
		if overrides.Upload.MaxAttempts != 0 {
			c.Upload.MaxAttempts = overrides.Upload.MaxAttempts
		}
		if overrides.Upload.RequestsPerSec != 0 {
			c.Upload.RequestsPerSec = overrides.Upload.RequestsPerSec
		}
		if overrides.Upload.Burst != 0 {
			c.Upload.Burst = overrides.Upload.Burst
		}
	}

	if overrides.Schedule != nil {
		if overrides.Schedule.Period != 0 {
			c.Schedule.Period = overrides.Schedule.Period
		}
		if overrides.Schedule.Deadline != 0 {
			c.Schedule.Deadline = overrides.Schedule.Deadline
		}
	}

	if overrides.Metrics != nil {
		if overrides.Metrics.OTLPEndpoint != "" {
			c.Metrics.OTLPEndpoint = overrides.Metrics.OTLPEndpoint
		}
		if overrides.Metrics.Insecure {
			c.Metrics.Insecure = true
		}
		if overrides.Metrics.Interval != 0 {
			c.Metrics.Interval = overrides.Metrics.Interval
		}
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns.
// ${CONFIG_DIR} is the directory holding the config file, so a
// registry can sit next to it.
func (c *Config) expandVariables(configDir string) {
	vars := map[string]string{
		"CONFIG_DIR": configDir,
		"HOME":       os.Getenv("HOME"),
	}

	c.StateDir = expandVars(c.StateDir, vars)
	c.Registry = expandVars(c.Registry, vars)
	c.Upload.Endpoint = expandVars(c.Upload.Endpoint, vars)
	c.Encryption.PublicKey = expandVars(c.Encryption.PublicKey, vars)
	c.Metrics.OTLPEndpoint = expandVars(c.Metrics.OTLPEndpoint, vars)
	for name, value := range c.Upload.Headers {
		c.Upload.Headers[name] = expandVars(value, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.CustomerID == 0 || c.ProjectID == 0 {
		errs = append(errs, fmt.Errorf("customer_id and project_id are required"))
	}
	if _, err := c.Stage(); err != nil {
		errs = append(errs, err)
	}
	if c.Registry == "" {
		errs = append(errs, fmt.Errorf("registry is required"))
	}
	if c.StateDir == "" {
		errs = append(errs, fmt.Errorf("state_dir is required"))
	}

	if c.SystemProfile.AppVersion != "" {
		if _, err := semver.NewVersion(c.SystemProfile.AppVersion); err != nil {
			errs = append(errs, fmt.Errorf("system_profile.app_version %q: %w", c.SystemProfile.AppVersion, err))
		}
	}

	scheme, err := encrypt.ParseScheme(c.Encryption.Scheme)
	if err != nil {
		errs = append(errs, fmt.Errorf("encryption.scheme: %w", err))
	}
	if scheme != encrypt.SchemeNone && scheme != "" && c.Encryption.PublicKey == "" {
		errs = append(errs, fmt.Errorf("encryption.public_key is required for scheme %s", scheme))
	}
	if scheme == encrypt.SchemeNone && c.Environment == Production {
		errs = append(errs, fmt.Errorf("encryption.scheme none is not allowed in production"))
	}
	if c.Encryption.KeyIndex == math.MaxUint32 {
		errs = append(errs, fmt.Errorf("encryption.key_index %d is reserved", c.Encryption.KeyIndex))
	}
	if _, err := compress.ParseTag(c.Encryption.Compression); err != nil {
		errs = append(errs, fmt.Errorf("encryption.compression: %w", err))
	}

	if c.Privacy.MinChaffLambda < 0 || math.IsNaN(c.Privacy.MinChaffLambda) || math.IsInf(c.Privacy.MinChaffLambda, 0) {
		errs = append(errs, fmt.Errorf("privacy.min_chaff_lambda must be a non-negative number"))
	}
	if _, err := c.IgnoredReports(); err != nil {
		errs = append(errs, err)
	}

	if c.Upload.Endpoint != "" && !strings.HasPrefix(c.Upload.Endpoint, "https://") && !strings.HasPrefix(c.Upload.Endpoint, "http://") {
		errs = append(errs, fmt.Errorf("upload.endpoint must be an http or https URL"))
	}
	if c.Upload.Endpoint == "" && c.Environment == Production && c.Enabled {
		errs = append(errs, fmt.Errorf("upload.endpoint is required in production"))
	}
	if c.Upload.Timeout <= 0 || c.Upload.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("upload.timeout and upload.max_attempts must be positive"))
	}
	if c.Upload.EnvelopeMaxBytes <= 0 || c.Upload.MaxBatchBytes <= 0 || c.Upload.MaxBufferBytes < c.Upload.MaxBatchBytes {
		errs = append(errs, fmt.Errorf("upload sizes must be positive with max_buffer_bytes >= max_batch_bytes"))
	}
	if c.Upload.RequestsPerSec < 0 || c.Upload.Burst < 0 {
		errs = append(errs, fmt.Errorf("upload.requests_per_second and upload.burst must not be negative"))
	}

	if c.Schedule.Period <= 0 || c.Schedule.Deadline <= 0 {
		errs = append(errs, fmt.Errorf("schedule.period and schedule.deadline must be positive"))
	}

	if c.Metrics.OTLPEndpoint != "" && c.Metrics.Interval <= 0 {
		errs = append(errs, fmt.Errorf("metrics.interval must be positive"))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if !contains([]string{"auto", "text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: auto, text, json"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Stage parses ReleaseStage.
func (c *Config) Stage() (registry.ReleaseStage, error) {
	stage, err := registry.ParseReleaseStage(c.ReleaseStage)
	if err != nil {
		return 0, fmt.Errorf("release_stage: %w", err)
	}
	return stage, nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// IgnoredReports parses Privacy.ReportsToIgnore.
func (c *Config) IgnoredReports() ([]aggregate.ReportKey, error) {
	keys := make([]aggregate.ReportKey, 0, len(c.Privacy.ReportsToIgnore))
	for _, text := range c.Privacy.ReportsToIgnore {
		key, err := ParseReportKey(text)
		if err != nil {
			return nil, fmt.Errorf("privacy.reports_to_ignore: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ParseReportKey parses "customer/project/metric/report".
func ParseReportKey(text string) (aggregate.ReportKey, error) {
	fields := strings.Split(text, "/")
	if len(fields) != 4 {
		return aggregate.ReportKey{}, fmt.Errorf("report key %q: want customer/project/metric/report", text)
	}
	var ids [4]uint32
	for i, field := range fields {
		id, err := strconv.ParseUint(field, 10, 32)
		if err != nil || id == 0 {
			return aggregate.ReportKey{}, fmt.Errorf("report key %q: %q is not a positive id", text, field)
		}
		ids[i] = uint32(id)
	}
	return aggregate.ReportKey{CustomerID: ids[0], ProjectID: ids[1], MetricID: ids[2], ReportID: ids[3]}, nil
}

// DatabasePath is the aggregation database inside StateDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir, "cobalt.db")
}

// EnsurePaths creates StateDir if it doesn't exist.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.StateDir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", c.StateDir, err)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
