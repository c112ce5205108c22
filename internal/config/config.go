package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// ConfigurationError reports an invalid or missing tunable.
// It is fatal at startup; required fields are never silently defaulted.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// Config represents the top-level reelforge.yml configuration.
// It is constructed once at process start and passed to each component.
type Config struct {
	Version    string           `yaml:"version"`
	Namespace  string           `yaml:"namespace"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	Blackboard BlackboardConfig `yaml:"blackboard"`
	Budget     BudgetConfig     `yaml:"budget"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	HumanGate  HumanGateConfig  `yaml:"human_gate"`
	EventBus   EventBusConfig   `yaml:"event_bus"`
	DNA        DNAConfig        `yaml:"dna"`
	Models     []ModelConfig    `yaml:"models,omitempty"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// RedisConfig holds connection settings for the lock, cache and event stores.
type RedisConfig struct {
	URL          string        `yaml:"url"` // Required
	DialTimeout  time.Duration `yaml:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// DatabaseConfig points at the durable SQLite store.
type DatabaseConfig struct {
	Path         string        `yaml:"path"` // Required
	QueryTimeout time.Duration `yaml:"query_timeout,omitempty"`
}

// BlackboardConfig tunes the project lock and read cache.
type BlackboardConfig struct {
	LockTTL     time.Duration `yaml:"lock_ttl,omitempty"`
	LockTimeout time.Duration `yaml:"lock_timeout,omitempty"`
	CacheTTL    time.Duration `yaml:"cache_ttl,omitempty"`
}

// BudgetConfig drives budget allocation and status checks.
type BudgetConfig struct {
	BaseRate          float64            `yaml:"base_rate,omitempty"`
	Currency          string             `yaml:"currency,omitempty"`
	WarningThreshold  float64            `yaml:"warning_threshold,omitempty"`
	ExceededThreshold float64            `yaml:"exceeded_threshold,omitempty"`
	Multipliers       map[string]float64 `yaml:"multipliers,omitempty"`
	DefaultCosts      DefaultCosts       `yaml:"default_costs,omitempty"`
}

// DefaultCosts are used when a generation event carries no explicit cost.
type DefaultCosts struct {
	ImagePerUnit   float64 `yaml:"image_per_unit,omitempty"`
	VideoPerSecond float64 `yaml:"video_per_second,omitempty"`
	VoicePerSecond float64 `yaml:"voice_per_second,omitempty"`
	MusicPerSecond float64 `yaml:"music_per_second,omitempty"`
	TextPerRequest float64 `yaml:"text_per_request,omitempty"`
}

// StrategyConfig holds the usage ratios the strategy adjuster reacts to.
type StrategyConfig struct {
	ReduceThreshold     float64 `yaml:"reduce_threshold,omitempty"`
	SufficientThreshold float64 `yaml:"sufficient_threshold,omitempty"`
}

// HumanGateConfig controls intervention request expiry.
type HumanGateConfig struct {
	TimeoutMinutes int           `yaml:"timeout_minutes,omitempty"`
	PollInterval   time.Duration `yaml:"poll_interval,omitempty"`
}

// EventBusConfig is the externally supplied stream consumption contract.
type EventBusConfig struct {
	Stream        string        `yaml:"stream,omitempty"`
	ConsumerGroup string        `yaml:"consumer_group,omitempty"`
	BatchSize     int64         `yaml:"batch_size,omitempty"`
	BlockTimeout  time.Duration `yaml:"block_timeout,omitempty"`
	MaxLen        int64         `yaml:"max_len,omitempty"`
	ClaimMinIdle  time.Duration `yaml:"claim_min_idle,omitempty"`
}

// DNAConfig tunes asset-reuse matching.
type DNAConfig struct {
	MinSimilarity float64 `yaml:"min_similarity,omitempty"`
	EmbeddingDim  int     `yaml:"embedding_dim,omitempty"`
}

// ModelConfig seeds one entry of the model registry.
type ModelConfig struct {
	ID           string  `yaml:"id"`
	Type         string  `yaml:"type"`
	Provider     string  `yaml:"provider"`
	CostPerUnit  float64 `yaml:"cost_per_unit"`
	QualityTier  string  `yaml:"quality_tier"`
	AvgLatencyMs int64   `yaml:"avg_latency_ms,omitempty"`
	Active       *bool   `yaml:"active,omitempty"` // Default: true
}

// ServerConfig configures the HTTP surface of the worker.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
}

// ApplyDefaults fills optional tunables. Required fields are left untouched.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Database.QueryTimeout == 0 {
		c.Database.QueryTimeout = 5 * time.Second
	}
	if c.Blackboard.LockTTL == 0 {
		c.Blackboard.LockTTL = 30 * time.Second
	}
	if c.Blackboard.LockTimeout == 0 {
		c.Blackboard.LockTimeout = 10 * time.Second
	}
	if c.Blackboard.CacheTTL == 0 {
		c.Blackboard.CacheTTL = 5 * time.Minute
	}
	if c.Budget.BaseRate == 0 {
		c.Budget.BaseRate = 3.0
	}
	if c.Budget.Currency == "" {
		c.Budget.Currency = "USD"
	}
	if c.Budget.WarningThreshold == 0 {
		c.Budget.WarningThreshold = 0.8
	}
	if c.Budget.ExceededThreshold == 0 {
		c.Budget.ExceededThreshold = 1.0
	}
	if c.Budget.Multipliers == nil {
		c.Budget.Multipliers = map[string]float64{}
	}
	for tier, m := range DefaultMultipliers() {
		if _, ok := c.Budget.Multipliers[tier]; !ok {
			c.Budget.Multipliers[tier] = m
		}
	}
	d := &c.Budget.DefaultCosts
	if d.ImagePerUnit == 0 {
		d.ImagePerUnit = 0.04
	}
	if d.VideoPerSecond == 0 {
		d.VideoPerSecond = 0.5
	}
	if d.VoicePerSecond == 0 {
		d.VoicePerSecond = 0.01
	}
	if d.MusicPerSecond == 0 {
		d.MusicPerSecond = 0.02
	}
	if d.TextPerRequest == 0 {
		d.TextPerRequest = 0.002
	}
	if c.Strategy.ReduceThreshold == 0 {
		c.Strategy.ReduceThreshold = 0.8
	}
	if c.Strategy.SufficientThreshold == 0 {
		c.Strategy.SufficientThreshold = 0.5
	}
	if c.HumanGate.TimeoutMinutes == 0 {
		c.HumanGate.TimeoutMinutes = 60
	}
	if c.HumanGate.PollInterval == 0 {
		c.HumanGate.PollInterval = 30 * time.Second
	}
	if c.EventBus.Stream == "" {
		c.EventBus.Stream = "generation_events"
	}
	if c.EventBus.ConsumerGroup == "" {
		c.EventBus.ConsumerGroup = "chef"
	}
	if c.EventBus.BatchSize == 0 {
		c.EventBus.BatchSize = 10
	}
	if c.EventBus.BlockTimeout == 0 {
		c.EventBus.BlockTimeout = 5 * time.Second
	}
	if c.EventBus.MaxLen == 0 {
		c.EventBus.MaxLen = 10000
	}
	if c.EventBus.ClaimMinIdle == 0 {
		c.EventBus.ClaimMinIdle = time.Minute
	}
	if c.DNA.MinSimilarity == 0 {
		c.DNA.MinSimilarity = 0.85
	}
	if c.DNA.EmbeddingDim == 0 {
		c.DNA.EmbeddingDim = 512
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
}

// DefaultMultipliers returns the quality multipliers applied to the base rate.
func DefaultMultipliers() map[string]float64 {
	return map[string]float64{
		"high":     1.5,
		"balanced": 1.0,
		"fast":     0.6,
	}
}

// Validate performs strict validation on the configuration.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return &ConfigurationError{Field: "version", Reason: fmt.Sprintf("unsupported version %q (expected: 1.0)", c.Version)}
	}
	if err := ValidateNamespace(c.Namespace); err != nil {
		return &ConfigurationError{Field: "namespace", Reason: err.Error()}
	}
	if c.Redis.URL == "" {
		return &ConfigurationError{Field: "redis.url", Reason: "is required"}
	}
	if _, err := redis.ParseURL(c.Redis.URL); err != nil {
		return &ConfigurationError{Field: "redis.url", Reason: err.Error()}
	}
	if c.Database.Path == "" {
		return &ConfigurationError{Field: "database.path", Reason: "is required"}
	}
	if c.Blackboard.LockTTL < 0 || c.Blackboard.LockTimeout < 0 || c.Blackboard.CacheTTL < 0 {
		return &ConfigurationError{Field: "blackboard", Reason: "durations must be positive"}
	}
	if c.Budget.BaseRate < 0 {
		return &ConfigurationError{Field: "budget.base_rate", Reason: "must be >= 0"}
	}
	if c.Budget.WarningThreshold > c.Budget.ExceededThreshold {
		return &ConfigurationError{Field: "budget.warning_threshold", Reason: "must not exceed exceeded_threshold"}
	}
	for tier, m := range c.Budget.Multipliers {
		if m < 0 {
			return &ConfigurationError{Field: "budget.multipliers." + tier, Reason: "must be >= 0"}
		}
	}
	if c.Strategy.SufficientThreshold > c.Strategy.ReduceThreshold {
		return &ConfigurationError{Field: "strategy.sufficient_threshold", Reason: "must not exceed reduce_threshold"}
	}
	if c.HumanGate.TimeoutMinutes < 0 {
		return &ConfigurationError{Field: "human_gate.timeout_minutes", Reason: "must be >= 0"}
	}
	if c.EventBus.BatchSize < 1 {
		return &ConfigurationError{Field: "event_bus.batch_size", Reason: "must be >= 1"}
	}
	if c.DNA.MinSimilarity < 0 || c.DNA.MinSimilarity > 1 {
		return &ConfigurationError{Field: "dna.min_similarity", Reason: "must be within [0, 1]"}
	}

	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if err := m.Validate(); err != nil {
			return &ConfigurationError{Field: fmt.Sprintf("models[%d]", i), Reason: err.Error()}
		}
		if seen[m.ID] {
			return &ConfigurationError{Field: fmt.Sprintf("models[%d]", i), Reason: fmt.Sprintf("duplicate model id '%s'", m.ID)}
		}
		seen[m.ID] = true
	}

	return nil
}

// MaxNamespaceLength keeps namespaces DNS-label sized.
const MaxNamespaceLength = 63

// NamespacePattern: lowercase alphanumeric, hyphens allowed but not at
// start or end.
var NamespacePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateNamespace checks a key namespace. Namespaces appear inside Redis
// keys, so they are restricted to DNS label characters.
func ValidateNamespace(name string) error {
	if name == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	if len(name) > MaxNamespaceLength {
		return fmt.Errorf("namespace too long: %d characters (max: %d)", len(name), MaxNamespaceLength)
	}
	if !NamespacePattern.MatchString(name) {
		return fmt.Errorf("invalid namespace '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// Validate checks a single model entry.
func (m ModelConfig) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch m.Type {
	case "image", "video", "voice", "music", "text":
	default:
		return fmt.Errorf("model '%s': invalid type: %s (must be 'image', 'video', 'voice', 'music', or 'text')", m.ID, m.Type)
	}
	if m.Provider == "" {
		return fmt.Errorf("model '%s': provider is required", m.ID)
	}
	switch m.QualityTier {
	case "high", "balanced", "fast":
	default:
		return fmt.Errorf("model '%s': invalid quality_tier: %s (must be 'high', 'balanced', or 'fast')", m.ID, m.QualityTier)
	}
	if m.CostPerUnit < 0 {
		return fmt.Errorf("model '%s': cost_per_unit must be >= 0", m.ID)
	}
	return nil
}

// IsActive reports the configured active flag, defaulting to true.
func (m ModelConfig) IsActive() bool {
	return m.Active == nil || *m.Active
}

// RedisOptions builds go-redis options carrying the configured I/O timeouts.
func (c *Config) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, &ConfigurationError{Field: "redis.url", Reason: err.Error()}
	}
	opts.DialTimeout = c.Redis.DialTimeout
	opts.ReadTimeout = c.Redis.ReadTimeout
	opts.WriteTimeout = c.Redis.WriteTimeout
	return opts, nil
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode only unmarshals YAML. Callers that layer overrides on top must
// call Finalize afterwards.
func Decode(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// Finalize applies defaults and validates.
func (c *Config) Finalize() error {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Load reads and validates reelforge.yml from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Default returns a defaulted configuration for the given required fields.
func Default(redisURL, databasePath string) *Config {
	cfg := &Config{
		Redis:    RedisConfig{URL: redisURL},
		Database: DatabaseConfig{Path: databasePath},
	}
	cfg.ApplyDefaults()
	return cfg
}
