// Package config loads Athena's runtime configuration. Precedence is
// defaults → config file (~/.athena/config.yaml) → environment (ATHENA_*)
// → caller overrides, with per-field provenance recorded so diagnostics can
// explain where a value came from.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Defaults for every tunable. These values are part of the external contract.
const (
	DefaultLLMTimeoutSeconds        = 60
	DefaultLLMContentLimit          = 8000
	DefaultTokenLimit               = 100_000
	DefaultCompactThreshold         = 0.8
	DefaultMaxRetries               = 2
	DefaultScannerTTLHours          = 12
	DefaultRelationMinConfidence    = 0.5
	DefaultRelationUseLLM           = true
	DefaultMaxConsecutiveAutoReply  = 40
	DefaultExecuteTimeoutSeconds    = 30
	DefaultBatchConcurrencyCap      = 8
	DefaultLanguage                 = "en"
	DefaultDatabaseFile             = "athena.db"
	DefaultKnowledgeDir             = "knowledge"
)

// Config captures user-configurable settings shared across Athena binaries.
type Config struct {
	// LLM fallback gates. Both must be true before any inventory content is
	// ever sent to an LLM.
	EnableLLMFallback         bool `mapstructure:"enable_llm_fallback"`
	LLMComplianceAcknowledged bool `mapstructure:"llm_compliance_acknowledged"`

	LLMTimeoutSeconds int `mapstructure:"llm_timeout_s"`
	// LLMContentLimit bounds inventory content embedded in prompts.
	// A value <= 0 disables truncation.
	LLMContentLimit int `mapstructure:"llm_content_limit"`

	LLMProvider string `mapstructure:"llm_provider"`
	LLMModel    string `mapstructure:"llm_model"`

	Conversation ConversationConfig `mapstructure:"conversation"`
	Corrector    CorrectorConfig    `mapstructure:"auto_corrector"`
	Scanner      ScannerConfig      `mapstructure:"scanner"`
	Relations    RelationsConfig    `mapstructure:"relation_classifier"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`

	DatabasePath string `mapstructure:"database_path"`
	KnowledgeDir string `mapstructure:"knowledge_dir"`
	Language     string `mapstructure:"language"`
	UserID       string `mapstructure:"user_id"`
	Verbose      bool   `mapstructure:"verbose"`
}

type ConversationConfig struct {
	TokenLimit       int     `mapstructure:"token_limit"`
	CompactThreshold float64 `mapstructure:"compact_threshold"`
}

type CorrectorConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

type ScannerConfig struct {
	TTLHours int `mapstructure:"ttl_hours"`
}

type RelationsConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
	UseLLM        bool    `mapstructure:"use_llm"`
}

type ExecutorConfig struct {
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_s"`
	BatchConcurrencyCap   int `mapstructure:"batch_concurrency_cap"`
}

type OrchestratorConfig struct {
	MaxConsecutiveAutoReply int `mapstructure:"max_consecutive_auto_reply"`
}

// LLMTimeout returns the caller-side LLM deadline as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// ScannerTTL returns the local-context freshness window.
func (c *Config) ScannerTTL() time.Duration {
	return time.Duration(c.Scanner.TTLHours) * time.Hour
}

// Metadata records the provenance of loaded fields.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Source returns where the named field's value came from.
func (m Metadata) Source(field string) ValueSource {
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// LoadedAt returns when the configuration was assembled.
func (m Metadata) LoadedAt() time.Time { return m.loadedAt }

// Option customizes Load behavior.
type Option func(*loadOptions)

type loadOptions struct {
	configDir string
	overrides map[string]any
}

// WithConfigDir overrides the directory searched for config.yaml.
func WithConfigDir(dir string) Option {
	return func(o *loadOptions) { o.configDir = dir }
}

// WithOverride applies a caller override for a single key (highest
// precedence).
func WithOverride(key string, value any) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = map[string]any{}
		}
		o.overrides[key] = value
	}
}

// Load assembles the runtime configuration.
func Load(opts ...Option) (*Config, Metadata, error) {
	options := loadOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ATHENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindGateEnvAliases(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if options.configDir != "" {
		v.AddConfigPath(options.configDir)
	} else {
		v.AddConfigPath("$HOME/.athena")
		v.AddConfigPath(".")
	}
	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, Metadata{}, err
		}
		fileFound = false
	}

	for key, value := range options.overrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, Metadata{}, err
	}
	normalize(cfg)

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	for _, key := range v.AllKeys() {
		switch {
		case options.overrides != nil && hasKey(options.overrides, key):
			meta.sources[key] = SourceOverride
		case envValueSet(key):
			meta.sources[key] = SourceEnv
		case v.InConfig(key) && fileFound:
			meta.sources[key] = SourceFile
		default:
			meta.sources[key] = SourceDefault
		}
	}
	return cfg, meta, nil
}

// envValueSet reports whether an environment variable bound to key is set,
// checking the ATHENA_ prefixed name and any historical aliases.
func envValueSet(key string) bool {
	if names, ok := gateEnvAliases[key]; ok {
		for _, name := range names {
			if _, set := os.LookupEnv(name); set {
				return true
			}
		}
		return false
	}
	_, set := os.LookupEnv("ATHENA_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	return set
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("enable_llm_fallback", false)
	v.SetDefault("llm_compliance_acknowledged", false)
	v.SetDefault("llm_timeout_s", DefaultLLMTimeoutSeconds)
	v.SetDefault("llm_content_limit", DefaultLLMContentLimit)
	v.SetDefault("llm_provider", "openai")
	v.SetDefault("llm_model", "gpt-4o-mini")
	v.SetDefault("conversation.token_limit", DefaultTokenLimit)
	v.SetDefault("conversation.compact_threshold", DefaultCompactThreshold)
	v.SetDefault("auto_corrector.max_retries", DefaultMaxRetries)
	v.SetDefault("scanner.ttl_hours", DefaultScannerTTLHours)
	v.SetDefault("relation_classifier.min_confidence", DefaultRelationMinConfidence)
	v.SetDefault("relation_classifier.use_llm", DefaultRelationUseLLM)
	v.SetDefault("executor.default_timeout_s", DefaultExecuteTimeoutSeconds)
	v.SetDefault("executor.batch_concurrency_cap", DefaultBatchConcurrencyCap)
	v.SetDefault("orchestrator.max_consecutive_auto_reply", DefaultMaxConsecutiveAutoReply)
	v.SetDefault("database_path", "")
	v.SetDefault("knowledge_dir", "")
	v.SetDefault("language", DefaultLanguage)
	v.SetDefault("user_id", "default")
	v.SetDefault("verbose", false)
}

// gateEnvAliases keeps the historical un-prefixed gate variable names
// working alongside the ATHENA_ prefixed ones.
var gateEnvAliases = map[string][]string{
	"enable_llm_fallback":         {"ATHENA_ENABLE_LLM_FALLBACK", "ENABLE_LLM_FALLBACK"},
	"llm_compliance_acknowledged": {"ATHENA_LLM_COMPLIANCE_ACKNOWLEDGED", "LLM_COMPLIANCE_ACKNOWLEDGED"},
	"llm_timeout_s":               {"ATHENA_LLM_TIMEOUT_S", "LLM_TIMEOUT_S"},
	"llm_content_limit":           {"ATHENA_LLM_CONTENT_LIMIT", "LLM_CONTENT_LIMIT"},
}

func bindGateEnvAliases(v *viper.Viper) {
	for key, names := range gateEnvAliases {
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
}

func normalize(cfg *Config) {
	if cfg.LLMTimeoutSeconds <= 0 {
		cfg.LLMTimeoutSeconds = DefaultLLMTimeoutSeconds
	}
	if cfg.Conversation.TokenLimit <= 0 {
		cfg.Conversation.TokenLimit = DefaultTokenLimit
	}
	if cfg.Conversation.CompactThreshold <= 0 || cfg.Conversation.CompactThreshold > 1 {
		cfg.Conversation.CompactThreshold = DefaultCompactThreshold
	}
	if cfg.Corrector.MaxRetries < 0 {
		cfg.Corrector.MaxRetries = DefaultMaxRetries
	}
	if cfg.Scanner.TTLHours <= 0 {
		cfg.Scanner.TTLHours = DefaultScannerTTLHours
	}
	if cfg.Relations.MinConfidence <= 0 {
		cfg.Relations.MinConfidence = DefaultRelationMinConfidence
	}
	if cfg.Executor.DefaultTimeoutSeconds <= 0 {
		cfg.Executor.DefaultTimeoutSeconds = DefaultExecuteTimeoutSeconds
	}
	if cfg.Executor.BatchConcurrencyCap <= 0 {
		cfg.Executor.BatchConcurrencyCap = DefaultBatchConcurrencyCap
	}
	if cfg.Orchestrator.MaxConsecutiveAutoReply <= 0 {
		cfg.Orchestrator.MaxConsecutiveAutoReply = DefaultMaxConsecutiveAutoReply
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.UserID == "" {
		cfg.UserID = "default"
	}
}
