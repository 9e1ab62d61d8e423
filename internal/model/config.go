package model

import (
	"errors"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Config holds all runtime settings. Loaded by viper from flags, ANNOREPAIR_* env and the config file.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Timeouts     TimeoutConfig      `yaml:"timeouts" mapstructure:"timeouts"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Scan         ScanConfig         `yaml:"scan" mapstructure:"scan"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Repair       RepairConfig       `yaml:"repair" mapstructure:"repair"`
	Scoring      ScoringConfig      `yaml:"scoring" mapstructure:"scoring"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	API          APIConfig          `yaml:"api" mapstructure:"api"`
}

// StoreConfig locates the annotation repository
type StoreConfig struct {
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`       // e.g. https://annorepo.example.org
	Container  string `yaml:"container" mapstructure:"container"`     // annotation container name
	Token      string `yaml:"token" mapstructure:"token"`             // bearer token, prefer ANNOREPAIR_STORE_TOKEN
	UserAgent  string `yaml:"user_agent" mapstructure:"user_agent"`   // User-Agent header
	BatchPath  string `yaml:"batch_path" mapstructure:"batch_path"`   // path under the collection for bulk creation
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"` // retries for transient read failures
	HTTPProxy  string `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy" mapstructure:"no_proxy"`
}

// TimeoutConfig bounds every network call
type TimeoutConfig struct {
	Request time.Duration `yaml:"request" mapstructure:"request"` // single-resource reads and writes
	Probe   time.Duration `yaml:"probe" mapstructure:"probe"`     // ETag and existence probes
	Page    time.Duration `yaml:"page" mapstructure:"page"`       // listing pages
}

// CacheConfig configures the ETag cache
type CacheConfig struct {
	ETagTTL         time.Duration `yaml:"etag_ttl" mapstructure:"etag_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// ScanConfig bounds the collection walk
type ScanConfig struct {
	MaxPages               int `yaml:"max_pages" mapstructure:"max_pages"`                               // hard page ceiling
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"` // failed pages in a row before giving up
}

// ConcurrencyConfig sets chunk sizes of the batch runner
type ConcurrencyConfig struct {
	ProbeChunk  int `yaml:"probe_chunk" mapstructure:"probe_chunk"`   // in-flight read-only probes
	MutateChunk int `yaml:"mutate_chunk" mapstructure:"mutate_chunk"` // in-flight writes
	CreateBatch int `yaml:"create_batch" mapstructure:"create_batch"` // annotations per bulk create
}

// RateLimitingConfig paces requests to the store
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// RepairConfig tunes repair behaviour
type RepairConfig struct {
	ActorID            string `yaml:"actor_id" mapstructure:"actor_id"`                       // operator credited on bodies that lack a creator
	ActorLabel         string `yaml:"actor_label" mapstructure:"actor_label"`                 // display label of the operator
	PreferredGenerator string `yaml:"preferred_generator" mapstructure:"preferred_generator"` // generator label preferred as text source
	ConflictRetries    int    `yaml:"conflict_retries" mapstructure:"conflict_retries"`       // re-read and retry on 412

	UnwantedPatterns []string `yaml:"unwanted_patterns" mapstructure:"unwanted_patterns"` // extra case-insensitive placeholder patterns
}

// ScoringConfig weights the duplicate selection score
type ScoringConfig struct {
	RecencyWeight float64 `yaml:"recency_weight" mapstructure:"recency_weight"` // per 1e6 ms of modified/created
	BodyWeight    float64 `yaml:"body_weight" mapstructure:"body_weight"`       // per body
	PurposeWeight float64 `yaml:"purpose_weight" mapstructure:"purpose_weight"` // per distinct purpose
	TargetWeight  float64 `yaml:"target_weight" mapstructure:"target_weight"`   // per target
}

// LogConfig configures zerolog
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // console or json
}

// APIConfig configures the HTTP surface
type APIConfig struct {
	Addr  string `yaml:"addr" mapstructure:"addr"`
	Token string `yaml:"token" mapstructure:"token"` // optional bearer token
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			UserAgent:  "annorepair/0.1 (+https://github.com/ppiankov/annorepair)",
			BatchPath:  "batch-create",
			MaxRetries: 2,
		},
		Timeouts: TimeoutConfig{
			Request: 8 * time.Second,
			Probe:   5 * time.Second,
			Page:    15 * time.Second,
		},
		Cache: CacheConfig{
			ETagTTL:         30 * time.Second,
			CleanupInterval: time.Minute,
		},
		Scan: ScanConfig{
			MaxPages:               300,
			MaxConsecutiveFailures: 5,
		},
		Concurrency: ConcurrencyConfig{
			ProbeChunk:  10,
			MutateChunk: 5,
			CreateBatch: 20,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 20,
			BurstSize:         10,
		},
		Repair: RepairConfig{
			PreferredGenerator: "loghi",
			ConflictRetries:    1,
		},
		Scoring: ScoringConfig{
			RecencyWeight: 1,
			BodyWeight:    10,
			PurposeWeight: 5,
			TargetWeight:  1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		API: APIConfig{
			Addr: ":8080",
		},
	}
}

// Validate checks the configuration before any request is made
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Store),
		validation.Field(&c.Timeouts),
		validation.Field(&c.Scan),
		validation.Field(&c.Concurrency),
		validation.Field(&c.RateLimiting),
		validation.Field(&c.Repair),
		validation.Field(&c.Scoring),
		validation.Field(&c.Log),
	)
}

func (s StoreConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.BaseURL, validation.Required, is.URL),
		validation.Field(&s.Container, validation.Required),
		validation.Field(&s.BatchPath, validation.Required),
		validation.Field(&s.MaxRetries, validation.Min(0)),
	)
}

func (t TimeoutConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Request, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&t.Probe, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&t.Page, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (s ScanConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.MaxPages, validation.Required, validation.Min(1)),
		validation.Field(&s.MaxConsecutiveFailures, validation.Required, validation.Min(1)),
	)
}

func (c ConcurrencyConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ProbeChunk, validation.Required, validation.Min(1)),
		validation.Field(&c.MutateChunk, validation.Required, validation.Min(1)),
		validation.Field(&c.CreateBatch, validation.Required, validation.Min(1)),
	)
}

func (r RateLimitingConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequestsPerSecond, validation.Required, validation.Min(0.01)),
		validation.Field(&r.BurstSize, validation.Min(0)),
	)
}

func (r RepairConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ConflictRetries, validation.Min(0), validation.Max(5)),
		validation.Field(&r.UnwantedPatterns, validation.Each(validation.By(compilesAsRegexp))),
	)
}

func (s ScoringConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.RecencyWeight, validation.Min(0.0)),
		validation.Field(&s.BodyWeight, validation.Min(0.0)),
		validation.Field(&s.PurposeWeight, validation.Min(0.0)),
		validation.Field(&s.TargetWeight, validation.Min(0.0)),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("console", "json")),
	)
}

func compilesAsRegexp(value any) error {
	pattern, _ := value.(string)
	if _, err := regexp.Compile(pattern); err != nil {
		return errors.New("must be a valid regular expression")
	}
	return nil
}
