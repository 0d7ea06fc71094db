package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full pipeline configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Fallback  FallbackConfig  `yaml:"fallback" mapstructure:"fallback"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Inference InferenceConfig `yaml:"inference" mapstructure:"inference"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Snapshot  SnapshotConfig  `yaml:"snapshot" mapstructure:"snapshot"`
	Publish   PublishConfig   `yaml:"publish" mapstructure:"publish"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the relational sink.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SearchConfig configures the search index sink.
type SearchConfig struct {
	MongoURI   string `yaml:"mongo_uri" mapstructure:"mongo_uri"`
	Database   string `yaml:"database" mapstructure:"database"`
	Collection string `yaml:"collection" mapstructure:"collection"`
}

// AnthropicConfig holds settings for the primary inference provider.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// FallbackConfig holds settings for the secondary inference provider.
type FallbackConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// SourcesConfig points at the source catalog definitions.
type SourcesConfig struct {
	Path          string `yaml:"path" mapstructure:"path"`
	FacilityPath  string `yaml:"facility_registry_path" mapstructure:"facility_registry_path"`
	OverridesPath string `yaml:"overrides_path" mapstructure:"overrides_path"`
}

// FetchConfig configures the fetch worker pool.
type FetchConfig struct {
	Workers        int      `yaml:"workers" mapstructure:"workers"`
	MaxAttempts    int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent      string   `yaml:"user_agent" mapstructure:"user_agent"`
	AllowedTypes   []string `yaml:"allowed_content_types" mapstructure:"allowed_content_types"`
	DefaultRatePS  float64  `yaml:"default_rate_per_sec" mapstructure:"default_rate_per_sec"`
	DefaultBurst   int      `yaml:"default_burst" mapstructure:"default_burst"`
	BrowserTimeout int      `yaml:"browser_timeout_secs" mapstructure:"browser_timeout_secs"`
}

// ExtractConfig configures text extraction quality gates.
type ExtractConfig struct {
	MinChars        int     `yaml:"min_chars" mapstructure:"min_chars"`
	MinInkRatio     float64 `yaml:"min_ink_ratio" mapstructure:"min_ink_ratio"`
	MinPDFDensity   float64 `yaml:"min_pdf_density" mapstructure:"min_pdf_density"`
	QualityMinScore float64 `yaml:"quality_min_score" mapstructure:"quality_min_score"`
}

// InferenceConfig configures the LLM extraction stage.
type InferenceConfig struct {
	Workers          int    `yaml:"workers" mapstructure:"workers"`
	ChunkTokenBudget int    `yaml:"chunk_token_budget" mapstructure:"chunk_token_budget"`
	CacheDir         string `yaml:"cache_dir" mapstructure:"cache_dir"`
	ExtractorVersion string `yaml:"extractor_version" mapstructure:"extractor_version"`
}

// NormalizeConfig configures validation and normalization.
type NormalizeConfig struct {
	CostTolerance    float64 `yaml:"cost_tolerance" mapstructure:"cost_tolerance"`
	OutlierThreshold float64 `yaml:"outlier_threshold" mapstructure:"outlier_threshold"`
}

// SnapshotConfig configures the snapshot ledger and data layout.
type SnapshotConfig struct {
	DataDir    string `yaml:"data_dir" mapstructure:"data_dir"`
	LedgerPath string `yaml:"ledger_path" mapstructure:"ledger_path"`
}

// PublishConfig configures the publisher.
type PublishConfig struct {
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FSETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("search.database", "flightschool")
	v.SetDefault("search.collection", "schools")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("fallback.base_url", "https://api.perplexity.ai")
	v.SetDefault("fallback.model", "sonar-pro")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("sources.path", "configs/sources.yaml")
	v.SetDefault("sources.facility_registry_path", "configs/facilities.yaml")
	v.SetDefault("sources.overrides_path", "configs/overrides.yaml")
	v.SetDefault("fetch.workers", 8)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.user_agent", "flightschool-etl/1.0 (+https://wheelsup-data.com)")
	v.SetDefault("fetch.allowed_content_types", []string{"text/html", "application/pdf"})
	v.SetDefault("fetch.default_rate_per_sec", 1.0)
	v.SetDefault("fetch.default_burst", 2)
	v.SetDefault("fetch.browser_timeout_secs", 60)
	v.SetDefault("extract.min_chars", 200)
	v.SetDefault("extract.min_ink_ratio", 0.5)
	v.SetDefault("extract.min_pdf_density", 10.0)
	v.SetDefault("extract.quality_min_score", 0.6)
	v.SetDefault("inference.workers", 4)
	v.SetDefault("inference.chunk_token_budget", 6000)
	v.SetDefault("inference.cache_dir", "data/inference_cache")
	v.SetDefault("inference.extractor_version", "v2.3.0")
	v.SetDefault("normalize.cost_tolerance", 0.20)
	v.SetDefault("normalize.outlier_threshold", 1.5)
	v.SetDefault("snapshot.data_dir", "data")
	v.SetDefault("snapshot.ledger_path", "data/snapshots.db")
	v.SetDefault("publish.batch_size", 100)
	v.SetDefault("publish.max_attempts", 3)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
