package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/layout"
	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/records"
	"github.com/MeKo-Tech/labelscan/internal/staging"
	"github.com/MeKo-Tech/labelscan/internal/store"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// Config represents the complete configuration of labelscan. It is loaded
// from configuration files, environment variables and command-line flags.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output" json:"output"`
	Staging   StagingConfig   `mapstructure:"staging" yaml:"staging" json:"staging"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database" json:"database"`
	Reference ReferenceConfig `mapstructure:"reference" yaml:"reference" json:"reference"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Batch     BatchConfig     `mapstructure:"batch" yaml:"batch" json:"batch"`
}

// PipelineConfig contains barcode analysis settings.
type PipelineConfig struct {
	OrderPolicy    string        `mapstructure:"order_policy" yaml:"order_policy" json:"order_policy"`
	ExtentMode     string        `mapstructure:"extent_mode" yaml:"extent_mode" json:"extent_mode"`
	Formats        []string      `mapstructure:"formats" yaml:"formats" json:"formats"`
	TryHarder      bool          `mapstructure:"try_harder" yaml:"try_harder" json:"try_harder"`
	Multi          bool          `mapstructure:"multi" yaml:"multi" json:"multi"`
	MaxImageSize   int           `mapstructure:"max_image_size" yaml:"max_image_size" json:"max_image_size"`
	MinImageSize   int           `mapstructure:"min_image_size" yaml:"min_image_size" json:"min_image_size"`
	Overlay        OverlayConfig `mapstructure:"overlay" yaml:"overlay" json:"overlay"`
	AnnotateAlways bool          `mapstructure:"annotate_always" yaml:"annotate_always" json:"annotate_always"`
}

// OverlayConfig contains annotation colours and sizes.
type OverlayConfig struct {
	BoxColor        string `mapstructure:"box_color" yaml:"box_color" json:"box_color"`
	LabelColor      string `mapstructure:"label_color" yaml:"label_color" json:"label_color"`
	LabelBackground string `mapstructure:"label_background" yaml:"label_background" json:"label_background"`
	Thickness       int    `mapstructure:"thickness" yaml:"thickness" json:"thickness"`
	Padding         int    `mapstructure:"padding" yaml:"padding" json:"padding"`
}

// OutputConfig contains CLI output settings.
type OutputConfig struct {
	Format     string `mapstructure:"format" yaml:"format" json:"format"`
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	OverlayDir string `mapstructure:"overlay_dir" yaml:"overlay_dir" json:"overlay_dir"`
}

// StagingConfig names the directories results are staged in.
type StagingConfig struct {
	Root         string `mapstructure:"root" yaml:"root" json:"root"`
	UploadDir    string `mapstructure:"upload_dir" yaml:"upload_dir" json:"upload_dir"`
	ProcessedDir string `mapstructure:"processed_dir" yaml:"processed_dir" json:"processed_dir"`
	ResultsDir   string `mapstructure:"results_dir" yaml:"results_dir" json:"results_dir"`
	KeepUploads  bool   `mapstructure:"keep_uploads" yaml:"keep_uploads" json:"keep_uploads"`
	// RetentionHours is how long unsubmitted artefacts are kept; 0 keeps them.
	RetentionHours int `mapstructure:"retention_hours" yaml:"retention_hours" json:"retention_hours"`
}

// DatabaseConfig selects the persistence sink.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	Path   string `mapstructure:"path" yaml:"path" json:"path"`
	Schema string `mapstructure:"schema" yaml:"schema" json:"schema"`
}

// ReferenceConfig points at the vendor and meaning lists.
type ReferenceConfig struct {
	Path   string `mapstructure:"path" yaml:"path" json:"path"`
	Strict bool   `mapstructure:"strict" yaml:"strict" json:"strict"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	RateLimitEnabled  bool  `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// BatchConfig contains multi-image analysis settings.
type BatchConfig struct {
	Workers         int  `mapstructure:"workers" yaml:"workers" json:"workers"`
	Recursive       bool `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	pc := pipeline.DefaultConfig()
	ov := pipeline.DefaultOverlayConfig()
	st := staging.DefaultConfig()
	db := store.DefaultConfig()
	return Config{
		LogLevel: "info",
		Pipeline: PipelineConfig{
			OrderPolicy:  pc.OrderPolicy.String(),
			ExtentMode:   pc.ExtentMode.String(),
			Formats:      []string{},
			TryHarder:    pc.Barcode.TryHarder,
			Multi:        pc.Barcode.Multi,
			MaxImageSize: pc.Constraints.MaxWidth,
			MinImageSize: pc.Constraints.MinWidth,
			Overlay: OverlayConfig{
				BoxColor:        ov.BoxColor,
				LabelColor:      ov.LabelColor,
				LabelBackground: ov.LabelBackground,
				Thickness:       ov.Thickness,
				Padding:         ov.Padding,
			},
			AnnotateAlways: pc.AnnotateOnAnalyze,
		},
		Output: OutputConfig{Format: "json"},
		Staging: StagingConfig{
			Root:           "data",
			KeepUploads:    st.KeepUploads,
			RetentionHours: int(st.Retention / time.Hour),
		},
		Database: DatabaseConfig{
			Driver: db.Driver,
			Path:   db.Path,
			Schema: db.Schema.String(),
		},
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8080,
			CORSOrigin:        "*",
			MaxUploadMB:       20,
			TimeoutSec:        30,
			ShutdownTimeout:   10,
			RequestsPerMinute: 60,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     500 * 1024 * 1024,
		},
		Batch: BatchConfig{Workers: 4, ContinueOnError: true},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json", "csv"}
	if c.Output.Format != "" && !contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if _, err := c.ToPipelineConfig(); err != nil {
		return err
	}
	if _, err := records.ParseSchema(c.Database.Schema); err != nil {
		return fmt.Errorf("invalid database.schema: %w", err)
	}
	switch strings.ToLower(c.Database.Driver) {
	case store.DriverSQLite, "":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case store.DriverPostgres, "postgresql", "pgx":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite or postgres)", c.Database.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimitEnabled && c.Server.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid requests per minute: %d (must be positive)", c.Server.RequestsPerMinute)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	return nil
}

// ToPipelineConfig converts the config to the pipeline configuration.
func (c *Config) ToPipelineConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()

	policy, err := layout.ParseOrderPolicy(c.Pipeline.OrderPolicy)
	if err != nil {
		return cfg, fmt.Errorf("invalid pipeline.order_policy: %w", err)
	}
	mode, err := layout.ParseExtentMode(c.Pipeline.ExtentMode)
	if err != nil {
		return cfg, fmt.Errorf("invalid pipeline.extent_mode: %w", err)
	}
	cfg.OrderPolicy = policy
	cfg.ExtentMode = mode
	cfg.Barcode.Formats = c.Pipeline.Formats
	cfg.Barcode.TryHarder = c.Pipeline.TryHarder
	cfg.Barcode.Multi = c.Pipeline.Multi
	cfg.AnnotateOnAnalyze = c.Pipeline.AnnotateAlways

	cons := utils.DefaultImageConstraints()
	if c.Pipeline.MaxImageSize > 0 {
		cons.MaxWidth, cons.MaxHeight = c.Pipeline.MaxImageSize, c.Pipeline.MaxImageSize
	}
	if c.Pipeline.MinImageSize > 0 {
		cons.MinWidth, cons.MinHeight = c.Pipeline.MinImageSize, c.Pipeline.MinImageSize
	}
	cfg.Constraints = cons

	ov := c.Pipeline.Overlay
	cfg.Overlay = pipeline.OverlayConfig{
		BoxColor:        ov.BoxColor,
		LabelColor:      ov.LabelColor,
		LabelBackground: ov.LabelBackground,
		Thickness:       ov.Thickness,
		Padding:         ov.Padding,
	}

	if err := pipeline.NewBuilder().WithConfig(cfg).Validate(); err != nil {
		return cfg, fmt.Errorf("invalid pipeline configuration: %w", err)
	}
	return cfg, nil
}

// ToStoreConfig converts the database section to a store configuration.
func (c *Config) ToStoreConfig() (store.Config, error) {
	schema, err := records.ParseSchema(c.Database.Schema)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver: c.Database.Driver,
		DSN:    c.Database.DSN,
		Path:   c.Database.Path,
		Schema: schema,
	}, nil
}

// ToStagingConfig resolves the staging directories. Explicit directories
// win over the ones derived from Root.
func (c *Config) ToStagingConfig() staging.Config {
	root := c.Staging.Root
	if root == "" {
		root = "data"
	}
	cfg := staging.ConfigUnder(root)
	if c.Staging.UploadDir != "" {
		cfg.UploadDir = c.Staging.UploadDir
	}
	if c.Staging.ProcessedDir != "" {
		cfg.ProcessedDir = c.Staging.ProcessedDir
	}
	if c.Staging.ResultsDir != "" {
		cfg.ResultsDir = c.Staging.ResultsDir
	}
	cfg.KeepUploads = c.Staging.KeepUploads
	cfg.Retention = time.Duration(max(c.Staging.RetentionHours, 0)) * time.Hour
	return cfg
}

// Timeout returns the server request timeout.
func (s ServerConfig) Timeout() time.Duration { return time.Duration(s.TimeoutSec) * time.Second }

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
