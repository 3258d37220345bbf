package config

import (
	"strings"
	"time"

	"instrument-verification-service/internal/dates"
	"instrument-verification-service/internal/reporter"
	"instrument-verification-service/internal/verifier"
	"instrument-verification-service/pkg/errors"
	"instrument-verification-service/pkg/logger"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. VERIFIER_STORE_PATH
const EnvPrefix = "VERIFIER"

// StoreConfig locates the SQLite database
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig enables the record cache and distributed locks when Address is set
type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ServiceConfig points at the check registry
type ServiceConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// CalendarConfig sets the civil time zone used for Gregorian conversion
type CalendarConfig struct {
	UTCOffsetMinutes int `mapstructure:"utc_offset_minutes"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	BasePath  string `mapstructure:"base_path"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// AppConfig is the full runtime configuration of the verifier binary
type AppConfig struct {
	Store        StoreConfig     `mapstructure:"store"`
	Redis        RedisConfig     `mapstructure:"redis"`
	Service      ServiceConfig   `mapstructure:"service"`
	Verification verifier.Config `mapstructure:"verification"`
	Calendar     CalendarConfig  `mapstructure:"calendar"`
	Server       ServerConfig    `mapstructure:"server"`
	Log          logger.Config   `mapstructure:"log"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal
func SetDefaults(v *viper.Viper) {
	def := verifier.DefaultConfig()
	v.SetDefault("store.path", "data/verifier.db")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.cache_ttl", 5*time.Minute)
	v.SetDefault("service.base_url", "")
	v.SetDefault("service.api_key", "")
	v.SetDefault("service.http_timeout", verifier.DefaultHTTPTimeout)
	v.SetDefault("verification.stagger", def.Stagger)
	v.SetDefault("verification.timeout", def.Timeout)
	v.SetDefault("verification.lock_ttl", def.LockTTL)
	v.SetDefault("verification.progress_interval", def.ProgressInterval)
	v.SetDefault("calendar.utc_offset_minutes", 210)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.base_path", "/v1")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("log.level", string(logger.InfoLevel))
	v.SetDefault("log.format", string(logger.TextFormat))
	v.SetDefault("log.output", string(logger.StderrOutput))
	v.SetDefault("log.file", "")
}

// BindEnv makes VERIFIER_SECTION_KEY override section.key
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes v into an AppConfig and validates it
func Load(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", nil, err).
			WithSuggestion("Check value types in the config file and environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that every command depends on
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "store.path", c.Store.Path, nil).
			WithSuggestion("Set store.path or VERIFIER_STORE_PATH")
	}
	if err := c.Verification.Validate(); err != nil {
		return err
	}
	if c.Service.HTTPTimeout < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "service.http_timeout", c.Service.HTTPTimeout, nil)
	}
	if c.Calendar.UTCOffsetMinutes < -12*60 || c.Calendar.UTCOffsetMinutes > 14*60 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "calendar.utc_offset_minutes", c.Calendar.UTCOffsetMinutes, nil).
			WithSuggestion("Use an offset between -720 and 840 minutes")
	}
	if err := c.Log.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log, err)
	}
	return nil
}

// RequireService fails when no registry endpoint is configured. Only the
// commands that call the registry need one.
func (c *AppConfig) RequireService() error {
	if strings.TrimSpace(c.Service.BaseURL) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "service.base_url", "", nil).
			WithSuggestion("Set service.base_url or VERIFIER_SERVICE_BASE_URL")
	}
	return nil
}

// RegistryTimeout is the HTTP client timeout for registry calls. It never
// exceeds verification.timeout; zero means the client default.
func (c *AppConfig) RegistryTimeout() time.Duration {
	timeout := c.Service.HTTPTimeout
	if timeout == 0 {
		timeout = verifier.DefaultHTTPTimeout
	}
	if c.Verification.Timeout > 0 && timeout > c.Verification.Timeout {
		timeout = c.Verification.Timeout
	}
	return timeout
}

// Location returns the calendar's fixed-offset time zone
func (c *AppConfig) Location() *time.Location {
	return time.FixedZone("local", c.Calendar.UTCOffsetMinutes*60)
}

// ApplyCalendar installs the configured time zone for date normalization
func (c *AppConfig) ApplyCalendar() {
	dates.SetDefaultLocation(c.Location())
}

// LoggerConfig returns the log configuration, forcing debug level when verbose
func (c *AppConfig) LoggerConfig(verbose bool) *logger.Config {
	cfg := c.Log
	if verbose {
		cfg.Level = logger.DebugLevel
	}
	return &cfg
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()

	switch format {
	case "json":
		config.Format = reporter.FormatJSON
	case "csv":
		config.Format = reporter.FormatCSV
		config.IncludeSkipped = false
		config.IncludeRas = false
	case "xlsx":
		config.Format = reporter.FormatXLSX
	default:
		config.Format = reporter.OutputFormat(format)
	}

	return config
}
