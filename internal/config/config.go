package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

type Config struct {
	// Storage
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string

	// Optional JSON file loaded into the memory backend at startup
	MemorySeedFile string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Scheduler
	RecurringInterval time.Duration

	// Owner whose data the commands operate on
	OwnerID string

	// Presentation
	Locale   string
	Currency string

	// Summary cache
	SummaryCacheSize int
	SummaryCacheTTL  time.Duration

	// Google Sheets export
	GoogleSpreadsheetID   string
	GoogleTrendSheetName  string
	GoogleCredentialsFile string

	// Logging
	LogLevel  string
	LogFormat string
}

var (
	validBackends   = []string{"memory", "sqlite", "postgres"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("DATA_BACKEND", "sqlite")
	v.SetDefault("SQLITE_DB_PATH", "./data/fintrack.db")
	v.SetDefault("PGSQL_URL", "")
	v.SetDefault("MEMORY_SEED_FILE", "")

	v.SetDefault("AMQP_URL", "")
	v.SetDefault("AMQP_EXCHANGE", "fintrack")
	v.SetDefault("AMQP_QUEUE", "fintrack_changes")

	v.SetDefault("RECURRING_INTERVAL", "1h")
	v.SetDefault("OWNER_ID", "default")

	v.SetDefault("LOCALE", "en-US")
	v.SetDefault("CURRENCY", "USD")

	v.SetDefault("SUMMARY_CACHE_SIZE", 128)
	v.SetDefault("SUMMARY_CACHE_TTL", "15m")

	v.SetDefault("GOOGLE_SPREADSHEET_ID", "")
	v.SetDefault("GOOGLE_TREND_SHEET_NAME", "Trend")
	v.SetDefault("GOOGLE_APPLICATION_CREDENTIALS", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Load reads the configuration from the environment. Call godotenv first to
// pick up a local .env file.
func Load() *Config {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	return &Config{
		DataBackend:  strings.ToLower(v.GetString("DATA_BACKEND")),
		SQLiteDBPath: v.GetString("SQLITE_DB_PATH"),
		DatabaseURL:  v.GetString("PGSQL_URL"),

		MemorySeedFile: v.GetString("MEMORY_SEED_FILE"),

		AMQPURL:      v.GetString("AMQP_URL"),
		AMQPExchange: v.GetString("AMQP_EXCHANGE"),
		AMQPQueue:    v.GetString("AMQP_QUEUE"),

		RecurringInterval: v.GetDuration("RECURRING_INTERVAL"),
		OwnerID:           v.GetString("OWNER_ID"),

		Locale:   v.GetString("LOCALE"),
		Currency: strings.ToUpper(v.GetString("CURRENCY")),

		SummaryCacheSize: v.GetInt("SUMMARY_CACHE_SIZE"),
		SummaryCacheTTL:  v.GetDuration("SUMMARY_CACHE_TTL"),

		GoogleSpreadsheetID:   v.GetString("GOOGLE_SPREADSHEET_ID"),
		GoogleTrendSheetName:  v.GetString("GOOGLE_TREND_SHEET_NAME"),
		GoogleCredentialsFile: v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),

		LogLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if !contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errors = append(errors, "PGSQL_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid PGSQL_URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid PGSQL_URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	}

	// AMQP is optional; when set it must be complete.
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RecurringInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid recurring interval %v: must be at least 1 minute", c.RecurringInterval))
	} else if c.RecurringInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid recurring interval %v: must be at most 24 hours", c.RecurringInterval))
	}

	if strings.TrimSpace(c.OwnerID) == "" {
		errors = append(errors, "owner id cannot be empty")
	}

	if _, err := language.Parse(c.Locale); err != nil {
		errors = append(errors, fmt.Sprintf("invalid locale '%s': %v", c.Locale, err))
	}
	if _, err := currency.ParseISO(c.Currency); err != nil {
		errors = append(errors, fmt.Sprintf("invalid currency '%s': must be an ISO 4217 code", c.Currency))
	}

	if c.SummaryCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid summary cache size %d: must be at least 1", c.SummaryCacheSize))
	}
	if c.SummaryCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid summary cache TTL %v: must not be negative", c.SummaryCacheTTL))
	}

	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLogLevels))
	}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validLogFormats))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ValidateExport checks the settings the Google Sheets export needs.
func (c *Config) ValidateExport() error {
	var errors []string
	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required for export")
	}
	if c.GoogleTrendSheetName == "" {
		errors = append(errors, "GOOGLE_TREND_SHEET_NAME is required for export")
	}
	if len(errors) > 0 {
		return fmt.Errorf("export configuration invalid:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
