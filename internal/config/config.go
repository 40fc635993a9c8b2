package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"bookkeeper/internal/core"
	"bookkeeper/internal/delivery"
	"bookkeeper/internal/log"
	"bookkeeper/internal/storage"
)

type Config struct {
	LogLevel string

	// Persistence
	DataBackend   string
	StateFilePath string
	SQLiteDBPath  string

	// Ledger and reports
	MaxRecords     int
	MaxReportItems int
	CurrencySymbol string
	DedupWindow    int

	// Initial settings, used only until an admin changes them
	AutoExtractEnabled   bool
	DailyReportEnabled   bool
	DailyReportTime      string
	MonthlyReportEnabled bool
	MonthlyReportDay     int
	MonthlyReportTime    string
	ScheduleTimezone     string
	WhitelistEnabled     bool
	WhitelistAdminBypass bool
	WhitelistUserIDs     []string

	// HTTP Server
	HTTPEnabled        bool
	Port               string
	RateLimitPerMinute int

	// AMQP
	AMQPURL          string
	AMQPExchange     string
	AMQPExpenseQueue string
	AMQPReportQueue  string

	// Report delivery
	DeliveryBackend     string
	DeliveryTimeout     time.Duration
	DeliveryConcurrency int
	DiscordBotToken     string

	// Google Sheets mirror
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string
}

func Load() *Config {
	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DataBackend:   getEnv("DATA_BACKEND", storage.BackendFile),
		StateFilePath: getEnv("STATE_FILE_PATH", "./data/bookkeeper.json"),
		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/bookkeeper.db"),

		MaxRecords:     getEnvInt("MAX_RECORDS", 5000),
		MaxReportItems: getEnvInt("MAX_REPORT_ITEMS", 100),
		CurrencySymbol: getEnv("CURRENCY_SYMBOL", "元"),
		DedupWindow:    getEnvInt("DEDUP_WINDOW", 30),

		AutoExtractEnabled:   getEnvBool("AUTO_EXTRACT_ENABLED", true),
		DailyReportEnabled:   getEnvBool("DAILY_REPORT_ENABLED", false),
		DailyReportTime:      getEnv("DAILY_REPORT_TIME", "21:30"),
		MonthlyReportEnabled: getEnvBool("MONTHLY_REPORT_ENABLED", false),
		MonthlyReportDay:     getEnvInt("MONTHLY_REPORT_DAY", 1),
		MonthlyReportTime:    getEnv("MONTHLY_REPORT_TIME", "21:30"),
		ScheduleTimezone:     getEnv("SCHEDULE_TIMEZONE", ""),
		WhitelistEnabled:     getEnvBool("WHITELIST_ENABLED", false),
		WhitelistAdminBypass: getEnvBool("WHITELIST_ADMIN_BYPASS", true),
		WhitelistUserIDs:     getEnvList("WHITELIST_USER_IDS"),

		HTTPEnabled:        getEnvBool("HTTP_ENABLED", true),
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		AMQPURL:          getEnv("AMQP_URL", ""),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "bookkeeper"),
		AMQPExpenseQueue: getEnv("AMQP_EXPENSE_QUEUE", "expense_facts"),
		AMQPReportQueue:  getEnv("AMQP_REPORT_QUEUE", "reports"),

		DeliveryBackend:     getEnv("DELIVERY_BACKEND", delivery.BackendLog),
		DeliveryTimeout:     getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second),
		DeliveryConcurrency: getEnvInt("DELIVERY_CONCURRENCY", 4),
		DiscordBotToken:     getEnv("DISCORD_BOT_TOKEN", ""),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Expenses"),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate data backend
	validBackends := []string{storage.BackendFile, storage.BackendSQLite, storage.BackendMemory}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}
	if c.DataBackend == storage.BackendFile && strings.TrimSpace(c.StateFilePath) == "" {
		errors = append(errors, "state file path cannot be empty when using file backend")
	}
	if c.DataBackend == storage.BackendSQLite && strings.TrimSpace(c.SQLiteDBPath) == "" {
		errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
	}

	if c.MaxRecords < 1 {
		errors = append(errors, fmt.Sprintf("invalid max records %d: must be at least 1", c.MaxRecords))
	}
	if c.MaxReportItems < 1 {
		errors = append(errors, fmt.Sprintf("invalid max report items %d: must be at least 1", c.MaxReportItems))
	}
	if c.DedupWindow < 1 {
		errors = append(errors, fmt.Sprintf("invalid dedup window %d: must be at least 1", c.DedupWindow))
	}

	// Validate initial schedule
	if _, err := c.ScheduleConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if tz := strings.TrimSpace(c.ScheduleTimezone); !core.IsSystemTimezone(tz) {
		if _, err := time.LoadLocation(tz); err != nil {
			errors = append(errors, fmt.Sprintf("invalid schedule timezone '%s': %v", tz, err))
		}
	}

	// Validate port
	if c.HTTPEnabled {
		if port, err := strconv.Atoi(c.Port); err != nil {
			errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPExpenseQueue == "" {
			errors = append(errors, "AMQP expense queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPReportQueue == "" {
			errors = append(errors, "AMQP report queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate delivery
	validDeliveries := []string{delivery.BackendLog, delivery.BackendAMQP, delivery.BackendDiscord}
	switch {
	case !slices.Contains(validDeliveries, c.DeliveryBackend):
		errors = append(errors, fmt.Sprintf("invalid delivery backend '%s': must be one of %v", c.DeliveryBackend, validDeliveries))
	case c.DeliveryBackend == delivery.BackendAMQP && c.AMQPURL == "":
		errors = append(errors, "AMQP_URL is required when using amqp delivery")
	case c.DeliveryBackend == delivery.BackendDiscord && c.DiscordBotToken == "":
		errors = append(errors, "DISCORD_BOT_TOKEN is required when using discord delivery")
	}
	if c.DeliveryTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid delivery timeout %v: must be at least 1 second", c.DeliveryTimeout))
	}
	if c.DeliveryConcurrency < 1 {
		errors = append(errors, fmt.Sprintf("invalid delivery concurrency %d: must be at least 1", c.DeliveryConcurrency))
	}

	// Validate Google Sheets mirror if enabled
	if c.SheetsEnabled() {
		if strings.TrimSpace(c.GoogleSheetName) == "" {
			errors = append(errors, "Google Sheet name is required when the sheets mirror is enabled")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// SheetsEnabled reports whether accepted records are mirrored to Sheets.
func (c *Config) SheetsEnabled() bool {
	return strings.TrimSpace(c.GoogleSpreadsheetID) != ""
}

// AMQPEnabled reports whether the fact consumer should run.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// ScheduleConfig builds the initial schedule from the environment.
func (c *Config) ScheduleConfig() (core.ScheduleConfig, error) {
	daily, err := core.ParseClockTime(c.DailyReportTime)
	if err != nil {
		return core.ScheduleConfig{}, fmt.Errorf("invalid daily report time '%s': %v", c.DailyReportTime, err)
	}
	monthly, err := core.ParseClockTime(c.MonthlyReportTime)
	if err != nil {
		return core.ScheduleConfig{}, fmt.Errorf("invalid monthly report time '%s': %v", c.MonthlyReportTime, err)
	}
	tz := strings.TrimSpace(c.ScheduleTimezone)
	if core.IsSystemTimezone(tz) {
		tz = ""
	}
	sc := core.ScheduleConfig{
		DailyEnabled:   c.DailyReportEnabled,
		DailyTime:      daily,
		MonthlyEnabled: c.MonthlyReportEnabled,
		MonthlyDay:     c.MonthlyReportDay,
		MonthlyTime:    monthly,
		Timezone:       tz,
	}
	if err := sc.Validate(); err != nil {
		return core.ScheduleConfig{}, fmt.Errorf("invalid report schedule: %v", err)
	}
	return sc, nil
}

// DefaultState is the state seeded when nothing has been persisted yet.
func (c *Config) DefaultState() (core.State, error) {
	sc, err := c.ScheduleConfig()
	if err != nil {
		return core.State{}, err
	}
	return core.State{
		Whitelist: core.Whitelist{
			Enabled:     c.WhitelistEnabled,
			AdminBypass: c.WhitelistAdminBypass,
			SenderIDs:   core.CleanSenderIDs(c.WhitelistUserIDs),
		},
		Schedule:    sc,
		AutoExtract: c.AutoExtractEnabled,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
