package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port     string
	LogLevel string
	LogJSON  bool

	// Database
	SQLiteDBPath string

	// Identity
	AccountEmail   string
	AccountIDToken string
	AuthJWTSecret  string

	// Remote document store
	RemoteBackend string
	S3Endpoint    string
	S3Bucket      string
	S3Region      string
	S3AccessKey   string
	S3SecretKey   string

	// AMQP
	AMQPURL         string
	AMQPExchange    string
	AMQPSyncQueue   string
	AMQPNotifyQueue string

	// Google Sheets report export
	GoogleSpreadsheetID       string
	GoogleReportSheetName     string
	GoogleCategoriesSheetName string
	GoogleServiceAccountJSON  string
	GoogleServiceAccountFile  string

	// Web push
	VAPIDPublicKey        string
	VAPIDPrivateKey       string
	VAPIDSubscriber       string
	PushSubscriptionsFile string

	// Sync and scheduling
	SyncInterval     time.Duration
	SyncTimeout      time.Duration
	SyncMaxAttempts  int
	ReminderInterval time.Duration
}

func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8081"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  getEnvBool("LOG_JSON", false),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/bilancio.db"),

		AccountEmail:   getEnv("ACCOUNT_EMAIL", ""),
		AccountIDToken: getEnv("ACCOUNT_ID_TOKEN", ""),
		AuthJWTSecret:  getEnv("AUTH_JWT_SECRET", ""),

		RemoteBackend: getEnv("REMOTE_BACKEND", "memory"),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3Bucket:      getEnv("S3_BUCKET", ""),
		S3Region:      getEnv("S3_REGION", "us-east-1"),
		S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:   getEnv("S3_SECRET_KEY", ""),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "bilancio"),
		AMQPSyncQueue:   getEnv("AMQP_SYNC_QUEUE", "sync_requests"),
		AMQPNotifyQueue: getEnv("AMQP_NOTIFY_ROUTING_KEY", "notifications"),

		GoogleSpreadsheetID:       getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleReportSheetName:     getEnv("GOOGLE_REPORT_SHEET_NAME", "Reports"),
		GoogleCategoriesSheetName: getEnv("GOOGLE_CATEGORIES_SHEET_NAME", "Categories"),
		GoogleServiceAccountJSON:  getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile:  getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		VAPIDPublicKey:        getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey:       getEnv("VAPID_PRIVATE_KEY", ""),
		VAPIDSubscriber:       getEnv("VAPID_SUBSCRIBER", "mailto:admin@example.com"),
		PushSubscriptionsFile: getEnv("PUSH_SUBSCRIPTIONS_FILE", ""),

		SyncInterval:     getEnvDuration("SYNC_INTERVAL", 15*time.Minute),
		SyncTimeout:      getEnvDuration("SYNC_TIMEOUT", 30*time.Second),
		SyncMaxAttempts:  getEnvInt("SYNC_MAX_ATTEMPTS", 1),
		ReminderInterval: getEnvDuration("REMINDER_INTERVAL", 24*time.Hour),
	}
}

// AMQPEnabled reports whether a broker is configured.
func (c *Config) AMQPEnabled() bool { return c.AMQPURL != "" }

// SheetsEnabled reports whether report export to Google Sheets is configured.
func (c *Config) SheetsEnabled() bool { return c.GoogleSpreadsheetID != "" }

// WebPushEnabled reports whether both VAPID keys are set.
func (c *Config) WebPushEnabled() bool { return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != "" }

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	if c.AccountEmail == "" && c.AuthJWTSecret == "" {
		errors = append(errors, "either ACCOUNT_EMAIL or AUTH_JWT_SECRET must be provided")
	}
	if c.AccountEmail != "" && !strings.Contains(c.AccountEmail, "@") {
		errors = append(errors, fmt.Sprintf("invalid account email '%s'", c.AccountEmail))
	}

	switch c.RemoteBackend {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			errors = append(errors, "S3 bucket is required when using s3 remote backend")
		}
		if c.S3AccessKey == "" || c.S3SecretKey == "" {
			errors = append(errors, "S3 access key and secret key are required when using s3 remote backend")
		}
		if c.S3Endpoint != "" {
			if u, err := url.Parse(c.S3Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
				errors = append(errors, fmt.Sprintf("invalid S3 endpoint '%s'", c.S3Endpoint))
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid remote backend '%s': must be one of [memory s3]", c.RemoteBackend))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPSyncQueue == "" || c.AMQPNotifyQueue == "" {
			errors = append(errors, "AMQP queue names cannot be empty when AMQP URL is provided")
		}
	}

	if c.SheetsEnabled() {
		if c.GoogleReportSheetName == "" {
			errors = append(errors, "Google report sheet name is required when a spreadsheet is configured")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		errors = append(errors, "VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	if c.SyncInterval != 0 && c.SyncInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be 0 (disabled) or at least 1 minute", c.SyncInterval))
	}
	if c.SyncTimeout < time.Second || c.SyncTimeout > 10*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid sync timeout %v: must be between 1 second and 10 minutes", c.SyncTimeout))
	}
	if c.SyncMaxAttempts < 1 || c.SyncMaxAttempts > 10 {
		errors = append(errors, fmt.Sprintf("invalid sync max attempts %d: must be between 1 and 10", c.SyncMaxAttempts))
	}
	if c.ReminderInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid reminder interval %v: must be at least 1 minute", c.ReminderInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
