// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"recipestore/internal/logger"
)

const (
	payOSLiveBase = "https://api-merchant.payos.vn"

	defaultSessionTTL        = 7 * 24 * time.Hour
	defaultCleanupInterval   = 15 * time.Minute
	defaultReconcileInterval = 5 * time.Minute
	defaultPendingOrderTTL   = 24 * time.Hour
	defaultPaymentLinkTTL    = 15 * time.Minute

	defaultAuthRateInterval     = time.Second
	defaultCheckoutRateInterval = 3 * time.Second
)

type ServerConfig struct {
	Host          string
	Port          string
	AllowedOrigin string // For CORS
	PublicBaseURL string
}

type DatabaseConfig struct {
	Path string
}

type PayOSConfig struct {
	ClientID    string
	APIKey      string
	ChecksumKey string
	APIBase     string
	ReturnURL   string
	CancelURL   string
	LinkTTL     time.Duration
	// Mock skips webhook signature verification and allows missing credentials.
	Mock bool
}

type AuthConfig struct {
	SessionTTL time.Duration
}

type EmailConfig struct {
	AlertRecipient     string
	AlertSender        string
	ConfirmationSender string
	SendConfirmations  bool
	MockMode           bool
	SendmailPath       string
}

type CatalogConfig struct {
	PlansPath string
}

type NATSConfig struct {
	URL string
}

// RateLimitConfig is the minimum spacing between requests from one client.
type RateLimitConfig struct {
	Auth     time.Duration
	Checkout time.Duration
}

type JobsConfig struct {
	CleanupInterval   time.Duration
	ReconcileInterval time.Duration
	PendingOrderTTL   time.Duration
}

// Config is the full runtime configuration, assembled from the environment.
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	PayOS       PayOSConfig
	Auth        AuthConfig
	Email       EmailConfig
	Catalog     CatalogConfig
	NATS        NATSConfig
	RateLimit   RateLimitConfig
	Jobs        JobsConfig
}

//
// --- Utility Helpers ---
//

// Environment returns the current ENVIRONMENT value, "dev" when unset.
func Environment() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	return env
}

// Helper: get a setting based on ENVIRONMENT (dev or prod)
func GetEnvBasedSetting(base string) string {
	return os.Getenv(fmt.Sprintf("%s_%s", base, strings.ToUpper(Environment())))
}

// setting prefers the environment-specific value and falls back to the plain key.
func setting(base, def string) string {
	if v := GetEnvBasedSetting(base); v != "" {
		return v
	}
	if v := os.Getenv(base); v != "" {
		return v
	}
	return def
}

func durationSetting(base string, def time.Duration) time.Duration {
	raw := setting(base, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logger.LogWarn("Invalid %s: %q, using default %v", base, raw, def)
		return def
	}
	return d
}

func boolSetting(base string, def bool) bool {
	raw := setting(base, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		logger.LogWarn("Invalid %s: %q, using default %v", base, raw, def)
		return def
	}
	return b
}

// Helper: log which environment is running
func LogCurrentEnvironment() {
	if Environment() == "dev" {
		logger.LogInfo("Running in development environment")
	} else {
		logger.LogInfo("Running in production environment")
	}
}

//
// --- Loaders ---
//

// LoadEnv reads .env file
func LoadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("Could not determine working directory: %v", err)
	}

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file found in %s. Using system environment variables.", wd)
	} else {
		log.Printf("Loaded environment variables from .env file in %s", wd)
	}
}

// LoggerConfig returns a logger.Config struct populated from environment
func LoggerConfig() logger.Config {
	return logger.Config{
		LogsDirectory: setting("LOGS_DIRECTORY", "./logs"),
		LogFileFormat: setting("LOG_FILE_FORMAT", "server_%s.log"),
		TimeZone:      setting("TIME_ZONE", "Local"),
		Debug:         boolSetting("LOG_DEBUG", false),
	}
}

// Load assembles the Config from the environment and validates it.
func Load() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg := &Config{
		Environment: Environment(),
		Server: ServerConfig{
			Host:          setting("SERVER_HOST", "127.0.0.1"),
			Port:          setting("SERVER_PORT", "5051"),
			AllowedOrigin: setting("ALLOWED_ORIGIN", ""),
			PublicBaseURL: strings.TrimRight(setting("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		},
		Database: DatabaseConfig{
			Path: setting("DATABASE_PATH", filepath.Join(wd, "data", "recipestore.db")),
		},
		PayOS: PayOSConfig{
			ClientID:    os.Getenv("PAYOS_CLIENT_ID"),
			APIKey:      os.Getenv("PAYOS_API_KEY"),
			ChecksumKey: os.Getenv("PAYOS_CHECKSUM_KEY"),
			APIBase:     strings.TrimRight(setting("PAYOS_API_BASE", payOSLiveBase), "/"),
			LinkTTL:     durationSetting("PAYOS_LINK_TTL", defaultPaymentLinkTTL),
			Mock:        os.Getenv("PAYOS_MOCK") == "true",
		},
		Auth: AuthConfig{
			SessionTTL: durationSetting("SESSION_TTL", defaultSessionTTL),
		},
		Email: EmailConfig{
			AlertRecipient:     setting("EMAIL_ALERT_RECIPIENT", "admin@recipestore.local"),
			AlertSender:        setting("EMAIL_ALERT_SENDER", "alerts@recipestore.local"),
			ConfirmationSender: setting("EMAIL_CONFIRMATION_SENDER", "noreply@recipestore.local"),
			SendConfirmations:  boolSetting("SEND_CONFIRMATION_EMAILS", true),
			MockMode:           boolSetting("EMAIL_MOCK_MODE", false),
			SendmailPath:       setting("SENDMAIL_PATH", "/usr/sbin/sendmail"),
		},
		Catalog: CatalogConfig{
			PlansPath: setting("PLANS_PATH", filepath.Join(wd, "plans.yaml")),
		},
		NATS: NATSConfig{
			URL: setting("NATS_URL", ""),
		},
		RateLimit: RateLimitConfig{
			Auth:     durationSetting("AUTH_RATE_INTERVAL", defaultAuthRateInterval),
			Checkout: durationSetting("CHECKOUT_RATE_INTERVAL", defaultCheckoutRateInterval),
		},
		Jobs: JobsConfig{
			CleanupInterval:   durationSetting("CLEANUP_INTERVAL", defaultCleanupInterval),
			ReconcileInterval: durationSetting("RECONCILE_INTERVAL", defaultReconcileInterval),
			PendingOrderTTL:   durationSetting("PENDING_ORDER_TTL", defaultPendingOrderTTL),
		},
	}

	cfg.PayOS.ReturnURL = setting("PAYOS_RETURN_URL", cfg.Server.PublicBaseURL+"/premium/success")
	cfg.PayOS.CancelURL = setting("PAYOS_CANCEL_URL", cfg.Server.PublicBaseURL+"/premium/cancel")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.PayOS.Mock {
		logger.LogWarn("PAYOS_MOCK enabled. Webhook signatures are NOT verified.")
	} else if c.PayOS.ClientID == "" || c.PayOS.APIKey == "" || c.PayOS.ChecksumKey == "" {
		return fmt.Errorf("PayOS credentials are missing or incomplete")
	}

	if c.Server.AllowedOrigin == "" {
		c.Server.AllowedOrigin = "*"
		logger.LogWarn("ALLOWED_ORIGIN not set, using '*' (allow all origins)")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("DATABASE_PATH must not be empty")
	}
	return nil
}

// Addr builds the server address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
