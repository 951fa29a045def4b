package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Settlement modes.
const (
	SettlementDirect    = "direct"
	SettlementConverted = "converted"
)

// Downstream delivery strategies.
const (
	DownstreamHTTP     = "http"
	DownstreamDatabase = "database"
)

// Admin alert transports.
const (
	AlertNone     = "none"
	AlertSMTP     = "smtp"
	AlertSendGrid = "sendgrid"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string
	WebhookTolerance    time.Duration
	WebhookReplayTTL    time.Duration
	WebhookClaimTTL     time.Duration

	SettlementMode     string
	SourceCurrency     string
	SettlementCurrency string
	RateAPIURL         string
	RateTimeout        time.Duration

	DownstreamMode    string
	DownstreamURL     string
	DownstreamAPIKey  string
	DownstreamTimeout time.Duration

	DatabaseURL      string
	DBRunMigrations  bool
	FallbackLogPath  string
	ConfirmOrderKey  string
	CreatePayRate    string
	RedisURL         string
	AlertQueue       bool
	AlertTransport   string
	AdminEmail       string
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPass         string
	SMTPFrom         string
	SendGridAPIKey   string
	CircuitMinReq    int
	CircuitFailRatio float64
	CircuitOpenFor   time.Duration

	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	TracingEnabled   bool
	OTLPEndpoint     string
	TracingSampling  float64
	ShutdownDeadline time.Duration
}

// Load reads the API configuration from environment variables and optional
// .env files.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWorker reads the configuration for the alert worker. Only the queue
// and mail transport settings are validated.
func LoadWorker() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateWorker(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "3000"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64<<10)),

		StripeSecretKey:     strings.TrimSpace(k.String("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(k.String("STRIPE_WEBHOOK_SECRET")),
		StripeAPIURL:        strings.TrimSpace(k.String("STRIPE_API_URL")),
		WebhookTolerance:    parseDuration(k.String("WEBHOOK_TOLERANCE"), "5m"),
		WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookClaimTTL:     parseDuration(k.String("WEBHOOK_CLAIM_TTL"), "2m"),

		SettlementMode: strings.ToLower(valueOrDefault(k.String("SETTLEMENT_MODE"), SettlementDirect)),
		SourceCurrency: strings.ToLower(valueOrDefault(k.String("SOURCE_CURRENCY"), "php")),
		RateAPIURL:     valueOrDefault(k.String("RATE_API_URL"), "https://open.er-api.com/v6/latest/{from}"),
		RateTimeout:    parseDuration(k.String("RATE_TIMEOUT"), "10s"),

		DownstreamMode:    strings.ToLower(valueOrDefault(k.String("DOWNSTREAM_MODE"), DownstreamHTTP)),
		DownstreamURL:     strings.TrimSpace(k.String("DOWNSTREAM_API_URL")),
		DownstreamAPIKey:  strings.TrimSpace(k.String("DOWNSTREAM_API_KEY")),
		DownstreamTimeout: parseDuration(k.String("DOWNSTREAM_TIMEOUT"), "10s"),

		DatabaseURL:      databaseURL(k),
		DBRunMigrations:  parseBoolDefault(k.String("DB_RUN_MIGRATIONS"), true),
		FallbackLogPath:  valueOrDefault(k.String("FALLBACK_LOG_PATH"), "fallback_orders.json"),
		ConfirmOrderKey:  strings.TrimSpace(k.String("CONFIRM_ORDER_API_KEY")),
		CreatePayRate:    valueOrDefault(k.String("CREATE_PAYMENT_RATE"), "30-M"),
		RedisURL:         strings.TrimSpace(k.String("REDIS_URL")),
		AlertQueue:       parseBool(k.String("ALERT_QUEUE_ENABLED")),
		AdminEmail:       strings.TrimSpace(k.String("ADMIN_EMAIL")),
		SMTPHost:         strings.TrimSpace(k.String("SMTP_HOST")),
		SMTPPort:         parseInt(k.String("SMTP_PORT"), 587),
		SMTPUser:         strings.TrimSpace(k.String("SMTP_USER")),
		SMTPPass:         k.String("SMTP_PASS"),
		SMTPFrom:         strings.TrimSpace(k.String("SMTP_FROM")),
		SendGridAPIKey:   strings.TrimSpace(k.String("SENDGRID_API_KEY")),
		CircuitMinReq:    parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:   parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled:   parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING")),
		OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		ShutdownDeadline: parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
	}

	cfg.SettlementCurrency = strings.ToLower(strings.TrimSpace(k.String("SETTLEMENT_CURRENCY")))
	if cfg.SettlementCurrency == "" {
		if cfg.SettlementMode == SettlementConverted {
			cfg.SettlementCurrency = "usd"
		} else {
			cfg.SettlementCurrency = cfg.SourceCurrency
		}
	}
	cfg.AlertTransport = strings.ToLower(strings.TrimSpace(k.String("ALERT_TRANSPORT")))
	if cfg.AlertTransport == "" {
		switch {
		case cfg.SMTPHost != "":
			cfg.AlertTransport = AlertSMTP
		case cfg.SendGridAPIKey != "":
			cfg.AlertTransport = AlertSendGrid
		default:
			cfg.AlertTransport = AlertNone
		}
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.StripeSecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	if c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	switch c.SettlementMode {
	case SettlementDirect:
		if c.SettlementCurrency != c.SourceCurrency {
			errs = append(errs, fmt.Errorf("SETTLEMENT_CURRENCY %q must equal SOURCE_CURRENCY %q in direct mode", c.SettlementCurrency, c.SourceCurrency))
		}
	case SettlementConverted:
		if !strings.Contains(c.RateAPIURL, "{from}") {
			errs = append(errs, errors.New("RATE_API_URL must contain a {from} placeholder"))
		}
	default:
		errs = append(errs, fmt.Errorf("SETTLEMENT_MODE %q is not one of direct, converted", c.SettlementMode))
	}
	switch c.DownstreamMode {
	case DownstreamHTTP:
		if c.DownstreamURL == "" {
			errs = append(errs, errors.New("DOWNSTREAM_API_URL is required when DOWNSTREAM_MODE=http"))
		} else if _, err := url.ParseRequestURI(c.DownstreamURL); err != nil {
			errs = append(errs, fmt.Errorf("DOWNSTREAM_API_URL: %w", err))
		}
	case DownstreamDatabase:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL or DB_HOST/DB_USER/DB_NAME is required when DOWNSTREAM_MODE=database"))
		}
	default:
		errs = append(errs, fmt.Errorf("DOWNSTREAM_MODE %q is not one of http, database", c.DownstreamMode))
	}
	errs = append(errs, c.validateAlertTransport()...)
	if c.AlertQueue && c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required when ALERT_QUEUE_ENABLED=true"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateWorker() error {
	errs := c.validateAlertTransport()
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required for the alert worker"))
	}
	if !c.AlertsEnabled() {
		errs = append(errs, errors.New("ADMIN_EMAIL and an alert transport are required for the alert worker"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateAlertTransport() []error {
	switch c.AlertTransport {
	case AlertNone:
	case AlertSMTP:
		if c.SMTPHost == "" {
			return []error{errors.New("SMTP_HOST is required when ALERT_TRANSPORT=smtp")}
		}
	case AlertSendGrid:
		if c.SendGridAPIKey == "" {
			return []error{errors.New("SENDGRID_API_KEY is required when ALERT_TRANSPORT=sendgrid")}
		}
	default:
		return []error{fmt.Errorf("ALERT_TRANSPORT %q is not one of none, smtp, sendgrid", c.AlertTransport)}
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "3000"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// AlertsEnabled reports whether fallback writes should notify an administrator.
func (c *Config) AlertsEnabled() bool {
	return c.AdminEmail != "" && c.AlertTransport != AlertNone
}

// AlertSender returns the From address used for admin alerts.
func (c *Config) AlertSender() string {
	if c.SMTPFrom != "" {
		return c.SMTPFrom
	}
	if c.SMTPUser != "" {
		return c.SMTPUser
	}
	return "payment-relay@localhost"
}

// databaseURL prefers DATABASE_URL and otherwise assembles a DSN from the
// discrete DB_* parameters.
func databaseURL(k *koanf.Koanf) string {
	if dsn := strings.TrimSpace(k.String("DATABASE_URL")); dsn != "" {
		return dsn
	}
	host := strings.TrimSpace(k.String("DB_HOST"))
	name := strings.TrimSpace(k.String("DB_NAME"))
	if host == "" || name == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, valueOrDefault(k.String("DB_PORT"), "5432")),
		Path:   "/" + name,
	}
	if user := strings.TrimSpace(k.String("DB_USER")); user != "" {
		if pass := k.String("DB_PASSWORD"); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	q := url.Values{}
	q.Set("sslmode", valueOrDefault(k.String("DB_SSLMODE"), "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad runs load and panics on error. Used by command entrypoints.
func MustLoad(load func() (*Config, error)) *Config {
	cfg, err := load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	return loadWithEnv(env, Load)
}

func loadWithEnv(env map[string]string, load func() (*Config, error)) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]*string) error {
	var errs []string
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
