package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config is the process configuration. Every field is bound to one
// environment variable through envKeys.
type Config struct {
	AppEnv             string   `koanf:"app_env"`
	Port               string   `koanf:"port"`
	DatabaseURL        string   `koanf:"database_url"`
	RedisURL           string   `koanf:"redis_url"`
	JWTSecret          string   `koanf:"jwt_secret"`
	CORSAllowedOrigins []string `koanf:"cors_origins"`
	AutoMigrate        bool     `koanf:"auto_migrate"`

	Gateway  GatewayConfig  `koanf:"gateway"`
	Donation DonationConfig `koanf:"donation"`
	Queue    QueueConfig    `koanf:"queue"`
	Obs      ObsConfig      `koanf:"obs"`

	AccessTokenTTL    time.Duration `koanf:"access_token_ttl"`
	LoginRate         string        `koanf:"login_rate"`
	CreateOrderWindow time.Duration `koanf:"create_order_window"`
	CreateOrderMax    int           `koanf:"create_order_max"`
	BodyLimitBytes    int64         `koanf:"body_limit_bytes"`
	AuditEnabled      bool          `koanf:"audit_enabled"`
	AnalyticsCacheTTL time.Duration `koanf:"analytics_cache_ttl"`
	ReceiptsEnabled   bool          `koanf:"receipts_enabled"`
	ReceiptsFrom      string        `koanf:"receipts_from"`
	ReadyDBTimeout    time.Duration `koanf:"ready_db_timeout"`
	ReadyRedisTimeout time.Duration `koanf:"ready_redis_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// GatewayConfig carries the Razorpay credentials and client tuning.
type GatewayConfig struct {
	KeyID          string        `koanf:"key_id"`
	KeySecret      string        `koanf:"key_secret"`
	BaseURL        string        `koanf:"base_url"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
	BreakerMinReq  int           `koanf:"breaker_min_requests"`
	BreakerRatio   float64       `koanf:"breaker_failure_ratio"`
	BreakerOpenFor time.Duration `koanf:"breaker_open_for"`
}

// DonationConfig controls checkout rules and the public widget branding.
type DonationConfig struct {
	MinAmount      int64         `koanf:"min_amount"`
	Currency       string        `koanf:"currency"`
	OrgName        string        `koanf:"org_name"`
	Description    string        `koanf:"description"`
	ThemeColor     string        `koanf:"theme_color"`
	ReceiptPrefix  string        `koanf:"receipt_prefix"`
	PresetAmounts  []int64       `koanf:"preset_amounts"`
	OrderCacheTTL  time.Duration `koanf:"order_cache_ttl"`
	VerifyLockTTL  time.Duration `koanf:"verify_lock_ttl"`
	DefaultPurpose string        `koanf:"default_purpose"`
}

// QueueConfig controls the reconciliation worker.
type QueueConfig struct {
	Prefix            string        `koanf:"prefix"`
	Concurrency       int           `koanf:"concurrency"`
	MaxAttempts       int           `koanf:"max_attempts"`
	VisibilityTimeout time.Duration `koanf:"visibility_timeout"`
	RetryBase         time.Duration `koanf:"retry_base"`
}

// ObsConfig switches logging, metrics, tracing and pprof.
type ObsConfig struct {
	LogFormat        string  `koanf:"log_format"`
	LogLevel         string  `koanf:"log_level"`
	MetricsNamespace string  `koanf:"metrics_namespace"`
	Prometheus       bool    `koanf:"prometheus"`
	MetricsBuckets   string  `koanf:"metrics_buckets_ms"`
	Tracing          bool    `koanf:"tracing"`
	TracingExporter  string  `koanf:"tracing_exporter"`
	OTLPEndpoint     string  `koanf:"otlp_endpoint"`
	SamplingRatio    float64 `koanf:"sampling_ratio"`
	Pprof            bool    `koanf:"pprof"`
	PprofUser        string  `koanf:"pprof_user"`
	PprofPass        string  `koanf:"pprof_pass"`
}

// envKeys binds environment variables to config paths. Variables ending in
// _MS hold milliseconds.
var envKeys = map[string]string{
	"APP_ENV":              "app_env",
	"PORT":                 "port",
	"DATABASE_URL":         "database_url",
	"REDIS_URL":            "redis_url",
	"JWT_SECRET":           "jwt_secret",
	"CORS_ALLOWED_ORIGINS": "cors_origins",
	"AUTO_MIGRATE":         "auto_migrate",

	"RAZORPAY_KEY_ID":               "gateway.key_id",
	"RAZORPAY_KEY_SECRET":           "gateway.key_secret",
	"RAZORPAY_BASE_URL":             "gateway.base_url",
	"GATEWAY_TIMEOUT":               "gateway.timeout",
	"GATEWAY_MAX_ATTEMPTS":          "gateway.max_attempts",
	"GATEWAY_BREAKER_MIN_REQUESTS":  "gateway.breaker_min_requests",
	"GATEWAY_BREAKER_FAILURE_RATIO": "gateway.breaker_failure_ratio",
	"GATEWAY_BREAKER_OPEN_FOR":      "gateway.breaker_open_for",

	"DONATION_MIN_AMOUNT":      "donation.min_amount",
	"DONATION_CURRENCY":        "donation.currency",
	"DONATION_ORG_NAME":        "donation.org_name",
	"DONATION_DESCRIPTION":     "donation.description",
	"DONATION_THEME_COLOR":     "donation.theme_color",
	"DONATION_RECEIPT_PREFIX":  "donation.receipt_prefix",
	"DONATION_PRESET_AMOUNTS":  "donation.preset_amounts",
	"DONATION_ORDER_CACHE_TTL": "donation.order_cache_ttl",
	"DONATION_VERIFY_LOCK_TTL": "donation.verify_lock_ttl",
	"DONATION_DEFAULT_PURPOSE": "donation.default_purpose",

	"QUEUE_PREFIX":             "queue.prefix",
	"QUEUE_CONCURRENCY":        "queue.concurrency",
	"RECONCILE_MAX_ATTEMPTS":   "queue.max_attempts",
	"QUEUE_VISIBILITY_TIMEOUT": "queue.visibility_timeout",
	"QUEUE_RETRY_BASE":         "queue.retry_base",

	"OBS_LOG_FORMAT":               "obs.log_format",
	"OBS_LOG_LEVEL":                "obs.log_level",
	"OBS_METRICS_NAMESPACE":        "obs.metrics_namespace",
	"OBS_ENABLE_PROMETHEUS":        "obs.prometheus",
	"OBS_METRICS_BUCKETS_MS":       "obs.metrics_buckets_ms",
	"OBS_ENABLE_TRACING":           "obs.tracing",
	"OBS_TRACING_EXPORTER":         "obs.tracing_exporter",
	"OBS_OTLP_ENDPOINT":            "obs.otlp_endpoint",
	"OBS_TRACING_SAMPLING_RATIO":   "obs.sampling_ratio",
	"OBS_ENABLE_PPROF":             "obs.pprof",
	"SECURE_PPROF_BASIC_AUTH_USER": "obs.pprof_user",
	"SECURE_PPROF_BASIC_AUTH_PASS": "obs.pprof_pass",

	"ACCESS_TOKEN_TTL":              "access_token_ttl",
	"LOGIN_RATE":                    "login_rate",
	"CREATE_ORDER_RATE_WINDOW":      "create_order_window",
	"CREATE_ORDER_RATE_MAX":         "create_order_max",
	"BODY_LIMIT_BYTES":              "body_limit_bytes",
	"AUDIT_ENABLED":                 "audit_enabled",
	"ANALYTICS_CACHE_TTL":           "analytics_cache_ttl",
	"RECEIPTS_ENABLED":              "receipts_enabled",
	"RECEIPTS_FROM":                 "receipts_from",
	"HEALTH_READY_DB_TIMEOUT_MS":    "ready_db_timeout",
	"HEALTH_READY_REDIS_TIMEOUT_MS": "ready_redis_timeout",
	"SHUTDOWN_TIMEOUT_MS":           "shutdown_timeout",
}

var defaults = map[string]any{
	"app_env":                       "development",
	"port":                          "8080",
	"gateway.base_url":              "https://api.razorpay.com",
	"gateway.timeout":               15 * time.Second,
	"gateway.max_attempts":          2,
	"gateway.breaker_min_requests":  10,
	"gateway.breaker_failure_ratio": 0.5,
	"gateway.breaker_open_for":      30 * time.Second,
	"donation.min_amount":           100,
	"donation.currency":             "INR",
	"donation.org_name":             "Garuda Dhhruvam Foundation",
	"donation.description":          "Donation for Rural Development and Cultural Preservation",
	"donation.theme_color":          "#FBC02D",
	"donation.receipt_prefix":       "rcpt",
	"donation.preset_amounts":       []int64{500, 2000, 5000},
	"donation.order_cache_ttl":      24 * time.Hour,
	"donation.verify_lock_ttl":      30 * time.Second,
	"donation.default_purpose":      "General Donation",
	"queue.prefix":                  "donasi:queue",
	"queue.concurrency":             2,
	"queue.max_attempts":            8,
	"queue.visibility_timeout":      time.Minute,
	"queue.retry_base":              5 * time.Second,
	"obs.log_format":                "json",
	"obs.log_level":                 "info",
	"obs.metrics_namespace":         "donasi",
	"obs.prometheus":                true,
	"obs.tracing":                   true,
	"obs.tracing_exporter":          "otlp",
	"obs.sampling_ratio":            1.0,
	"access_token_ttl":              30 * time.Minute,
	"login_rate":                    "5-M",
	"create_order_window":           time.Minute,
	"create_order_max":              10,
	"body_limit_bytes":              64 << 10,
	"audit_enabled":                 true,
	"analytics_cache_ttl":           5 * time.Minute,
	"ready_db_timeout":              500 * time.Millisecond,
	"ready_redis_timeout":           300 * time.Millisecond,
	"shutdown_timeout":              15 * time.Second,
}

// bindEnv maps a variable onto its config path. Unknown and blank variables
// are dropped so defaults apply.
func bindEnv(key, value string) (string, any) {
	path, ok := envKeys[key]
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "", nil
	}
	switch {
	case strings.HasSuffix(key, "_MS") && key != "OBS_METRICS_BUCKETS_MS":
		return path, value + "ms"
	case path == "cors_origins" || path == "donation.preset_amounts":
		return path, splitList(value)
	}
	return path, value
}

// Load reads an optional .env file, then the environment over the defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	for path, v := range defaults {
		if err := k.Set(path, v); err != nil {
			return nil, fmt.Errorf("config: default %s: %w", path, err)
		}
	}
	if err := k.Load(env.ProviderWithValue("", ".", bindEnv), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}
	if !k.Exists("obs.pprof") {
		_ = k.Set("obs.pprof", !strings.EqualFold(k.String("app_env"), "production"))
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.normalise()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() {
	c.Gateway.KeyID = strings.TrimSpace(c.Gateway.KeyID)
	c.Gateway.KeySecret = strings.TrimSpace(c.Gateway.KeySecret)
	c.Gateway.BaseURL = strings.TrimRight(c.Gateway.BaseURL, "/")
	c.Gateway.Timeout = min(max(c.Gateway.Timeout, 10*time.Second), 30*time.Second)
	c.Donation.Currency = strings.ToUpper(c.Donation.Currency)
	presets := c.Donation.PresetAmounts[:0]
	for _, amount := range c.Donation.PresetAmounts {
		if amount > 0 {
			presets = append(presets, amount)
		}
	}
	c.Donation.PresetAmounts = presets
}

func (c *Config) validate() error {
	required := []struct{ name, value string }{
		{"DATABASE_URL", c.DatabaseURL},
		{"REDIS_URL", c.RedisURL},
		{"JWT_SECRET", c.JWTSecret},
		{"RAZORPAY_KEY_ID", c.Gateway.KeyID},
		{"RAZORPAY_KEY_SECRET", c.Gateway.KeySecret},
	}
	for _, r := range required {
		if r.value == "" {
			return errors.New(r.name + " is required")
		}
	}
	if c.Donation.MinAmount < 1 {
		return errors.New("DONATION_MIN_AMOUNT must be at least 1")
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	switch {
	case port == "":
		return ":8080"
	case strings.HasPrefix(port, ":"):
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitList(value string) []string {
	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MustLoad is Load for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests runs Load with vars applied to the process environment and
// restores the previous values afterwards. An empty value unsets the var.
func LoadForTests(vars map[string]string) (*Config, error) {
	saved := make(map[string]*string, len(vars))
	for key, value := range vars {
		if prev, ok := os.LookupEnv(key); ok {
			saved[key] = &prev
		} else {
			saved[key] = nil
		}
		setOrUnset(key, &value)
	}
	defer func() {
		for key, prev := range saved {
			setOrUnset(key, prev)
		}
	}()
	return Load()
}

func setOrUnset(key string, value *string) {
	if value == nil || *value == "" {
		_ = os.Unsetenv(key)
		return
	}
	_ = os.Setenv(key, *value)
}
