package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/juliana/internal/pricing"
)

// Broadcast drivers accepted by BROADCAST_DRIVERS.
const (
	DriverLog   = "log"
	DriverRedis = "redis"
	DriverAMQP  = "amqp"
)

// ErrInvalidCatalog is returned when CATALOG, PRICING_DYNAMIC or PRICING_LINKS
// cannot be parsed.
var ErrInvalidCatalog = errors.New("config: invalid catalog entry")

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv     string
	Port       string
	TerminalID string
	EventID    int64

	APIURL              string
	RPCTimeout          time.Duration
	RPCMaxAttempts      int
	RPCBackoff          time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
	SessionCookie       string
	CSRFToken           string

	ScannerURL        string
	ScannerProtocol   string
	ScannerRetryBase  time.Duration
	ScannerRetryMax   time.Duration
	PaymentCountdown  time.Duration
	CountdownInterval time.Duration

	Products        []pricing.Product
	DynamicProducts []pricing.DynamicProduct
	PriceLinks      []pricing.PriceLink
	PricingDelta    float64
	PricingExponent float64
	PricingInterval time.Duration

	BroadcastDrivers []string
	RedisURL         string
	RedisPrefix      string
	AMQPURL          string
	AMQPExchange     string

	CORSAllowedOrigins []string
	HSTSMaxAge         int

	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	TracingSampling  float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:     valueOrDefault(k.String("APP_ENV"), "development"),
		Port:       valueOrDefault(k.String("PORT"), "8080"),
		TerminalID: valueOrDefault(k.String("TERMINAL_ID"), "juliana"),

		APIURL:              strings.TrimSpace(k.String("API_URL")),
		RPCTimeout:          parseDuration(k.String("RPC_TIMEOUT"), "5s"),
		RPCMaxAttempts:      parseInt(k.String("RPC_MAX_ATTEMPTS"), 3),
		RPCBackoff:          parseDuration(k.String("RPC_BACKOFF"), "100ms"),
		BreakerMinRequests:  parseInt(k.String("RPC_BREAKER_MIN_REQUESTS"), 5),
		BreakerFailureRatio: parseFloat(k.String("RPC_BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("RPC_BREAKER_OPEN_FOR"), "30s"),
		SessionCookie:       strings.TrimSpace(k.String("RPC_SESSION_COOKIE")),
		CSRFToken:           strings.TrimSpace(k.String("RPC_CSRF_TOKEN")),

		ScannerURL:        valueOrDefault(k.String("SCANNER_URL"), "ws://localhost:3000"),
		ScannerProtocol:   strings.TrimSpace(k.String("SCANNER_PROTOCOL")),
		ScannerRetryBase:  parseDuration(k.String("SCANNER_RETRY_BASE"), "500ms"),
		ScannerRetryMax:   parseDuration(k.String("SCANNER_RETRY_MAX"), "10s"),
		PaymentCountdown:  parseDuration(k.String("PAYMENT_COUNTDOWN"), "3s"),
		CountdownInterval: parseDuration(k.String("PAYMENT_COUNTDOWN_INTERVAL"), "1s"),

		PricingExponent: parseFloat(k.String("PRICING_EXPONENT"), pricing.DefaultExponent),
		PricingInterval: parseDuration(k.String("PRICING_INTERVAL"), "1m"),

		BroadcastDrivers: splitAndTrim(valueOrDefault(k.String("BROADCAST_DRIVERS"), DriverLog)),
		RedisURL:         strings.TrimSpace(k.String("REDIS_URL")),
		RedisPrefix:      valueOrDefault(k.String("REDIS_CHANNEL_PREFIX"), "juliana"),
		AMQPURL:          strings.TrimSpace(k.String("AMQP_URL")),
		AMQPExchange:     valueOrDefault(k.String("AMQP_EXCHANGE"), "juliana_prices_fanout"),

		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		HSTSMaxAge:         parseInt(k.String("HSTS_MAX_AGE"), 0),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled:   parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "juliana"),
		MetricsBuckets:   strings.TrimSpace(k.String("OBS_HTTP_BUCKETS_MS")),
		TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING")),
		TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
	}

	if cfg.APIURL == "" {
		return nil, errors.New("API_URL is required")
	}
	eventID, err := strconv.ParseInt(strings.TrimSpace(k.String("EVENT_ID")), 10, 64)
	if err != nil || eventID <= 0 {
		return nil, errors.New("EVENT_ID must be a positive integer")
	}
	cfg.EventID = eventID

	// PRICING_DELTA is given in currency units, the engine works in cents.
	cfg.PricingDelta = math.Round(parseFloat(k.String("PRICING_DELTA"), pricing.DefaultDelta/100)*100*1e6) / 1e6

	if cfg.Products, err = ParseCatalog(k.String("CATALOG")); err != nil {
		return nil, err
	}
	if cfg.DynamicProducts, err = ParseDynamic(k.String("PRICING_DYNAMIC")); err != nil {
		return nil, err
	}
	if cfg.PriceLinks, err = ParseLinks(k.String("PRICING_LINKS")); err != nil {
		return nil, err
	}

	for _, driver := range cfg.BroadcastDrivers {
		switch driver {
		case DriverLog:
		case DriverRedis:
			if cfg.RedisURL == "" {
				return nil, errors.New("REDIS_URL is required for the redis broadcast driver")
			}
		case DriverAMQP:
			if cfg.AMQPURL == "" {
				return nil, errors.New("AMQP_URL is required for the amqp broadcast driver")
			}
		default:
			return nil, fmt.Errorf("unknown broadcast driver %q", driver)
		}
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// HasDriver reports whether the named broadcast driver is enabled.
func (c *Config) HasDriver(name string) bool {
	for _, d := range c.BroadcastDrivers {
		if d == name {
			return true
		}
	}
	return false
}

// ParseCatalog parses "id:name:cents" entries separated by commas.
func ParseCatalog(value string) ([]pricing.Product, error) {
	entries := splitAndTrim(value)
	out := make([]pricing.Product, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("CATALOG %q: %w", entry, ErrInvalidCatalog)
		}
		id, err := parseID(parts[0])
		if err != nil {
			return nil, fmt.Errorf("CATALOG %q: %w", entry, err)
		}
		price, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil || price < 0 {
			return nil, fmt.Errorf("CATALOG %q price: %w", entry, ErrInvalidCatalog)
		}
		name := strings.TrimSpace(parts[1])
		if name == "" {
			return nil, fmt.Errorf("CATALOG %q name: %w", entry, ErrInvalidCatalog)
		}
		out = append(out, pricing.Product{ID: id, Name: name, BasePrice: price})
	}
	return out, nil
}

// ParseDynamic parses "id:floor:ceiling" entries, bounds in cents.
func ParseDynamic(value string) ([]pricing.DynamicProduct, error) {
	entries := splitAndTrim(value)
	out := make([]pricing.DynamicProduct, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("PRICING_DYNAMIC %q: %w", entry, ErrInvalidCatalog)
		}
		id, err := parseID(parts[0])
		if err != nil {
			return nil, fmt.Errorf("PRICING_DYNAMIC %q: %w", entry, err)
		}
		floor, errF := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		ceiling, errC := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if errF != nil || errC != nil {
			return nil, fmt.Errorf("PRICING_DYNAMIC %q bounds: %w", entry, ErrInvalidCatalog)
		}
		out = append(out, pricing.DynamicProduct{ID: id, Floor: floor, Ceiling: ceiling})
	}
	return out, nil
}

// ParseLinks parses "dependent>anchor" entries.
func ParseLinks(value string) ([]pricing.PriceLink, error) {
	entries := splitAndTrim(value)
	out := make([]pricing.PriceLink, 0, len(entries))
	for _, entry := range entries {
		dep, anchor, ok := strings.Cut(entry, ">")
		if !ok {
			return nil, fmt.Errorf("PRICING_LINKS %q: %w", entry, ErrInvalidCatalog)
		}
		depID, err := parseID(dep)
		if err != nil {
			return nil, fmt.Errorf("PRICING_LINKS %q: %w", entry, err)
		}
		anchorID, err := parseID(anchor)
		if err != nil {
			return nil, fmt.Errorf("PRICING_LINKS %q: %w", entry, err)
		}
		out = append(out, pricing.PriceLink{Dependent: depID, Anchor: anchorID})
	}
	return out, nil
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidCatalog
	}
	return id, nil
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
		return value
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
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
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

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
