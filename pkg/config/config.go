package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

const (
	EnvPrefix = "BONDAI"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	ModeAuto   = "auto"
	ModeManual = "manual"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DefaultAPIEndpoint        = "https://api.dev.our-projects.info/api/redemptions"
	DefaultIdentifierQueryKey = "mid"
	DefaultPollInterval       = 120 * time.Millisecond
	DefaultReadyTimeout       = 2 * time.Second
	DefaultRequestTimeout     = 10 * time.Second
)

const (
	EnvAppEnv             = "BONDAI_APP_ENV"
	EnvPort               = "BONDAI_APP_PORT"
	EnvLogLevel           = "BONDAI_LOG_LEVEL"
	EnvAPIEndpoint        = "BONDAI_API_ENDPOINT"
	EnvAPIKey             = "BONDAI_API_KEY"
	EnvMode               = "BONDAI_MODE"
	EnvSendImmediately    = "BONDAI_SEND_IMMEDIATELY"
	EnvIdentifierQueryKey = "BONDAI_MID_QUERY"
	EnvIdentifierEventKey = "BONDAI_MID_EVENT_KEY"
	EnvTotalSelector      = "BONDAI_TOTAL_SELECTOR"
	EnvDiscountSelector   = "BONDAI_DISCOUNT_SELECTOR"
	EnvAmountEventKey     = "BONDAI_AMOUNT_EVENT_KEY"
	EnvDiscountEventKey   = "BONDAI_DISCOUNT_EVENT_KEY"
	EnvDebug              = "BONDAI_DEBUG"
	EnvPollInterval       = "BONDAI_POLL_INTERVAL"
	EnvReadyTimeout       = "BONDAI_READY_TIMEOUT"
	EnvRelayUpstreamURL   = "BONDAI_RELAY_UPSTREAM_URL"
	EnvRelayUpstreamKey   = "BONDAI_RELAY_UPSTREAM_KEY"
	EnvDBDSN              = "BONDAI_DB_DSN"
	EnvDBDriver           = "BONDAI_DB_DRIVER"
	EnvRedisURL           = "BONDAI_REDIS_URL"
)

type Config struct {
	App       AppConfig
	Reporter  ReporterConfig
	Relay     RelayConfig
	DB        DBConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var err error
	err = multierr.Append(err, c.Reporter.Validate())
	switch strings.ToLower(strings.TrimSpace(c.DB.Driver)) {
	case "", DriverPostgres, DriverSQLite:
	default:
		err = multierr.Append(err, fmt.Errorf("%s must be %q or %q, got %q", EnvDBDriver, DriverPostgres, DriverSQLite, c.DB.Driver))
	}
	if c.RateLimit.Window < 0 {
		err = multierr.Append(err, fmt.Errorf("rate limit window must not be negative"))
	}
	return err
}

type AppConfig struct {
	Env          string `envconfig:"BONDAI_APP_ENV" default:"dev"`
	Port         string `envconfig:"BONDAI_APP_PORT" default:"8888"`
	LogLevel     string `envconfig:"BONDAI_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BONDAI_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// ReporterConfig is the immutable option set the attribution engine resolves once
// at start. The zero value is usable: WithDefaults fills every optional field and an
// empty configuration runs heuristic-only.
type ReporterConfig struct {
	APIEndpoint        string        `envconfig:"BONDAI_API_ENDPOINT" default:"https://api.dev.our-projects.info/api/redemptions"`
	APIKey             string        `envconfig:"BONDAI_API_KEY"`
	Mode               string        `envconfig:"BONDAI_MODE" default:"auto"`
	SendImmediately    bool          `envconfig:"BONDAI_SEND_IMMEDIATELY" default:"false"`
	IdentifierQueryKey string        `envconfig:"BONDAI_MID_QUERY" default:"mid"`
	IdentifierEventKey string        `envconfig:"BONDAI_MID_EVENT_KEY"`
	TotalSelector      string        `envconfig:"BONDAI_TOTAL_SELECTOR"`
	DiscountSelector   string        `envconfig:"BONDAI_DISCOUNT_SELECTOR"`
	AmountEventKey     string        `envconfig:"BONDAI_AMOUNT_EVENT_KEY"`
	DiscountEventKey   string        `envconfig:"BONDAI_DISCOUNT_EVENT_KEY"`
	Debug              bool          `envconfig:"BONDAI_DEBUG" default:"false"`
	PollInterval       time.Duration `envconfig:"BONDAI_POLL_INTERVAL" default:"120ms"`
	ReadyTimeout       time.Duration `envconfig:"BONDAI_READY_TIMEOUT" default:"2s"`
	RequestTimeout     time.Duration `envconfig:"BONDAI_REQUEST_TIMEOUT" default:"10s"`
}

// WithDefaults returns a copy with documented defaults applied to empty fields.
func (r ReporterConfig) WithDefaults() ReporterConfig {
	r.APIEndpoint = strings.TrimSpace(r.APIEndpoint)
	if r.APIEndpoint == "" {
		r.APIEndpoint = DefaultAPIEndpoint
	}
	r.Mode = strings.ToLower(strings.TrimSpace(r.Mode))
	if r.Mode == "" {
		r.Mode = ModeAuto
	}
	r.IdentifierQueryKey = strings.TrimSpace(r.IdentifierQueryKey)
	if r.IdentifierQueryKey == "" {
		r.IdentifierQueryKey = DefaultIdentifierQueryKey
	}
	if r.PollInterval <= 0 {
		r.PollInterval = DefaultPollInterval
	}
	if r.ReadyTimeout <= 0 {
		r.ReadyTimeout = DefaultReadyTimeout
	}
	if r.RequestTimeout <= 0 {
		r.RequestTimeout = DefaultRequestTimeout
	}
	return r
}

// IsManual reports whether automatic sending is disabled.
func (r ReporterConfig) IsManual() bool {
	return strings.EqualFold(strings.TrimSpace(r.Mode), ModeManual)
}

// HasAmountEventMapping reports whether either amount event key is configured.
func (r ReporterConfig) HasAmountEventMapping() bool {
	return r.AmountEventKey != "" || r.DiscountEventKey != ""
}

// HasSelectors reports whether either DOM selector is configured.
func (r ReporterConfig) HasSelectors() bool {
	return r.TotalSelector != "" || r.DiscountSelector != ""
}

func (r ReporterConfig) Validate() error {
	var err error
	switch strings.ToLower(strings.TrimSpace(r.Mode)) {
	case "", ModeAuto, ModeManual:
	default:
		err = multierr.Append(err, fmt.Errorf("%s must be %q or %q, got %q", EnvMode, ModeAuto, ModeManual, r.Mode))
	}
	if r.PollInterval < 0 {
		err = multierr.Append(err, fmt.Errorf("%s must not be negative", EnvPollInterval))
	}
	if r.ReadyTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("%s must not be negative", EnvReadyTimeout))
	}
	if r.PollInterval > 0 && r.ReadyTimeout > 0 && r.ReadyTimeout < r.PollInterval {
		err = multierr.Append(err, fmt.Errorf("%s (%s) is shorter than %s (%s)", EnvReadyTimeout, r.ReadyTimeout, EnvPollInterval, r.PollInterval))
	}
	return err
}

// Data attributes read from the reporter's <script> tag.
const (
	AttrKey              = "data-bondai-key"
	AttrMode             = "data-bondai-mode"
	AttrSend             = "data-bondai-send"
	AttrDebug            = "data-bondai-debug"
	AttrEndpoint         = "data-bondai-endpoint"
	AttrMidQuery         = "data-bondai-mid-query"
	AttrMidEventKey      = "data-bondai-mid-dlv"
	AttrTotalSelector    = "data-bondai-total-selector"
	AttrDiscountSelector = "data-bondai-discount-selector"
	AttrAmountEventKey   = "data-bondai-amount-dlv"
	AttrDiscountEventKey = "data-bondai-discount-dlv"
)

// ApplyAttributes overlays script-tag data attributes on top of the receiver.
// Attributes that are absent leave the existing value untouched.
func (r ReporterConfig) ApplyAttributes(attrs map[string]string) ReporterConfig {
	if len(attrs) == 0 {
		return r
	}
	str := func(name string, dst *string) {
		if v, ok := attrs[name]; ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(AttrKey, &r.APIKey)
	str(AttrMode, &r.Mode)
	str(AttrEndpoint, &r.APIEndpoint)
	str(AttrMidQuery, &r.IdentifierQueryKey)
	str(AttrMidEventKey, &r.IdentifierEventKey)
	str(AttrTotalSelector, &r.TotalSelector)
	str(AttrDiscountSelector, &r.DiscountSelector)
	str(AttrAmountEventKey, &r.AmountEventKey)
	str(AttrDiscountEventKey, &r.DiscountEventKey)
	if v, ok := attrs[AttrSend]; ok {
		r.SendImmediately = strings.EqualFold(strings.TrimSpace(v), "now")
	}
	if v, ok := attrs[AttrDebug]; ok {
		v = strings.ToLower(strings.TrimSpace(v))
		r.Debug = v == "true" || v == "1"
	}
	return r
}

type RelayConfig struct {
	UpstreamURL     string        `envconfig:"BONDAI_RELAY_UPSTREAM_URL"`
	UpstreamKey     string        `envconfig:"BONDAI_RELAY_UPSTREAM_KEY"`
	UpstreamTimeout time.Duration `envconfig:"BONDAI_RELAY_UPSTREAM_TIMEOUT" default:"10s"`
	AllowedOrigins  []string      `envconfig:"BONDAI_RELAY_ALLOWED_ORIGINS" default:"*"`
	MaxBodyBytes    int64         `envconfig:"BONDAI_RELAY_MAX_BODY_BYTES" default:"65536"`
}

// Configured reports whether the relay has somewhere to forward to.
func (r RelayConfig) Configured() bool {
	return strings.TrimSpace(r.UpstreamURL) != "" && strings.TrimSpace(r.UpstreamKey) != ""
}

// DBConfig is optional: an empty DSN disables the relay delivery audit.
type DBConfig struct {
	DSN             string        `envconfig:"BONDAI_DB_DSN"`
	Driver          string        `envconfig:"BONDAI_DB_DRIVER" default:"postgres"`
	MaxOpenConns    int           `envconfig:"BONDAI_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"BONDAI_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"BONDAI_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BONDAI_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	AutoMigrate     bool          `envconfig:"BONDAI_DB_AUTO_MIGRATE" default:"false"`
}

func (d DBConfig) Enabled() bool {
	return strings.TrimSpace(d.DSN) != ""
}

func (d DBConfig) NormalizedDriver() string {
	driver := strings.ToLower(strings.TrimSpace(d.Driver))
	if driver == "" {
		return DriverPostgres
	}
	return driver
}

// RedisConfig is optional: without a URL or address the relay skips rate limiting.
type RedisConfig struct {
	URL          string        `envconfig:"BONDAI_REDIS_URL"`
	Address      string        `envconfig:"BONDAI_REDIS_ADDR"`
	Password     string        `envconfig:"BONDAI_REDIS_PASSWORD"`
	DB           int           `envconfig:"BONDAI_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BONDAI_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BONDAI_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BONDAI_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BONDAI_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"BONDAI_REDIS_WRITE_TIMEOUT" default:"3s"`
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type RateLimitConfig struct {
	Window      time.Duration `envconfig:"BONDAI_RATE_LIMIT_WINDOW" default:"1m"`
	OriginLimit int           `envconfig:"BONDAI_RATE_LIMIT_ORIGIN_LIMIT" default:"600"`
	IPLimit     int           `envconfig:"BONDAI_RATE_LIMIT_IP_LIMIT" default:"60"`
}
