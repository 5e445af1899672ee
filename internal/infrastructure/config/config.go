package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Queue       QueueConfig
	Authority   AuthorityConfig
	Certificate CertificateConfig
	Payload     PayloadConfig
	Telemetry   TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret                string
	AccessTokenExpiration time.Duration
	Issuer                string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// QueueConfig holds the emission worker pool configuration
type QueueConfig struct {
	Workers      int
	BufferSize   int
	PollInterval time.Duration
	PollBatch    int
	JobTimeout   time.Duration
	MaxRetries   int
}

// AuthorityConfig holds the tax authority webservice settings. Endpoint
// URLs are resolved per jurisdiction and environment, with explicit
// per-jurisdiction overrides taking precedence over the shared gateway.
type AuthorityConfig struct {
	// GatewayURL is the shared SVRS-style gateway used for every
	// jurisdiction without an explicit override. "{env}" expands to
	// "producao" or "homologacao".
	GatewayURL string
	// Overrides maps a jurisdiction code ("35", "31", ...) to its own
	// endpoint template.
	Overrides map[string]string
	// DefaultEnvironment is the flag used for companies without an
	// explicit setting: "1" production, "2" homologation.
	DefaultEnvironment string
	SubmitTimeout      time.Duration
	QueryTimeout       time.Duration
}

// CertificateConfig holds the signing credential store settings
type CertificateConfig struct {
	// Dir contains one <company-id>.pfx bundle per company.
	Dir string
	// Password opens the PKCS#12 bundles. Per-company passwords are a
	// possible refinement once the store moves off the filesystem.
	Password string
	CacheTTL time.Duration
}

// PayloadConfig holds the signed payload archive settings
type PayloadConfig struct {
	Dir string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
}

// Load loads configuration from TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with DESDOBRA_ prefix (e.g., DESDOBRA_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("DESDOBRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:                v.GetString("jwt.secret"),
			AccessTokenExpiration: v.GetDuration("jwt.access_token_expiration"),
			Issuer:                v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Queue: QueueConfig{
			Workers:      v.GetInt("queue.workers"),
			BufferSize:   v.GetInt("queue.buffer_size"),
			PollInterval: v.GetDuration("queue.poll_interval"),
			PollBatch:    v.GetInt("queue.poll_batch"),
			JobTimeout:   v.GetDuration("queue.job_timeout"),
			MaxRetries:   v.GetInt("queue.max_retries"),
		},
		Authority: AuthorityConfig{
			GatewayURL:         v.GetString("authority.gateway_url"),
			Overrides:          v.GetStringMapString("authority.overrides"),
			DefaultEnvironment: v.GetString("authority.default_environment"),
			SubmitTimeout:      v.GetDuration("authority.submit_timeout"),
			QueryTimeout:       v.GetDuration("authority.query_timeout"),
		},
		Certificate: CertificateConfig{
			Dir:      v.GetString("certificate.dir"),
			Password: v.GetString("certificate.password"),
			CacheTTL: v.GetDuration("certificate.cache_ttl"),
		},
		Payload: PayloadConfig{
			Dir: v.GetString("payload.dir"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "desdobra-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "desdobra"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.AccessTokenExpiration == 0 {
		cfg.JWT.AccessTokenExpiration = 15 * time.Minute
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "desdobra-backend"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.BufferSize == 0 {
		cfg.Queue.BufferSize = 64
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = 10 * time.Second
	}
	if cfg.Queue.PollBatch == 0 {
		cfg.Queue.PollBatch = 20
	}
	if cfg.Queue.JobTimeout == 0 {
		cfg.Queue.JobTimeout = 2 * time.Minute
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Authority.GatewayURL == "" {
		cfg.Authority.GatewayURL = "https://nfe-{env}.svrs.rs.gov.br/ws/NfeAutorizacao/NFeAutorizacao4.asmx"
	}
	if cfg.Authority.DefaultEnvironment == "" {
		cfg.Authority.DefaultEnvironment = "2"
	}
	if cfg.Authority.SubmitTimeout == 0 {
		cfg.Authority.SubmitTimeout = 30 * time.Second
	}
	if cfg.Authority.QueryTimeout == 0 {
		cfg.Authority.QueryTimeout = 15 * time.Second
	}
	if cfg.Certificate.Dir == "" {
		cfg.Certificate.Dir = "./certificates"
	}
	if cfg.Certificate.CacheTTL == 0 {
		cfg.Certificate.CacheTTL = 30 * time.Minute
	}
	if cfg.Payload.Dir == "" {
		cfg.Payload.Dir = "./payloads"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "desdobra-backend"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Authority.DefaultEnvironment != "1" && c.Authority.DefaultEnvironment != "2" {
		return fmt.Errorf("authority.default_environment must be \"1\" or \"2\", got %q", c.Authority.DefaultEnvironment)
	}
	for code, endpoint := range c.Authority.Overrides {
		if _, err := url.Parse(endpoint); err != nil {
			return fmt.Errorf("authority.overrides[%s] is not a valid URL: %w", code, err)
		}
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Certificate.Password == "" {
			return fmt.Errorf("certificate.password is required in production")
		}
		if c.Authority.DefaultEnvironment != "1" {
			return fmt.Errorf("authority.default_environment must be \"1\" (production) when app.env is production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// EndpointFor resolves the webservice URL for a jurisdiction and
// environment flag
func (a *AuthorityConfig) EndpointFor(jurisdiction, env string) string {
	template := a.GatewayURL
	if override, ok := a.Overrides[jurisdiction]; ok {
		template = override
	}
	envSlug := "homologacao"
	if env == "1" {
		envSlug = "producao"
	}
	return strings.ReplaceAll(template, "{env}", envSlug)
}
