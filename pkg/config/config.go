package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/telekom/mail-sms-gateway/pkg/store"
)

const (
	// DefaultConfigPath is used when neither a flag nor GATEWAY_CONFIG_PATH names a file.
	DefaultConfigPath = "./config.yaml"

	EnvConfigPath     = "GATEWAY_CONFIG_PATH"
	EnvListenAddress  = "GATEWAY_LISTEN_ADDRESS"
	EnvStorageDriver  = "GATEWAY_STORAGE_DRIVER"
	EnvStorageDSN     = "GATEWAY_STORAGE_DSN"
	EnvRewriteAPIKey  = "GATEWAY_REWRITE_API_KEY"
	EnvTogetherAPIKey = "TOGETHER_AI_API_KEY"
	EnvKafkaBrokers   = "GATEWAY_KAFKA_BROKERS"
)

type RateLimit struct {
	// RequestsPerSecond per client IP (or per authenticated subject).
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

type Auth struct {
	// JWTSecret enables HS256 bearer authentication on /api when set.
	JWTSecret string `yaml:"jwtSecret"`
	Issuer    string `yaml:"issuer"`
}

type Server struct {
	ListenAddress   string    `yaml:"listenAddress"`
	TLSCertFile     string    `yaml:"tlsCertFile"`
	TLSKeyFile      string    `yaml:"tlsKeyFile"`
	TrustedProxies  []string  `yaml:"trustedProxies"`
	AllowedOrigins  []string  `yaml:"allowedOrigins"`
	ShutdownTimeout string    `yaml:"shutdownTimeout"`
	RateLimit       RateLimit `yaml:"rateLimit"`
	Auth            Auth      `yaml:"auth"`
}

type SMTP struct {
	LocalName          string `yaml:"localName"`
	DialTimeout        string `yaml:"dialTimeout"`
	CommandTimeout     string `yaml:"commandTimeout"`
	SubmissionTimeout  string `yaml:"submissionTimeout"`
	KeepAliveInterval  string `yaml:"keepAliveInterval"`
	KeepAliveTimeout   string `yaml:"keepAliveTimeout"`
	TLSMode            string `yaml:"tlsMode"`
	RequireTLS         bool   `yaml:"requireTLS"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	DefaultPort        int    `yaml:"defaultPort"`
	// MaxRepeat caps the per-request repeat count. 0 disables the cap.
	MaxRepeat   *int `yaml:"maxRepeat"`
	WarmOnStart bool `yaml:"warmOnStart"`
}

type Storage struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver       string              `yaml:"driver"`
	DSN          string              `yaml:"dsn"`
	SeedCarriers []store.CarrierSeed `yaml:"seedCarriers"`
}

type Rewrite struct {
	Enabled     bool     `yaml:"enabled"`
	BaseURL     string   `yaml:"baseURL"`
	APIKey      string   `yaml:"apiKey"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"topP"`
	MaxTokens   int      `yaml:"maxTokens"`
	Timeout     string   `yaml:"timeout"`
	Instruction string   `yaml:"instruction"`
}

type Kafka struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	Async        bool     `yaml:"async"`
	BatchTimeout string   `yaml:"batchTimeout"`
	WriteTimeout string   `yaml:"writeTimeout"`
}

type Events struct {
	Kafka Kafka `yaml:"kafka"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	// SamplingRate is a pointer so that an explicit 0 survives defaulting.
	SamplingRate *float64 `yaml:"samplingRate"`
}

type Config struct {
	Server  Server  `yaml:"server"`
	SMTP    SMTP    `yaml:"smtp"`
	Storage Storage `yaml:"storage"`
	Rewrite Rewrite `yaml:"rewrite"`
	Events  Events  `yaml:"events"`
	Tracing Tracing `yaml:"tracing"`
}

func ptr[T any](v T) *T { return &v }

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// Defaults returns the configuration used for every field the file leaves
// empty. Numeric settings where zero is meaningful are pointers; Load merges
// without dereferencing, so only nil pointers are filled.
func Defaults() Config {
	return Config{
		Server: Server{
			ListenAddress:   ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: "30s",
			RateLimit:       RateLimit{RequestsPerSecond: 20, Burst: 50},
		},
		SMTP: SMTP{
			DialTimeout:       "30s",
			CommandTimeout:    "1m",
			SubmissionTimeout: "5m",
			KeepAliveInterval: "5m",
			KeepAliveTimeout:  "30s",
			TLSMode:           "starttls",
			DefaultPort:       587,
			MaxRepeat:         ptr(100),
		},
		Storage: Storage{Driver: store.DriverMemory},
		Rewrite: Rewrite{
			BaseURL:     "https://api.together.xyz",
			Model:       "mistralai/Mixtral-8x7B-Instruct-v0.1",
			Temperature: ptr(0.9),
			TopP:        ptr(0.9),
			MaxTokens:   1024,
			Timeout:     "30s",
			Instruction: "Reword this: ",
		},
		Events: Events{Kafka: Kafka{
			Topic:        "mail-sms-gateway.delivery",
			BatchTimeout: "1s",
			WriteTimeout: "10s",
		}},
		Tracing: Tracing{Exporter: "otlp", SamplingRate: ptr(1.0)},
	}
}

// Load reads the gateway configuration. An empty path falls back to
// GATEWAY_CONFIG_PATH and then to ./config.yaml; a missing file is only an
// error when the path was given explicitly.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		if p, ok := os.LookupEnv(EnvConfigPath); ok && p != "" {
			path, explicit = p, true
		} else {
			path = DefaultConfigPath
		}
	}

	var config Config

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &config); err != nil {
			return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return config, fmt.Errorf("trying to open gateway config file %s: %w", path, err)
	}

	applyEnv(&config)

	if err := mergo.Merge(&config, Defaults(), mergo.WithoutDereference); err != nil {
		return config, fmt.Errorf("applying config defaults: %w", err)
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv(EnvListenAddress); v != "" {
		c.Server.ListenAddress = v
	}
	if v := os.Getenv(EnvStorageDriver); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv(EnvStorageDSN); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(EnvTogetherAPIKey); v != "" {
		c.Rewrite.APIKey = v
	}
	if v := os.Getenv(EnvRewriteAPIKey); v != "" {
		c.Rewrite.APIKey = v
	}
	if v := os.Getenv(EnvKafkaBrokers); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		c.Events.Kafka.Brokers = brokers
	}
}

// Validate rejects values that cannot be served.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case store.DriverMemory, store.DriverSQLite, store.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q: supported values are memory, sqlite, postgres", c.Storage.Driver))
	}
	if c.Storage.Driver != store.DriverMemory && c.Storage.DSN == "" {
		errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver))
	}
	switch c.SMTP.TLSMode {
	case "starttls", "implicit", "none":
	default:
		errs = append(errs, fmt.Errorf("smtp.tlsMode %q: supported values are starttls, implicit, none", c.SMTP.TLSMode))
	}
	if c.SMTP.DefaultPort <= 0 || c.SMTP.DefaultPort > 65535 {
		errs = append(errs, fmt.Errorf("smtp.defaultPort %d out of range", c.SMTP.DefaultPort))
	}
	if c.Rewrite.Enabled && c.Rewrite.APIKey == "" {
		errs = append(errs, fmt.Errorf("rewrite.apiKey is required when rewrite is enabled (or set %s)", EnvRewriteAPIKey))
	}
	if rate := c.Tracing.SamplingRateValue(); rate < 0 || rate > 1 {
		errs = append(errs, fmt.Errorf("tracing.samplingRate %v must be between 0 and 1", rate))
	}
	if c.SMTP.MaxRepeatValue() < 0 {
		errs = append(errs, fmt.Errorf("smtp.maxRepeat %d must not be negative", c.SMTP.MaxRepeatValue()))
	}
	if c.Events.Kafka.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("events.kafka.brokers is required when kafka events are enabled"))
	}
	return errors.Join(errs...)
}

// ParseDuration returns def when value is empty or not a valid Go duration.
func ParseDuration(name, value string, def time.Duration, log *zap.SugaredLogger) time.Duration {
	d, err := parseDuration(name, value, def)
	if err != nil && log != nil {
		log.Warn(err)
	}
	return d
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	duration := def
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			duration = d
		} else {
			return duration, fmt.Errorf("invalid %s %q; using default %s: %w", name, value, def.String(), err)
		}
	}
	return duration, nil
}

func (s SMTP) DialTimeoutDuration(log *zap.SugaredLogger) time.Duration {
	return ParseDuration("smtp.dialTimeout", s.DialTimeout, 30*time.Second, log)
}

func (s SMTP) CommandTimeoutDuration(log *zap.SugaredLogger) time.Duration {
	return ParseDuration("smtp.commandTimeout", s.CommandTimeout, time.Minute, log)
}

func (s SMTP) SubmissionTimeoutDuration(log *zap.SugaredLogger) time.Duration {
	return ParseDuration("smtp.submissionTimeout", s.SubmissionTimeout, 5*time.Minute, log)
}

func (s SMTP) KeepAliveIntervalDuration(log *zap.SugaredLogger) time.Duration {
	return ParseDuration("smtp.keepAliveInterval", s.KeepAliveInterval, 5*time.Minute, log)
}

func (s SMTP) KeepAliveTimeoutDuration(log *zap.SugaredLogger) time.Duration {
	return ParseDuration("smtp.keepAliveTimeout", s.KeepAliveTimeout, 30*time.Second, log)
}

func (s Server) ShutdownTimeoutDuration(log *zap.SugaredLogger) time.Duration {
	return ParseDuration("server.shutdownTimeout", s.ShutdownTimeout, 30*time.Second, log)
}

func (r Rewrite) TimeoutDuration(log *zap.SugaredLogger) time.Duration {
	return ParseDuration("rewrite.timeout", r.Timeout, 30*time.Second, log)
}

func (k Kafka) BatchTimeoutDuration(log *zap.SugaredLogger) time.Duration {
	return ParseDuration("events.kafka.batchTimeout", k.BatchTimeout, time.Second, log)
}

func (k Kafka) WriteTimeoutDuration(log *zap.SugaredLogger) time.Duration {
	return ParseDuration("events.kafka.writeTimeout", k.WriteTimeout, 10*time.Second, log)
}

func (s SMTP) MaxRepeatValue() int {
	return valueOr(s.MaxRepeat, 100)
}

func (r Rewrite) TemperatureValue() float64 {
	return valueOr(r.Temperature, 0.9)
}

func (r Rewrite) TopPValue() float64 {
	return valueOr(r.TopP, 0.9)
}

func (t Tracing) SamplingRateValue() float64 {
	return valueOr(t.SamplingRate, 1.0)
}
