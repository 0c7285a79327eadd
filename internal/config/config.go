// Package config loads supplyledger configuration from flags, environment
// variables (SUPPLYLEDGER_*) and an optional supplyledger.yaml.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/poudelalish/blockchain-inventory/internal/blob"
	"github.com/poudelalish/blockchain-inventory/internal/core"
	"github.com/poudelalish/blockchain-inventory/internal/directory"
	"github.com/poudelalish/blockchain-inventory/internal/events"
	"github.com/poudelalish/blockchain-inventory/internal/logging"
	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SUPPLYLEDGER"

// DefaultCallerHeader carries the caller identity on HTTP requests.
const DefaultCallerHeader = "X-Caller-Address"

// Config holds every supplyledger setting.
type Config struct {
	Owner     string              `mapstructure:"owner"`
	NetworkID string              `mapstructure:"network_id"`
	Storage   core.StorageConfig  `mapstructure:"storage"`
	Blob      blob.Config         `mapstructure:"blob"`
	Directory DirectoryConfig     `mapstructure:"directory"`
	HTTP      HTTPConfig          `mapstructure:"http"`
	Log       logging.Config      `mapstructure:"log"`
	Events    EventsConfig        `mapstructure:"events"`
	Metrics   MetricsConfig       `mapstructure:"metrics"`
	Tracing   core.TracingConfig  `mapstructure:"tracing"`
	Policies  []core.PolicyConfig `mapstructure:"policies"`
	Client    ClientConfig        `mapstructure:"client"`
}

// DirectoryConfig locates the deployment directory document.
type DirectoryConfig struct {
	Key      string        `mapstructure:"key"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Watch    bool          `mapstructure:"watch"`
}

// HTTPConfig configures the ledger server.
type HTTPConfig struct {
	Addr         string `mapstructure:"addr"`
	CallerHeader string `mapstructure:"caller_header"`
	// PublicURL is recorded in the directory on deploy; it defaults to
	// http://<addr>.
	PublicURL string `mapstructure:"public_url"`
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `mapstructure:"cors_origins"`
	// TrustedProxies, when set, limits the caller header to requests from
	// these peers (CIDR prefixes or IPs).
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// EventsConfig selects the event publisher.
type EventsConfig struct {
	Driver   string              `mapstructure:"driver"` // none|memory|rabbitmq
	RabbitMQ events.RabbitConfig `mapstructure:"rabbitmq"`
}

// MetricsConfig toggles the Prometheus recorder and /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ClientConfig configures the CLI's HTTP client.
type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Caller  string        `mapstructure:"caller"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		NetworkID: "31337",
		Storage:   core.StorageConfig{Driver: string(core.StorageSQLite)},
		Blob:      blob.Config{Driver: string(blob.DriverFilesystem), FSRoot: "./blobdata"},
		Directory: DirectoryConfig{Key: directory.DefaultKey, CacheTTL: directory.DefaultCacheTTL},
		HTTP:      HTTPConfig{Addr: "127.0.0.1:8545", CallerHeader: DefaultCallerHeader},
		Log:       logging.Config{Level: "info", Format: "console"},
		Events:    EventsConfig{Driver: "none", RabbitMQ: events.RabbitConfig{Exchange: events.DefaultExchange, RoutingKey: "ledger"}},
		Tracing:   core.TracingConfig{Exporter: "none", ServiceName: "supplyledger", SampleRate: 1},
		Client:    ClientConfig{Timeout: 10 * time.Second},
	}
}

// SetDefaults registers Defaults on v so env and file overrides merge over
// them key by key.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("network_id", d.NetworkID)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", "")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("blob.driver", d.Blob.Driver)
	v.SetDefault("blob.fs_root", d.Blob.FSRoot)
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("directory.key", d.Directory.Key)
	v.SetDefault("directory.cache_ttl", d.Directory.CacheTTL)
	v.SetDefault("directory.watch", false)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.caller_header", d.HTTP.CallerHeader)
	v.SetDefault("http.public_url", "")
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("http.trusted_proxies", []string{})
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("events.driver", d.Events.Driver)
	v.SetDefault("events.rabbitmq.url", "")
	v.SetDefault("events.rabbitmq.exchange", d.Events.RabbitMQ.Exchange)
	v.SetDefault("events.rabbitmq.routing_key", d.Events.RabbitMQ.RoutingKey)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("owner", "")
	v.SetDefault("client.base_url", "")
	v.SetDefault("client.caller", "")
	v.SetDefault("client.timeout", d.Client.Timeout)
}

// NewViper returns a viper instance with defaults, env binding and the
// config file search path set up. file overrides the search when non-empty.
func NewViper(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("supplyledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/supplyledger")
	}
	return v
}

// ReadFile reads the configured file. A missing file in the search path is
// not an error; an explicitly named missing file is.
func ReadFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Owner = string(domain.NormalizeAddress(cfg.Owner))
	cfg.Client.Caller = string(domain.NormalizeAddress(cfg.Client.Caller))
	return cfg, nil
}

// Validate checks enumerated settings.
func (c Config) Validate() error {
	var errs []error
	if _, err := core.ParseStorageDriver(c.Storage.Driver); err != nil {
		errs = append(errs, err)
	}
	if _, err := blob.ParseDriver(c.Blob.Driver); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Events.Driver) {
	case "", "none", "memory":
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			errs = append(errs, fmt.Errorf("events.rabbitmq.url is required for the rabbitmq driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown events driver %q", c.Events.Driver))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if c.Directory.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("directory.cache_ttl must not be negative"))
	}
	if c.HTTP.CallerHeader == "" {
		errs = append(errs, fmt.Errorf("http.caller_header must not be empty"))
	}
	for i, p := range c.Policies {
		if p.Name == "" || p.Expression == "" {
			errs = append(errs, fmt.Errorf("policies[%d] needs a name and an expression", i))
		}
	}
	return errors.Join(errs...)
}

// PublicURLOrDefault returns the address recorded for this server in the directory.
func (c HTTPConfig) PublicURLOrDefault() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	return "http://" + c.Addr
}
