package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Vicaadrn/web-scanner-project/internal/engine"
	"github.com/Vicaadrn/web-scanner-project/internal/quota"
	"github.com/Vicaadrn/web-scanner-project/internal/reconcile"
	"github.com/Vicaadrn/web-scanner-project/internal/telemetry"
	"github.com/Vicaadrn/web-scanner-project/internal/utils"
)

// EnvPrefix prefixes every environment override, e.g. SCANNER_ENGINE_BASEURL.
const EnvPrefix = "SCANNER"

// Config is the runtime configuration of the scan service.
type Config struct {
	LogLevel string `mapstructure:"loglevel"`

	Server    ServerConfig     `mapstructure:"server"`
	Store     StoreConfig      `mapstructure:"store"`
	Engine    engine.Config    `mapstructure:"engine"`
	Quota     QuotaConfig      `mapstructure:"quota"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Reconcile ReconcileConfig  `mapstructure:"reconcile"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`

	// Target controls how submitted targets are canonicalized.
	Target utils.CanonicalizeOptions `mapstructure:"-"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"readtimeout"`
	WriteTimeout    time.Duration `mapstructure:"writetimeout"`
	IdleTimeout     time.Duration `mapstructure:"idletimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdowntimeout"`
	AllowedOrigins  []string      `mapstructure:"allowedorigins"`
}

type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MinConns int32  `mapstructure:"minconns"`
	MaxConns int32  `mapstructure:"maxconns"`
}

type QuotaConfig struct {
	Ceiling int           `mapstructure:"ceiling"`
	Window  time.Duration `mapstructure:"window"`
}

type AuthConfig struct {
	// JWTSecret signs bearer tokens. Empty disables authentication and every
	// caller is anonymous.
	JWTSecret     string        `mapstructure:"jwtsecret"`
	TokenTTL      time.Duration `mapstructure:"tokenttl"`
	SecureCookies bool          `mapstructure:"securecookies"`
}

type ReconcileConfig struct {
	PollInterval time.Duration `mapstructure:"pollinterval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ResultGrace  time.Duration `mapstructure:"resultgrace"`
}

// DefaultConfig returns a Config populated with development defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Store: StoreConfig{
			Driver:   "sqlite",
			DSN:      "scanner.db",
			MinConns: 2,
			MaxConns: 10,
		},
		Engine: engine.Config{
			BaseURL:        "http://localhost:8081",
			RequestTimeout: 30 * time.Second,
			RateLimit:      20,
			Burst:          40,
		},
		Quota: QuotaConfig{
			Ceiling: quota.DefaultCeiling,
			Window:  quota.DefaultWindow,
		},
		Auth: AuthConfig{
			TokenTTL: 7 * 24 * time.Hour,
		},
		Reconcile: ReconcileConfig{
			PollInterval: reconcile.DefaultPollInterval,
			Timeout:      reconcile.DefaultServerTimeout,
			ResultGrace:  reconcile.DefaultResultGrace,
		},
		Telemetry: telemetry.Config{
			ServiceName: "scanner-api",
			Insecure:    true,
			Probability: 0.1,
		},
		Target: utils.TargetOptions,
	}
}

// LoadConfig layers an optional config file and SCANNER_* environment
// variables over DefaultConfig. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("loglevel", c.LogLevel)

	v.SetDefault("server.addr", c.Server.Addr)
	v.SetDefault("server.readtimeout", c.Server.ReadTimeout)
	v.SetDefault("server.writetimeout", c.Server.WriteTimeout)
	v.SetDefault("server.idletimeout", c.Server.IdleTimeout)
	v.SetDefault("server.shutdowntimeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.allowedorigins", c.Server.AllowedOrigins)

	v.SetDefault("store.driver", c.Store.Driver)
	v.SetDefault("store.dsn", c.Store.DSN)
	v.SetDefault("store.minconns", c.Store.MinConns)
	v.SetDefault("store.maxconns", c.Store.MaxConns)

	v.SetDefault("engine.baseurl", c.Engine.BaseURL)
	v.SetDefault("engine.requesttimeout", c.Engine.RequestTimeout)
	v.SetDefault("engine.ratelimit", c.Engine.RateLimit)
	v.SetDefault("engine.burst", c.Engine.Burst)

	v.SetDefault("quota.ceiling", c.Quota.Ceiling)
	v.SetDefault("quota.window", c.Quota.Window)

	v.SetDefault("auth.jwtsecret", c.Auth.JWTSecret)
	v.SetDefault("auth.tokenttl", c.Auth.TokenTTL)
	v.SetDefault("auth.securecookies", c.Auth.SecureCookies)

	v.SetDefault("reconcile.pollinterval", c.Reconcile.PollInterval)
	v.SetDefault("reconcile.timeout", c.Reconcile.Timeout)
	v.SetDefault("reconcile.resultgrace", c.Reconcile.ResultGrace)

	v.SetDefault("telemetry.servicename", c.Telemetry.ServiceName)
	v.SetDefault("telemetry.endpoint", c.Telemetry.Endpoint)
	v.SetDefault("telemetry.insecure", c.Telemetry.Insecure)
	v.SetDefault("telemetry.probability", c.Telemetry.Probability)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return errors.New("store dsn is required")
	}
	if c.Engine.BaseURL == "" {
		return errors.New("engine base url is required")
	}
	if c.Quota.Ceiling <= 0 {
		return fmt.Errorf("quota ceiling must be positive, got %d", c.Quota.Ceiling)
	}
	return nil
}
