package config

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type ServiceConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Interval string `mapstructure:"interval"`
	Enabled  bool   `mapstructure:"enabled"`
}

type RewriteConfig struct {
	Pattern string `mapstructure:"pattern"`
	Service string `mapstructure:"service"`
	Target  string `mapstructure:"target"`
}

type ProxyConfig struct {
	Timeout           string `mapstructure:"timeout"`
	AllowedOrigin     string `mapstructure:"allowed_origin"`
	BypassHealthCheck bool   `mapstructure:"bypass_health_check"`
}

type BreakerConfig struct {
	MinimumRequests          int     `mapstructure:"minimum_requests"`
	ErrorThresholdPercentage float64 `mapstructure:"error_threshold_percentage"`
	ResetTimeout             string  `mapstructure:"reset_timeout"`
	SuccessThreshold         int     `mapstructure:"success_threshold"`
	CallTimeout              string  `mapstructure:"call_timeout"`
}

type RetryConfig struct {
	MaxAttempts  int     `mapstructure:"max_attempts"`
	InitialDelay string  `mapstructure:"initial_delay"`
	MaxDelay     string  `mapstructure:"max_delay"`
	Multiplier   float64 `mapstructure:"multiplier"`
}

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Proxy    ProxyConfig     `mapstructure:"proxy"`
	Breaker  BreakerConfig   `mapstructure:"breaker"`
	Retry    RetryConfig     `mapstructure:"retry"`
	Services []ServiceConfig `mapstructure:"services"`
	Rewrites []RewriteConfig `mapstructure:"rewrites"`
}

func Load() (*Config, error) {
	viper.SetDefault("server.environment", EnvDev)
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("logging.level", LogLevelInfo)
	viper.SetDefault("proxy.timeout", "30s")
	viper.SetDefault("proxy.allowed_origin", "http://localhost:5173")
	viper.SetDefault("breaker.minimum_requests", 10)
	viper.SetDefault("breaker.error_threshold_percentage", 50)
	viper.SetDefault("breaker.reset_timeout", "30s")
	viper.SetDefault("breaker.success_threshold", 2)
	viper.SetDefault("breaker.call_timeout", "10s")
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.initial_delay", "500ms")
	viper.SetDefault("retry.max_delay", "10s")
	viper.SetDefault("retry.multiplier", 2.0)
	viper.SetDefault("services", []map[string]any{
		{"name": "portfolio", "url": "http://localhost:3001", "interval": "30s", "enabled": true},
		{"name": "market-data", "url": "http://localhost:3002", "interval": "30s", "enabled": true},
		{"name": "risk", "url": "http://localhost:3003", "interval": "30s", "enabled": true},
		{"name": "ml", "url": "http://localhost:8000", "interval": "30s", "enabled": true},
	})

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Proxy,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.Timeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Breaker,
			validation.Required,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.MinimumRequests, validation.Required, validation.Min(1)),
					validation.Field(&bc.ErrorThresholdPercentage,
						validation.Required, validation.Min(float64(1)), validation.Max(float64(100))),
					validation.Field(&bc.ResetTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&bc.SuccessThreshold, validation.Required, validation.Min(1)),
					validation.Field(&bc.CallTimeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Retry,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RetryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RetryConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.MaxAttempts, validation.Required, validation.Min(1)),
					validation.Field(&rc.InitialDelay, validation.Required, validation.By(validateDuration)),
					validation.Field(&rc.MaxDelay, validation.Required, validation.By(validateDuration)),
					validation.Field(&rc.Multiplier, validation.Required, validation.Min(float64(1))),
				)
			}),
		),
		validation.Field(&c.Services,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateServiceConfig)),
		),
		validation.Field(&c.Rewrites,
			validation.Each(validation.By(validateRewriteConfig)),
		),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateServiceConfig(value interface{}) error {
	service, ok := value.(ServiceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServiceConfig")
	}

	if service.Name == "" {
		return validation.NewError("validation_empty_name", "service name cannot be empty")
	}

	if service.URL == "" {
		return validation.NewError("validation_empty_url", "service URL cannot be empty")
	}

	parsedURL, err := url.Parse(service.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	if service.Interval != "" {
		if _, err := time.ParseDuration(service.Interval); err != nil {
			return validation.NewError("validation_invalid_duration", "interval must be a valid duration")
		}
	}

	return nil
}

func validateRewriteConfig(value interface{}) error {
	rewrite, ok := value.(RewriteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RewriteConfig")
	}

	if !strings.HasPrefix(rewrite.Pattern, "/") {
		return validation.NewError("validation_invalid_pattern", "rewrite pattern must start with /")
	}

	if rewrite.Service == "" {
		return validation.NewError("validation_empty_service", "rewrite target service cannot be empty")
	}

	if !strings.HasPrefix(rewrite.Target, "/") {
		return validation.NewError("validation_invalid_target", "rewrite target path must start with /")
	}

	return nil
}
