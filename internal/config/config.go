package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	JWTSecret         string
	MasterKey         string
	ConsentWindow     time.Duration
	ConsentValidity   time.Duration
	RenewalValidity   time.Duration
	SweepInterval     time.Duration
	ReportRetries     int
	ReportRetryDelay  time.Duration
	ReportingEndpoint string
	SeedEnabled       bool
	SeedToken         string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SAFEGUARD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "SafeGuard API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("consent.window", "72h")
	v.SetDefault("consent.validity", "8760h")
	v.SetDefault("consent.renewal_validity", "2160h")
	v.SetDefault("consent.sweep_interval", "15m")
	v.SetDefault("report.retries", 3)
	v.SetDefault("report.retry_delay", "500ms")

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		JWTSecret:         v.GetString("jwt.secret"),
		MasterKey:         v.GetString("master.key"),
		ReportRetries:     v.GetInt("report.retries"),
		ReportingEndpoint: v.GetString("report.endpoint"),
		SeedEnabled:       v.GetBool("seed.enabled"),
		SeedToken:         v.GetString("seed.token"),
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"consent.window", &cfg.ConsentWindow},
		{"consent.validity", &cfg.ConsentValidity},
		{"consent.renewal_validity", &cfg.RenewalValidity},
		{"consent.sweep_interval", &cfg.SweepInterval},
		{"report.retry_delay", &cfg.ReportRetryDelay},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", strings.ReplaceAll(d.key, ".", " "), err)
		}
		*d.target = parsed
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if len(cfg.MasterKey) < 32 {
		return Config{}, fmt.Errorf("master key must be at least 32 bytes")
	}

	if cfg.ReportRetries <= 0 {
		cfg.ReportRetries = 3
	}

	return cfg, nil
}
