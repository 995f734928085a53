package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSecret         string   `mapstructure:"JWT_SECRET"`
	RazorpayKeyID     string   `mapstructure:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret string   `mapstructure:"RAZORPAY_KEY_SECRET"`
	SMSAPIURL         string   `mapstructure:"SMS_API_URL"`
	SMSAPIKey         string   `mapstructure:"SMS_API_KEY"`
	SMSSenderID       string   `mapstructure:"SMS_SENDER_ID"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int      `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeoutSec int      `mapstructure:"REQUEST_TIMEOUT_SEC"`
	GatewayTimeoutSec int      `mapstructure:"GATEWAY_TIMEOUT_SEC"`
	NotifyQueueSize   int      `mapstructure:"NOTIFY_QUEUE_SIZE"`
	ReconcileCron     string   `mapstructure:"RECONCILE_CRON"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT_SEC", 30)
	v.SetDefault("GATEWAY_TIMEOUT_SEC", 15)
	v.SetDefault("NOTIFY_QUEUE_SIZE", 256)
	v.SetDefault("RECONCILE_CRON", "@every 10m")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("RAZORPAY_KEY_ID")
	v.BindEnv("RAZORPAY_KEY_SECRET")
	v.BindEnv("SMS_API_URL")
	v.BindEnv("SMS_API_KEY")
	v.BindEnv("SMS_SENDER_ID")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("REQUEST_TIMEOUT_SEC")
	v.BindEnv("GATEWAY_TIMEOUT_SEC")
	v.BindEnv("NOTIFY_QUEUE_SIZE")
	v.BindEnv("RECONCILE_CRON")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: dev auth is active; do NOT use this configuration in production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development,
// the JWT secret and the Razorpay key pair are required: without the key
// secret the payment verifier cannot recompute signatures and would accept
// nothing.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when ENV is not development")
		}
		if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
			return fmt.Errorf("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required when ENV is not development")
		}
	}
	if c.RequestTimeoutSec <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SEC must be positive, got %d", c.RequestTimeoutSec)
	}
	if c.GatewayTimeoutSec <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT_SEC must be positive, got %d", c.GatewayTimeoutSec)
	}
	if c.NotifyQueueSize <= 0 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be positive, got %d", c.NotifyQueueSize)
	}
	return nil
}
