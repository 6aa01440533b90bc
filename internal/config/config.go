package config

import (
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Billing   BillingConfig   `yaml:"billing"`
	Limits    LimitsConfig    `yaml:"limits"`
	Policy    PolicyConfig    `yaml:"policy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + strconv.Itoa(d.Port) + "/" + d.Name + "?sslmode=disable"
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type UpstreamConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type BillingConfig struct {
	// Plans maps a plan selector to the biller's price identifier.
	Plans      map[string]string `yaml:"plans"`
	SuccessURL string            `yaml:"success_url"`
	CancelURL  string            `yaml:"cancel_url"`
	// CheckoutTimeout bounds the wait for the biller to write a URL or an
	// error onto a pending session record.
	CheckoutTimeout time.Duration `yaml:"checkout_timeout"`
}

type LimitsConfig struct {
	// BusRPM caps bus messages per minute per calling context. Zero
	// disables the cap.
	BusRPM int `yaml:"bus_rpm"`
	// DailyMeteredOps caps expensive operations per day for accounts
	// without a subscription. Zero disables metering.
	DailyMeteredOps int `yaml:"daily_metered_ops"`
}

type PolicyConfig struct {
	BundlePath string `yaml:"bundle_path"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsPort int    `yaml:"metrics_port"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             7071,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 5432,
			Name: "chatrelay",
			User: "chatrelay",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://chatgpt.com/backend-api",
			Timeout: 60 * time.Second,
		},
		Billing: BillingConfig{
			CheckoutTimeout: 30 * time.Second,
		},
		Limits: LimitsConfig{
			BusRPM:          240,
			DailyMeteredOps: 25,
		},
		Policy: PolicyConfig{
			BundlePath: "policies",
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			MetricsPort: 9090,
		},
	}
}
