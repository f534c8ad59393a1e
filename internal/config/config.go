package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	FacilityID int    `mapstructure:"facility_id"`
	DataDir    string `mapstructure:"data_dir"`
	RedisAddr  string `mapstructure:"redis_addr"`

	CentralURL      string `mapstructure:"central_url"`
	RoomServicePort int    `mapstructure:"room_service_port"`

	ProbeInterval        time.Duration `mapstructure:"probe_interval"`
	ProbeBackoffInterval time.Duration `mapstructure:"probe_backoff_interval"`
	HealthyWindow        time.Duration `mapstructure:"healthy_window"`
	ProbeRetryDelay      time.Duration `mapstructure:"probe_retry_delay"`

	QueueRetryDelay  time.Duration `mapstructure:"queue_retry_delay"`
	QueueMaxAttempts int           `mapstructure:"queue_max_attempts"`

	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	GraceWindow    time.Duration `mapstructure:"grace_window"`
	BookingWindow  time.Duration `mapstructure:"booking_window"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 3001)
	v.SetDefault("facility_id", 1)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("redis_addr", "")
	v.SetDefault("central_url", "http://localhost:4000/api")
	v.SetDefault("room_service_port", 3002)
	v.SetDefault("probe_interval", "15s")
	v.SetDefault("probe_backoff_interval", "60s")
	v.SetDefault("healthy_window", "5m")
	v.SetDefault("probe_retry_delay", "5s")
	v.SetDefault("queue_retry_delay", "5s")
	v.SetDefault("queue_max_attempts", 3)
	v.SetDefault("confirm_timeout", "90s")
	v.SetDefault("grace_window", "30s")
	v.SetDefault("booking_window", "6m")
	v.SetDefault("stale_after", "10m")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
