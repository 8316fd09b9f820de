// Package config loads service settings from .env, the environment and an
// optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	GinMode     string
	Environment string

	DBDriver string
	DBDSN    string

	JWTSecret string
	JWTTTL    time.Duration

	CORSOrigins []string

	LogLevel  string
	LogFormat string
	SentryDSN string

	FanoutTimeout time.Duration

	MirrorRESTURL    string
	MirrorRESTSecret string

	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	FCMProjectID       string
	FCMCredentialsFile string
	ShoutrrrTimeout    time.Duration

	ShiftMaxDuration   time.Duration
	ShiftSweepInterval time.Duration

	PublicRatePerMinute int
	PublicPollPerMinute int
}

// envBindings maps config keys to the environment variable names used in .env.
var envBindings = map[string]string{
	"server.port":             "PORT",
	"server.gin_mode":         "GIN_MODE",
	"server.environment":      "APP_ENV",
	"database.driver":         "DB_DRIVER",
	"database.dsn":            "DB_DSN",
	"jwt.secret":              "JWT_SECRET",
	"jwt.ttl":                 "JWT_TTL",
	"cors.origins":            "CORS_ORIGINS",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
	"sentry.dsn":              "SENTRY_DSN",
	"fanout.timeout":          "FANOUT_TIMEOUT",
	"mirror.rest.url":         "MIRROR_REST_URL",
	"mirror.rest.secret":      "MIRROR_REST_SECRET",
	"mirror.mqtt.broker":      "MQTT_BROKER",
	"mirror.mqtt.client_id":   "MQTT_CLIENT_ID",
	"mirror.mqtt.username":    "MQTT_USERNAME",
	"mirror.mqtt.password":    "MQTT_PASSWORD",
	"mirror.mqtt.prefix":      "MQTT_TOPIC_PREFIX",
	"push.fcm.project_id":     "FCM_PROJECT_ID",
	"push.fcm.credentials":    "FCM_CREDENTIALS_FILE",
	"push.shoutrrr.timeout":   "SHOUTRRR_TIMEOUT",
	"shift.max_duration":      "SHIFT_MAX_DURATION",
	"shift.sweep_interval":    "SHIFT_SWEEP_INTERVAL",
	"ratelimit.public_minute": "PUBLIC_RATE_PER_MINUTE",
	"ratelimit.poll_minute":   "PUBLIC_POLL_PER_MINUTE",
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.gin_mode", "debug")
	v.SetDefault("server.environment", "development")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "waiter_call.db")
	v.SetDefault("jwt.ttl", "24h")
	v.SetDefault("cors.origins", "http://127.0.0.1:5500")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("fanout.timeout", "3s")
	v.SetDefault("mirror.mqtt.client_id", "waiter-call")
	v.SetDefault("mirror.mqtt.prefix", "waitercall")
	v.SetDefault("push.shoutrrr.timeout", "3s")
	v.SetDefault("shift.max_duration", "12h")
	v.SetDefault("shift.sweep_interval", "5m")
	v.SetDefault("ratelimit.public_minute", 20)
	v.SetDefault("ratelimit.poll_minute", 120)
}

// Load reads .env (if present), binds the environment and an optional config
// file, and returns validated settings.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	SetDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Port:                v.GetString("server.port"),
		GinMode:             v.GetString("server.gin_mode"),
		Environment:         v.GetString("server.environment"),
		DBDriver:            strings.ToLower(v.GetString("database.driver")),
		DBDSN:               v.GetString("database.dsn"),
		JWTSecret:           v.GetString("jwt.secret"),
		JWTTTL:              v.GetDuration("jwt.ttl"),
		CORSOrigins:         splitList(v.GetString("cors.origins")),
		LogLevel:            v.GetString("log.level"),
		LogFormat:           v.GetString("log.format"),
		SentryDSN:           v.GetString("sentry.dsn"),
		FanoutTimeout:       v.GetDuration("fanout.timeout"),
		MirrorRESTURL:       strings.TrimRight(v.GetString("mirror.rest.url"), "/"),
		MirrorRESTSecret:    v.GetString("mirror.rest.secret"),
		MQTTBroker:          v.GetString("mirror.mqtt.broker"),
		MQTTClientID:        v.GetString("mirror.mqtt.client_id"),
		MQTTUsername:        v.GetString("mirror.mqtt.username"),
		MQTTPassword:        v.GetString("mirror.mqtt.password"),
		MQTTTopicPrefix:     v.GetString("mirror.mqtt.prefix"),
		FCMProjectID:        v.GetString("push.fcm.project_id"),
		FCMCredentialsFile:  v.GetString("push.fcm.credentials"),
		ShoutrrrTimeout:     v.GetDuration("push.shoutrrr.timeout"),
		ShiftMaxDuration:    v.GetDuration("shift.max_duration"),
		ShiftSweepInterval:  v.GetDuration("shift.sweep_interval"),
		PublicRatePerMinute: v.GetInt("ratelimit.public_minute"),
		PublicPollPerMinute: v.GetInt("ratelimit.poll_minute"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be mysql or sqlite, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is not set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	if c.FanoutTimeout <= 0 {
		return fmt.Errorf("FANOUT_TIMEOUT must be positive")
	}
	if c.FCMProjectID != "" && c.FCMCredentialsFile == "" {
		return fmt.Errorf("FCM_CREDENTIALS_FILE is required when FCM_PROJECT_ID is set")
	}
	if c.ShiftSweepInterval <= 0 {
		return fmt.Errorf("SHIFT_SWEEP_INTERVAL must be positive")
	}
	if c.PublicRatePerMinute <= 0 {
		return fmt.Errorf("PUBLIC_RATE_PER_MINUTE must be positive")
	}
	if c.PublicPollPerMinute <= 0 {
		return fmt.Errorf("PUBLIC_POLL_PER_MINUTE must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
