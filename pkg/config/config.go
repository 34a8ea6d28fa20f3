package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddress string
	DebugAddress  string
	DataDir       string

	RedisUrl      string
	RedisPassword string

	RabbitUrl    string
	RabbitVHost  string
	RabbitPrefix string

	SamplePgDsn string

	PollInterval  time.Duration
	PollWorkers   int
	PeekTimeout   time.Duration
	RetentionDays int
	Placeholders  []string

	Auth AuthConfig
}

type AuthConfig struct {
	TokenHash string
	ApiKey    string
}

// Load reads an optional .env file and then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddress: firstNonEmpty(os.Getenv("LISTEN_ADDR"), ":8080"),
		DebugAddress:  firstNonEmpty(os.Getenv("DEBUG_ADDR"), ":8081"),
		DataDir:       firstNonEmpty(os.Getenv("DATA_DIR"), "data"),

		RedisUrl:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		RabbitUrl:    strings.TrimSpace(os.Getenv("RABBIT_URL")),
		RabbitVHost:  strings.TrimSpace(os.Getenv("RABBIT_HOST")),
		RabbitPrefix: firstNonEmpty(os.Getenv("RABBIT_PREFIX"), "woof"),

		SamplePgDsn: strings.TrimSpace(os.Getenv("SAMPLE_STORE_PG_DSN")),

		PollInterval:  seconds("POLL_INTERVAL", 60),
		PollWorkers:   integer("POLL_WORKERS", 4),
		PeekTimeout:   seconds("PEEK_TIMEOUT", 10),
		RetentionDays: integer("RETENTION_DAYS", 400),
		Placeholders:  list("NUMERIC_PLACEHOLDERS", "n/a"),

		Auth: AuthConfig{
			TokenHash: os.Getenv("WOOF_TOKEN_HASH"),
			ApiKey:    os.Getenv("WOOF_API_KEY"),
		},
	}
}

// AmqpUrl joins the broker url and the optional vhost.
func (c *Config) AmqpUrl() string {
	if c.RabbitUrl == "" || c.RabbitVHost == "" {
		return c.RabbitUrl
	}
	return strings.TrimSuffix(c.RabbitUrl, "/") + "/" + strings.TrimPrefix(c.RabbitVHost, "/")
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func integer(env string, def int) int {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func seconds(env string, def int) time.Duration {
	return time.Duration(integer(env, def)) * time.Second
}

func list(env string, def ...string) []string {
	raw := strings.TrimSpace(os.Getenv(env))
	if raw == "" {
		return def
	}
	ret := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	if len(ret) == 0 {
		return def
	}
	return ret
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
