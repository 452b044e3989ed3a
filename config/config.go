// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup: with no
// environment at all it joins the default channel anonymously and serves on :3000.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

// DefaultChannel is the channel relayed when TWITCH_CHANNEL is unset.
const DefaultChannel = "joppavash"

type Config struct {
	// HTTP
	Port      string `env:"PORT" envDefault:"3000"`
	HTTPAddr  string `env:"HTTP_ADDR"`
	StaticDir string `env:"STATIC_DIR" envDefault:"public"`

	// Twitch
	TwitchChannel       string        `env:"TWITCH_CHANNEL" envDefault:"joppavash"`
	TwitchBotUsername   string        `env:"TWITCH_BOT_USERNAME"`
	TwitchOAuthToken    string        `env:"TWITCH_OAUTH_TOKEN"`
	ReconnectMaxBackoff time.Duration `env:"TWITCH_RECONNECT_MAX_BACKOFF" envDefault:"30s"`

	// Relay
	HistoryCapacity int    `env:"HISTORY_CAPACITY" envDefault:"200"`
	QuestionTrigger string `env:"QUESTION_TRIGGER" envDefault:"!question"`
	ClientBuffer    int    `env:"CLIENT_BUFFER" envDefault:"256"`

	// Log storage
	LogDir            string `env:"LOG_DIR" envDefault:"logs"`
	LogQueueSize      int    `env:"LOG_QUEUE_SIZE" envDefault:"1024"`
	PrecreateSchedule string `env:"SHARD_PRECREATE_SCHEDULE" envDefault:"0 0 * * *"`

	// Redis mirror (optional)
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisChannel  string `env:"REDIS_CHANNEL" envDefault:"twitch-questions:events"`

	// AMQP mirror (optional)
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"twitch-questions.events"`

	// HTTP policy
	Env                 string   `env:"ENV"`
	CORSPermissive      string   `env:"CORS_PERMISSIVE"`
	CORSAllowedOrigins  []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	RateLimitEnabled    bool     `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRequests   int      `env:"RATE_LIMIT_REQUESTS_PER_IP" envDefault:"30"`
	RateLimitWindowSecs int      `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	EnablePprof         bool     `env:"ENABLE_PPROF"`
}

// Load reads environment variables and applies defaults. Semantic checks live in Validate.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.TwitchChannel = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cfg.TwitchChannel)), "#")
	return cfg, nil
}

// PermissiveCORS reports whether every origin is allowed. Development
// environments (ENV empty, dev or development) are permissive unless
// CORS_PERMISSIVE says otherwise.
func (c *Config) PermissiveCORS() bool {
	if c.CORSPermissive != "" {
		return c.CORSPermissive == "1" || strings.EqualFold(c.CORSPermissive, "true")
	}
	switch strings.ToLower(c.Env) {
	case "", "dev", "development":
		return true
	}
	return false
}

// AllowedOrigins returns the trimmed, non-empty CORS origins.
func (c *Config) AllowedOrigins() []string {
	out := make([]string, 0, len(c.CORSAllowedOrigins))
	for _, o := range c.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// RateLimitWindow returns the search rate limit window.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSecs) * time.Second
}

// Addr returns the listen address: HTTP_ADDR when set, otherwise ":" + PORT.
func (c *Config) Addr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return ":" + c.Port
}

// Anonymous reports whether chat is read without credentials.
func (c *Config) Anonymous() bool {
	return c.TwitchBotUsername == "" && c.TwitchOAuthToken == ""
}

// Validate checks the values the relay cannot start without.
func (c *Config) Validate() error {
	if c.TwitchChannel == "" {
		return fmt.Errorf("missing twitch env: TWITCH_CHANNEL is empty")
	}
	if (c.TwitchBotUsername == "") != (c.TwitchOAuthToken == "") {
		return fmt.Errorf("missing twitch env: TWITCH_BOT_USERNAME and TWITCH_OAUTH_TOKEN must be set together")
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("HISTORY_CAPACITY must be positive, got %d", c.HistoryCapacity)
	}
	if strings.TrimSpace(c.QuestionTrigger) == "" {
		return fmt.Errorf("QUESTION_TRIGGER must not be blank")
	}
	if c.LogDir == "" {
		return fmt.Errorf("LOG_DIR must not be empty")
	}
	if c.RateLimitEnabled && (c.RateLimitRequests < 1 || c.RateLimitWindowSecs < 1) {
		return fmt.Errorf("rate limit needs positive RATE_LIMIT_REQUESTS_PER_IP and RATE_LIMIT_WINDOW_SECONDS")
	}
	return nil
}
