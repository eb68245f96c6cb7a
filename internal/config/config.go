package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Event sink names accepted in TETHER_EVENT_SINKS.
const (
	SinkLog   = "log"
	SinkRedis = "redis"
)

// Config holds process configuration loaded from environment variables.
// Session behaviour comes from the configuration block, not from here.
type Config struct {
	Log        LogConfig
	Agent      AgentConfig
	Redis      RedisConfig
	Controller ControllerConfig
	EventSinks []string
}

// LogConfig selects zerolog level and output format.
type LogConfig struct {
	Level  string
	Format string
}

// AgentConfig holds settings for `tether run`.
type AgentConfig struct {
	BlockPath string
	Heartbeat time.Duration
}

// RedisConfig holds Redis connection settings for event fan-out.
type RedisConfig struct {
	Addr           string
	Password       string //nolint:gosec // G117: Redis connection config
	DB             int
	PublishTimeout time.Duration
}

// ControllerConfig holds settings for the loopback controller.
type ControllerConfig struct {
	Addr        string
	TCPAddr     string
	PollWait    time.Duration
	CallTimeout time.Duration
	PollRate    int // polls per second per session, 0 disables
	PollBurst   int
	CORSOrigins []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	heartbeat, err := getEnvDuration("TETHER_HEARTBEAT_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("TETHER_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	publishTimeout, err := getEnvDuration("TETHER_REDIS_PUBLISH_TIMEOUT", time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pollWait, err := getEnvDuration("TETHER_CONTROLLER_POLL_WAIT", time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	callTimeout, err := getEnvDuration("TETHER_CONTROLLER_CALL_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pollRate, err := getEnvInt("TETHER_CONTROLLER_POLL_RATE", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pollBurst, err := getEnvInt("TETHER_CONTROLLER_POLL_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  getEnv("TETHER_LOG_LEVEL", "info"),
			Format: getEnv("TETHER_LOG_FORMAT", "json"),
		},
		Agent: AgentConfig{
			BlockPath: getEnv("TETHER_BLOCK_PATH", ""),
			Heartbeat: heartbeat,
		},
		Redis: RedisConfig{
			Addr:           getEnv("TETHER_REDIS_ADDR", ""),
			Password:       getEnv("TETHER_REDIS_PASSWORD", ""),
			DB:             redisDB,
			PublishTimeout: publishTimeout,
		},
		Controller: ControllerConfig{
			Addr:        getEnv("TETHER_CONTROLLER_ADDR", ":8080"),
			TCPAddr:     getEnv("TETHER_CONTROLLER_TCP_ADDR", ""),
			PollWait:    pollWait,
			CallTimeout: callTimeout,
			PollRate:    pollRate,
			PollBurst:   pollBurst,
			CORSOrigins: getEnvList("TETHER_CONTROLLER_CORS_ORIGINS", nil),
		},
		EventSinks: getEnvList("TETHER_EVENT_SINKS", []string{SinkLog}),
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("TETHER_LOG_LEVEL %q is not a log level", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("TETHER_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	if c.Agent.Heartbeat < 0 {
		return fmt.Errorf("TETHER_HEARTBEAT_INTERVAL must not be negative, got %s", c.Agent.Heartbeat)
	}

	for _, s := range c.EventSinks {
		if s != SinkLog && s != SinkRedis {
			return fmt.Errorf("TETHER_EVENT_SINKS: unknown sink %q", s)
		}
	}
	if c.RedisEvents() && c.Redis.Addr == "" {
		return errors.New("TETHER_REDIS_ADDR is required when TETHER_EVENT_SINKS includes redis")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("TETHER_REDIS_DB must be >= 0, got %d", c.Redis.DB)
	}
	if c.Redis.PublishTimeout <= 0 {
		return fmt.Errorf("TETHER_REDIS_PUBLISH_TIMEOUT must be positive, got %s", c.Redis.PublishTimeout)
	}

	if c.Controller.PollWait <= 0 {
		return fmt.Errorf("TETHER_CONTROLLER_POLL_WAIT must be positive, got %s", c.Controller.PollWait)
	}
	if c.Controller.CallTimeout <= 0 {
		return fmt.Errorf("TETHER_CONTROLLER_CALL_TIMEOUT must be positive, got %s", c.Controller.CallTimeout)
	}

	if c.Controller.PollRate < 0 {
		return fmt.Errorf("TETHER_CONTROLLER_POLL_RATE must not be negative, got %d", c.Controller.PollRate)
	}
	if c.Controller.PollRate > 0 && c.Controller.PollBurst <= 0 {
		return fmt.Errorf("TETHER_CONTROLLER_POLL_BURST must be positive, got %d", c.Controller.PollBurst)
	}

	return nil
}

// LogEvents reports whether session events go to the log.
func (c *Config) LogEvents() bool {
	return slices.Contains(c.EventSinks, SinkLog)
}

// RedisEvents reports whether session events are published to Redis.
func (c *Config) RedisEvents() bool {
	return slices.Contains(c.EventSinks, SinkRedis)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
