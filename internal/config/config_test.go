package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "TETHER_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "TETHER_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "TETHER_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}
			assert.Equal(t, tc.want, getEnv(tc.key, tc.fallback))
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "TETHER_TEST_INT_UNSET", setVal: nil, fallback: 42, want: 42},
		{name: "parses valid int", key: "TETHER_TEST_INT_VALID", setVal: strPtr("3"), fallback: 0, want: 3},
		{name: "parses zero", key: "TETHER_TEST_INT_ZERO", setVal: strPtr("0"), fallback: 99, want: 0},
		{name: "errors on non-numeric", key: "TETHER_TEST_INT_NAN", setVal: strPtr("abc"), fallback: 0, wantErr: true},
		{name: "errors on float", key: "TETHER_TEST_INT_FLOAT", setVal: strPtr("3.14"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "TETHER_TEST_DUR_UNSET", setVal: nil, fallback: 5 * time.Second, want: 5 * time.Second},
		{name: "parses seconds", key: "TETHER_TEST_DUR_SEC", setVal: strPtr("30s"), fallback: 0, want: 30 * time.Second},
		{name: "parses composite", key: "TETHER_TEST_DUR_COMP", setVal: strPtr("1h30m"), fallback: 0, want: 90 * time.Minute},
		{name: "errors on invalid", key: "TETHER_TEST_DUR_INV", setVal: strPtr("notaduration"), fallback: 0, wantErr: true},
		{name: "errors on bare number", key: "TETHER_TEST_DUR_BARE", setVal: strPtr("30"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TETHER_TEST_LIST", " log , ,redis")
	assert.Equal(t, []string{"log", "redis"}, getEnvList("TETHER_TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, getEnvList("TETHER_TEST_LIST_UNSET", []string{"x"}))
}

// ---------------------------------------------------------------------------
// Load()
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Agent.BlockPath)
	assert.Zero(t, cfg.Agent.Heartbeat)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, time.Second, cfg.Redis.PublishTimeout)
	assert.Equal(t, ":8080", cfg.Controller.Addr)
	assert.Equal(t, time.Second, cfg.Controller.PollWait)
	assert.Equal(t, 30*time.Second, cfg.Controller.CallTimeout)
	assert.Zero(t, cfg.Controller.PollRate)
	assert.Equal(t, 10, cfg.Controller.PollBurst)
	assert.Empty(t, cfg.Controller.CORSOrigins)
	assert.True(t, cfg.LogEvents())
	assert.False(t, cfg.RedisEvents())
}

func TestLoad_AllCustomValues(t *testing.T) {
	t.Setenv("TETHER_LOG_LEVEL", "debug")
	t.Setenv("TETHER_LOG_FORMAT", "text")
	t.Setenv("TETHER_BLOCK_PATH", "/tmp/block.bin")
	t.Setenv("TETHER_HEARTBEAT_INTERVAL", "15s")
	t.Setenv("TETHER_REDIS_ADDR", "redis:6379")
	t.Setenv("TETHER_REDIS_PASSWORD", "pw")
	t.Setenv("TETHER_REDIS_DB", "2")
	t.Setenv("TETHER_REDIS_PUBLISH_TIMEOUT", "250ms")
	t.Setenv("TETHER_CONTROLLER_ADDR", "127.0.0.1:9000")
	t.Setenv("TETHER_CONTROLLER_TCP_ADDR", ":4444")
	t.Setenv("TETHER_CONTROLLER_POLL_WAIT", "2s")
	t.Setenv("TETHER_CONTROLLER_CALL_TIMEOUT", "1m")
	t.Setenv("TETHER_CONTROLLER_POLL_RATE", "5")
	t.Setenv("TETHER_CONTROLLER_POLL_BURST", "3")
	t.Setenv("TETHER_CONTROLLER_CORS_ORIGINS", "http://localhost:5173, https://ops.example.com")
	t.Setenv("TETHER_EVENT_SINKS", "redis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, LogConfig{Level: "debug", Format: "text"}, cfg.Log)
	assert.Equal(t, AgentConfig{BlockPath: "/tmp/block.bin", Heartbeat: 15 * time.Second}, cfg.Agent)
	assert.Equal(t, RedisConfig{Addr: "redis:6379", Password: "pw", DB: 2, PublishTimeout: 250 * time.Millisecond}, cfg.Redis)
	assert.Equal(t, ControllerConfig{
		Addr:        "127.0.0.1:9000",
		TCPAddr:     ":4444",
		PollWait:    2 * time.Second,
		CallTimeout: time.Minute,
		PollRate:    5,
		PollBurst:   3,
		CORSOrigins: []string{"http://localhost:5173", "https://ops.example.com"},
	}, cfg.Controller)
	assert.False(t, cfg.LogEvents())
	assert.True(t, cfg.RedisEvents())
}

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		errMsg string
	}{
		{name: "heartbeat invalid", envKey: "TETHER_HEARTBEAT_INTERVAL", envVal: "often", errMsg: "TETHER_HEARTBEAT_INTERVAL"},
		{name: "heartbeat negative", envKey: "TETHER_HEARTBEAT_INTERVAL", envVal: "-1s", errMsg: "TETHER_HEARTBEAT_INTERVAL"},
		{name: "redis db not a number", envKey: "TETHER_REDIS_DB", envVal: "abc", errMsg: "TETHER_REDIS_DB"},
		{name: "redis db negative", envKey: "TETHER_REDIS_DB", envVal: "-1", errMsg: "TETHER_REDIS_DB"},
		{name: "publish timeout zero", envKey: "TETHER_REDIS_PUBLISH_TIMEOUT", envVal: "0s", errMsg: "TETHER_REDIS_PUBLISH_TIMEOUT"},
		{name: "poll wait invalid", envKey: "TETHER_CONTROLLER_POLL_WAIT", envVal: "x", errMsg: "TETHER_CONTROLLER_POLL_WAIT"},
		{name: "poll wait zero", envKey: "TETHER_CONTROLLER_POLL_WAIT", envVal: "0s", errMsg: "TETHER_CONTROLLER_POLL_WAIT"},
		{name: "call timeout invalid", envKey: "TETHER_CONTROLLER_CALL_TIMEOUT", envVal: "x", errMsg: "TETHER_CONTROLLER_CALL_TIMEOUT"},
		{name: "poll rate negative", envKey: "TETHER_CONTROLLER_POLL_RATE", envVal: "-1", errMsg: "TETHER_CONTROLLER_POLL_RATE"},
		{name: "poll rate invalid", envKey: "TETHER_CONTROLLER_POLL_RATE", envVal: "fast", errMsg: "TETHER_CONTROLLER_POLL_RATE"},
		{name: "log level unknown", envKey: "TETHER_LOG_LEVEL", envVal: "loud", errMsg: "TETHER_LOG_LEVEL"},
		{name: "log format unknown", envKey: "TETHER_LOG_FORMAT", envVal: "xml", errMsg: "TETHER_LOG_FORMAT"},
		{name: "unknown sink", envKey: "TETHER_EVENT_SINKS", envVal: "log,kafka", errMsg: "TETHER_EVENT_SINKS"},
		{name: "redis sink without addr", envKey: "TETHER_EVENT_SINKS", envVal: "redis", errMsg: "TETHER_REDIS_ADDR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.envKey, tc.envVal)

			cfg, err := Load()
			require.Error(t, err, "expected error for %s=%q", tc.envKey, tc.envVal)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	validBase := func() *Config {
		return &Config{
			Log:        LogConfig{Level: "info", Format: "json"},
			Redis:      RedisConfig{PublishTimeout: time.Second},
			Controller: ControllerConfig{PollWait: time.Second, CallTimeout: time.Second},
			EventSinks: []string{SinkLog},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validBase().validate())
	})

	t.Run("no sinks passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.EventSinks = nil
		assert.NoError(t, c.validate())
		assert.False(t, c.LogEvents())
	})

	t.Run("redis sink with addr passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.EventSinks = []string{SinkLog, SinkRedis}
		c.Redis.Addr = "localhost:6379"
		assert.NoError(t, c.validate())
	})

	t.Run("zero call timeout fails", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.Controller.CallTimeout = 0
		assert.ErrorContains(t, c.validate(), "TETHER_CONTROLLER_CALL_TIMEOUT")
	})
}

func strPtr(s string) *string {
	return &s
}
