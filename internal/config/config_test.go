package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pmbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("OPENAI_MODEL", "")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	require.EqualValues(t, 10000, cfg.Store.MaxLen)
	require.EqualValues(t, 10, cfg.Subscriber.Count)
	require.Equal(t, 5*time.Second, cfg.Subscriber.Block)
	require.Equal(t, "$", cfg.Subscriber.StartID)
	require.Equal(t, RetryBackoffFixed, cfg.Subscriber.Backoff.Mode)
	require.Equal(t, time.Second, cfg.Subscriber.Backoff.Initial)
	require.False(t, cfg.Reclaim.Enabled)
	require.Equal(t, 30*time.Second, cfg.Reclaim.Interval)
	require.Equal(t, time.Minute, cfg.Reclaim.MinIdle)
	require.EqualValues(t, 5, cfg.Reclaim.MaxDeliveries)
	require.Equal(t, LogLevelInfo, cfg.Logging.Level)
	require.Equal(t, LogFormatText, cfg.Logging.Format)
	require.Equal(t, ":9464", cfg.Metrics.Address)
	require.Equal(t, "gpt-4-turbo", cfg.LLM.Model)
	require.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
	require.Equal(t, 2000, cfg.LLM.MaxTokens)
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("PMBUS_TEST_REDIS", "redis://cache:6380/2")
	path := writeConfig(t, `
store:
  backend: Redis
  max_len: 500
  redis:
    url: ${PMBUS_TEST_REDIS}
subscriber:
  group: insights-service
  consumer: worker-1
  count: 25
  block: 2s
  backoff:
    mode: exponential
    initial: 500ms
    max: 10s
logging:
  level: DEBUG
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StoreBackendRedis, cfg.Store.Backend)
	require.EqualValues(t, 500, cfg.Store.MaxLen)
	require.Equal(t, "redis://cache:6380/2", cfg.Store.Redis.URL)
	require.Equal(t, "insights-service", cfg.Subscriber.Group)
	require.EqualValues(t, 25, cfg.Subscriber.Count)
	require.Equal(t, 2*time.Second, cfg.Subscriber.Block)
	require.Equal(t, RetryBackoffExponential, cfg.Subscriber.Backoff.Mode)
	require.Equal(t, 500*time.Millisecond, cfg.Subscriber.Backoff.Initial)
	require.Equal(t, LogLevelDebug, cfg.Logging.Level)
	require.Equal(t, LogFormatJSON, cfg.Logging.Format)
	require.NoError(t, cfg.ValidateWorker())
}

func TestLoad_RedisURLFromEnvironment(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://env-host:6379")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "redis://env-host:6379", cfg.Store.Redis.URL)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := Load(writeConfig(t, "store:\n  backend: kafka\n"))
		require.Error(t, err)
		require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "store: [\n"))
		require.Error(t, err)
	})

	t.Run("negative count", func(t *testing.T) {
		_, err := Load(writeConfig(t, "subscriber:\n  count: -1\n"))
		require.Error(t, err)
	})

	t.Run("blocking forever", func(t *testing.T) {
		_, err := Load(writeConfig(t, "subscriber:\n  block: -1s\n"))
		require.Error(t, err)
	})
}

func TestValidateWorker_RequiresIdentity(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.ValidateWorker()
	require.Error(t, err)
	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	field, _ := ce.Context().GetString("field")
	require.Equal(t, "group", field)
}

func TestInit_WritesLoadableExample(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	path := filepath.Join(t.TempDir(), "pmbus.yaml")

	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, StoreBackendRedis, cfg.Store.Backend)
	require.Equal(t, "redis://localhost:6379", cfg.Store.Redis.URL)
}

func TestNormalizers(t *testing.T) {
	require.Equal(t, LogLevelWarn, NormalizeLogLevel(" Warning "))
	require.Equal(t, LogLevelInfo, NormalizeLogLevel("verbose"))
	require.Equal(t, LogFormatJSON, NormalizeLogFormat("JSON"))
	require.Equal(t, RetryBackoffLinear, NormalizeRetryBackoff("LINEAR"))
	require.Equal(t, RetryBackoffMode(""), NormalizeRetryBackoff("random"))

	b, err := ParseStoreBackend("")
	require.NoError(t, err)
	require.Equal(t, StoreBackendMemory, b)
	_, err = ParseStoreBackend("kafka")
	require.Error(t, err)
}
