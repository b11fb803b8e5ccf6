// internal/logger/logger_test.go
package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &Logger{Logger: zap.New(core), config: DefaultConfig()}, logs
}

func TestNewWritesJSONToConfiguredFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arb.log")
	log, err := New(&Config{LogFile: path, MaxSize: 1, MaxAge: 1, MaxBackups: 1})
	require.NoError(t, err)

	log.Info("engine check")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "engine check")
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestWithCycleAddsCorrelationFields(t *testing.T) {
	log, logs := observedLogger()

	log.WithCycle(7).Info("cycle done")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.EqualValues(t, 7, fields["cycle"])
	assert.NotEmpty(t, fields["correlation_id"])
}

func TestWithCycleGeneratesFreshCorrelationID(t *testing.T) {
	log, logs := observedLogger()

	log.WithCycle(1).Info("first")
	log.WithCycle(2).Info("second")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.NotEqual(t,
		entries[0].ContextMap()["correlation_id"],
		entries[1].ContextMap()["correlation_id"])
}

func TestWithOpportunityAddsIdentifiers(t *testing.T) {
	log, logs := observedLogger()

	log.WithOpportunity("op-42", "fp-abc").Info("dispatched")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "op-42", fields["opportunity_id"])
	assert.Equal(t, "fp-abc", fields["path_fingerprint"])
}

func TestWithComponentNamesSubsystem(t *testing.T) {
	log, logs := observedLogger()

	log.WithComponent("oracle").Info("ready")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "oracle", logs.All()[0].ContextMap()["component"])
}
