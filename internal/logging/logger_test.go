package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewBuildsBothModes(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("logger ready")
		_ = logger.Sync()
	}
}

func TestComponentNamesTheChild(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	parent := zap.New(core)

	Component(parent, "poller").Info("tick")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "poller", entries[0].LoggerName)
}

func TestComponentNilParentIsNop(t *testing.T) {
	t.Parallel()

	logger := Component(nil, "tracker")
	require.NotNil(t, logger)
	logger.Info("discarded")
}
