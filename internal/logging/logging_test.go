package logging_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"lastpatch/internal/logging"
)

func TestLevelForVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		want      zerolog.Level
	}{
		{-1, zerolog.WarnLevel},
		{0, zerolog.WarnLevel},
		{1, zerolog.InfoLevel},
		{2, zerolog.DebugLevel},
		{3, zerolog.TraceLevel},
		{7, zerolog.TraceLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, logging.LevelForVerbosity(tt.verbosity), "verbosity %d", tt.verbosity)
	}
}

func TestNew(t *testing.T) {
	t.Run("warnings are always written", func(t *testing.T) {
		var buf bytes.Buffer
		log := logging.New(&buf, 0, "")
		log.Info().Msg("hidden")
		log.Warn().Str("host", "web01").Msg("Missing output")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "Missing output")
		assert.Contains(t, buf.String(), "host=web01")
	})

	t.Run("verbosity wins over configured level", func(t *testing.T) {
		var buf bytes.Buffer
		log := logging.New(&buf, 2, "error")
		log.Debug().Msg("shown")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("configured level applies without -v", func(t *testing.T) {
		var buf bytes.Buffer
		log := logging.New(&buf, 0, "debug")
		log.Debug().Msg("shown")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("unknown level falls back to warn", func(t *testing.T) {
		var buf bytes.Buffer
		log := logging.New(&buf, 0, "chatty")
		log.Info().Msg("hidden")
		assert.Empty(t, buf.String())
	})
}

func TestNew_TraceAtHighestVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, 3, "")
	log.Trace().Msg("every detail")
	assert.Contains(t, buf.String(), "every detail")
}
