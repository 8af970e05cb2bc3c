package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"warn", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if tt.wantErr {
				assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComponentTagsEvents(t *testing.T) {
	var buf bytes.Buffer
	prev := log
	log = zerolog.New(newWriter(&buf, "json", false))
	SetLogLevel(DebugLevel)
	t.Cleanup(func() { log = prev })

	Component("executor").ErrorWithCode(errors.New().New(errors.ErrCircuitOpen)).Msg("skipped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "executor", entry["component"])
	assert.Equal(t, "circuit_open", entry["error_code"])
	assert.Equal(t, "skipped", entry["message"])
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Info().Str("k", "v").Msg("ignored")
		Nop().ErrorWithCode(errors.New().New(errors.ErrInternal)).Send()
	})
}
