package zaplog

import (
	"testing"

	"github.com/AnishMulay/simplefs/internal/log_service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogService_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ls := NewFromLogger("node-1", zap.New(core))

	ls.Info(log_service.LogEvent{
		Message:  "inode written",
		Metadata: map[string]any{"inode": 7, "blocks": 3},
	})
	ls.Error(log_service.LogEvent{Message: "allocation failed"})

	entries := logs.All()
	require.Len(t, entries, 2)

	require.Equal(t, "inode written", entries[0].Message)
	ctx := entries[0].ContextMap()
	require.EqualValues(t, 7, ctx["inode"])
	require.EqualValues(t, 3, ctx["blocks"])
	require.Equal(t, "node-1", ctx["node"])

	require.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestToZapLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zapcore.Level
	}{
		{name: "debug", level: log_service.DebugLevel, want: zapcore.DebugLevel},
		{name: "info lower case", level: "info", want: zapcore.InfoLevel},
		{name: "warn", level: log_service.WarnLevel, want: zapcore.WarnLevel},
		{name: "error", level: log_service.ErrorLevel, want: zapcore.ErrorLevel},
		{name: "unknown falls back to debug", level: "verbose", want: zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toZapLevel(tt.level); got != tt.want {
				t.Errorf("toZapLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}
