package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesStdoutAndFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var stdout bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "DEBUG.log")

	log, closer, err := Setup(Config{Level: "info", FilePath: path, Stdout: &stdout})
	require.NoError(t, err)

	log.Debug("debug only in file")
	log.Info("visible everywhere", "k", "v")
	require.NoError(t, closer.Close())

	assert.NotContains(t, stdout.String(), "debug only in file")
	assert.Contains(t, stdout.String(), "visible everywhere")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug only in file")
	assert.Contains(t, string(data), "k=v")
}

func TestSetupJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var stdout bytes.Buffer
	_, closer, err := Setup(Config{Format: "json", Level: "debug", Stdout: &stdout})
	require.NoError(t, err)
	defer closer.Close()

	slog.Default().Debug("hello")
	assert.True(t, strings.HasPrefix(stdout.String(), "{"))
	assert.Contains(t, stdout.String(), `"msg":"hello"`)
}

func TestLogFilePath(t *testing.T) {
	now := time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC)
	assert.Equal(t, "logs/DEBUG.log.20240305_070809", LogFilePath("logs/DEBUG.log", true, now))
	assert.Equal(t, "logs/DEBUG.log", LogFilePath("logs/DEBUG.log", false, now))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestCorrelationID(t *testing.T) {
	id := GenerateCorrelationID()
	assert.Len(t, id, 16)
	assert.NotEqual(t, id, GenerateCorrelationID())

	ctx := WithCorrelationID(context.Background(), id)
	assert.Equal(t, id, CorrelationID(ctx))
	assert.Empty(t, CorrelationID(context.Background()))
}

func TestProviderMessage(t *testing.T) {
	tests := []struct {
		msg   string
		level string
		text  string
	}{
		{"2024-01-01 00:00:00 - INFO - Request submitted", "INFO", "msg=\"Request submitted\""},
		{"2024-01-01 00:00:00 - warning - Slow queue", "WARN", "msg=\"Slow queue\""},
		{"2024-01-01 00:00:00 - ERR - Failed", "ERROR", "msg=Failed"},
		{"2024-01-01 00:00:00 - NOTICE - Odd", "DEBUG", "NOTICE"},
		{"no separators here", "DEBUG", "no separators here"},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			ProviderMessage(log, tt.msg)

			out := buf.String()
			assert.Contains(t, out, "level="+tt.level)
			assert.Contains(t, out, tt.text)
			assert.Contains(t, out, "component=ecmwfapi")
		})
	}
}

func TestComponentLoggers(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	WorkerLogger(Component(base, "driver"), 3).Info("x")
	RetrievalLogger(base, "abc", "2024-01-01 00:00", "1/2/3/4").Info("y")

	out := buf.String()
	assert.Contains(t, out, "component=driver")
	assert.Contains(t, out, "worker_id=3")
	assert.Contains(t, out, "correlation_id=abc")
	assert.Contains(t, out, `issued="2024-01-01 00:00"`)

}
