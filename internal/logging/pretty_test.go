package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrettyHandlerHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("Handle INFO level log", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		record := slog.NewRecord(time.Now(), slog.LevelInfo, "ingest finished", 0)
		record.AddAttrs(slog.Int("chunks", 42), slog.Duration("elapsed", 1500*time.Millisecond))

		require.NoError(t, handler.Handle(ctx, record))
		output := buf.String()
		assert.Contains(t, output, "INFO:")
		assert.Contains(t, output, "ingest finished")
		assert.Contains(t, output, `"chunks":42`)
		assert.Contains(t, output, `"elapsed":"1.5s"`)
		assert.Regexp(t, `\[\d{2}:\d{2}:\d{2}\.\d{3}\]`, output)
	})

	t.Run("Handle log with no attributes", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		record := slog.NewRecord(time.Now(), slog.LevelWarn, "simple message", 0)
		require.NoError(t, handler.Handle(ctx, record))
		assert.Contains(t, buf.String(), "WARN:")
		assert.Contains(t, buf.String(), "{}")
	})

	t.Run("Handle error attribute", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		record := slog.NewRecord(time.Now(), slog.LevelError, "grading failed", 0)
		record.AddAttrs(slog.Any("error", errors.New("connection refused")))
		require.NoError(t, handler.Handle(ctx, record))
		assert.Contains(t, buf.String(), `"error":"connection refused"`)
	})
}

func TestPrettyHandlerLevelAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: slog.LevelInfo},
	}))

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.With("component", "engine").Info("shown", "k", 3)
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), `"component":"engine"`)
	assert.Contains(t, buf.String(), `"k":3`)
}

func TestPrettyHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, PrettyHandlerOptions{}))

	logger.With("query", "q").WithGroup("grader").With("stage", "grade").Info("graded", "kept", 2)
	output := buf.String()
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\.\d{3}\] `, output)
	assert.Contains(t, output, "INFO:")
	assert.Contains(t, output, `"grader":{"kept":2,"stage":"grade"}`)
	assert.Contains(t, output, `"query":"q"`)
	assert.NotContains(t, output, `"msg"`)

	buf.Reset()
	same := logger.WithGroup("")
	same.Info("plain", "k", 1)
	assert.Contains(t, buf.String(), `{"k":1}`)
}

func TestSetupWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer

	logger, closeFn, err := Setup(Options{LogDir: dir, Stderr: &stderr})
	require.NoError(t, err)

	logger.Debug("debug only in file")
	logger.Info("everywhere")
	require.NoError(t, closeFn())

	assert.NotContains(t, stderr.String(), "debug only in file")
	assert.Contains(t, stderr.String(), "everywhere")

	name := "codesage-" + time.Now().Format("20060102") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"debug only in file"`)
	assert.Contains(t, string(data), `"msg":"everywhere"`)
}

func TestSetupVerboseWithoutFile(t *testing.T) {
	var stderr bytes.Buffer
	logger, closeFn, err := Setup(Options{Verbose: true, Stderr: &stderr})
	require.NoError(t, err)
	defer closeFn()

	logger.Debug("details")
	assert.Contains(t, stderr.String(), "DEBUG:")
}
