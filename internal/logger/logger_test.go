package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleLoggerLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		level     LogLevel
		logFn     func(Logger)
		wantEmpty bool
	}{
		{"debug filtered at info", LogLevelInfo, func(l Logger) { l.Debug("hidden") }, true},
		{"info passes at info", LogLevelInfo, func(l Logger) { l.Info("shown") }, false},
		{"warn filtered at error", LogLevelError, func(l Logger) { l.Warn("hidden") }, true},
		{"error always passes", LogLevelError, func(l Logger) { l.Error("shown") }, false},
		{"trace passes at trace", LogLevelTrace, func(l Logger) { l.Trace("shown") }, false},
		{"explicit level filtered", LogLevelWarn, func(l Logger) { l.Log(LogLevelInfo, "hidden") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			tt.logFn(NewSlogLogger(&buf, tt.level, time.UTC))
			if tt.wantEmpty {
				assert.Empty(t, buf.String())
			} else {
				assert.NotEmpty(t, buf.String())
			}
		})
	}
}

func TestTextHandlerFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelTrace, time.UTC).Module("router").Module("pipeline")

	log.Info("routing audio", String("primary", "Speakers"), Uint32("sample_rate", 48000), Duration("poll", 100*time.Millisecond))
	log.Trace("frame")

	out := buf.String()
	assert.NotContains(t, out, "time=")
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "module=router.pipeline")
	assert.Contains(t, out, "primary=Speakers")
	assert.Contains(t, out, "sample_rate=48000")
	assert.Contains(t, out, "poll=100ms")
}

func TestWithAndWithContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := NewSlogLogger(&buf, LogLevelDebug, time.UTC).Module("router")

	session := base.With(String("session_id", "abc"))
	traced := session.WithContext(WithTraceID(context.Background(), "trace-1"))
	traced.Debug("state change")
	base.Debug("no fields")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "session_id=abc")
	assert.Contains(t, string(lines[0]), "trace_id=trace-1")
	assert.NotContains(t, string(lines[1]), "session_id")

	assert.Same(t, base, base.WithContext(context.Background()))
}

func TestErrorField(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Error(nil).Value)
	assert.Equal(t, "error", Error(assert.AnError).Key)
	assert.Equal(t, assert.AnError.Error(), Error(assert.AnError).Value)
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mainPath := filepath.Join(dir, "logs", "twinplay.log")
	pipelinePath := filepath.Join(dir, "logs", "pipeline.log")

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: mainPath, Level: "debug"},
		ModuleOutputs: map[string]ModuleOutput{
			"pipeline": {Enabled: true, FilePath: pipelinePath, Level: "warn"},
		},
	})
	require.NoError(t, err)

	cl.Module("router").Info("started", Int("workers", 1))
	cl.Module("pipeline").Info("filtered by module level")
	cl.Module("pipeline").Warn("write failed", Error(assert.AnError))

	require.NoError(t, cl.Close())

	mainRecords := readJSONLines(t, mainPath)
	require.Len(t, mainRecords, 1)
	assert.Equal(t, "started", mainRecords[0]["msg"])
	assert.Equal(t, "router", mainRecords[0]["module"])
	assert.Equal(t, "INFO", mainRecords[0]["level"])
	_, err = time.Parse(time.RFC3339, mainRecords[0]["time"].(string))
	require.NoError(t, err)

	pipelineRecords := readJSONLines(t, pipelinePath)
	require.Len(t, pipelineRecords, 1)
	assert.Equal(t, "write failed", pipelineRecords[0]["msg"])
	assert.Equal(t, "WARN", pipelineRecords[0]["level"])
}

func TestNewCentralLoggerRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(nil)
	require.Error(t, err)

	_, err = NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus_Mons"})
	require.Error(t, err)
}

func TestGlobalFallback(t *testing.T) {
	l := Global()
	require.NotNil(t, l)
	assert.NotNil(t, l.Module("test"))
}

func readJSONLines(t *testing.T, path string) []map[string]any {
	t.Helper()

	f, err := os.Open(path) //nolint:gosec // test file path from t.TempDir()
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}
