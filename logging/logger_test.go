package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextFormatter(t *testing.T) {
	f := NewTextFormatter()
	entry := &LogEntry{
		Time:     time.Now(),
		Level:    LogLevelInfo,
		Category: "Test",
		Message:  "Hello",
		Fields:   []Field{{Key: "key", Value: "val"}},
	}

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	str := string(out)
	if !strings.Contains(str, "INFO [Test] Hello {key=val}") {
		t.Errorf("unexpected line: %q", str)
	}
	if !strings.HasSuffix(str, "\n") {
		t.Error("Expected trailing newline")
	}
}

func TestJsonFormatter(t *testing.T) {
	f := NewJsonFormatter()
	entry := &LogEntry{
		Time:     time.Now(),
		Level:    LogLevelWarn,
		Category: "Test",
		Message:  "Hello",
		Fields:   []Field{{Key: "key", Value: "val"}, {Key: "state", Value: LogLevelError}},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)

	var data map[string]any
	require.NoError(t, json.Unmarshal(out, &data))

	assert.Equal(t, "WARN", data["level"])
	assert.Equal(t, "Test", data["category"])
	fields, ok := data["fields"].(map[string]any)
	require.True(t, ok, "expected fields map")
	assert.Equal(t, "val", fields["key"])
	assert.Equal(t, "ERROR", fields["state"], "Stringer values are rendered as strings")
}

func TestBufferPool_DetachCopies(t *testing.T) {
	p := NewBufferPool()
	buf := p.Get()
	buf.WriteString("first")
	out := p.Detach(buf)

	again := p.Get()
	again.WriteString("second")
	assert.Equal(t, "first", string(out), "detached bytes do not alias the pooled buffer")
	assert.Zero(t, p.Get().Len())

	big := p.Get()
	big.Grow(maxPooledBuffer + 1)
	p.Put(big)
}

func TestFormatters_OutputsAreIndependent(t *testing.T) {
	for _, f := range []Formatter{NewTextFormatter(), NewJsonFormatter()} {
		first, err := f.Format(&LogEntry{Time: time.Now(), Level: LogLevelInfo, Message: "one"})
		require.NoError(t, err)
		_, err = f.Format(&LogEntry{Time: time.Now(), Level: LogLevelInfo, Message: "two"})
		require.NoError(t, err)

		assert.Contains(t, string(first), "one")
		assert.NotContains(t, string(first), "two")
		assert.True(t, strings.HasSuffix(string(first), "\n"))
	}
}

func TestAsyncWriter(t *testing.T) {
	writer := &syncWriter{}
	asyncWriter := NewAsyncWriter(writer, NewTextFormatter(), 2)

	entry := &LogEntry{Time: time.Now(), Level: LogLevelInfo, Message: "Async"}
	for i := 0; i < 5; i++ {
		require.NoError(t, asyncWriter.WriteLog(entry))
	}

	require.NoError(t, asyncWriter.Close())
	require.NoError(t, asyncWriter.Close(), "Close is idempotent")

	lines := strings.Split(strings.TrimSpace(writer.String()), "\n")
	assert.Len(t, lines, 5)
	assert.ErrorIs(t, asyncWriter.WriteLog(entry), ErrWriterClosed)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"trace":   LogLevelTrace,
		"DEBUG":   LogLevelDebug,
		"":        LogLevelInfo,
		"warning": LogLevelWarn,
		" error ": LogLevelError,
		"fatal":   LogLevelFatal,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestConsoleProvider_MinimumLevel(t *testing.T) {
	var buf syncWriter
	factory := NewLoggingBuilder().
		SetMinimumLevel(LogLevelWarn).
		AddConsole(ConsoleLoggerOptions{Output: &buf}).
		Build()

	logger := factory.CreateLogger("Host").WithFields(Field{Key: "id", Value: "h1"})
	logger.Info("hidden")
	logger.Warn("shown", Field{Key: "n", Value: 1})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN [Host] shown {id=h1, n=1}")

	factory.SetMinimumLevel(LogLevelDebug)
	factory.CreateLogger("Host").Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestSetMinimumLevel_AppliesToExistingLoggers(t *testing.T) {
	var buf syncWriter
	factory := NewLoggingBuilder().AddConsole(ConsoleLoggerOptions{Output: &buf}).Build()
	logger := factory.CreateLogger("Host").WithCategory("Journal")

	logger.Debug("before")
	factory.SetMinimumLevel(LogLevelDebug)
	logger.Debug("after")

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "DEBUG [Journal] after")
}

func TestWithFields_DoesNotShareBacking(t *testing.T) {
	var buf syncWriter
	factory := NewLoggingBuilder().AddConsole(ConsoleLoggerOptions{Output: &buf}).Build()

	base := factory.CreateLogger("c").WithFields(Field{Key: "a", Value: 1})
	left := base.WithFields(Field{Key: "b", Value: 2})
	right := base.WithFields(Field{Key: "c", Value: 3})

	left.Info("left")
	right.Info("right")

	out := buf.String()
	assert.Contains(t, out, "left {a=1, b=2}")
	assert.Contains(t, out, "right {a=1, c=3}")
}

func TestZapProvider(t *testing.T) {
	var buf syncWriter
	factory := NewLoggingBuilder().AddZap(ZapLoggerOptions{Output: &buf}).Build()

	factory.CreateLogger("Pool").Info("worker started", Field{Key: "worker", Value: 3})
	require.NoError(t, factory.Close())

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &data))
	assert.Equal(t, "worker started", data["msg"])
	assert.Equal(t, "Pool", data["category"])
	assert.EqualValues(t, 3, data["worker"])
}

func TestStreamProvider(t *testing.T) {
	var buf syncWriter
	builder, err := NewLoggingBuilder().AddStream(StreamLoggerOptions{Output: &buf})
	require.NoError(t, err)
	factory := builder.Build()

	factory.CreateLogger("Journal").Error("flush failed", Err(io.ErrUnexpectedEOF))
	require.NoError(t, factory.Close())

	assert.Contains(t, buf.String(), `"msg":"flush failed"`)
	assert.Contains(t, buf.String(), io.ErrUnexpectedEOF.Error())
}

func TestFatal_ExitsAfterLogging(t *testing.T) {
	var code int
	exitFunc = func(c int) { code = c }
	defer func() { exitFunc = osExit }()

	var buf syncWriter
	factory := NewLoggingBuilder().AddConsole(ConsoleLoggerOptions{Output: &buf}).Build()
	factory.CreateLogger("Host").Fatal("signal channel closed")

	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "FATAL [Host] signal channel closed")
}

var osExit = exitFunc

type syncWriter struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (w *syncWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func BenchmarkAsyncLogging(b *testing.B) {
	asyncWriter := NewAsyncWriter(io.Discard, NewTextFormatter(), 10000)
	defer asyncWriter.Close()

	entry := &LogEntry{Time: time.Now(), Level: LogLevelInfo, Message: "Benchmark"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = asyncWriter.WriteLog(entry)
	}
}
