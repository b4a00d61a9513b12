package log

import (
	"bytes"
	"testing"

	"github.com/kataras/golog"
	"github.com/stretchr/testify/assert"
)

func newBufferedGolog() (*golog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	g := golog.New()
	g.SetOutput(&buf)
	g.SetTimeFormat("")
	return g, &buf
}

func TestNewGologLogger(t *testing.T) {
	logger := NewGologLogger(golog.New())

	assert.NotNil(t, logger)
	assert.Equal(t, LogLevelInfo, logger.GetLevel())
}

func TestGologLogger_LevelControl(t *testing.T) {
	logger := NewGologLogger(golog.New())

	for _, level := range []LogLevel{LogLevelDebug, LogLevelWarn, LogLevelError, LogLevelNone} {
		logger.SetLevel(level)
		assert.Equal(t, level, logger.GetLevel())
	}
}

func TestGologLogger_FormatsMessages(t *testing.T) {
	g, buf := newBufferedGolog()
	logger := NewGologLogger(g)
	logger.SetLevel(LogLevelDebug)

	logger.Debug("step %s took %dms", "classify", 12)
	logger.Error("run %s failed", "r1")

	assert.Contains(t, buf.String(), "step classify took 12ms")
	assert.Contains(t, buf.String(), "run r1 failed")
}

func TestGologLogger_LevelFiltering(t *testing.T) {
	g, buf := newBufferedGolog()
	logger := NewGologLogger(g)
	logger.SetLevel(LogLevelError)

	logger.Debug("filtered debug")
	logger.Info("filtered info")
	logger.Warn("filtered warn")
	logger.Error("kept error")

	out := buf.String()
	assert.NotContains(t, out, "filtered")
	assert.Contains(t, out, "kept error")
}
