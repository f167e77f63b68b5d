package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/slate/internal/config"
)

func newBufferedAdapter(t *testing.T) (Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logrusLogger := logrus.New()
	logrusLogger.SetOutput(&buf)
	logrusLogger.SetFormatter(&logrus.JSONFormatter{})
	logrusLogger.SetLevel(logrus.DebugLevel)

	return NewLogrusAdapter(logrus.NewEntry(logrusLogger)), &buf
}

func TestNew_JSONFormat(t *testing.T) {
	cfg := &config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: "stdout",
	}

	log, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	_, ok := log.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestNew_InvalidLevel(t *testing.T) {
	cfg := &config.LoggingConfig{
		Level:  "loud",
		Format: "text",
		Output: "stdout",
	}

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestLogrusAdapter_WithFields(t *testing.T) {
	adapter, buf := newBufferedAdapter(t)

	adapter.WithFields(map[string]interface{}{
		"device_id": "dev-1",
		"component": "engine",
	}).Info("started")

	output := buf.String()
	assert.Contains(t, output, "device_id")
	assert.Contains(t, output, "dev-1")
	assert.Contains(t, output, "engine")
	assert.Contains(t, output, "started")
}

func TestLogrusAdapter_WithError(t *testing.T) {
	adapter, buf := newBufferedAdapter(t)

	adapter.WithError(errors.New("signal lost")).Error("capture halted")

	output := buf.String()
	assert.Contains(t, output, "signal lost")
	assert.Contains(t, output, "capture halted")
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	WithComponent(log, "deck").Info("engaged")
	assert.Contains(t, buf.String(), `"component":"deck"`)
}

func TestNullLogger(t *testing.T) {
	n := NewNullLogger()

	// None of these should panic or emit
	n.WithField("k", "v").Info("ignored")
	n.WithFields(map[string]interface{}{"k": "v"}).Debug("ignored")
	n.WithError(errors.New("x")).Error("ignored")
	n.Fatal("must not exit")
}
