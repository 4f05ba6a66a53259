package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lastEntry decodes the most recent JSON line written to buf.
func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, WarnLevel)

	l.Debug("dropped")
	l.Info("dropped")
	assert.Zero(t, buf.Len(), "entries below the configured level must not be written")

	l.Warn("kept")
	entry := lastEntry(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "kept", entry["message"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestDomainFieldHelpers(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		key   string
		want  interface{}
	}{
		{"host", Host("alt1.example"), "host", "alt1.example"},
		{"pins", Pins([]string{"digest-a", "digest-b"}), "observed_pins", []interface{}{"digest-a", "digest-b"}},
		{"endpoint", Endpoint("/auth/info"), "endpoint", "/auth/info"},
		{"code", Code(9001), "code", float64(9001)},
		{"error", Error(errors.New("boom")), "error", "boom"},
		{"nil error", Error(nil), "error", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewLogger(&buf, DebugLevel).Info("event", tt.field)
			assert.Equal(t, tt.want, lastEntry(t, &buf)[tt.key])
		})
	}
}

func TestPinMismatchEntryShape(t *testing.T) {
	// The exact entry transport's pin verifier emits on a handshake
	// rejection: host plus every digest the server presented.
	var buf bytes.Buffer
	l := NewLogger(&buf, DebugLevel)

	l.Warn("tls pin mismatch", Host("api.vaultline.example"), Pins([]string{"AAAA="}))

	entry := lastEntry(t, &buf)
	assert.Equal(t, "tls pin mismatch", entry["message"])
	assert.Equal(t, "api.vaultline.example", entry["host"])
	assert.Equal(t, []interface{}{"AAAA="}, entry["observed_pins"])
}

func TestWithFieldsAttachesToEveryEntry(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, DebugLevel)
	scoped := base.WithFields(Host("alt1.example"))

	scoped.Info("first")
	assert.Equal(t, "alt1.example", lastEntry(t, &buf)["host"])

	scoped.Info("second", Endpoint("/tests/ping"))
	entry := lastEntry(t, &buf)
	assert.Equal(t, "alt1.example", entry["host"])
	assert.Equal(t, "/tests/ping", entry["endpoint"])

	// The parent logger is untouched.
	base.Info("plain")
	_, ok := lastEntry(t, &buf)["host"]
	assert.False(t, ok)
}

func TestPerEntryFieldOverridesBaseField(t *testing.T) {
	var buf bytes.Buffer
	scoped := NewLogger(&buf, DebugLevel).WithFields(Host("primary.example"))

	scoped.Info("rerouted", Host("alt1.example"))
	assert.Equal(t, "alt1.example", lastEntry(t, &buf)["host"])
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, InfoLevel)
	assert.Equal(t, InfoLevel, l.GetLevel())

	l.SetLevel(ErrorLevel)
	l.Warn("dropped")
	assert.Zero(t, buf.Len())

	l.Error("kept")
	assert.Equal(t, "ERROR", lastEntry(t, &buf)["level"])
}

func TestDefaultLevelFromEnvironment(t *testing.T) {
	t.Setenv("SRPSESSION_LOG_LEVEL", "debug")
	assert.Equal(t, DebugLevel, NewDefaultLogger().GetLevel())

	t.Setenv("SRPSESSION_LOG_LEVEL", "ERROR")
	assert.Equal(t, ErrorLevel, NewDefaultLogger().GetLevel())

	t.Setenv("SRPSESSION_LOG_LEVEL", "nonsense")
	assert.Equal(t, InfoLevel, NewDefaultLogger().GetLevel())
}

func TestNoopIsSubstitutable(t *testing.T) {
	// Components accept any Logger; Noop must satisfy the full surface and
	// stay silent, since every test in transport/session injects it.
	var l Logger = Noop{}

	l.Debug("x", Host("h"))
	l.Info("x")
	l.Warn("x", Pins(nil))
	l.Error("x", Error(errors.New("boom")))
	l.SetLevel(DebugLevel)

	assert.Equal(t, Noop{}, l.WithFields(Endpoint("/auth")))
}

func TestSetDefaultLogger(t *testing.T) {
	original := GetDefaultLogger()
	defer SetDefaultLogger(original)

	SetDefaultLogger(Noop{})
	assert.Equal(t, Noop{}, GetDefaultLogger())
}
