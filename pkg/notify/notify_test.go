package notify

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifier_LevelBySeverity(t *testing.T) {
	tests := []struct {
		severity Severity
		level    string
	}{
		{SeveritySuccess, "info"},
		{SeverityWarning, "warn"},
		{SeverityError, "error"},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			var buf bytes.Buffer
			n := NewLogNotifier(zerolog.New(&buf))
			n.Notify(Notification{Severity: tt.severity, Message: "done", Details: []string{"a: gone"}})

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "done", entry["message"])
			assert.Equal(t, string(tt.severity), entry["severity"])
			assert.Equal(t, []any{"a: gone"}, entry["details"])
		})
	}
}

func TestRecorder_Concurrent(t *testing.T) {
	var r Recorder
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Notify(Notification{Severity: SeveritySuccess, Message: "ok"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, r.Len())
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, "ok", last.Message)

	r.Reset()
	_, ok = r.Last()
	assert.False(t, ok)
}

func TestNotifierFunc(t *testing.T) {
	var got Notification
	var n Notifier = NotifierFunc(func(x Notification) { got = x })
	n.Notify(Notification{Severity: SeverityError, Message: "boom"})
	assert.Equal(t, SeverityError, got.Severity)

	Nop.Notify(Notification{Message: "ignored"})
}
