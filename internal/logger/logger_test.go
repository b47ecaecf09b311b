package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		level   string
		wantErr bool
	}{
		{"defaults", "", "", false},
		{"text debug", "text", "debug", false},
		{"json error", "JSON", "ERROR", false},
		{"bad format", "xml", "INFO", true},
		{"bad level", "json", "TRACE", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&bytes.Buffer{}, tt.format, tt.level)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_RedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "json", "INFO")
	require.NoError(t, err)

	l.Info("provisioned", "mnemonic", "abandon abandon about", "Password", "hunter2", "chain", "ethereum")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, Redacted, record["mnemonic"])
	assert.Equal(t, Redacted, record["Password"])
	assert.Equal(t, "ethereum", record["chain"])
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "text", "WARN")
	require.NoError(t, err)

	l.Info("hidden")
	assert.Empty(t, buf.String())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestFromContext_Enrichment(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "json", "DEBUG")
	require.NoError(t, err)

	prev := slog.Default()
	slog.SetDefault(l)
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := WithUserID(WithRequestID(context.Background(), "req-1"), "user-1")
	Info(ctx, "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "req-1", record["request_id"])
	assert.Equal(t, "user-1", record["user_id"])

	buf.Reset()
	Debug(context.Background(), "bare")
	assert.NotContains(t, buf.String(), "request_id")
}

func TestGetRequestID_Missing(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
}
