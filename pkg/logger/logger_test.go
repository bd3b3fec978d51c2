package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWithServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: slog.LevelInfo, Format: FormatJSON, Service: "melon-rank", Env: "test"})

	log.Info("xp awarded", Member("42"), Kind("chat"), Err(errors.New("boom")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "xp awarded", rec["msg"])
	assert.Equal(t, "melon-rank", rec["service"])
	assert.Equal(t, "test", rec["env"])
	assert.Equal(t, "42", rec["member_id"])
	assert.Equal(t, "chat", rec["kind"])
	assert.Equal(t, "boom", rec["error"])
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: ParseLevel("warn")})

	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevelAndFormat(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))

	assert.Equal(t, FormatJSON, FormatFor("production"))
	assert.Equal(t, FormatText, FormatFor("development"))
}

func TestContextPropagation(t *testing.T) {
	log := Discard()
	ctx := WithContext(context.Background(), log)

	assert.Same(t, log, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}
