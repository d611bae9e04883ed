package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Info("hidden", "k", 1)
	Warn("shown", "rule_id", "r1")
	Error("failed", errors.New("boom"), "rule_id", "r2")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown rule_id=r1")
	assert.Contains(t, out, "[ERROR] failed err=boom rule_id=r2")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" Warning "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestFormatKVsIgnoresOddTail(t *testing.T) {
	got := formatKVs("a", 1, "b")
	assert.Equal(t, " a=1", got)
	assert.False(t, strings.Contains(got, "b"))
}
