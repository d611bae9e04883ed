package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calmirror/internal/privacysync"
)

type cli struct {
	t      *testing.T
	config string
	db     string
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()
	return &cli{
		t:      t,
		config: filepath.Join(dir, "calmirror.yaml"),
		db:     filepath.Join(dir, "data", "calmirror.db"),
	}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", c.config, "--database", c.db, "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

func TestRuleLifecycle(t *testing.T) {
	c := newCLI(t)

	c.mustRun("calendar", "add", "--id", "work", "--name", "Work")
	c.mustRun("calendar", "add", "--id", "personal")

	var cals []map[string]any
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("calendar", "list", "--json")), &cals))
	assert.Len(t, cals, 2)

	ruleFile := filepath.Join(t.TempDir(), "rule.yaml")
	require.NoError(t, os.WriteFile(ruleFile, []byte(`
name: work to personal
source_calendar_id: work
target_calendar_id: personal
privacy:
  strip_description: true
window:
  past_days: 7
  future_days: 30
`), 0o600))

	id := strings.TrimSpace(c.mustRun("rule", "add", "-f", ruleFile))
	require.NotEmpty(t, id)

	var results []privacysync.RunResult
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("sync", "--json")), &results))
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].RuleID)
	assert.True(t, results[0].Success, results[0].Error)

	list := c.mustRun("rule", "list")
	assert.Contains(t, list, "work to personal")
	assert.Contains(t, list, string(privacysync.StatusCompleted))
}

func TestRuleAddRejectsInvalidRule(t *testing.T) {
	c := newCLI(t)
	c.mustRun("calendar", "add", "--id", "work")

	ruleFile := filepath.Join(t.TempDir(), "rule.yaml")
	require.NoError(t, os.WriteFile(ruleFile, []byte(`
name: loop
source_calendar_id: work
target_calendar_id: work
`), 0o600))

	_, err := c.run("rule", "add", "-f", ruleFile)
	require.Error(t, err)

	out := c.mustRun("rule", "list", "--json")
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestSyncUnknownRule(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("sync", "--rule", "missing")
	require.Error(t, err)
}

func TestConfigCreatedOnFirstRun(t *testing.T) {
	c := newCLI(t)
	c.mustRun("calendar", "list")

	_, err := os.Stat(c.config)
	require.NoError(t, err)
	_, err = os.Stat(c.db)
	require.NoError(t, err)
}
