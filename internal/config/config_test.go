package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, f := range envFields {
		t.Setenv(f.env, "")
	}
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	return dir
}

func writeFile(t *testing.T, dir, content string) {
	t.Helper()
	p := filepath.Join(dir, "perfrev", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "gemini-2.5-flash", cfg.Model)
	assert.Equal(t, 10, cfg.MaxSteps)
	assert.Equal(t, Duration(2*time.Minute), cfg.StepTimeout)
	assert.Equal(t, Duration(30*time.Second), cfg.ToolTimeout)
	assert.Equal(t, 50, cfg.LargeFunctionLines)
	assert.Equal(t, "code-review.md", cfg.ReportPath)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	isolate(t)
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPrecedence(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, `{"model":"file-model","maxSteps":4,"toolTimeout":"5s","reportPath":"file.md"}`)
	t.Setenv("PERFREV_MAX_STEPS", "6")
	t.Setenv("PERFREV_STEP_TIMEOUT", "90s")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := Load(map[string]string{"reportPath": "flag.md"})
	require.NoError(t, err)
	assert.Equal(t, "file-model", cfg.Model)
	assert.Equal(t, 6, cfg.MaxSteps)
	assert.Equal(t, Duration(90*time.Second), cfg.StepTimeout)
	assert.Equal(t, Duration(5*time.Second), cfg.ToolTimeout)
	assert.Equal(t, "flag.md", cfg.ReportPath)
	assert.Equal(t, "google-key", cfg.APIKey)

	t.Setenv("GEMINI_API_KEY", "gemini-key")
	cfg, err = Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini-key", cfg.APIKey)
}

func TestLoadErrors(t *testing.T) {
	dir := isolate(t)

	t.Setenv("PERFREV_MAX_STEPS", "many")
	_, err := Load(nil)
	assert.ErrorContains(t, err, "PERFREV_MAX_STEPS")
	t.Setenv("PERFREV_MAX_STEPS", "")

	_, err = Load(map[string]string{"maxSteps": "0"})
	assert.ErrorContains(t, err, "maxSteps")

	_, err = Load(map[string]string{"colour": "blue"})
	assert.ErrorContains(t, err, "unknown config key")

	writeFile(t, dir, `{"model":`)
	_, err = Load(nil)
	assert.ErrorContains(t, err, "parsing config file")
}

func TestSetField(t *testing.T) {
	cfg := Default()
	require.NoError(t, SetField(&cfg, "toolTimeout", "1m"))
	assert.Equal(t, Duration(time.Minute), cfg.ToolTimeout)
	require.NoError(t, SetField(&cfg, "largeFunctionLines", "40"))
	assert.Equal(t, 40, cfg.LargeFunctionLines)
	assert.Error(t, SetField(&cfg, "stepTimeout", "soon"))
}
