package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProductionConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("ENGRAVING_CANVAS_WIDTH", "297.5")
	t.Setenv("VISION_TIMEOUT", "15s")
	t.Setenv("VISION_API_KEY", "")

	cfg, err := LoadProductionConfig()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engraving.ArrayCapacity)
	assert.Equal(t, 297.5, cfg.Engraving.CanvasWidth)
	assert.Equal(t, 210.0, cfg.Engraving.CanvasHeight)
	assert.Equal(t, 15*time.Second, cfg.Vision.Timeout)
	assert.False(t, cfg.Vision.Enabled())
	assert.Contains(t, cfg.Database.DSN(), "dbname=kusanagi")
}

func TestValidateProductionConfigCollectsEveryProblem(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("ENGRAVING_ARRAY_CAPACITY", "0")
	t.Setenv("REQUIRE_API_KEY", "true")
	t.Setenv("LOG_OUTPUT", "syslog")
	t.Setenv("VISION_MAX_IMAGE_EDGE", "16")

	_, err := LoadProductionConfig()
	require.Error(t, err)
	for _, want := range []string{
		"DB_PASSWORD is required",
		"ENGRAVING_ARRAY_CAPACITY must be at least 1",
		"ALLOWED_API_KEYS is required",
		"LOG_OUTPUT must be one of",
		"VISION_MAX_IMAGE_EDGE must be at least 64",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestLoadVisionConfigReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, writeFile(dir+"/.env", "# vision\nVISION_API_KEY='sk-test'\nVISION_MODEL = \"vision/test\"\n"))
	t.Setenv("VISION_API_KEY", "")
	t.Setenv("VISION_MODEL", "")

	v, err := LoadVisionConfig()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", v.APIKey)
	assert.Equal(t, "vision/test", v.Model)
	assert.True(t, v.Enabled())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("KUSANAGI_TEST_SLICE", " a, ,b ,c")
	t.Setenv("KUSANAGI_TEST_INT", "nope")
	t.Setenv("KUSANAGI_TEST_FLOAT", "1.25")

	assert.Equal(t, []string{"a", "b", "c"}, getEnvStringSlice("KUSANAGI_TEST_SLICE", nil))
	assert.Equal(t, 7, getEnvInt("KUSANAGI_TEST_INT", 7))
	assert.Equal(t, 1.25, getEnvFloat("KUSANAGI_TEST_FLOAT", 0))
	assert.Equal(t, time.Second, getEnvDuration("KUSANAGI_TEST_UNSET", time.Second))
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
