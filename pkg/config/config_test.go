package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.LLM.MaxRecursionDepth)
	assert.Equal(t, "chromem", string(cfg.Vector.Type))
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_GT_MODEL", "gpt-4o-mini")
	t.Setenv("TEST_GT_PORT", "")

	path := writeConfig(t, `
llm:
  model: ${TEST_GT_MODEL}
server:
  port: ${TEST_GT_PORT:-9090}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 9090, cfg.Server.Port, "unset var must fall back to the default")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("JINA_API_KEY", "jina-secret")
	t.Setenv("AGENT_BUILDER_API_KEY", "gw-secret")
	t.Setenv("GTPLANNER_LANGUAGE", "zh")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "jina-secret", cfg.Research.APIKey)
	assert.Equal(t, "gw-secret", cfg.Prefabs.Gateway.APIKey)
	assert.Equal(t, "zh", cfg.Prompts.DefaultLanguage)
}

func TestLoadFileBeatsEnvOverride(t *testing.T) {
	t.Setenv("GTPLANNER_LLM_MODEL", "from-env")
	path := writeConfig(t, `
llm:
  model: from-file
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.LLM.Model, "file value must win over the env override")
}

func TestLoadRejectsBadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 99999
`)
	_, err := Load(path)
	assert.Error(t, err, "out-of-range port must fail validation")

	path = writeConfig(t, `
vector:
  type: mystery
`)
	_, err = Load(path)
	assert.Error(t, err, "unknown vector type must fail validation")
}

func TestExpandEnvVarsInData(t *testing.T) {
	t.Setenv("TEST_GT_FLAG", "true")
	data := map[string]interface{}{
		"nested": map[string]interface{}{"flag": "${TEST_GT_FLAG}"},
		"list":   []interface{}{"$TEST_GT_FLAG", "plain"},
	}
	out := ExpandEnvVarsInData(data).(map[string]interface{})

	nested := out["nested"].(map[string]interface{})
	assert.Equal(t, true, nested["flag"], "expanded values must be re-typed")

	list := out["list"].([]interface{})
	assert.Equal(t, true, list[0])
	assert.Equal(t, "plain", list[1])
}
