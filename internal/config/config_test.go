package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	stages := cfg.Stages()
	require.Len(t, stages, 4)
	assert.Equal(t, "doing", stages[1].ID)
	assert.Equal(t, "In Progress", stages[1].Name)
	assert.Equal(t, domain.ModeWarning, stages[0].WIPMode)
	assert.True(t, stages[3].IsDone)
	assert.Equal(t, 24*time.Hour, cfg.Inbox.DueSoonWindow.Duration)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ".taskflow/taskflow.db", cfg.Database.Path)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
inbox:
  due_soon_window: 48h
workflow:
  default_stages:
    - id: open
      name: Open
      wip_limit: 3
      wip_mode: strict
    - id: closed
      name: Closed
      done: true
`))
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cfg.Inbox.DueSoonWindow.Duration)
	assert.Equal(t, 31, cfg.Recurrence.MaxCatchUp)
	stages := cfg.Stages()
	require.Len(t, stages, 2)
	require.NotNil(t, stages[0].WIPLimit)
	assert.Equal(t, 3, *stages[0].WIPLimit)
	assert.Equal(t, domain.ModeStrict, stages[0].WIPMode)
}

func TestValidateRejectsBadWorkflows(t *testing.T) {
	cases := map[string]string{
		"no done stage": `
workflow:
  default_stages:
    - id: a
      name: A
`,
		"two done stages": `
workflow:
  default_stages:
    - id: a
      name: A
      done: true
    - id: b
      name: B
      done: true
`,
		"duplicate id": `
workflow:
  default_stages:
    - id: a
      name: A
    - id: a
      name: Again
      done: true
`,
		"bad mode": `
workflow:
  default_stages:
    - id: a
      name: A
      wip_mode: loose
    - id: b
      name: B
      done: true
`,
		"bad duration": `
inbox:
  due_soon_window: soon
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestFromFileReadsGeneratedTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskflow.yml")
	require.NoError(t, os.WriteFile(path, []byte(GenerateDefault()), 0o644))
	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.False(t, cfg.Server.AllowDevHeader)
}
