package main

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("workspace", dir)
	viper.Set("jwt-secret", "s3cret")
	viper.Set("chat-webhook-url", "http://chat.local/hook")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".taskflow/taskflow.db"), cfg.Database.Path)
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
	assert.Equal(t, "http://chat.local/hook", cfg.Notifications.Chat.WebhookURL)
}

func TestActorRequired(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	_, err := actor()
	assert.Error(t, err)

	viper.Set("user", " u1 ")
	id, err := actor()
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"1", "3"}, splitCSV(" 1, ,3 "))
	assert.Nil(t, splitCSV(""))
}
