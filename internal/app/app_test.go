package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/config"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/notify"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.Server.AllowDevHeader = true
	return cfg
}

func TestSinksFollowConfig(t *testing.T) {
	cfg := config.Default()
	email, chat := Sinks(cfg, nil)
	assert.IsType(t, notify.LogEmailSink{}, email)
	assert.IsType(t, notify.LogChatSink{}, chat)

	cfg.Notifications.Email.Endpoint = "https://mail.example.com/send"
	cfg.Notifications.Chat.WebhookURL = "https://chat.example.com/hook"
	email, chat = Sinks(cfg, nil)
	assert.IsType(t, notify.HTTPEmailSink{}, email)
	assert.IsType(t, notify.WebhookChatSink{}, chat)
}

func TestOpenServesDevHeaderRequests(t *testing.T) {
	a, err := Open(testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Facade.EnsureUser(context.Background(), domain.User{ID: "u-1", Username: "grace"})
	require.NoError(t, err)

	h, err := a.Handler()
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("X-User-Id", "u-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"username":"grace"`)
}

func TestRunJobsOnceMaterializesRecurrences(t *testing.T) {
	a, err := Open(testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()
	ctx := context.Background()
	f := a.Facade

	_, err = f.EnsureUser(ctx, domain.User{ID: "u-1", Username: "grace"})
	require.NoError(t, err)
	org, err := f.CreateOrg(ctx, "u-1", "Acme", "acme")
	require.NoError(t, err)
	p, err := f.CreateProject(ctx, "u-1", engine.ProjectOptions{OrgID: org.ID, Name: "Ops"})
	require.NoError(t, err)
	tmpl, err := f.CreateTask(ctx, "u-1", engine.TaskOptions{ProjectID: p.ID, Title: "Backup check"})
	require.NoError(t, err)
	_, err = f.SetRecurrence(ctx, "u-1", engine.RecurrenceOptions{
		TaskID:    tmpl.ID,
		Frequency: "daily",
		StartDate: "2024-01-01",
	})
	require.NoError(t, err)

	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	a.RunJobsOnce(ctx, now)
	a.RunJobsOnce(ctx, now)

	stats, err := f.ProjectStats(ctx, "u-1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total, "template plus two daily instances, no duplicates")
}
