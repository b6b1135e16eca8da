package facade_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/facade"
	"taskflow/internal/migrate"
	"taskflow/internal/notify"
	"taskflow/internal/pin"
)

type outbox struct {
	mu   sync.Mutex
	sent []notify.EmailMessage
}

func (o *outbox) Send(ctx context.Context, msg notify.EmailMessage) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return "id", nil
}

func newFacade(t *testing.T) (facade.Facade, *notify.Dispatcher, *outbox) {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "facade.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	box := &outbox{}
	d := notify.NewDispatcher(box, nil, 16, 0, nil)
	d.Start()
	t.Cleanup(d.Close)

	p := pin.New(conn)
	p.Code = func() (string, error) { return "424242", nil }
	f := facade.New(engine.New(conn, config.Default()), p, d, nil)
	ctx := context.Background()
	for _, u := range []domain.User{
		{ID: "u-grace", Username: "grace", Email: "grace@example.com", DisplayName: "Grace"},
		{ID: "u-ada", Username: "ada", Email: "ada@example.com", DisplayName: "Ada"},
	} {
		_, err := f.EnsureUser(ctx, u)
		require.NoError(t, err)
	}
	return f, d, box
}

func TestAddOrgMemberSendsInvitationOnce(t *testing.T) {
	f, d, box := newFacade(t)
	ctx := context.Background()
	org, err := f.CreateOrg(ctx, "u-grace", "Acme", "acme")
	require.NoError(t, err)

	_, err = f.AddOrgMember(ctx, "u-grace", org.ID, "u-ada", domain.RoleEditor)
	require.NoError(t, err)
	_, err = f.AddOrgMember(ctx, "u-grace", org.ID, "u-ada", domain.RoleAdmin)
	require.NoError(t, err)
	_, err = f.AddOrgMember(ctx, "u-ada", org.ID, "u-grace", domain.RoleReader)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	d.Close()
	require.Len(t, box.sent, 1)
	assert.Equal(t, "ada@example.com", box.sent[0].To)
	assert.Contains(t, box.sent[0].Text, "Grace added you to Acme as editor.")
}

func TestApprovalDecisionEmailsSubmitter(t *testing.T) {
	f, d, box := newFacade(t)
	ctx := context.Background()
	org, err := f.CreateOrg(ctx, "u-grace", "Acme", "acme")
	require.NoError(t, err)
	p, err := f.CreateProject(ctx, "u-grace", engine.ProjectOptions{OrgID: org.ID, Name: "Site"})
	require.NoError(t, err)
	_, err = f.AddProjectMember(ctx, "u-grace", p.ID, "u-ada", domain.RoleEditor)
	require.NoError(t, err)

	task, err := f.CreateTask(ctx, "u-ada", engine.TaskOptions{ProjectID: p.ID, Title: "Landing page"})
	require.NoError(t, err)
	_, err = f.MoveTask(ctx, "u-ada", engine.MoveOptions{TaskID: task.ID, ToStageID: "done"})
	require.NoError(t, err)
	_, err = f.Approve(ctx, "u-ada", task.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.Reject(ctx, "u-grace", engine.RejectOptions{TaskID: task.ID, ReturnStageID: "doing", Reason: "copy is stale"})
	require.NoError(t, err)
	_, err = f.MoveTask(ctx, "u-ada", engine.MoveOptions{TaskID: task.ID, ToStageID: "done"})
	require.NoError(t, err)
	approved, err := f.Approve(ctx, "u-grace", task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, approved.ApprovalStatus)

	d.Close()
	require.Len(t, box.sent, 2)
	assert.Equal(t, `"Landing page" was sent back`, box.sent[0].Subject)
	assert.Contains(t, box.sent[0].Text, "Reason: copy is stale")
	assert.Equal(t, `"Landing page" was approved`, box.sent[1].Subject)
}

func TestPasswordResetFlow(t *testing.T) {
	f, d, box := newFacade(t)
	ctx := context.Background()

	require.NoError(t, f.RequestPasswordReset(ctx, "nobody"), "unknown logins are not revealed")
	require.NoError(t, f.RequestPasswordReset(ctx, "ADA"))

	_, err := f.VerifyPasswordReset(ctx, "ada", "000000")
	assert.ErrorIs(t, err, domain.ErrPinInvalid)
	u, err := f.VerifyPasswordReset(ctx, "ada", "424242")
	require.NoError(t, err)
	assert.Equal(t, "u-ada", u.ID)

	_, err = f.VerifyPasswordReset(ctx, "nobody", "424242")
	assert.ErrorIs(t, err, domain.ErrPinInvalid)

	d.Close()
	require.Len(t, box.sent, 1)
	assert.Equal(t, "ada@example.com", box.sent[0].To)
	assert.True(t, strings.Contains(box.sent[0].Text, "424242"))
}
