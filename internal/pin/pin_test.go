package pin_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/db"
	"taskflow/internal/domain"
	"taskflow/internal/migrate"
	"taskflow/internal/pin"
	"taskflow/internal/repo"
)

func newService(t *testing.T, clock *time.Time) pin.Service {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "pin.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	require.NoError(t, repo.Repo{DB: conn}.UpsertUser(context.Background(), nil, domain.User{
		ID: "u1", Username: "u1", Email: "u1@example.com", CreatedAt: "2024-01-01T00:00:00Z",
	}))
	svc := pin.New(conn)
	svc.Now = func() time.Time { return *clock }
	codes := []string{"111111", "222222", "333333"}
	svc.Code = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	return svc
}

func TestIssueAndVerify(t *testing.T) {
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newService(t, &clock)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "111111", issued.Code)
	assert.Equal(t, clock.Add(pin.TTL), issued.ExpiresAt)

	require.NoError(t, svc.Verify(ctx, "u1", "111111"))
	assert.ErrorIs(t, svc.Verify(ctx, "u1", "111111"), domain.ErrPinInvalid, "a PIN verifies once")
}

func TestThirdFailureInvalidates(t *testing.T) {
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newService(t, &clock)
	ctx := context.Background()
	_, err := svc.Issue(ctx, "u1")
	require.NoError(t, err)

	for i := 0; i < pin.MaxAttempts; i++ {
		assert.ErrorIs(t, svc.Verify(ctx, "u1", "000000"), domain.ErrPinInvalid)
	}
	assert.ErrorIs(t, svc.Verify(ctx, "u1", "111111"), domain.ErrPinExhausted)
	assert.ErrorIs(t, svc.Verify(ctx, "u1", "000000"), domain.ErrPinExhausted)
}

func TestExpiryAndReissue(t *testing.T) {
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newService(t, &clock)
	ctx := context.Background()
	_, err := svc.Issue(ctx, "u1")
	require.NoError(t, err)

	clock = clock.Add(pin.TTL)
	assert.ErrorIs(t, svc.Verify(ctx, "u1", "111111"), domain.ErrPinExpired)

	_, err = svc.Issue(ctx, "u1")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Verify(ctx, "u1", "111111"), domain.ErrPinInvalid, "old code no longer matches")
	require.NoError(t, svc.Verify(ctx, "u1", "222222"))
}

func TestIssueUnknownUser(t *testing.T) {
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	svc := newService(t, &clock)
	_, err := svc.Issue(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, svc.Verify(context.Background(), "ghost", "123456"), domain.ErrPinInvalid)
}
