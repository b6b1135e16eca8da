package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taskflow/internal/domain"
	"taskflow/internal/repo"
)

const maxFeedPage = 500

// Changes returns project events after the cursor. Consumers treat them as
// hints to re-query, never as state.
func (e Engine) Changes(ctx context.Context, projectID string, after int64, limit int, actorID string) ([]domain.Event, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	if _, err := e.requireProject(ctx, tx, projectID, actorID, domain.RoleReader); err != nil {
		tx.Rollback()
		return nil, err
	}
	tx.Rollback()
	if limit <= 0 || limit > maxFeedPage {
		limit = maxFeedPage
	}
	return e.Repo.EventsAfter(ctx, limit, after, projectID)
}

// CreateAPIKey issues a key for the user. The plaintext is returned once;
// only its digest is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.APIKey{}, "", fmt.Errorf("%w: user required", domain.ErrInvalidArgument)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "tf_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return key, "", wrapMissingUser(err, userID)
	}
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, userID)
}

func (e Engine) DeleteAPIKey(ctx context.Context, userID, id string) error {
	ok, err := e.Repo.DeleteAPIKey(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: api key %s", domain.ErrNotFound, id)
	}
	return nil
}
