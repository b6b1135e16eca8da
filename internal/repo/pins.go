package repo

import (
	"context"
	"database/sql"

	"taskflow/internal/domain"
)

func (r Repo) InsertPIN(ctx context.Context, tx *sql.Tx, p domain.PasswordResetPIN) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO password_reset_pins(id,user_id,code_hash,attempts,expires_at,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.UserID, p.CodeHash, p.Attempts, p.ExpiresAt, p.CreatedAt)
	return err
}

// InvalidateOpenPINs retires every unused PIN of the user.
func (r Repo) InvalidateOpenPINs(ctx context.Context, tx *sql.Tx, userID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE password_reset_pins SET invalidated_at=? WHERE user_id=? AND verified_at IS NULL AND invalidated_at IS NULL`, now, userID)
	return err
}

// LatestPIN returns the user's most recently issued PIN.
func (r Repo) LatestPIN(ctx context.Context, tx *sql.Tx, userID string) (domain.PasswordResetPIN, error) {
	var p domain.PasswordResetPIN
	var verified, invalidated sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,user_id,code_hash,attempts,expires_at,created_at,verified_at,invalidated_at
FROM password_reset_pins WHERE user_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1`, userID).
		Scan(&p.ID, &p.UserID, &p.CodeHash, &p.Attempts, &p.ExpiresAt, &p.CreatedAt, &verified, &invalidated)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.VerifiedAt = stringPtr(verified)
	p.InvalidatedAt = stringPtr(invalidated)
	return p, nil
}

func (r Repo) UpdatePIN(ctx context.Context, tx *sql.Tx, p domain.PasswordResetPIN) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE password_reset_pins SET attempts=?, verified_at=?, invalidated_at=? WHERE id=?`,
		p.Attempts, nullableStringPtr(p.VerifiedAt), nullableStringPtr(p.InvalidatedAt), p.ID)
	return err
}
