// Package pin issues and verifies password-reset PINs.
package pin

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/domain"
	"taskflow/internal/repo"
)

const (
	Digits      = 6
	TTL         = 15 * time.Minute
	MaxAttempts = 3
)

type Service struct {
	DB   *sql.DB
	Repo repo.Repo
	Now  func() time.Time
	// Code generates the plaintext PIN; nil uses crypto/rand.
	Code func() (string, error)
}

func New(db *sql.DB) Service {
	return Service{DB: db, Repo: repo.Repo{DB: db}, Now: time.Now}
}

// Issued is a freshly created PIN. Code is never stored.
type Issued struct {
	ID        string
	UserID    string
	Code      string
	ExpiresAt time.Time
}

// Issue creates a PIN for the user and invalidates any open one.
func (s Service) Issue(ctx context.Context, userID string) (Issued, error) {
	if strings.TrimSpace(userID) == "" {
		return Issued{}, fmt.Errorf("%w: user required", domain.ErrInvalidArgument)
	}
	gen := s.Code
	if gen == nil {
		gen = randomCode
	}
	code, err := gen()
	if err != nil {
		return Issued{}, err
	}
	now := s.now()
	out := Issued{ID: uuid.NewString(), UserID: userID, Code: code, ExpiresAt: now.Add(TTL)}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return out, err
	}
	defer tx.Rollback()
	if _, err := s.Repo.GetUser(ctx, tx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return out, fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
		}
		return out, err
	}
	stamp := now.Format(time.RFC3339)
	if err := s.Repo.InvalidateOpenPINs(ctx, tx, userID, stamp); err != nil {
		return out, err
	}
	if err := s.Repo.InsertPIN(ctx, tx, domain.PasswordResetPIN{
		ID:        out.ID,
		UserID:    userID,
		CodeHash:  Hash(code),
		ExpiresAt: out.ExpiresAt.Format(time.RFC3339),
		CreatedAt: stamp,
	}); err != nil {
		return out, err
	}
	return out, tx.Commit()
}

// Verify checks code against the user's latest PIN. A wrong code counts as an
// attempt; the MaxAttempts-th wrong code invalidates the PIN.
func (s Service) Verify(ctx context.Context, userID, code string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p, err := s.Repo.LatestPIN(ctx, tx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: no reset requested", domain.ErrPinInvalid)
	}
	if err != nil {
		return err
	}
	if p.Attempts >= MaxAttempts {
		return domain.ErrPinExhausted
	}
	if p.VerifiedAt != nil || p.InvalidatedAt != nil {
		return fmt.Errorf("%w: PIN already used", domain.ErrPinInvalid)
	}
	now := s.now()
	expires, err := time.Parse(time.RFC3339, p.ExpiresAt)
	if err != nil {
		return fmt.Errorf("pin %s: bad expiry %q: %w", p.ID, p.ExpiresAt, err)
	}
	if !now.Before(expires) {
		return domain.ErrPinExpired
	}
	stamp := now.Format(time.RFC3339)
	if subtle.ConstantTimeCompare([]byte(Hash(strings.TrimSpace(code))), []byte(p.CodeHash)) != 1 {
		p.Attempts++
		if p.Attempts >= MaxAttempts {
			p.InvalidatedAt = &stamp
		}
		if err := s.Repo.UpdatePIN(ctx, tx, p); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %d attempt(s) left", domain.ErrPinInvalid, MaxAttempts-p.Attempts)
	}
	p.VerifiedAt = &stamp
	if err := s.Repo.UpdatePIN(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// Hash is the stored digest of a PIN.
func Hash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func randomCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", Digits, n.Int64()), nil
}
