package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/vrsandeep/comicvault/internal/models"
)

// SessionTTL is how long a login session stays valid.
const SessionTTL = 7 * 24 * time.Hour

var (
	ErrInvalidSession = errors.New("invalid session token")
	ErrSessionExpired = errors.New("session expired")
)

// CreateSession creates a new session for a user and returns the session token.
func (s *Store) CreateSession(ctx context.Context, userID int64) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)
	expiry := time.Now().UTC().Add(SessionTTL)
	_, err := s.db.ExecContext(ctx, "INSERT INTO sessions (token, user_id, expiry) VALUES (?, ?, ?)", token, userID, expiry)
	return token, err
}

// GetUserFromSession retrieves a user based on a session token.
func (s *Store) GetUserFromSession(ctx context.Context, token string) (*models.User, error) {
	var userID int64
	var expiry time.Time
	err := s.db.QueryRowContext(ctx, "SELECT user_id, expiry FROM sessions WHERE token = ?", token).Scan(&userID, &expiry)
	if err != nil {
		if errors.Is(notFound(err, "session"), ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	if time.Now().After(expiry) {
		s.DeleteSession(ctx, token) // Clean up expired session
		return nil, ErrSessionExpired
	}
	return s.GetUserByID(ctx, userID)
}

// DeleteSession removes a session token, e.g. on logout.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
}
