package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/pavelanni/lsattracker/internal/model"
)

// DefaultSessionTTL is used when CreateAuthSession gets a non-positive ttl.
const DefaultSessionTTL = 24 * time.Hour

// CreateAuthSession issues a sign-in token for a user.
func (s *Store) CreateAuthSession(userID int64, ttl time.Duration) (model.AuthSession, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	token, err := generateToken()
	if err != nil {
		return model.AuthSession{}, err
	}
	now := time.Now().UTC()
	sess := model.AuthSession{ID: token, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	_, err = s.db.Exec(
		`INSERT INTO auth_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return model.AuthSession{}, err
	}
	return sess, nil
}

// UserForToken resolves a token to its active user. It returns nil when the
// token is unknown, expired, or belongs to a disabled user. Expired tokens
// are removed.
func (s *Store) UserForToken(token string) (*model.User, error) {
	var u model.User
	var expiresAt time.Time
	err := s.db.QueryRow(
		`SELECT u.id, u.username, u.display_name, u.password_hash, u.active, u.created_at, a.expires_at
		 FROM auth_sessions a JOIN users u ON u.id = a.user_id
		 WHERE a.id = ?`, token,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Active, &u.CreatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(expiresAt) {
		_ = s.DeleteAuthSession(token)
		return nil, nil
	}
	if !u.Active {
		return nil, nil
	}
	return &u, nil
}

// DeleteAuthSession removes a session token.
func (s *Store) DeleteAuthSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM auth_sessions WHERE id = ?`, token)
	return err
}

// CleanupExpiredSessions removes all expired auth sessions and returns the
// tokens it deleted.
func (s *Store) CleanupExpiredSessions() ([]string, error) {
	now := time.Now().UTC()
	rows, err := s.db.Query(`SELECT id FROM auth_sessions WHERE expires_at < ?`, now)
	if err != nil {
		return nil, err
	}
	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return nil, err
		}
		tokens = append(tokens, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM auth_sessions WHERE expires_at < ?`, now); err != nil {
		return nil, err
	}
	return tokens, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
