package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// User is a local account that remote actors can resolve to.
type User struct {
	ID       string
	Username string
}

// CreateUser inserts a new user. A missing ID is generated.
func (s *Store) CreateUser(u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := s.conn.Exec(`INSERT INTO users (id, username) VALUES (?, ?)`, u.ID, u.Username)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(id string) (*User, error) {
	var u User
	err := s.conn.QueryRow(`SELECT id, username FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetUserByUsername retrieves a user by exact username match.
func (s *Store) GetUserByUsername(username string) (*User, error) {
	var u User
	err := s.conn.QueryRow(`SELECT id, username FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return &u, nil
}

// LinkAccount associates an external provider account with a user.
func (s *Store) LinkAccount(userID, provider, providerAccountID string) error {
	_, err := s.conn.Exec(`
		INSERT INTO accounts (user_id, provider, provider_account_id)
		VALUES (?, ?, ?)
	`, userID, provider, providerAccountID)
	if err != nil {
		return fmt.Errorf("failed to link account: %w", err)
	}
	return nil
}

// GetUserByAccount retrieves the user owning a linked provider account.
func (s *Store) GetUserByAccount(provider, providerAccountID string) (*User, error) {
	var u User
	err := s.conn.QueryRow(`
		SELECT u.id, u.username FROM users u
		JOIN accounts a ON a.user_id = u.id
		WHERE a.provider = ? AND a.provider_account_id = ?
	`, provider, providerAccountID).Scan(&u.ID, &u.Username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by account: %w", err)
	}
	return &u, nil
}
