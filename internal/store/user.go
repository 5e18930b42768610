package store

import (
	"fmt"
	"time"
)

// InsertUser creates the user's mailbox on first insert and registers the
// account in the global directory. Re-inserting refreshes the profile
// fields without touching the conversation list.
func (db *DB) InsertUser(userKey, firstName, lastName, email string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO mailboxes (user_key, first_name, last_name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_key) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			updated_at = excluded.updated_at`,
		userKey, firstName, lastName, now); err != nil {
		return fmt.Errorf("insert mailbox %q: %w", userKey, err)
	}

	name := firstName + " " + lastName
	if _, err := tx.Exec(`
		INSERT INTO users (email, name)
		VALUES (?, ?)
		ON CONFLICT(email) DO UPDATE SET name = excluded.name`,
		email, name); err != nil {
		return fmt.Errorf("insert directory entry %q: %w", email, err)
	}

	return tx.Commit()
}

// UserExists reports whether an account is registered under email.
func (db *DB) UserExists(email string) (bool, error) {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM users WHERE email = ?`, email).Scan(&count); err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return count > 0, nil
}

// GetMailbox returns the profile fields and conversation index for a
// user. ErrNotFound if the mailbox does not exist.
func (db *DB) GetMailbox(userKey string) (*Mailbox, error) {
	var m Mailbox
	var raw string
	err := db.QueryRow(`
		SELECT user_key, first_name, last_name, conversations
		FROM mailboxes WHERE user_key = ?`, userKey).
		Scan(&m.UserKey, &m.FirstName, &m.LastName, &raw)
	if err != nil {
		return nil, fmt.Errorf("mailbox %q: %w", userKey, ErrNotFound)
	}
	m.Conversations = decodeSummaryList(raw)
	return &m, nil
}

// SearchUsers performs a full-text search over the directory.
func (db *DB) SearchUsers(query string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT u.name, u.email
		FROM users_fts f
		JOIN users u ON u.rowid = f.rowid
		WHERE users_fts MATCH ?
		ORDER BY rank LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Name, &u.Email); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
