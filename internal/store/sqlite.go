// Package store provides storage backends for DietPipe.
//
// This file implements an SQLite-backed store for profiles and the
// conversation log.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/DietPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetProfile(userID string) (*models.UserProfile, error) {
	var p models.UserProfile
	var fieldsJSON string
	err := s.db.QueryRow(
		`SELECT user_id, contact, language, state, fields, plan, created_at, updated_at FROM profiles WHERE user_id = ?`,
		userID,
	).Scan(&p.UserID, &p.Contact, &p.Language, &p.State, &fieldsJSON, &p.Plan, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
		slog.Error("SQLiteStore GetProfile fields unmarshal failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to unmarshal profile fields for %s: %w", userID, err)
	}
	return &p, nil
}

func (s *SQLiteStore) CreateProfile(p models.UserProfile) error {
	fields := p.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal profile fields for %s: %w", p.UserID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO profiles (user_id, contact, language, state, fields, plan, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Contact, p.Language, p.State, string(fieldsJSON), p.Plan, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateProfile failed", "error", err, "userID", p.UserID)
		return fmt.Errorf("failed to insert profile %s: %w", p.UserID, err)
	}
	slog.Debug("SQLiteStore CreateProfile succeeded", "userID", p.UserID, "state", p.State)
	return nil
}

// UpdateProfile applies a partial update inside a transaction so the merge of
// the field map never clobbers concurrent writes to unrelated keys.
func (s *SQLiteStore) UpdateProfile(userID string, update ProfileUpdate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin profile update for %s: %w", userID, err)
	}
	defer tx.Rollback()

	var language, fieldsJSON, plan string
	var state models.ConversationState
	err = tx.QueryRow(`SELECT language, state, fields, plan FROM profiles WHERE user_id = ?`, userID).
		Scan(&language, &state, &fieldsJSON, &plan)
	if err == sql.ErrNoRows {
		return models.ErrProfileNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore UpdateProfile read failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to read profile %s: %w", userID, err)
	}

	merged, err := mergeProfileRow(language, state, fieldsJSON, plan, update)
	if err != nil {
		return fmt.Errorf("failed to merge profile %s: %w", userID, err)
	}

	_, err = tx.Exec(
		`UPDATE profiles SET language = ?, state = ?, fields = ?, plan = ?, updated_at = ? WHERE user_id = ?`,
		merged.language, merged.state, merged.fieldsJSON, merged.plan, time.Now(), userID,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdateProfile write failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update profile %s: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile update for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore UpdateProfile succeeded", "userID", userID, "state", merged.state)
	return nil
}

func (s *SQLiteStore) AppendMessage(m models.ConversationMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (user_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		m.UserID, m.Role, m.Content, m.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AppendMessage failed", "error", err, "userID", m.UserID)
		return fmt.Errorf("failed to append message for %s: %w", m.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) GetLastAssistantMessage(userID string) (string, error) {
	var content string
	err := s.db.QueryRow(
		`SELECT content FROM messages WHERE user_id = ? AND role = ? ORDER BY id DESC LIMIT 1`,
		userID, models.RoleAssistant,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetLastAssistantMessage failed", "error", err, "userID", userID)
		return "", fmt.Errorf("failed to get last assistant message for %s: %w", userID, err)
	}
	return content, nil
}

func (s *SQLiteStore) GetMessages(userID string, limit int) ([]models.ConversationMessage, error) {
	query := `SELECT user_id, role, content, created_at FROM messages WHERE user_id = ? ORDER BY id DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore GetMessages query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query messages for %s: %w", userID, err)
	}
	defer rows.Close()

	var msgs []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			slog.Error("SQLiteStore GetMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	reverseMessages(msgs)
	return msgs, nil
}

func (s *SQLiteStore) IsDuplicate(messageID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT message_id FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) RecordInbound(messageID, userID string) (bool, error) {
	exists, err := s.IsDuplicate(messageID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_id, user_id, received_at) VALUES (?, ?, ?)`,
		messageID, userID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(
		`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
		time.Now(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsProcessed(messageID string) (bool, error) {
	var processedAt sql.NullTime
	err := s.db.QueryRow(`SELECT processed_at FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&processedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("processed check failed: %w", err)
	}
	return processedAt.Valid, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
