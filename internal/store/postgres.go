// Package store provides storage backends for DietPipe.
//
// This file implements a PostgreSQL-backed store for profiles and the
// conversation log.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/DietPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetProfile(userID string) (*models.UserProfile, error) {
	var p models.UserProfile
	var fieldsJSON string
	err := s.db.QueryRow(
		`SELECT user_id, contact, language, state, fields, plan, created_at, updated_at FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.Contact, &p.Language, &p.State, &fieldsJSON, &p.Plan, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
		slog.Error("PostgresStore GetProfile fields unmarshal failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to unmarshal profile fields for %s: %w", userID, err)
	}
	return &p, nil
}

func (s *PostgresStore) CreateProfile(p models.UserProfile) error {
	fields := p.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal profile fields for %s: %w", p.UserID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO profiles (user_id, contact, language, state, fields, plan, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.UserID, p.Contact, p.Language, p.State, string(fieldsJSON), p.Plan, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CreateProfile failed", "error", err, "userID", p.UserID)
		return fmt.Errorf("failed to insert profile %s: %w", p.UserID, err)
	}
	slog.Debug("PostgresStore CreateProfile succeeded", "userID", p.UserID, "state", p.State)
	return nil
}

// UpdateProfile applies a partial update inside a transaction, locking the row
// so the field map merge is atomic.
func (s *PostgresStore) UpdateProfile(userID string, update ProfileUpdate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin profile update for %s: %w", userID, err)
	}
	defer tx.Rollback()

	var language, fieldsJSON, plan string
	var state models.ConversationState
	err = tx.QueryRow(`SELECT language, state, fields, plan FROM profiles WHERE user_id = $1 FOR UPDATE`, userID).
		Scan(&language, &state, &fieldsJSON, &plan)
	if err == sql.ErrNoRows {
		return models.ErrProfileNotFound
	}
	if err != nil {
		slog.Error("PostgresStore UpdateProfile read failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to read profile %s: %w", userID, err)
	}

	merged, err := mergeProfileRow(language, state, fieldsJSON, plan, update)
	if err != nil {
		return fmt.Errorf("failed to merge profile %s: %w", userID, err)
	}

	_, err = tx.Exec(
		`UPDATE profiles SET language = $1, state = $2, fields = $3, plan = $4, updated_at = $5 WHERE user_id = $6`,
		merged.language, merged.state, merged.fieldsJSON, merged.plan, time.Now(), userID,
	)
	if err != nil {
		slog.Error("PostgresStore UpdateProfile write failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update profile %s: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile update for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore UpdateProfile succeeded", "userID", userID, "state", merged.state)
	return nil
}

func (s *PostgresStore) AppendMessage(m models.ConversationMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (user_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		m.UserID, m.Role, m.Content, m.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AppendMessage failed", "error", err, "userID", m.UserID)
		return fmt.Errorf("failed to append message for %s: %w", m.UserID, err)
	}
	return nil
}

func (s *PostgresStore) GetLastAssistantMessage(userID string) (string, error) {
	var content string
	err := s.db.QueryRow(
		`SELECT content FROM messages WHERE user_id = $1 AND role = $2 ORDER BY id DESC LIMIT 1`,
		userID, models.RoleAssistant,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetLastAssistantMessage failed", "error", err, "userID", userID)
		return "", fmt.Errorf("failed to get last assistant message for %s: %w", userID, err)
	}
	return content, nil
}

func (s *PostgresStore) GetMessages(userID string, limit int) ([]models.ConversationMessage, error) {
	query := `SELECT user_id, role, content, created_at FROM messages WHERE user_id = $1 ORDER BY id DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore GetMessages query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query messages for %s: %w", userID, err)
	}
	defer rows.Close()

	var msgs []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			slog.Error("PostgresStore GetMessages scan failed", "error", err)
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

func (s *PostgresStore) IsDuplicate(messageID string) (bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT message_id FROM inbound_dedup WHERE message_id = $1`, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) RecordInbound(messageID, userID string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO inbound_dedup (message_id, user_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
		messageID, userID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(
		`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`,
		time.Now(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsProcessed(messageID string) (bool, error) {
	var processedAt sql.NullTime
	err := s.db.QueryRow(`SELECT processed_at FROM inbound_dedup WHERE message_id = $1`, messageID).Scan(&processedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("processed check failed: %w", err)
	}
	return processedAt.Valid, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
