// Package store provides storage backends for DietPipe.
//
// It persists user profiles, the append-only conversation log, and inbound
// message deduplication records, with SQLite and PostgreSQL implementations
// plus an in-memory store for tests.
package store

import (
	"strings"

	"github.com/BTreeMap/DietPipe/internal/models"
)

// ProfileUpdate describes a partial profile update. Nil members are left
// untouched; Fields entries are merged into the stored field map without
// clobbering unrelated keys.
type ProfileUpdate struct {
	Language *string
	State    *models.ConversationState
	Plan     *string
	Fields   map[string]interface{}
}

// Store defines the persistence operations the onboarding engine relies on.
type Store interface {
	// GetProfile retrieves a profile by user ID. Returns (nil, nil) when no
	// profile exists.
	GetProfile(userID string) (*models.UserProfile, error)

	// CreateProfile inserts a new profile. Creating an already existing user
	// ID is an error.
	CreateProfile(profile models.UserProfile) error

	// UpdateProfile applies a partial update to an existing profile.
	UpdateProfile(userID string, update ProfileUpdate) error

	// AppendMessage appends one entry to the conversation log. Entries are
	// never mutated or deleted.
	AppendMessage(msg models.ConversationMessage) error

	// GetLastAssistantMessage returns the most recent assistant log entry for
	// the user, or "" when there is none.
	GetLastAssistantMessage(userID string) (string, error)

	// GetMessages returns up to limit most recent log entries for the user in
	// chronological order. A limit of 0 means no limit.
	GetMessages(userID string, limit int) ([]models.ConversationMessage, error)

	DedupRepo

	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL-style DSNs and "sqlite"
// otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
