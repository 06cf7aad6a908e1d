package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/PizzaPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a file-backed Store.
type SQLiteStore struct {
	db *sql.DB
	sqlQueue
}

var (
	_ Store      = (*SQLiteStore)(nil)
	_ DedupRepo  = (*SQLiteStore)(nil)
	_ OutboxRepo = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, ErrDSNNotSet
	}

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
	// One writer avoids "database is locked" under concurrent webhooks.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLiteStore{db: db, sqlQueue: sqlQueue{db: db, dialect: dialectSQLite, name: "SQLiteStore"}}, nil
}

func (s *SQLiteStore) UserExists(ctx context.Context, phone string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE phone_number = ?`, phone).Scan(&n)
	if err != nil {
		slog.Error("SQLiteStore UserExists failed", "error", err, "phone", phone)
		return false, fmt.Errorf("failed to look up user %s: %w", phone, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user models.User) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.PhoneNumber, user.Name, user.Email, user.Address, user.Birthdate, user.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateUser failed", "error", err, "phone", user.PhoneNumber)
		return false, fmt.Errorf("failed to insert user %s: %w", user.PhoneNumber, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check inserted user %s: %w", user.PhoneNumber, err)
	}
	slog.Debug("SQLiteStore CreateUser", "phone", user.PhoneNumber, "created", n > 0)
	return n > 0, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, phone string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone_number = ?`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetUser failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get user %s: %w", phone, err)
	}
	return &u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY phone_number`)
	if err != nil {
		slog.Error("SQLiteStore ListUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return collect(rows, "user", scanUser)
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, phone string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE phone_number = ?`, phone)
	if err != nil {
		slog.Error("SQLiteStore DeleteUser failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete user %s: %w", phone, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, msg models.ConversationMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.PhoneNumber, msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "phone", msg.PhoneNumber)
		return fmt.Errorf("failed to insert message for %s: %w", msg.PhoneNumber, err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, phone string) ([]models.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM conversation_messages WHERE phone_number = ? ORDER BY seq`, phone)
	if err != nil {
		slog.Error("SQLiteStore GetConversation query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query conversation %s: %w", phone, err)
	}
	return collect(rows, "message", scanMessage)
}

func (s *SQLiteStore) ListConversationPhones(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT phone_number FROM conversation_messages ORDER BY phone_number`)
	if err != nil {
		slog.Error("SQLiteStore ListConversationPhones query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversation phones: %w", err)
	}
	return collect(rows, "phone", scanString)
}

func (s *SQLiteStore) GetSession(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE session_key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to get session %s: %w", key, err)
	}
	return data, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (session_key, data, updated_at) VALUES (?, ?, ?)`,
		key, data, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "key", key)
		return fmt.Errorf("failed to save session %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, key); err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
