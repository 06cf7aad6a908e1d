package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/PizzaPipe/internal/models"
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

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	sqlQueue
}

var (
	_ Store      = (*PostgresStore)(nil)
	_ DedupRepo  = (*PostgresStore)(nil)
	_ OutboxRepo = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, ErrDSNNotSet
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, sqlQueue: sqlQueue{db: db, dialect: dialectPostgres, name: "PostgresStore"}}, nil
}

func (s *PostgresStore) UserExists(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE phone_number = $1)`, phone).Scan(&exists)
	if err != nil {
		slog.Error("PostgresStore UserExists failed", "error", err, "phone", phone)
		return false, fmt.Errorf("failed to look up user %s: %w", phone, err)
	}
	return exists, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user models.User) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (phone_number) DO NOTHING`,
		user.ID, user.PhoneNumber, user.Name, user.Email, user.Address, user.Birthdate, user.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateUser failed", "error", err, "phone", user.PhoneNumber)
		return false, fmt.Errorf("failed to insert user %s: %w", user.PhoneNumber, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check inserted user %s: %w", user.PhoneNumber, err)
	}
	slog.Debug("PostgresStore CreateUser", "phone", user.PhoneNumber, "created", n > 0)
	return n > 0, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, phone string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone_number = $1`, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetUser failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get user %s: %w", phone, err)
	}
	return &u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY phone_number`)
	if err != nil {
		slog.Error("PostgresStore ListUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	return collect(rows, "user", scanUser)
}

func (s *PostgresStore) DeleteUser(ctx context.Context, phone string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE phone_number = $1`, phone)
	if err != nil {
		slog.Error("PostgresStore DeleteUser failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete user %s: %w", phone, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) AddMessage(ctx context.Context, msg models.ConversationMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.PhoneNumber, msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "phone", msg.PhoneNumber)
		return fmt.Errorf("failed to insert message for %s: %w", msg.PhoneNumber, err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, phone string) ([]models.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM conversation_messages WHERE phone_number = $1 ORDER BY seq`, phone)
	if err != nil {
		slog.Error("PostgresStore GetConversation query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to query conversation %s: %w", phone, err)
	}
	return collect(rows, "message", scanMessage)
}

func (s *PostgresStore) ListConversationPhones(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT phone_number FROM conversation_messages ORDER BY phone_number`)
	if err != nil {
		slog.Error("PostgresStore ListConversationPhones query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversation phones: %w", err)
	}
	return collect(rows, "phone", scanString)
}

func (s *PostgresStore) GetSession(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE session_key = $1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to get session %s: %w", key, err)
	}
	return data, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_key, data, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (session_key) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		key, data, time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "key", key)
		return fmt.Errorf("failed to save session %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = $1`, key); err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
