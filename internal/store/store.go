// Package store provides storage backends for PizzaPipe.
//
// Users, conversation history and serialised dialogue sessions live behind the
// Store interface. SQL backends additionally implement DedupRepo and OutboxRepo.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/BTreeMap/PizzaPipe/internal/models"
)

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
	DSNTypeFirebase = "firebase"
)

// ErrDSNNotSet is returned when a SQL backend is created without a DSN.
var ErrDSNNotSet = errors.New("database DSN not set")

// UserStore keeps registered users keyed by canonical phone number.
type UserStore interface {
	UserExists(ctx context.Context, phone string) (bool, error)
	// CreateUser returns false without writing when the phone is already registered.
	CreateUser(ctx context.Context, user models.User) (bool, error)
	// GetUser returns models.ErrUserNotFound when no record exists.
	GetUser(ctx context.Context, phone string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	// DeleteUser returns models.ErrUserNotFound when no record exists.
	DeleteUser(ctx context.Context, phone string) error
}

// ConversationStore keeps the chat history of each phone number.
type ConversationStore interface {
	AddMessage(ctx context.Context, msg models.ConversationMessage) error
	// GetConversation returns messages oldest first.
	GetConversation(ctx context.Context, phone string) ([]models.ConversationMessage, error)
	ListConversationPhones(ctx context.Context) ([]string, error)
}

// SessionStore keeps opaque serialised dialogue sessions. GetSession returns
// nil data and no error when the key is unknown.
type SessionStore interface {
	GetSession(ctx context.Context, key string) ([]byte, error)
	SaveSession(ctx context.Context, key string, data []byte) error
	DeleteSession(ctx context.Context, key string) error
}

// Store is the full persistence surface used by PizzaPipe.
type Store interface {
	UserStore
	ConversationStore
	SessionStore
	Close() error
}

// Opts holds configuration for the persistent backends.
type Opts struct {
	DSN             string // database connection string, SQLite file path or Firebase database URL
	CredentialsFile string // Firebase service account key; empty uses application default credentials
}

// Option defines a configuration option for the persistent backends.
type Option func(*Opts)

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithFirebaseURL sets the Firebase Realtime Database URL.
func WithFirebaseURL(url string) Option {
	return func(o *Opts) {
		o.DSN = url
	}
}

// WithCredentialsFile sets the Firebase service account key file.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) {
		o.CredentialsFile = path
	}
}

// DetectDSNType reports which backend a DSN addresses: DSNTypePostgres for
// URLs and key/value connection strings, DSNTypeFirebase for Realtime Database
// URLs, DSNTypeSQLite for anything else.
func DetectDSNType(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return DSNTypePostgres
	case strings.HasPrefix(dsn, "https://") && (strings.Contains(dsn, ".firebaseio.com") || strings.Contains(dsn, ".firebasedatabase.app")):
		return DSNTypeFirebase
	default:
		return DSNTypeSQLite
	}
}

// sessionOverride serves sessions from a separate SessionStore and everything
// else from the wrapped Store.
type sessionOverride struct {
	Store
	sessions SessionStore
}

// WithSessionStore returns a Store that keeps dialogue sessions in sessions
// instead of base. Closing it closes both when sessions has a Close method.
func WithSessionStore(base Store, sessions SessionStore) Store {
	if sessions == nil {
		return base
	}
	return &sessionOverride{Store: base, sessions: sessions}
}

func (s *sessionOverride) GetSession(ctx context.Context, key string) ([]byte, error) {
	return s.sessions.GetSession(ctx, key)
}

func (s *sessionOverride) SaveSession(ctx context.Context, key string, data []byte) error {
	return s.sessions.SaveSession(ctx, key, data)
}

func (s *sessionOverride) DeleteSession(ctx context.Context, key string) error {
	return s.sessions.DeleteSession(ctx, key)
}

func (s *sessionOverride) Close() error {
	var errs []error
	if c, ok := s.sessions.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, s.Store.Close())
	return errors.Join(errs...)
}

// Unwrap returns the Store that holds users and conversations.
func (s *sessionOverride) Unwrap() Store { return s.Store }

// Underlying strips session overrides so optional capabilities (DedupRepo,
// OutboxRepo) of the base backend can be discovered.
func Underlying(s Store) Store {
	for {
		u, ok := s.(interface{ Unwrap() Store })
		if !ok {
			return s
		}
		s = u.Unwrap()
	}
}

// Open creates the backend addressed by the configured DSN. Without a DSN the
// in-memory store is returned.
func Open(ctx context.Context, opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		return NewInMemoryStore(), nil
	case DetectDSNType(cfg.DSN) == DSNTypePostgres:
		return NewPostgresStore(opts...)
	case DetectDSNType(cfg.DSN) == DSNTypeFirebase:
		return NewFirebaseStore(ctx, opts...)
	default:
		return NewSQLiteStore(opts...)
	}
}
