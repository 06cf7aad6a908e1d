package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"github.com/BTreeMap/PizzaPipe/internal/models"
)

// Realtime Database partitions.
const (
	firebaseUsersPath         = "users"
	firebaseConversationsPath = "conversations"
	firebaseSessionsPath      = "sessions"
)

// FirebaseStore keeps users, conversations and sessions in a Firebase
// Realtime Database, one partition per record kind.
type FirebaseStore struct {
	client *db.Client
}

var _ Store = (*FirebaseStore)(nil)

// NewFirebaseStore connects to the Realtime Database at the configured URL.
func NewFirebaseStore(ctx context.Context, opts ...Option) (*FirebaseStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewFirebaseStore invoked", "url", cfg.DSN, "credentials_set", cfg.CredentialsFile != "")
	if cfg.DSN == "" {
		return nil, ErrDSNNotSet
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: cfg.DSN}, clientOpts...)
	if err != nil {
		slog.Error("NewFirebaseStore: failed to initialise app", "error", err)
		return nil, fmt.Errorf("failed to initialise firebase app: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		slog.Error("NewFirebaseStore: failed to get database client", "error", err)
		return nil, fmt.Errorf("failed to get firebase database client: %w", err)
	}
	slog.Info("Firebase store connected", "url", cfg.DSN)
	return &FirebaseStore{client: client}, nil
}

// firebaseKey escapes characters the Realtime Database forbids in keys.
func firebaseKey(s string) string {
	if !strings.ContainsAny(s, ".$#[]/%") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', '$', '#', '[', ']', '/', '%':
			fmt.Fprintf(&b, "%%%02X", r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *FirebaseStore) userRef(phone string) *db.Ref {
	return s.client.NewRef(firebaseUsersPath + "/" + firebaseKey(phone))
}

func (s *FirebaseStore) UserExists(ctx context.Context, phone string) (bool, error) {
	_, err := s.GetUser(ctx, phone)
	if errors.Is(err, models.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *FirebaseStore) CreateUser(ctx context.Context, user models.User) (bool, error) {
	created := false
	err := s.userRef(user.PhoneNumber).Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var existing models.User
		if err := node.Unmarshal(&existing); err != nil {
			return nil, err
		}
		if existing.PhoneNumber != "" {
			created = false
			return existing, nil
		}
		created = true
		return user, nil
	})
	if err != nil {
		slog.Error("FirebaseStore CreateUser failed", "error", err, "phone", user.PhoneNumber)
		return false, fmt.Errorf("failed to create user %s: %w", user.PhoneNumber, err)
	}
	slog.Debug("FirebaseStore CreateUser", "phone", user.PhoneNumber, "created", created)
	return created, nil
}

func (s *FirebaseStore) GetUser(ctx context.Context, phone string) (*models.User, error) {
	var u models.User
	if err := s.userRef(phone).Get(ctx, &u); err != nil {
		slog.Error("FirebaseStore GetUser failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get user %s: %w", phone, err)
	}
	if u.PhoneNumber == "" {
		return nil, models.ErrUserNotFound
	}
	return &u, nil
}

func (s *FirebaseStore) ListUsers(ctx context.Context) ([]models.User, error) {
	var byKey map[string]models.User
	if err := s.client.NewRef(firebaseUsersPath).Get(ctx, &byKey); err != nil {
		slog.Error("FirebaseStore ListUsers failed", "error", err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]models.User, 0, len(byKey))
	for _, u := range byKey {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].PhoneNumber < users[j].PhoneNumber })
	return users, nil
}

func (s *FirebaseStore) DeleteUser(ctx context.Context, phone string) error {
	if _, err := s.GetUser(ctx, phone); err != nil {
		return err
	}
	if err := s.userRef(phone).Delete(ctx); err != nil {
		slog.Error("FirebaseStore DeleteUser failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete user %s: %w", phone, err)
	}
	return nil
}

func (s *FirebaseStore) AddMessage(ctx context.Context, msg models.ConversationMessage) error {
	ref := s.client.NewRef(firebaseConversationsPath + "/" + firebaseKey(msg.PhoneNumber))
	if _, err := ref.Push(ctx, msg); err != nil {
		slog.Error("FirebaseStore AddMessage failed", "error", err, "phone", msg.PhoneNumber)
		return fmt.Errorf("failed to add message for %s: %w", msg.PhoneNumber, err)
	}
	return nil
}

func (s *FirebaseStore) GetConversation(ctx context.Context, phone string) ([]models.ConversationMessage, error) {
	var byKey map[string]models.ConversationMessage
	ref := s.client.NewRef(firebaseConversationsPath + "/" + firebaseKey(phone))
	if err := ref.Get(ctx, &byKey); err != nil {
		slog.Error("FirebaseStore GetConversation failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get conversation %s: %w", phone, err)
	}
	// Push keys sort chronologically.
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]models.ConversationMessage, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, byKey[k])
	}
	return msgs, nil
}

func (s *FirebaseStore) ListConversationPhones(ctx context.Context) ([]string, error) {
	var shallow map[string]interface{}
	if err := s.client.NewRef(firebaseConversationsPath).GetShallow(ctx, &shallow); err != nil {
		slog.Error("FirebaseStore ListConversationPhones failed", "error", err)
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	phones := make([]string, 0, len(shallow))
	for k := range shallow {
		if phone, err := url.PathUnescape(k); err == nil {
			k = phone
		}
		phones = append(phones, k)
	}
	sort.Strings(phones)
	return phones, nil
}

// firebaseSession wraps a serialised session so it is stored as a JSON object
// rather than an opaque string.
type firebaseSession struct {
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *FirebaseStore) GetSession(ctx context.Context, key string) ([]byte, error) {
	var sess firebaseSession
	if err := s.client.NewRef(firebaseSessionsPath+"/"+firebaseKey(key)).Get(ctx, &sess); err != nil {
		slog.Error("FirebaseStore GetSession failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to get session %s: %w", key, err)
	}
	if len(sess.Data) == 0 || string(sess.Data) == "null" {
		return nil, nil
	}
	return sess.Data, nil
}

func (s *FirebaseStore) SaveSession(ctx context.Context, key string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("session %s is not valid JSON", key)
	}
	sess := firebaseSession{Data: json.RawMessage(data), UpdatedAt: time.Now().UTC()}
	if err := s.client.NewRef(firebaseSessionsPath+"/"+firebaseKey(key)).Set(ctx, sess); err != nil {
		slog.Error("FirebaseStore SaveSession failed", "error", err, "key", key)
		return fmt.Errorf("failed to save session %s: %w", key, err)
	}
	return nil
}

func (s *FirebaseStore) DeleteSession(ctx context.Context, key string) error {
	if err := s.client.NewRef(firebaseSessionsPath + "/" + firebaseKey(key)).Delete(ctx); err != nil {
		slog.Error("FirebaseStore DeleteSession failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the Firebase client holds no closable resources.
func (s *FirebaseStore) Close() error { return nil }
