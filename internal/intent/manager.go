package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/PizzaPipe/internal/models"
)

// Replies produced by the manager itself.
const (
	InternalErrorReply = "Desculpe, tivemos um problema interno. Por favor, tente novamente em instantes."
	SignupDoneReply    = "Cadastro concluído, %s! Agora é só mandar uma mensagem para fazer o seu pedido."
	OrderDoneReply     = "Pedido anotado! Obrigado por pedir na Pizza do Bill."
)

// UserRegistry is the user record store used by the sign-up gate.
type UserRegistry interface {
	UserExists(ctx context.Context, phone string) (bool, error)
	// CreateUser returns false when a user with the same phone already exists.
	CreateUser(ctx context.Context, user models.User) (bool, error)
}

// SessionStore keeps serialised sessions by key. GetSession returns nil data
// and no error when nothing is stored.
type SessionStore interface {
	GetSession(ctx context.Context, key string) ([]byte, error)
	SaveSession(ctx context.Context, key string, data []byte) error
	DeleteSession(ctx context.Context, key string) error
}

// Assistant answers registered users outside the scripted dialogue.
type Assistant interface {
	Reply(ctx context.Context, phone, message string) (string, error)
}

// Opts holds configuration options for the Manager.
type Opts struct {
	Assistant Assistant        // optional, serves registered users
	Clock     func() time.Time // defaults to time.Now
}

// Option defines a configuration option for the Manager.
type Option func(*Opts)

// WithAssistant routes registered users to the given assistant.
func WithAssistant(a Assistant) Option {
	return func(o *Opts) {
		o.Assistant = a
	}
}

// WithClock overrides the time source used for session and user timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) {
		o.Clock = clock
	}
}

// Manager is the per-message entry point of the conversation engine. All
// mutations for one phone number are serialised.
type Manager struct {
	engine    *Engine
	users     UserRegistry
	sessions  SessionStore
	assistant Assistant
	clock     func() time.Time
	locks     *keyedMutex
}

// NewManager creates a Manager.
func NewManager(engine *Engine, users UserRegistry, sessions SessionStore, opts ...Option) *Manager {
	cfg := Opts{Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Manager{
		engine:    engine,
		users:     users,
		sessions:  sessions,
		assistant: cfg.Assistant,
		clock:     cfg.Clock,
		locks:     newKeyedMutex(),
	}
}

// Engine returns the engine the manager drives.
func (m *Manager) Engine() *Engine { return m.engine }

// NeedsToSignUp reports whether no user record exists for phone.
func (m *Manager) NeedsToSignUp(ctx context.Context, phone string) (bool, error) {
	exists, err := m.users.UserExists(ctx, phone)
	if err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", phone, err)
	}
	return !exists, nil
}

// HandleMessage routes one inbound message: unregistered numbers go through
// sign-up, registered ones to the assistant when configured, otherwise to the
// local ordering dialogue. On error the returned reply is InternalErrorReply.
//
// The sign-up check and the dialogue step run under the same per-phone lock,
// so a message queued behind the one that completes sign-up sees the new user.
func (m *Manager) HandleMessage(ctx context.Context, phone, message string) (string, error) {
	unlock := m.locks.Lock(phone)
	needs, err := m.NeedsToSignUp(ctx, phone)
	if err != nil {
		unlock()
		slog.Error("Manager.HandleMessage: sign-up check failed", "phone", phone, "error", err)
		return InternalErrorReply, err
	}
	switch {
	case needs:
		defer unlock()
		return m.signupStep(ctx, phone, message)
	case m.assistant == nil:
		defer unlock()
		return m.orderStep(ctx, phone, message)
	}
	// The assistant keeps no dialogue state here.
	unlock()

	reply, err := m.assistant.Reply(ctx, phone, message)
	if err != nil {
		slog.Error("Manager.HandleMessage: assistant failed", "phone", phone, "error", err)
		return InternalErrorReply, fmt.Errorf("assistant reply for %s: %w", phone, err)
	}
	return reply, nil
}

// SingleStep advances the sign-up dialogue of phone by one message. When the
// dialogue completes, the collected fields become a user record and the session
// is discarded.
func (m *Manager) SingleStep(ctx context.Context, phone, message string) (string, error) {
	unlock := m.locks.Lock(phone)
	defer unlock()
	return m.signupStep(ctx, phone, message)
}

// OrderStep advances the local ordering dialogue of a registered user. A
// finished order replies with the priced summary.
func (m *Manager) OrderStep(ctx context.Context, phone, message string) (string, error) {
	unlock := m.locks.Lock(phone)
	defer unlock()
	return m.orderStep(ctx, phone, message)
}

// signupStep and orderStep expect the caller to hold the lock of phone.
func (m *Manager) signupStep(ctx context.Context, phone, message string) (string, error) {
	turn, err := m.advance(ctx, phone, FlowSignup, message)
	if err != nil {
		return InternalErrorReply, err
	}
	if !turn.Session.Done {
		if err := m.saveSession(ctx, turn.Session); err != nil {
			return InternalErrorReply, err
		}
		return turn.Reply, nil
	}

	user := userFromSession(turn.Session, m.clock())
	if err := user.Validate(); err != nil {
		slog.Error("Manager.SingleStep: sign-up finished without all fields", "phone", phone, "parameters", turn.Session.Parameters)
		return InternalErrorReply, fmt.Errorf("sign-up for %s: %w", phone, err)
	}
	created, err := m.users.CreateUser(ctx, user)
	if err != nil {
		slog.Error("Manager.SingleStep: failed to create user", "phone", phone, "error", err)
		return InternalErrorReply, fmt.Errorf("failed to create user %s: %w", phone, err)
	}
	if !created {
		slog.Warn("Manager.SingleStep: user already registered", "phone", phone)
	} else {
		slog.Info("Manager.SingleStep: user registered", "phone", phone, "id", user.ID)
	}
	if err := m.deleteSession(ctx, phone, FlowSignup); err != nil {
		slog.Warn("Manager.SingleStep: failed to discard finished session", "phone", phone, "error", err)
	}
	return joinReplies(turn.Reply, fmt.Sprintf(SignupDoneReply, user.Name)), nil
}

func (m *Manager) orderStep(ctx context.Context, phone, message string) (string, error) {
	turn, err := m.advance(ctx, phone, FlowOrder, message)
	if err != nil {
		return InternalErrorReply, err
	}
	if !turn.Session.Done {
		if err := m.saveSession(ctx, turn.Session); err != nil {
			return InternalErrorReply, err
		}
		return turn.Reply, nil
	}

	if turn.Priced != nil {
		slog.Info("Manager.OrderStep: order finished", "phone", phone, "total", turn.Priced.GrandTotal.String(), "lines", len(turn.Priced.Lines))
	}
	if err := m.deleteSession(ctx, phone, FlowOrder); err != nil {
		slog.Warn("Manager.OrderStep: failed to discard finished session", "phone", phone, "error", err)
	}
	return joinReplies(turn.Reply, OrderDoneReply), nil
}

// ResetSession discards any in-progress dialogue of phone.
func (m *Manager) ResetSession(ctx context.Context, phone string) error {
	unlock := m.locks.Lock(phone)
	defer unlock()

	for _, flow := range []Flow{FlowSignup, FlowOrder} {
		if err := m.deleteSession(ctx, phone, flow); err != nil {
			return err
		}
	}
	return nil
}

// Session returns the stored session of phone for flow, or nil.
func (m *Manager) Session(ctx context.Context, phone string, flow Flow) (*Session, error) {
	return m.loadSession(ctx, phone, flow)
}

func (m *Manager) advance(ctx context.Context, phone string, flow Flow, message string) (Turn, error) {
	sess, err := m.loadSession(ctx, phone, flow)
	if err != nil {
		slog.Error("Manager.advance: failed to load session", "phone", phone, "flow", flow, "error", err)
		return Turn{}, err
	}
	if sess == nil {
		sess = NewSession(phone, flow, m.engine.Entry(flow), m.clock())
		slog.Debug("Manager.advance: new session", "phone", phone, "flow", flow, "step", sess.Step)
	}

	turn, err := sess.Advance(m.engine, message)
	if err != nil {
		slog.Error("Manager.advance: session failed", "phone", phone, "flow", flow, "step", sess.Step, "error", err)
		return Turn{}, err
	}
	turn.Session.UpdatedAt = m.clock()
	return turn, nil
}

func sessionKey(phone string, flow Flow) string {
	return string(flow) + ":" + phone
}

func (m *Manager) loadSession(ctx context.Context, phone string, flow Flow) (*Session, error) {
	data, err := m.sessions.GetSession(ctx, sessionKey(phone, flow))
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", phone, err)
	}
	if data == nil {
		return nil, nil
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", phone, err)
	}
	return &sess, nil
}

func (m *Manager) saveSession(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.Phone, err)
	}
	if err := m.sessions.SaveSession(ctx, sessionKey(sess.Phone, sess.Flow), data); err != nil {
		slog.Error("Manager.saveSession: failed to store session", "phone", sess.Phone, "error", err)
		return fmt.Errorf("failed to save session %s: %w", sess.Phone, err)
	}
	return nil
}

func (m *Manager) deleteSession(ctx context.Context, phone string, flow Flow) error {
	if err := m.sessions.DeleteSession(ctx, sessionKey(phone, flow)); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", phone, err)
	}
	return nil
}

func userFromSession(sess *Session, now time.Time) models.User {
	return models.User{
		ID:          uuid.NewString(),
		PhoneNumber: sess.Phone,
		Name:        sess.Parameters[FieldName],
		Email:       sess.Parameters[FieldEmail],
		Address:     sess.Parameters[FieldAddress],
		Birthdate:   sess.Parameters[FieldBirthdate],
		CreatedAt:   now,
	}
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
