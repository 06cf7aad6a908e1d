package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/PizzaPipe/internal/models"
	"github.com/BTreeMap/PizzaPipe/internal/util"
)

// InMemoryStore keeps everything in process memory. It is used when no
// database is configured and in tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	users         map[string]models.User
	conversations map[string][]models.ConversationMessage
	sessions      map[string][]byte
	inbound       map[string]DedupRecord
	outbox        []OutboxMessage
}

var (
	_ Store      = (*InMemoryStore)(nil)
	_ DedupRepo  = (*InMemoryStore)(nil)
	_ OutboxRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:         make(map[string]models.User),
		conversations: make(map[string][]models.ConversationMessage),
		sessions:      make(map[string][]byte),
		inbound:       make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) UserExists(_ context.Context, phone string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[phone]
	return ok, nil
}

func (s *InMemoryStore) CreateUser(_ context.Context, user models.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.PhoneNumber]; ok {
		return false, nil
	}
	s.users[user.PhoneNumber] = user
	return true, nil
}

func (s *InMemoryStore) GetUser(_ context.Context, phone string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[phone]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return &u, nil
}

func (s *InMemoryStore) ListUsers(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].PhoneNumber < users[j].PhoneNumber })
	return users, nil
}

func (s *InMemoryStore) DeleteUser(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[phone]; !ok {
		return models.ErrUserNotFound
	}
	delete(s.users, phone)
	return nil
}

func (s *InMemoryStore) AddMessage(_ context.Context, msg models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[msg.PhoneNumber] = append(s.conversations[msg.PhoneNumber], msg)
	return nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, phone string) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.conversations[phone]), nil
}

func (s *InMemoryStore) ListConversationPhones(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	phones := make([]string, 0, len(s.conversations))
	for phone := range s.conversations {
		phones = append(phones, phone)
	}
	sort.Strings(phones)
	return phones, nil
}

func (s *InMemoryStore) GetSession(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	return slices.Clone(data), nil
}

func (s *InMemoryStore) SaveSession(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = slices.Clone(data)
	return nil
}

func (s *InMemoryStore) DeleteSession(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inbound[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, Phone: phone, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.inbound[messageID] = rec
	return nil
}

func (s *InMemoryStore) PurgeProcessed(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.inbound {
		if rec.ProcessedAt != nil && rec.ProcessedAt.Before(before) {
			delete(s.inbound, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(phone, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	msg := OutboxMessage{
		ID:          util.GenerateOutboxID(),
		Phone:       phone,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		Status:      OutboxStatusQueued,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.outbox = append(s.outbox, msg)
	return msg.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []OutboxMessage
	for i := range s.outbox {
		if len(claimed) >= limit {
			break
		}
		m := &s.outbox[i]
		if m.Status != OutboxStatusQueued || (m.NextAttemptAt != nil && m.NextAttemptAt.After(now)) {
			continue
		}
		lockedAt := now
		m.Status = OutboxStatusSending
		m.LockedAt = &lockedAt
		m.UpdatedAt = now
		claimed = append(claimed, *m)
	}
	return claimed, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
	})
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &nextAttemptAt
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.outbox {
		m := &s.outbox[i]
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) updateOutbox(id string, fn func(*OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			fn(&s.outbox[i])
			s.outbox[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return nil
}
