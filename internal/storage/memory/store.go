// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
)

// Store implements emissary.Store with maps guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	models   map[string][]byte
	users    map[string]emissary.User
	byID     map[int64]string
	chat     []emissary.ChatMessage
	nextUser int64
	nextChat int64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		models: make(map[string][]byte),
		users:  make(map[string]emissary.User),
		byID:   make(map[int64]string),
	}
}

// GetModel returns a copy of the serialized model.
func (s *Store) GetModel(_ context.Context, label string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.models[label]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", label, emissary.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// HasModel reports whether label is stored.
func (s *Store) HasModel(_ context.Context, label string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.models[label]
	return ok, nil
}

// PutModel stores data under a new label.
func (s *Store) PutModel(_ context.Context, label string, data []byte) error {
	if strings.TrimSpace(label) == "" {
		return fmt.Errorf("label is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[label]; ok {
		return fmt.Errorf("model %q: %w", label, emissary.ErrModelExists)
	}
	s.models[label] = append([]byte(nil), data...)
	return nil
}

// CreateUser enrolls a new user.
func (s *Store) CreateUser(_ context.Context, name string, modelLabel *string) (emissary.User, error) {
	if strings.TrimSpace(name) == "" {
		return emissary.User{}, fmt.Errorf("name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[name]; ok {
		return emissary.User{}, fmt.Errorf("user %q: %w", name, emissary.ErrUserExists)
	}
	if modelLabel != nil {
		if _, ok := s.models[*modelLabel]; !ok {
			return emissary.User{}, fmt.Errorf("model %q: %w", *modelLabel, emissary.ErrNotFound)
		}
	}
	s.nextUser++
	user := emissary.User{ID: s.nextUser, Name: name, ModelLabel: copyLabel(modelLabel)}
	s.users[name] = user
	s.byID[user.ID] = name
	return cloneUser(user), nil
}

// GetUser looks a user up by name.
func (s *Store) GetUser(_ context.Context, name string) (emissary.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[name]
	if !ok {
		return emissary.User{}, fmt.Errorf("user %q: %w", name, emissary.ErrNotFound)
	}
	return cloneUser(user), nil
}

// ListUsers returns every user ordered by ID.
func (s *Store) ListUsers(_ context.Context) ([]emissary.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]emissary.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RandomUser picks a user uniformly at random.
func (s *Store) RandomUser(_ context.Context) (emissary.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.users) == 0 {
		return emissary.User{}, fmt.Errorf("random user: %w", emissary.ErrNotFound)
	}
	pick := rand.IntN(len(s.users))
	for _, u := range s.users {
		if pick == 0 {
			return cloneUser(u), nil
		}
		pick--
	}
	return emissary.User{}, fmt.Errorf("random user: %w", emissary.ErrNotFound)
}

// SetUserModel reassigns the user's model.
func (s *Store) SetUserModel(_ context.Context, name string, modelLabel string) (emissary.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[name]
	if !ok {
		return emissary.User{}, fmt.Errorf("user %q: %w", name, emissary.ErrNotFound)
	}
	if _, ok := s.models[modelLabel]; !ok {
		return emissary.User{}, fmt.Errorf("model %q: %w", modelLabel, emissary.ErrNotFound)
	}
	user.ModelLabel = copyLabel(&modelLabel)
	s.users[name] = user
	return cloneUser(user), nil
}

// AppendChat appends msg and assigns the next ID.
func (s *Store) AppendChat(_ context.Context, msg emissary.ChatMessage) (emissary.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.byID[msg.UserID]
	if !ok {
		return emissary.ChatMessage{}, fmt.Errorf("user %d: %w", msg.UserID, emissary.ErrNotFound)
	}
	if _, ok := s.models[msg.ModelLabel]; !ok {
		return emissary.ChatMessage{}, fmt.Errorf("model %q: %w", msg.ModelLabel, emissary.ErrNotFound)
	}
	s.nextChat++
	msg.ID = s.nextChat
	msg.Time = msg.Time.UTC().Truncate(time.Second)
	msg.UserName = name
	s.chat = append(s.chat, msg)
	return msg, nil
}

// ListChat returns up to limit entries after afterID.
func (s *Store) ListChat(_ context.Context, afterID int64, limit int) ([]emissary.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := sort.Search(len(s.chat), func(i int) bool { return s.chat[i].ID > afterID })
	out := make([]emissary.ChatMessage, 0)
	for _, msg := range s.chat[start:] {
		if limit > 0 && len(out) == limit {
			break
		}
		msg.UserName = s.byID[msg.UserID]
		out = append(out, msg)
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func copyLabel(label *string) *string {
	if label == nil {
		return nil
	}
	v := *label
	return &v
}

func cloneUser(u emissary.User) emissary.User {
	u.ModelLabel = copyLabel(u.ModelLabel)
	return u
}
