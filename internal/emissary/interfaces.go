package emissary

import (
	"context"
	"io"
	"time"
)

// ModelStore persists serialized text models keyed by label.
type ModelStore interface {
	// GetModel returns ErrNotFound when no model is stored under label.
	GetModel(ctx context.Context, label string) ([]byte, error)
	HasModel(ctx context.Context, label string) (bool, error)
	// PutModel returns ErrModelExists when label is already stored.
	PutModel(ctx context.Context, label string, data []byte) error
}

// UserStore persists simulated chat users.
type UserStore interface {
	// CreateUser returns ErrUserExists for a taken name and ErrNotFound when
	// modelLabel is set but unknown.
	CreateUser(ctx context.Context, name string, modelLabel *string) (User, error)
	GetUser(ctx context.Context, name string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	// RandomUser returns ErrNotFound when no users exist.
	RandomUser(ctx context.Context) (User, error)
	// SetUserModel returns ErrNotFound when either the user or the model is unknown.
	SetUserModel(ctx context.Context, name string, modelLabel string) (User, error)
}

// ChatStore persists the chat log.
type ChatStore interface {
	AppendChat(ctx context.Context, msg ChatMessage) (ChatMessage, error)
	// ListChat returns up to limit entries with ID greater than afterID in insertion order.
	ListChat(ctx context.Context, afterID int64, limit int) ([]ChatMessage, error)
}

// Store is the full relational store used by the service.
type Store interface {
	ModelStore
	UserStore
	ChatStore
	Ping(ctx context.Context) error
	Close() error
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Scraper turns a URL into a plain-text corpus.
type Scraper interface {
	Scrape(ctx context.Context, url string) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes chat events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes hex digests used for model labels.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}
