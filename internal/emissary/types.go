package emissary

import (
	"net/http"
	"time"
)

// User is a simulated chat participant. ModelLabel stays nil until the user
// is assigned a model.
type User struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	ModelLabel *string `json:"model_label"`
}

// HasModel reports whether the user has been assigned a model.
func (u User) HasModel() bool {
	return u.ModelLabel != nil && *u.ModelLabel != ""
}

// ChatMessage is one append-only chat log entry. UserName is filled on read
// from the users table and ignored on write.
type ChatMessage struct {
	ID         int64     `json:"id"`
	Time       time.Time `json:"time"`
	UserID     int64     `json:"user_id"`
	UserName   string    `json:"user_name,omitempty"`
	ModelLabel string    `json:"model_label"`
	Message    string    `json:"message"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ContentType returns the upstream Content-Type header, if any.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}
