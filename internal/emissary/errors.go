package emissary

import "errors"

var (
	// ErrNotFound is returned when a user, model, or chat row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrModelExists is returned when a model is stored under a label that is already taken.
	ErrModelExists = errors.New("model with label already exists")
	// ErrUserExists is returned when a user name is already enrolled.
	ErrUserExists = errors.New("user already exists")
	// ErrBlockedHost is returned when a URL, or a redirect it leads to, targets a blocked host.
	ErrBlockedHost = errors.New("host is blocked")
)
