// Package postgres implements emissary.Store on Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
)

const foreignKeyViolation = "23503"

const schema = `
CREATE TABLE IF NOT EXISTS models (
	label TEXT PRIMARY KEY,
	model BYTEA NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	model_label TEXT REFERENCES models (label)
);
CREATE TABLE IF NOT EXISTS chat (
	id BIGSERIAL PRIMARY KEY,
	unix_time BIGINT NOT NULL,
	user_id BIGINT NOT NULL REFERENCES users (id),
	model_label TEXT NOT NULL REFERENCES models (label),
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_user_id_idx ON chat (user_id);
`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store persists users, models, and chat in Postgres.
type Store struct {
	pool pool
}

// New connects to Postgres using cfg and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &Store{pool: p}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// EnsureSchema creates the tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// GetModel returns the serialized model stored under label.
func (s *Store) GetModel(ctx context.Context, label string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT model FROM models WHERE label = $1`, label).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("model %q: %w", label, emissary.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	return data, nil
}

// HasModel reports whether label is stored.
func (s *Store) HasModel(ctx context.Context, label string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM models WHERE label = $1)`, label).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("has model: %w", err)
	}
	return ok, nil
}

// PutModel inserts a model under a new label.
func (s *Store) PutModel(ctx context.Context, label string, data []byte) error {
	if strings.TrimSpace(label) == "" {
		return fmt.Errorf("label is required")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO models (label, model) VALUES ($1, $2) ON CONFLICT (label) DO NOTHING`,
		label, data)
	if err != nil {
		return fmt.Errorf("insert model: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("model %q: %w", label, emissary.ErrModelExists)
	}
	return nil
}

// CreateUser enrolls a new user, optionally with a model.
func (s *Store) CreateUser(ctx context.Context, name string, modelLabel *string) (emissary.User, error) {
	if strings.TrimSpace(name) == "" {
		return emissary.User{}, fmt.Errorf("name is required")
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (name, model_label) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING RETURNING id`,
		name, nullText(modelLabel)).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return emissary.User{}, fmt.Errorf("user %q: %w", name, emissary.ErrUserExists)
	case isForeignKeyViolation(err):
		return emissary.User{}, fmt.Errorf("model %q: %w", derefLabel(modelLabel), emissary.ErrNotFound)
	case err != nil:
		return emissary.User{}, fmt.Errorf("insert user: %w", err)
	}
	return emissary.User{ID: id, Name: name, ModelLabel: modelLabel}, nil
}

// GetUser looks a user up by name.
func (s *Store) GetUser(ctx context.Context, name string) (emissary.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT id, name, model_label FROM users WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return emissary.User{}, fmt.Errorf("user %q: %w", name, emissary.ErrNotFound)
	}
	if err != nil {
		return emissary.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]emissary.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, model_label FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	users := make([]emissary.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// RandomUser picks one user uniformly at random.
func (s *Store) RandomUser(ctx context.Context) (emissary.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT id, name, model_label FROM users ORDER BY random() LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return emissary.User{}, fmt.Errorf("random user: %w", emissary.ErrNotFound)
	}
	if err != nil {
		return emissary.User{}, fmt.Errorf("random user: %w", err)
	}
	return user, nil
}

// SetUserModel assigns an existing model to an existing user.
func (s *Store) SetUserModel(ctx context.Context, name string, modelLabel string) (emissary.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET model_label = $2 WHERE name = $1 RETURNING id, name, model_label`,
		name, modelLabel))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return emissary.User{}, fmt.Errorf("user %q: %w", name, emissary.ErrNotFound)
	case isForeignKeyViolation(err):
		return emissary.User{}, fmt.Errorf("model %q: %w", modelLabel, emissary.ErrNotFound)
	case err != nil:
		return emissary.User{}, fmt.Errorf("update user model: %w", err)
	}
	return user, nil
}

// AppendChat inserts a chat entry and returns it with its ID and author.
func (s *Store) AppendChat(ctx context.Context, msg emissary.ChatMessage) (emissary.ChatMessage, error) {
	query := `
WITH ins AS (
	INSERT INTO chat (unix_time, user_id, model_label, message)
	VALUES ($1, $2, $3, $4)
	RETURNING id, user_id
)
SELECT ins.id, users.name FROM ins JOIN users ON users.id = ins.user_id`
	out := emissary.ChatMessage{
		Time:       time.Unix(msg.Time.Unix(), 0).UTC(),
		UserID:     msg.UserID,
		ModelLabel: msg.ModelLabel,
		Message:    msg.Message,
	}
	err := s.pool.QueryRow(ctx, query, msg.Time.Unix(), msg.UserID, msg.ModelLabel, msg.Message).
		Scan(&out.ID, &out.UserName)
	if isForeignKeyViolation(err) {
		return emissary.ChatMessage{}, fmt.Errorf("chat user %d or model %q: %w", msg.UserID, msg.ModelLabel, emissary.ErrNotFound)
	}
	if err != nil {
		return emissary.ChatMessage{}, fmt.Errorf("insert chat: %w", err)
	}
	return out, nil
}

// ListChat returns entries with ID greater than afterID, oldest first. A
// non-positive limit returns everything.
func (s *Store) ListChat(ctx context.Context, afterID int64, limit int) ([]emissary.ChatMessage, error) {
	var lim pgtype.Int8
	if limit > 0 {
		lim = pgtype.Int8{Int64: int64(limit), Valid: true}
	}
	rows, err := s.pool.Query(ctx, `
SELECT chat.id, chat.unix_time, chat.user_id, users.name, chat.model_label, chat.message
FROM chat JOIN users ON users.id = chat.user_id
WHERE chat.id > $1
ORDER BY chat.id
LIMIT $2`, afterID, lim)
	if err != nil {
		return nil, fmt.Errorf("list chat: %w", err)
	}
	defer rows.Close()
	messages := make([]emissary.ChatMessage, 0)
	for rows.Next() {
		var (
			msg      emissary.ChatMessage
			unixTime int64
		)
		if err := rows.Scan(&msg.ID, &unixTime, &msg.UserID, &msg.UserName, &msg.ModelLabel, &msg.Message); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		msg.Time = time.Unix(unixTime, 0).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chat: %w", err)
	}
	return messages, nil
}

// Ping checks the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func scanUser(row pgx.Row) (emissary.User, error) {
	var (
		user  emissary.User
		label pgtype.Text
	)
	if err := row.Scan(&user.ID, &user.Name, &label); err != nil {
		return emissary.User{}, err
	}
	if label.Valid {
		user.ModelLabel = &label.String
	}
	return user, nil
}

func nullText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func derefLabel(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
