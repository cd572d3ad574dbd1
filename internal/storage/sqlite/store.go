// Package sqlite implements emissary.Store on SQLite through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/JakeFAU/spider-emissaries/internal/emissary"
)

type modelRow struct {
	Label string `gorm:"primaryKey"`
	Model []byte `gorm:"not null"`
}

func (modelRow) TableName() string { return "models" }

type userRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Name       string    `gorm:"uniqueIndex;not null"`
	ModelLabel *string   `gorm:"index"`
	Model      *modelRow `gorm:"foreignKey:ModelLabel;references:Label"`
}

func (userRow) TableName() string { return "users" }

type chatRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	UnixTime   int64     `gorm:"not null"`
	UserID     int64     `gorm:"not null;index"`
	ModelLabel string    `gorm:"not null"`
	Message    string    `gorm:"not null"`
	User       *userRow  `gorm:"foreignKey:UserID"`
	Model      *modelRow `gorm:"foreignKey:ModelLabel;references:Label"`
}

func (chatRow) TableName() string { return "chat" }

// chatView is a chat row joined with its author's name.
type chatView struct {
	ID         int64
	UnixTime   int64
	UserID     int64
	ModelLabel string
	Message    string
	UserName   string
}

// Store persists users, models, and chat in a SQLite database.
type Store struct {
	db *gorm.DB
}

// Open connects to the database at dsn, enabling foreign keys, and migrates
// the schema.
func Open(dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	db, err := gorm.Open(gormsqlite.Open(withPragmas(dsn)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// One connection serialises writers and keeps :memory: databases shared.
	sqlDB.SetMaxOpenConns(1)
	return New(db)
}

// New wraps an open gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	if err := db.AutoMigrate(&modelRow{}, &userRow{}, &chatRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// GetModel returns the serialized model stored under label.
func (s *Store) GetModel(ctx context.Context, label string) ([]byte, error) {
	var row modelRow
	err := s.db.WithContext(ctx).Take(&row, "label = ?", label).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("model %q: %w", label, emissary.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get model: %w", err)
	}
	return row.Model, nil
}

// HasModel reports whether label is stored.
func (s *Store) HasModel(ctx context.Context, label string) (bool, error) {
	ok, err := modelExists(s.db.WithContext(ctx), label)
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
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := modelExists(tx, label)
		if err != nil {
			return fmt.Errorf("check model: %w", err)
		}
		if ok {
			return fmt.Errorf("model %q: %w", label, emissary.ErrModelExists)
		}
		err = tx.Create(&modelRow{Label: label, Model: data}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("model %q: %w", label, emissary.ErrModelExists)
		}
		if err != nil {
			return fmt.Errorf("insert model: %w", err)
		}
		return nil
	})
}

// CreateUser enrolls a new user, optionally with a model.
func (s *Store) CreateUser(ctx context.Context, name string, modelLabel *string) (emissary.User, error) {
	if strings.TrimSpace(name) == "" {
		return emissary.User{}, fmt.Errorf("name is required")
	}
	row := userRow{Name: name, ModelLabel: modelLabel}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&userRow{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("user %q: %w", name, emissary.ErrUserExists)
		}
		if modelLabel != nil {
			ok, err := modelExists(tx, *modelLabel)
			if err != nil {
				return fmt.Errorf("check model: %w", err)
			}
			if !ok {
				return fmt.Errorf("model %q: %w", *modelLabel, emissary.ErrNotFound)
			}
		}
		err := tx.Omit(clause.Associations).Create(&row).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("user %q: %w", name, emissary.ErrUserExists)
		}
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
	if err != nil {
		return emissary.User{}, err
	}
	return row.toUser(), nil
}

// GetUser looks a user up by name.
func (s *Store) GetUser(ctx context.Context, name string) (emissary.User, error) {
	row, err := takeUser(s.db.WithContext(ctx), name)
	if err != nil {
		return emissary.User{}, err
	}
	return row.toUser(), nil
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]emissary.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]emissary.User, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toUser())
	}
	return out, nil
}

// RandomUser picks one user uniformly at random.
func (s *Store) RandomUser(ctx context.Context) (emissary.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Order("RANDOM()").Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return emissary.User{}, fmt.Errorf("random user: %w", emissary.ErrNotFound)
	}
	if err != nil {
		return emissary.User{}, fmt.Errorf("random user: %w", err)
	}
	return row.toUser(), nil
}

// SetUserModel assigns an existing model to an existing user.
func (s *Store) SetUserModel(ctx context.Context, name string, modelLabel string) (emissary.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = takeUser(tx, name)
		if err != nil {
			return err
		}
		ok, err := modelExists(tx, modelLabel)
		if err != nil {
			return fmt.Errorf("check model: %w", err)
		}
		if !ok {
			return fmt.Errorf("model %q: %w", modelLabel, emissary.ErrNotFound)
		}
		if err := tx.Model(&userRow{}).Where("id = ?", row.ID).Update("model_label", modelLabel).Error; err != nil {
			return fmt.Errorf("update user model: %w", err)
		}
		row.ModelLabel = &modelLabel
		return nil
	})
	if err != nil {
		return emissary.User{}, err
	}
	return row.toUser(), nil
}

// AppendChat inserts a chat entry for an existing user and model.
func (s *Store) AppendChat(ctx context.Context, msg emissary.ChatMessage) (emissary.ChatMessage, error) {
	row := chatRow{
		UnixTime:   msg.Time.Unix(),
		UserID:     msg.UserID,
		ModelLabel: msg.ModelLabel,
		Message:    msg.Message,
	}
	var author userRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Take(&author, "id = ?", msg.UserID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("user %d: %w", msg.UserID, emissary.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		ok, err := modelExists(tx, msg.ModelLabel)
		if err != nil {
			return fmt.Errorf("check model: %w", err)
		}
		if !ok {
			return fmt.Errorf("model %q: %w", msg.ModelLabel, emissary.ErrNotFound)
		}
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}
		return nil
	})
	if err != nil {
		return emissary.ChatMessage{}, err
	}
	return chatView{
		ID:         row.ID,
		UnixTime:   row.UnixTime,
		UserID:     row.UserID,
		ModelLabel: row.ModelLabel,
		Message:    row.Message,
		UserName:   author.Name,
	}.toMessage(), nil
}

// ListChat returns entries with ID greater than afterID, oldest first. A
// non-positive limit returns everything.
func (s *Store) ListChat(ctx context.Context, afterID int64, limit int) ([]emissary.ChatMessage, error) {
	q := s.db.WithContext(ctx).
		Table("chat").
		Select("chat.id, chat.unix_time, chat.user_id, chat.model_label, chat.message, users.name AS user_name").
		Joins("JOIN users ON users.id = chat.user_id").
		Where("chat.id > ?", afterID).
		Order("chat.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var views []chatView
	if err := q.Scan(&views).Error; err != nil {
		return nil, fmt.Errorf("list chat: %w", err)
	}
	out := make([]emissary.ChatMessage, 0, len(views))
	for _, v := range views {
		out = append(out, v.toMessage())
	}
	return out, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite handle: %w", err)
	}
	return sqlDB.Close()
}

func modelExists(db *gorm.DB, label string) (bool, error) {
	var count int64
	if err := db.Model(&modelRow{}).Where("label = ?", label).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func takeUser(db *gorm.DB, name string) (userRow, error) {
	var row userRow
	err := db.Take(&row, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return userRow{}, fmt.Errorf("user %q: %w", name, emissary.ErrNotFound)
	}
	if err != nil {
		return userRow{}, fmt.Errorf("get user: %w", err)
	}
	return row, nil
}

func (r userRow) toUser() emissary.User {
	return emissary.User{ID: r.ID, Name: r.Name, ModelLabel: r.ModelLabel}
}

func (v chatView) toMessage() emissary.ChatMessage {
	return emissary.ChatMessage{
		ID:         v.ID,
		Time:       time.Unix(v.UnixTime, 0).UTC(),
		UserID:     v.UserID,
		UserName:   v.UserName,
		ModelLabel: v.ModelLabel,
		Message:    v.Message,
	}
}
