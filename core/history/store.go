package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Conversation is one persisted prompt/response exchange.
type Conversation struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"column:user_id;index;not null" json:"user_id"`
	Prompt    string    `gorm:"column:prompt" json:"prompt"`
	Response  string    `gorm:"column:response" json:"response"`
	Type      string    `gorm:"column:type" json:"type"`
	CreatedAt time.Time `gorm:"column:created_at;index" json:"created_at"`
}

func (Conversation) TableName() string { return "conversations" }

const DefaultListLimit = 50

type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history: database path is empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Conversation{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Save(ctx context.Context, c *Conversation) error {
	if c == nil {
		return errors.New("history: nil conversation")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("history: user id is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(c).Error
}

// ListByUser returns the newest exchanges first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 || limit > 500 {
		limit = DefaultListLimit
	}
	var out []Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
