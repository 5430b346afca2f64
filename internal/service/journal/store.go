package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/zhouzirui/gpt-bridge/backend/internal/logger"
)

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 500

// ErrDisabled is returned by a nil *Store.
var ErrDisabled = errors.New("journal disabled")

// Exchange is one recorded bridge operation.
type Exchange struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	Operation  string    `gorm:"size:32;index" json:"operation"`
	ChatID     string    `gorm:"size:128" json:"chatId,omitempty"`
	Prompt     string    `json:"prompt,omitempty"`
	Reply      string    `json:"reply,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"durationMs"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// Options configures the sqlite-backed store.
type Options struct {
	DSN         string
	TablePrefix string
	Logger      logger.Logger
}

// Store persists exchanges with GORM.
type Store struct {
	db *gorm.DB
}

// Open connects to sqlite and migrates the schema.
func Open(opts Options) (*Store, error) {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(opts.DSN), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.TablePrefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", opts.DSN, err)
	}

	if err := db.AutoMigrate(&Exchange{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Store{db: db}, nil
}

// Record stores one exchange, filling in id and timestamp when missing.
func (s *Store) Record(ctx context.Context, e Exchange) error {
	if s == nil {
		return ErrDisabled
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&e).Error
}

// List returns the most recent exchanges in chronological order.
func (s *Store) List(ctx context.Context, limit int) ([]Exchange, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var rows []Exchange
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
