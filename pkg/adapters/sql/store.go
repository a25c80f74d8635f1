// Package sql persists sessions and step journals through gorm.
// Commit writes the new state and drops the finished journal in one transaction.
package sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store implements ports.StateStore and ports.Committer. Journal returns its ports.Journal view.
type Store struct {
	db *gorm.DB
}

// Open connects to a SQLite database at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// Every pooled connection would otherwise see its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewFromDB(db)
}

// NewFromDB wraps an existing gorm connection and migrates the schema.
func NewFromDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&sessionRow{}, &stepRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(key string, state *domain.SessionState) (*sessionRow, error) {
	doc, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return &sessionRow{
		Key:         key,
		ActiveAgent: state.ActiveAgent,
		Seq:         state.Seq,
		Document:    doc,
		UpdatedAt:   state.UpdatedAt,
	}, nil
}

func upsert(tx *gorm.DB, row *sessionRow) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_key"}},
		UpdateAll: true,
	}).Create(row).Error
}

func (s *Store) Save(ctx context.Context, key string, state *domain.SessionState) error {
	row, err := toRow(key, state)
	if err != nil {
		return err
	}
	if err := upsert(s.db.WithContext(ctx), row); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *Store) Commit(ctx context.Context, state *domain.SessionState, finished ports.Scope) error {
	row, err := toRow(state.Key, state)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsert(tx, row); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		err := tx.Where("session_key = ? AND seq = ?", finished.SessionKey, finished.Seq).Delete(&stepRow{}).Error
		if err != nil {
			return fmt.Errorf("failed to drop journal: %w", err)
		}
		return nil
	})
}

func (s *Store) Load(ctx context.Context, key string) (*domain.SessionState, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("session_key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var state domain.SessionState
	if err := json.Unmarshal(row.Document, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("session_key = ?", key).Delete(&sessionRow{}).Error
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	keys := []string{}
	if err := s.db.WithContext(ctx).Model(&sessionRow{}).Order("session_key").Pluck("session_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return keys, nil
}
