package sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/concierge/pkg/ports"
	"gorm.io/gorm"
)

// LoadSteps returns the journal of scope ordered by position.
func (s *Store) LoadSteps(ctx context.Context, scope ports.Scope) ([]ports.StepRecord, error) {
	var rows []stepRow
	if err := s.db.WithContext(ctx).Where("session_key = ? AND seq = ?", scope.SessionKey, scope.Seq).Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	recs := make([]ports.StepRecord, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, ports.StepRecord{
			Index:      r.Position,
			Label:      r.Label,
			ArgsHash:   r.ArgsHash,
			Result:     r.Result,
			Error:      r.Error,
			RecordedAt: r.RecordedAt,
		})
	}
	return recs, nil
}

// AppendStep inserts rec. The unique position index rejects a racing writer.
func (s *Store) AppendStep(ctx context.Context, scope ports.Scope, rec ports.StepRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&stepRow{}).Where("session_key = ? AND seq = ?", scope.SessionKey, scope.Seq).Count(&count).Error
		if err != nil {
			return fmt.Errorf("failed to count journal: %w", err)
		}
		if int64(rec.Index) != count {
			return fmt.Errorf("%w: %s has %d records, got index %d", ports.ErrJournalConflict, scope, count, rec.Index)
		}
		err = tx.Create(&stepRow{
			SessionKey: scope.SessionKey,
			Seq:        scope.Seq,
			Position:   rec.Index,
			Label:      rec.Label,
			ArgsHash:   rec.ArgsHash,
			Result:     rec.Result,
			Error:      rec.Error,
			RecordedAt: rec.RecordedAt,
		}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s index %d", ports.ErrJournalConflict, scope, rec.Index)
		}
		return err
	})
}

// ClearSteps drops every record of scope.
func (s *Store) ClearSteps(ctx context.Context, scope ports.Scope) error {
	return s.db.WithContext(ctx).
		Where("session_key = ? AND seq = ?", scope.SessionKey, scope.Seq).
		Delete(&stepRow{}).Error
}

// Journal adapts the step methods of a Store to ports.Journal.
type Journal struct {
	store *Store
}

// Journal returns the ports.Journal view sharing this store's database.
func (s *Store) Journal() *Journal { return &Journal{store: s} }

func (j *Journal) Load(ctx context.Context, scope ports.Scope) ([]ports.StepRecord, error) {
	return j.store.LoadSteps(ctx, scope)
}

func (j *Journal) Append(ctx context.Context, scope ports.Scope, rec ports.StepRecord) error {
	return j.store.AppendStep(ctx, scope, rec)
}

func (j *Journal) Clear(ctx context.Context, scope ports.Scope) error {
	return j.store.ClearSteps(ctx, scope)
}
