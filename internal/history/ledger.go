// Package history keeps the append-only update history of formations and
// converted formations.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrInvalidMutation = errors.New("invalid_mutation")

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  Repository
}

type Ledger struct {
	log   *zap.Logger
	genID *snowflake.Node
	repo  Repository
}

func NewLedger(p Params) *Ledger {
	return &Ledger{
		log:   p.Log.Named("history.ledger"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// Mutation pairs a field write with the history entry describing it.
type Mutation struct {
	Ref Ref
	// Current holds the entity values before Persist runs.
	Current map[string]any
	To      map[string]any
	At      time.Time
	// Persist performs the write. It must only use the handle it receives.
	Persist func(tx *gorm.DB) error
}

// Apply runs the write and appends its history entry in one transaction:
// either both are stored or neither is. The entry timestamp never goes
// backwards for a given entity.
func (l *Ledger) Apply(ctx context.Context, db *gorm.DB, m Mutation) (Entry, error) {
	if m.Ref.Type == "" || m.Ref.ID == 0 {
		return Entry{}, ErrInvalidMutation
	}

	var entry Entry
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if m.Persist != nil {
			if err := m.Persist(tx); err != nil {
				return err
			}
		}
		appended, err := l.append(ctx, tx, m)
		if err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		entry = appended
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Append adds an entry on a handle the caller already holds, typically a
// transaction that also carries the field write.
func (l *Ledger) Append(ctx context.Context, tx *gorm.DB, m Mutation) (Entry, error) {
	if m.Ref.Type == "" || m.Ref.ID == 0 {
		return Entry{}, ErrInvalidMutation
	}
	return l.append(ctx, tx, m)
}

func (l *Ledger) append(ctx context.Context, tx *gorm.DB, m Mutation) (Entry, error) {
	last, err := l.repo.Last(ctx, tx, m.Ref)
	if err != nil {
		return Entry{}, err
	}

	at := m.At.UTC()
	seq := 1
	if last != nil {
		seq = last.Seq + 1
		if at.Before(last.UpdatedAt) {
			at = last.UpdatedAt.UTC()
		}
	}

	to := make(map[string]any, len(m.To))
	for k, v := range m.To {
		to[k] = v
	}
	entry := Entry{
		ID:         l.genID.Generate(),
		EntityType: m.Ref.Type,
		EntityID:   m.Ref.ID,
		Seq:        seq,
		From:       datatypes.JSONMap(BuildFrom(m.Current, m.To)),
		To:         datatypes.JSONMap(to),
		UpdatedAt:  at,
	}
	if err := l.repo.Insert(ctx, tx, &entry); err != nil {
		return Entry{}, err
	}
	l.log.Debug("history.appended",
		zap.String("entity_type", entry.EntityType),
		zap.String("entity_id", entry.EntityID.String()),
		zap.Int("seq", entry.Seq),
		zap.Int("fields", len(entry.To)),
	)
	return entry, nil
}

func (l *Ledger) List(ctx context.Context, db *gorm.DB, ref Ref) ([]Entry, error) {
	return l.repo.List(ctx, db, ref)
}

func (l *Ledger) Count(ctx context.Context, db *gorm.DB, ref Ref) (int64, error) {
	return l.repo.Count(ctx, db, ref)
}

// Drop removes the whole history of an entity that is being deleted.
func (l *Ledger) Drop(ctx context.Context, tx *gorm.DB, ref Ref) error {
	return l.repo.DeleteAll(ctx, tx, ref)
}
