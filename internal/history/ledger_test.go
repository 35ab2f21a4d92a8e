package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type widget struct {
	ID    snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Label string
}

func newLedger(t *testing.T) (*Ledger, *gorm.DB) {
	db := testutil.OpenDB(t, &Entry{}, &widget{})
	ledger := NewLedger(Params{
		Log:   zap.NewNop(),
		GenID: testutil.Node(t),
		Repo:  ProvideRepository(),
	})
	return ledger, db
}

func TestBuildFromCapturesExactlyTheWrittenKeys(t *testing.T) {
	current := map[string]any{"cfd": "111", "capacite": 20, "email": "a@b.fr"}
	to := map[string]any{"cfd": "222", "periode": []any{"2024-09"}}

	from := BuildFrom(current, to)

	assert.Equal(t, map[string]any{"cfd": "111", "periode": nil}, from)
}

func TestApplyPersistsMutationAndEntryTogether(t *testing.T) {
	ledger, db := newLedger(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&widget{ID: 7, Label: "old"}).Error)

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	entry, err := ledger.Apply(ctx, db, Mutation{
		Ref:     Ref{Type: EntityFormation, ID: 7},
		Current: map[string]any{"label": "old"},
		To:      map[string]any{"label": "new"},
		At:      at,
		Persist: func(tx *gorm.DB) error {
			return tx.Model(&widget{}).Where("id = ?", 7).Update("label", "new").Error
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Seq)

	var w widget
	require.NoError(t, db.Take(&w, "id = ?", 7).Error)
	assert.Equal(t, "new", w.Label)

	entries, err := ledger.List(ctx, db, Ref{Type: EntityFormation, ID: 7})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "old", entries[0].From["label"])
	assert.Equal(t, "new", entries[0].To["label"])
	assert.True(t, entries[0].UpdatedAt.Equal(at))
}

func TestApplyFailedWriteLeavesNoEntry(t *testing.T) {
	ledger, db := newLedger(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := ledger.Apply(ctx, db, Mutation{
		Ref:     Ref{Type: EntityFormation, ID: 9},
		To:      map[string]any{"label": "x"},
		At:      time.Now(),
		Persist: func(*gorm.DB) error { return boom },
	})
	assert.ErrorIs(t, err, boom)

	count, err := ledger.Count(ctx, db, Ref{Type: EntityFormation, ID: 9})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestApplyFailedAppendRollsBackWrite(t *testing.T) {
	ledger, db := newLedger(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&widget{ID: 3, Label: "old"}).Error)
	require.NoError(t, db.Migrator().DropTable(&Entry{}))

	_, err := ledger.Apply(ctx, db, Mutation{
		Ref:     Ref{Type: EntityFormation, ID: 3},
		Current: map[string]any{"label": "old"},
		To:      map[string]any{"label": "new"},
		At:      time.Now(),
		Persist: func(tx *gorm.DB) error {
			return tx.Model(&widget{}).Where("id = ?", 3).Update("label", "new").Error
		},
	})
	require.Error(t, err)

	var w widget
	require.NoError(t, db.Take(&w, "id = ?", 3).Error)
	assert.Equal(t, "old", w.Label)
}

func TestApplyKeepsTimestampsMonotonic(t *testing.T) {
	ledger, db := newLedger(t)
	ctx := context.Background()
	ref := Ref{Type: EntityConvertedFormation, ID: 11}
	later := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err := ledger.Apply(ctx, db, Mutation{Ref: ref, To: map[string]any{"a": 1}, At: later})
	require.NoError(t, err)
	second, err := ledger.Apply(ctx, db, Mutation{Ref: ref, To: map[string]any{"a": 2}, At: later.Add(-time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, 2, second.Seq)
	assert.True(t, second.UpdatedAt.Equal(later))
}

func TestApplyRejectsMissingRef(t *testing.T) {
	ledger, db := newLedger(t)

	_, err := ledger.Apply(context.Background(), db, Mutation{To: map[string]any{"a": 1}})

	assert.ErrorIs(t, err, ErrInvalidMutation)
}

func TestDropRemovesHistoryOfOneEntity(t *testing.T) {
	ledger, db := newLedger(t)
	ctx := context.Background()
	keep := Ref{Type: EntityFormation, ID: 1}
	drop := Ref{Type: EntityFormation, ID: 2}
	for _, ref := range []Ref{keep, drop, drop} {
		_, err := ledger.Apply(ctx, db, Mutation{Ref: ref, To: map[string]any{"a": 1}, At: time.Now()})
		require.NoError(t, err)
	}

	require.NoError(t, ledger.Drop(ctx, db, drop))

	n, err := ledger.Count(ctx, db, drop)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = ledger.Count(ctx, db, keep)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
