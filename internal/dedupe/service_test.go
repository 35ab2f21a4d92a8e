package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/clock"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/internal/formation/repository"
	"github.com/smallbiznis/catalogue/internal/history"
	"github.com/smallbiznis/catalogue/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	db        *gorm.DB
	svc       *Service
	repo      domain.Repository
	converted domain.ConvertedRepository
	ledger    *history.Ledger
}

func newFixture(t *testing.T, repo domain.Repository) *fixture {
	t.Helper()
	db := testutil.OpenDB(t, &domain.Formation{}, &domain.ConvertedFormation{}, &history.Entry{})
	node := testutil.Node(t)
	if repo == nil {
		repo = repository.Provide()
	}
	ledger := history.NewLedger(history.Params{Log: zap.NewNop(), GenID: node, Repo: history.ProvideRepository()})
	converted := repository.ProvideConverted()
	svc, err := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     clock.NewFakeClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		Repo:      repo,
		Converted: converted,
		Ledger:    ledger,
	})
	require.NoError(t, err)
	return &fixture{db: db, svc: svc, repo: repository.Provide(), converted: converted, ledger: ledger}
}

func (f *fixture) formation(t *testing.T, id int64, key string, fields map[string]any) {
	t.Helper()
	k, err := domain.ParseKey(key)
	require.NoError(t, err)
	f.formationWithKey(t, id, k, fields)
}

func (f *fixture) formationWithKey(t *testing.T, id int64, k domain.NaturalKey, fields map[string]any) {
	t.Helper()
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &domain.Formation{
		ID:           snowflake.ID(id),
		NaturalKey:   k,
		Published:    true,
		Fields:       datatypes.JSONMap(fields),
		CreatedAt:    created.Add(time.Duration(id) * time.Minute),
		LastUpdateAt: created,
	}))
}

func TestRunMergesIntoEarliestWithLastValueWinning(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.formation(t, 1, "K|A|C", map[string]any{"capacite": 20, "cfd": "111"})
	f.formation(t, 2, "K|A|C", map[string]any{"capacite": 25, "cfd": "111"})
	f.formation(t, 3, "K|A|C", map[string]any{"capacite": 30, "cfd": "111"})

	result, err := f.svc.Run(ctx, TargetFormations)

	require.NoError(t, err)
	require.NoError(t, result.Err())
	assert.Equal(t, 1, result.Groups)
	assert.Equal(t, 2, result.Merged)

	rows, err := f.repo.ListByKey(ctx, f.db, domain.NaturalKey{IDFormation: "K", IDAction: "A", IDCertifinfo: "C"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, snowflake.ID(1), rows[0].ID)
	assert.Equal(t, "30", rows[0].Field("capacite"))

	n, err := f.ledger.Count(ctx, f.db, history.Ref{Type: history.EntityFormation, ID: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestRunMergesKeysContainingSeparator(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := domain.NaturalKey{IDFormation: "24|X", IDAction: "A", IDCertifinfo: "C"}
	f.formationWithKey(t, 1, key, map[string]any{"cfd": "111"})
	f.formationWithKey(t, 2, key, map[string]any{"cfd": "222"})

	result, err := f.svc.Run(ctx, TargetFormations)

	require.NoError(t, err)
	require.NoError(t, result.Err())
	assert.Equal(t, 1, result.Groups)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, "1", result.Survivors["24|X|A|C"])

	rows, err := f.repo.ListByKey(ctx, f.db, key)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "222", rows[0].Field("cfd"))
}

func TestRunIdenticalDuplicateStillRecordsHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.formation(t, 1, "K|A|C", map[string]any{"cfd": "111"})
	f.formation(t, 2, "K|A|C", map[string]any{"cfd": "111"})

	result, err := f.svc.Run(ctx, TargetFormations)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Merged)

	entries, err := f.ledger.List(ctx, f.db, history.Ref{Type: history.EntityFormation, ID: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].To)
}

func TestRunDropsHistoryOfRemovedDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.formation(t, 1, "K|A|C", map[string]any{"cfd": "111"})
	f.formation(t, 2, "K|A|C", map[string]any{"cfd": "222"})
	_, err := f.ledger.Apply(ctx, f.db, history.Mutation{
		Ref: history.Ref{Type: history.EntityFormation, ID: 2},
		To:  map[string]any{"cfd": "222"},
		At:  created,
	})
	require.NoError(t, err)

	_, err = f.svc.Run(ctx, TargetFormations)
	require.NoError(t, err)

	n, err := f.ledger.Count(ctx, f.db, history.Ref{Type: history.EntityFormation, ID: 2})
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = f.repo.FindByID(ctx, f.db, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunFieldChangeRequeuesConversion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.formation(t, 1, "K|A|C", map[string]any{"cfd": "111"})
	f.formation(t, 2, "K|A|C", map[string]any{"cfd": "222"})
	require.NoError(t, f.db.Model(&domain.Formation{}).Where("id = ?", 1).Update("converted", true).Error)

	_, err := f.svc.Run(ctx, TargetFormations)
	require.NoError(t, err)

	survivor, err := f.repo.FindByID(ctx, f.db, 1)
	require.NoError(t, err)
	assert.Equal(t, "222", survivor.Field("cfd"))
	assert.False(t, survivor.Converted)
}

type failingDelete struct {
	domain.Repository
	fail snowflake.ID
}

func (r failingDelete) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	if id == r.fail {
		return errors.New("delete refused")
	}
	return r.Repository.Delete(ctx, db, id)
}

func TestRunFailedMergeDoesNotBlockOtherGroups(t *testing.T) {
	f := newFixture(t, failingDelete{Repository: repository.Provide(), fail: 3})
	ctx := context.Background()
	f.formation(t, 1, "K|A|C", map[string]any{"capacite": 20})
	f.formation(t, 2, "K|A|C", map[string]any{"capacite": 25})
	f.formation(t, 3, "K|A|C", map[string]any{"capacite": 30})
	f.formation(t, 4, "L|A|C", map[string]any{"capacite": 1})
	f.formation(t, 5, "L|A|C", map[string]any{"capacite": 2})

	result, err := f.svc.Run(ctx, TargetFormations)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Groups)
	assert.Equal(t, 2, result.Merged)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "K|A|C", result.Errors[0].Key)
	assert.Error(t, result.Err())

	k, err := f.repo.FindByID(ctx, f.db, 1)
	require.NoError(t, err)
	assert.Equal(t, "25", k.Field("capacite"))
	n, err := f.ledger.Count(ctx, f.db, history.Ref{Type: history.EntityFormation, ID: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	l, err := f.repo.FindByID(ctx, f.db, 4)
	require.NoError(t, err)
	assert.Equal(t, "2", l.Field("capacite"))
}

func TestRunConvertedTarget(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i, capacite := range []string{"20", "25", "30"} {
		require.NoError(t, f.converted.Insert(ctx, f.db, &domain.ConvertedFormation{
			ID:             snowflake.ID(i + 1),
			IDRcoFormation: "K|A|C",
			Capacite:       capacite,
			CreatedAt:      created.Add(time.Duration(i) * time.Minute),
			LastUpdateAt:   created,
		}))
	}

	result, err := f.svc.Run(ctx, TargetConverted)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Merged)

	rows, err := f.converted.FindByRcoID(ctx, f.db, "K|A|C")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "30", rows[0].Capacite)

	n, err := f.ledger.Count(ctx, f.db, history.Ref{Type: history.EntityConvertedFormation, ID: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestRunUnknownTarget(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Run(context.Background(), Target("nope"))

	assert.ErrorIs(t, err, ErrUnknownTarget)
}
