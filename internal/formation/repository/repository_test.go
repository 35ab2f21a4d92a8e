package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/formation/domain"
	"github.com/smallbiznis/catalogue/internal/testutil"
	"github.com/smallbiznis/catalogue/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, db *gorm.DB, id int64, key string, published bool, fields map[string]any) *domain.Formation {
	t.Helper()
	k, err := domain.ParseKey(key)
	require.NoError(t, err)
	f := &domain.Formation{
		ID:           snowflake.ID(id),
		NaturalKey:   k,
		Published:    published,
		Fields:       datatypes.JSONMap(fields),
		CreatedAt:    base.Add(time.Duration(id) * time.Minute),
		LastUpdateAt: base.Add(time.Duration(id) * time.Minute),
	}
	require.NoError(t, Provide().Insert(context.Background(), db, f))
	return f
}

func TestFindByKeyReturnsPublishedFirst(t *testing.T) {
	db := testutil.OpenDB(t, &domain.Formation{})
	seed(t, db, 1, "F1|A1|C1", false, nil)
	seed(t, db, 2, "F1|A1|C1", true, nil)
	seed(t, db, 3, "F9|A9|C9", true, nil)

	rows, err := Provide().FindByKey(context.Background(), db, domain.NaturalKey{IDFormation: "F1", IDAction: "A1", IDCertifinfo: "C1"})

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, snowflake.ID(2), rows[0].ID)
	assert.Equal(t, snowflake.ID(1), rows[1].ID)
}

func TestListPublishedPagesByID(t *testing.T) {
	db := testutil.OpenDB(t, &domain.Formation{})
	seed(t, db, 1, "F1|A1|C1", true, nil)
	seed(t, db, 2, "F2|A2|C2", false, nil)
	seed(t, db, 3, "F3|A3|C3", true, nil)
	seed(t, db, 4, "F4|A4|C4", true, nil)
	repo := Provide()

	first, err := repo.ListPublished(context.Background(), db, pagination.Start, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, snowflake.ID(1), first[0].ID)
	assert.Equal(t, snowflake.ID(3), first[1].ID)

	rest, err := repo.ListPublished(context.Background(), db, pagination.After(first[1].ID), 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, snowflake.ID(4), rest[0].ID)
}

func TestDuplicateKeys(t *testing.T) {
	db := testutil.OpenDB(t, &domain.Formation{})
	seed(t, db, 1, "K|A|C", true, nil)
	seed(t, db, 2, "K|A|C", true, nil)
	seed(t, db, 3, "L|A|C", true, nil)

	keys, err := Provide().DuplicateKeys(context.Background(), db)

	require.NoError(t, err)
	assert.Equal(t, []domain.NaturalKey{{IDFormation: "K", IDAction: "A", IDCertifinfo: "C"}}, keys)
}

func TestApplyPatchMergesFields(t *testing.T) {
	db := testutil.OpenDB(t, &domain.Formation{})
	seed(t, db, 1, "F1|A1|C1", false, map[string]any{"cfd": "111", "capacite": "20"})
	repo := Provide()
	published := true
	at := base.Add(48 * time.Hour)

	updated, err := repo.ApplyPatch(context.Background(), db, 1, domain.Patch{
		Fields:          map[string]any{"cfd": "222"},
		Published:       &published,
		LastUpdateAt:    at,
		ResetConversion: true,
	})
	require.NoError(t, err)
	assert.True(t, updated.Published)

	stored, err := repo.FindByID(context.Background(), db, 1)
	require.NoError(t, err)
	assert.Equal(t, "222", stored.Field("cfd"))
	assert.Equal(t, "20", stored.Field("capacite"))
	assert.True(t, stored.Published)
	assert.True(t, stored.LastUpdateAt.Equal(at))
}

func TestApplyPatchUnknownID(t *testing.T) {
	db := testutil.OpenDB(t, &domain.Formation{})

	_, err := Provide().ApplyPatch(context.Background(), db, 42, domain.Patch{})

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversionBookkeeping(t *testing.T) {
	db := testutil.OpenDB(t, &domain.Formation{})
	ctx := context.Background()
	repo := Provide()
	for i := int64(1); i <= 3; i++ {
		seed(t, db, i, "F|A|"+string(rune('0'+i)), true, nil)
	}

	count, err := repo.CountUnconverted(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	require.NoError(t, repo.MarkConversion(ctx, db, 1, domain.ConversionPending))
	require.NoError(t, repo.MarkConversion(ctx, db, 2, "invalid_cfd"))

	count, err = repo.CountUnconverted(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	page, err := repo.ListUnconverted(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, snowflake.ID(3), page[0].ID)

	flipped, err := repo.FinalizeConversions(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, flipped)

	done, err := repo.FindByID(ctx, db, 1)
	require.NoError(t, err)
	assert.True(t, done.Converted)
	assert.Nil(t, done.ConversionError)

	reset, err := repo.ResetConversionErrors(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, reset)

	count, err = repo.CountUnconverted(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestConvertedRepository(t *testing.T) {
	db := testutil.OpenDB(t, &domain.ConvertedFormation{})
	ctx := context.Background()
	repo := ProvideConverted()
	for i := int64(1); i <= 3; i++ {
		rco := "K|A|C"
		if i == 3 {
			rco = "L|A|C"
		}
		require.NoError(t, repo.Insert(ctx, db, &domain.ConvertedFormation{
			ID:             snowflake.ID(i),
			IDRcoFormation: rco,
			CFD:            "50022137",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			LastUpdateAt:   base,
		}))
	}

	dups, err := repo.DuplicateRcoIDs(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"K|A|C"}, dups)

	at := base.Add(time.Hour)
	require.NoError(t, repo.UpdateFields(ctx, db, 1, map[string]any{"cfd": "40025212", "id": 99}, at))
	members, err := repo.FindByRcoID(ctx, db, "K|A|C")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, snowflake.ID(1), members[0].ID)
	assert.Equal(t, "40025212", members[0].CFD)
	assert.True(t, members[0].LastUpdateAt.Equal(at))

	require.NoError(t, repo.Delete(ctx, db, 2))
	n, err := repo.Count(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
