package directory

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/directory/domain"
	"github.com/smallbiznis/catalogue/internal/directory/repository"
	"github.com/smallbiznis/catalogue/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexLookupIsExact(t *testing.T) {
	idx := NewIndex([]domain.Establishment{
		{ID: 1, UAI: "0751234A"},
		{ID: 2, UAI: "0751234A"},
		{ID: 3, UAI: "0759999Z"},
		{ID: 4},
	})

	hits, err := idx.LookupByUAI(context.Background(), "0751234A")
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = idx.LookupByUAI(context.Background(), "0751234")
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.LookupByUAI(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 4, idx.Len())
}

func TestLoadMatchesStore(t *testing.T) {
	db := testutil.OpenDB(t, &domain.Establishment{})
	store := repository.NewStore(db)
	ctx := context.Background()
	for i, uai := range []string{"0751234A", "0759999Z", "0751234A"} {
		require.NoError(t, store.Insert(ctx, &domain.Establishment{
			ID:        snowflake.ID(i + 1),
			UAI:       uai,
			CreatedAt: time.Now(),
		}))
	}

	idx, err := Load(ctx, store, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Len())

	fromIndex, err := idx.LookupByUAI(ctx, "0751234A")
	require.NoError(t, err)
	fromStore, err := store.LookupByUAI(ctx, "0751234A")
	require.NoError(t, err)
	assert.Equal(t, len(fromStore), len(fromIndex))
	assert.Equal(t, snowflake.ID(1), fromStore[0].ID)
	assert.Equal(t, snowflake.ID(3), fromStore[1].ID)
}
