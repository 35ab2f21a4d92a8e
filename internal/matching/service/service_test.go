package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/catalogue/internal/clock"
	"github.com/smallbiznis/catalogue/internal/directory"
	directorydomain "github.com/smallbiznis/catalogue/internal/directory/domain"
	"github.com/smallbiznis/catalogue/internal/matching/domain"
	"github.com/smallbiznis/catalogue/internal/matching/repository"
	"github.com/smallbiznis/catalogue/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) LookupByUAI(ctx context.Context, uai string) ([]directorydomain.Establishment, error) {
	args := m.Called(ctx, uai)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]directorydomain.Establishment), args.Error(1)
}

var (
	e1 = directorydomain.Establishment{ID: 101, UAI: "0751234A", RaisonSociale: "Lycée Voltaire"}
	e2 = directorydomain.Establishment{ID: 102, UAI: "0759999Z", RaisonSociale: "CFA Bâtiment"}
)

func strPtr(s string) *string { return &s }

func TestMatchFormationMergesRolesPerEstablishment(t *testing.T) {
	dir := directory.NewIndex([]directorydomain.Establishment{e1, e2})
	f := domain.PsFormation{
		MatchingMnaFormation: datatypes.NewJSONSlice([]domain.MatchCandidate{
			{CFD: "50022137", EtablissementFormateurUAI: "0751234A"},
			{CFD: "50022137", EtablissementGestionnaireUAI: "0751234A"},
		}),
	}

	got, err := MatchFormation(context.Background(), dir, f)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, snowflake.ID(101), got[0].IDMnaEtablissement)
	assert.Equal(t, []domain.Role{domain.RoleFormateur, domain.RoleGestionnaire}, got[0].MatchedUAI)
}

func TestMatchFormationNoDuplicateRoles(t *testing.T) {
	dir := directory.NewIndex([]directorydomain.Establishment{e1, e2})
	f := domain.PsFormation{
		MatchingMnaFormation: datatypes.NewJSONSlice([]domain.MatchCandidate{
			{UAIFormation: "0751234A", EtablissementFormateurUAI: "0759999Z"},
			{UAIFormation: "0751234A", EtablissementGestionnaireUAI: "0759999Z"},
			{UAIFormation: "0000000X"},
		}),
	}

	got, err := MatchFormation(context.Background(), dir, f)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, snowflake.ID(101), got[0].IDMnaEtablissement)
	assert.Equal(t, []domain.Role{domain.RoleFormation}, got[0].MatchedUAI)
	assert.Equal(t, snowflake.ID(102), got[1].IDMnaEtablissement)
	assert.Equal(t, []domain.Role{domain.RoleFormateur, domain.RoleGestionnaire}, got[1].MatchedUAI)
}

func TestMatchFormationDirectoryFailure(t *testing.T) {
	dir := &mockDirectory{}
	dir.On("LookupByUAI", mock.Anything, "0751234A").Return(nil, directorydomain.ErrDirectoryUnavailable)
	f := domain.PsFormation{
		MatchingMnaFormation: datatypes.NewJSONSlice([]domain.MatchCandidate{{UAIFormation: "0751234A"}}),
	}

	_, err := MatchFormation(context.Background(), dir, f)

	assert.ErrorIs(t, err, directorydomain.ErrDirectoryUnavailable)
	dir.AssertExpectations(t)
}

type fixture struct {
	db   *gorm.DB
	repo domain.Repository
}

func newFixture(t *testing.T) *fixture {
	db := testutil.OpenDB(t, &domain.PsFormation{})
	return &fixture{db: db, repo: repository.Provide()}
}

func (f *fixture) service(t *testing.T, dir directorydomain.Directory) *Service {
	svc, err := New(Params{
		DB:        f.db,
		Log:       zap.NewNop(),
		Clock:     clock.NewFakeClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		Repo:      f.repo,
		Directory: dir,
	})
	require.NoError(t, err)
	return svc
}

func (f *fixture) insert(t *testing.T, ps domain.PsFormation) {
	require.NoError(t, f.repo.Insert(context.Background(), f.db, &ps))
}

func TestRunOverwritesCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := []domain.MatchedEstablishment{
		domain.NewMatchedEstablishment(e2, domain.RoleFormation),
	}
	f.insert(t, domain.PsFormation{
		ID:           1,
		MatchingType: strPtr("4"),
		MatchingMnaFormation: datatypes.NewJSONSlice([]domain.MatchCandidate{
			{EtablissementFormateurUAI: "0751234A"},
			{EtablissementGestionnaireUAI: "0751234A"},
		}),
		MatchingMnaEtablissement: datatypes.NewJSONSlice(stale),
	})
	f.insert(t, domain.PsFormation{
		ID:                   2,
		MatchingMnaFormation: datatypes.NewJSONSlice([]domain.MatchCandidate{{UAIFormation: "0751234A"}}),
	})
	svc := f.service(t, directory.NewIndex([]directorydomain.Establishment{e1, e2}))

	result, err := svc.Run(ctx, Options{})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Formations)
	assert.Equal(t, 1, result.Updated)

	stored, err := f.repo.FindByID(ctx, f.db, 1)
	require.NoError(t, err)
	require.Len(t, stored.MatchingMnaEtablissement, 1)
	assert.Equal(t, snowflake.ID(101), stored.MatchingMnaEtablissement[0].IDMnaEtablissement)
	assert.ElementsMatch(t, []domain.Role{domain.RoleFormateur, domain.RoleGestionnaire}, stored.MatchingMnaEtablissement[0].MatchedUAI)

	untouched, err := f.repo.FindByID(ctx, f.db, 2)
	require.NoError(t, err)
	assert.Empty(t, untouched.MatchingMnaEtablissement)
}

func TestRunClearsCollectionWhenNothingMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, domain.PsFormation{
		ID:                   1,
		MatchingType:         strPtr("2"),
		MatchingMnaFormation: datatypes.NewJSONSlice([]domain.MatchCandidate{{UAIFormation: "0000000X"}}),
		MatchingMnaEtablissement: datatypes.NewJSONSlice([]domain.MatchedEstablishment{
			domain.NewMatchedEstablishment(e1, domain.RoleFormation),
		}),
	})

	_, err := f.service(t, directory.NewIndex(nil)).Run(ctx, Options{})
	require.NoError(t, err)

	stored, err := f.repo.FindByID(ctx, f.db, 1)
	require.NoError(t, err)
	assert.Empty(t, stored.MatchingMnaEtablissement)
}

func TestRunSecondPassLeavesUnchangedFormations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, domain.PsFormation{
		ID:                   1,
		MatchingType:         strPtr("4"),
		MatchingMnaFormation: datatypes.NewJSONSlice([]domain.MatchCandidate{{UAIFormation: "0751234A"}}),
	})
	svc := f.service(t, directory.NewIndex([]directorydomain.Establishment{e1}))

	_, err := svc.Run(ctx, Options{})
	require.NoError(t, err)
	second, err := svc.Run(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 1, second.Unchanged)
}

func TestRunDirectoryFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.insert(t, domain.PsFormation{
		ID:                   1,
		MatchingType:         strPtr("4"),
		MatchingMnaFormation: datatypes.NewJSONSlice([]domain.MatchCandidate{{UAIFormation: "0751234A"}}),
	})
	dir := &mockDirectory{}
	dir.On("LookupByUAI", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := f.service(t, &mockDirectory{}).Run(context.Background(), Options{Directory: dir})

	assert.Error(t, err)
}
