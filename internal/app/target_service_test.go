package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/pkg/domain/shared"
	"github.com/vulnscanio/engine/pkg/domain/target"
	"github.com/vulnscanio/engine/pkg/logger"
)

func newTargetService(t *testing.T) (*TargetService, *fakeTargetRepo) {
	t.Helper()
	repo := newFakeTargetRepo()
	svc := NewTargetService(repo, config.ScanConfig{}, logger.NewNop())
	return svc, repo
}

func TestTargetServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("classifies and normalizes", func(t *testing.T) {
		svc, _ := newTargetService(t)
		orgID := shared.NewID()

		tgt, err := svc.Create(ctx, CreateTargetInput{
			OrgID: orgID,
			Value: "API.Example.COM",
			Tags:  []string{"prod"},
		})
		require.NoError(t, err)
		assert.Equal(t, "api.example.com", tgt.Value())
		assert.Equal(t, target.TypeDomain, tgt.Kind())
		assert.Equal(t, "example.com", tgt.RegistrableDomain())
		assert.Equal(t, []string{"prod"}, tgt.Tags())
		assert.True(t, tgt.Enabled())
	})

	t.Run("rejects internal addresses by default", func(t *testing.T) {
		svc, _ := newTargetService(t)

		_, err := svc.Create(ctx, CreateTargetInput{
			OrgID: shared.NewID(),
			Value: "10.0.0.5",
		})
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("allows internal addresses when configured", func(t *testing.T) {
		repo := newFakeTargetRepo()
		svc := NewTargetService(repo, config.ScanConfig{AllowInternalTargets: true}, logger.NewNop())

		tgt, err := svc.Create(ctx, CreateTargetInput{
			OrgID: shared.NewID(),
			Value: "10.0.0.5",
		})
		require.NoError(t, err)
		assert.Equal(t, target.TypeIP, tgt.Kind())
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		svc, _ := newTargetService(t)
		orgID := shared.NewID()

		_, err := svc.Create(ctx, CreateTargetInput{OrgID: orgID, Value: "example.com"})
		require.NoError(t, err)
		_, err = svc.Create(ctx, CreateTargetInput{OrgID: orgID, Value: "example.com"})
		require.ErrorIs(t, err, target.ErrTargetExists)
	})
}

func TestTargetServiceImportBatch(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTargetService(t)
	orgID := shared.NewID()

	_, err := svc.Create(ctx, CreateTargetInput{OrgID: orgID, Value: "known.example.com"})
	require.NoError(t, err)

	res, err := svc.ImportBatch(ctx, orgID, []string{
		"new.example.com",
		"https://app.example.com/login",
		"known.example.com", // already present
		"not a hostname !!",
	}, nil)
	require.NoError(t, err)

	var createdValues []string
	for _, tgt := range res.Created {
		createdValues = append(createdValues, tgt.Value())
	}
	assert.Contains(t, createdValues, "new.example.com")
	assert.NotContains(t, createdValues, "known.example.com")
	assert.NotEmpty(t, res.Skipped)

	list, err := repo.List(ctx, target.Filter{OrgID: &orgID}, testPage())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, list.Total, int64(2))
}

func TestTargetServiceUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTargetService(t)
	orgID := shared.NewID()

	tgt, err := svc.Create(ctx, CreateTargetInput{OrgID: orgID, Value: "example.com"})
	require.NoError(t, err)

	desc := "primary marketing site"
	disabled := false
	verified := true
	updated, err := svc.Update(ctx, orgID, tgt.ID(), UpdateTargetInput{
		Description: &desc,
		Tags:        []string{"marketing"},
		Enabled:     &disabled,
		Verified:    &verified,
	})
	require.NoError(t, err)

	assert.Equal(t, desc, updated.Description())
	assert.Equal(t, []string{"marketing"}, updated.Tags())
	assert.False(t, updated.Enabled())
	assert.True(t, updated.Verified())
}

func TestTargetServiceScopesToOrg(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTargetService(t)
	orgID := shared.NewID()

	tgt, err := svc.Create(ctx, CreateTargetInput{OrgID: orgID, Value: "example.com"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, shared.NewID(), tgt.ID())
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}
