package ledger

import (
	"testing"

	"github.com/esnunes/renderpilot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prompt(p string) models.Revision {
	return models.Revision{Payload: models.PromptInput{Prompt: p}}
}

func TestAppendAssignsIncreasingVersions(t *testing.T) {
	l := New(DefaultCap)
	var last int
	for i := 0; i < 10; i++ {
		rev := l.Append(prompt("p"))
		assert.Greater(t, rev.Version, last)
		assert.NotEmpty(t, rev.ID)
		assert.False(t, rev.Timestamp.IsZero())
		last = rev.Version
	}
}

func TestEvictionKeepsMostRecentInOrder(t *testing.T) {
	l := New(DefaultCap)
	for i := 0; i < 73; i++ {
		l.Append(prompt("p"))
	}

	all := l.All()
	require.Len(t, all, 50)
	assert.Equal(t, 24, all[0].Version)
	assert.Equal(t, 73, all[49].Version)
	for i := 1; i < len(all); i++ {
		assert.Equal(t, all[i-1].Version+1, all[i].Version)
	}
}

func TestRestoreContinuesFromHighestSurvivor(t *testing.T) {
	l := New(DefaultCap)
	for i := 0; i < 60; i++ {
		l.Append(prompt("p"))
	}
	persisted := l.All()

	reloaded := New(DefaultCap)
	reloaded.Restore(persisted)
	assert.Equal(t, 61, reloaded.NextVersion())

	rev := reloaded.Append(prompt("after reload"))
	for _, r := range persisted {
		assert.Greater(t, rev.Version, r.Version)
	}
}

func TestRestoreWithGapsUsesMaximum(t *testing.T) {
	l := New(DefaultCap)
	l.Restore([]models.Revision{
		{ID: "a", Version: 3, Payload: models.DirectiveInstall{}},
		{ID: "b", Version: 17, Payload: models.DirectiveInstall{}},
		{ID: "c", Version: 9, Payload: models.DirectiveInstall{}},
	})
	assert.Equal(t, 18, l.NextVersion())
}

func TestToggleConfirmed(t *testing.T) {
	l := New(DefaultCap)
	rev := l.Append(prompt("p"))

	require.True(t, l.ToggleConfirmed(rev.ID))
	got, _ := l.Get(rev.ID)
	assert.True(t, got.Confirmed)

	require.True(t, l.ToggleConfirmed(rev.ID))
	got, _ = l.Get(rev.ID)
	assert.False(t, got.Confirmed)

	assert.False(t, l.ToggleConfirmed("missing"))
	assert.Equal(t, 1, l.Len())
}

func TestUpdateCannotRewriteIdentity(t *testing.T) {
	l := New(DefaultCap)
	rev := l.Append(prompt("p"))

	l.Update(rev.ID, func(r *models.Revision) {
		r.Version = 999
		r.ID = "hijack"
		r.Description = "changed"
	})

	got, ok := l.Get(rev.ID)
	require.True(t, ok)
	assert.Equal(t, rev.Version, got.Version)
	assert.Equal(t, "changed", got.Description)
}

func TestQueries(t *testing.T) {
	l := New(DefaultCap)
	l.Append(models.Revision{Payload: models.VisualGeneration{OutputPreviewURL: "one"}})
	l.Append(prompt("p"))
	l.Append(models.Revision{Payload: models.VisualGeneration{OutputPreviewURL: "two"}})

	visuals := l.QueryByType(models.KindVisualGeneration)
	require.Len(t, visuals, 2)
	assert.Equal(t, "one", visuals[0].OutputPreviewURL())

	latest, ok := l.LatestMatching(func(r models.Revision) bool {
		return r.Kind() == models.KindVisualGeneration && !r.Confirmed
	})
	require.True(t, ok)
	assert.Equal(t, "two", latest.OutputPreviewURL())

	_, ok = l.LatestMatching(func(r models.Revision) bool { return r.Kind() == models.KindAcceptLock })
	assert.False(t, ok)
}

func TestAllReturnsCopy(t *testing.T) {
	l := New(DefaultCap)
	l.Append(prompt("p"))
	all := l.All()
	all[0].Description = "mutated"

	got := l.All()
	assert.Empty(t, got[0].Description)
}
