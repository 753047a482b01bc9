package chat

import (
	"fmt"
	"testing"

	"github.com/esnunes/renderpilot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func text(s string) models.Message {
	return models.Message{Role: models.RoleUser, Text: s, Type: models.TypeResponse}
}

func assertSingleTailLoading(t *testing.T, msgs []models.Message) {
	t.Helper()
	count := 0
	for i, m := range msgs {
		if m.Type == models.TypeLoading {
			count++
			assert.Equal(t, len(msgs)-1, i, "loading placeholder must be the tail")
		}
	}
	assert.LessOrEqual(t, count, 1)
}

func TestLoadingPlaceholderStaysSingleAndAtTail(t *testing.T) {
	s := New(DefaultCap)
	s.Append(text("hello"))
	first := s.BeginLoading()
	assertSingleTailLoading(t, s.All())

	s.Append(text("typed while waiting"))
	assertSingleTailLoading(t, s.All())

	second := s.BeginLoading()
	assert.NotEqual(t, first, second)
	assertSingleTailLoading(t, s.All())
	assert.Equal(t, 3, s.Len())

	s.Settle(second, models.Message{Role: models.RoleModel, Text: "done", Type: models.TypeResponse})
	assertSingleTailLoading(t, s.All())
	assert.False(t, s.Loading())
	all := s.All()
	assert.Equal(t, "done", all[len(all)-1].Text)
}

func TestCapEvictsOldest(t *testing.T) {
	s := New(DefaultCap)
	for i := 0; i < 130; i++ {
		s.Append(text(fmt.Sprint(i)))
	}
	all := s.All()
	require.Len(t, all, 100)
	assert.Equal(t, "30", all[0].Text)
	assert.Equal(t, "129", all[99].Text)
}

func TestReconcileDropsTrailingLoading(t *testing.T) {
	msgs := []models.Message{
		{ID: "1", Text: "a", Type: models.TypeResponse},
		{ID: "2", Text: "b", Type: models.TypeVisual},
		{ID: "3", Text: "Thinking...", Type: models.TypeLoading},
	}
	out, stale := Reconcile(msgs)
	assert.True(t, stale)
	assert.Equal(t, msgs[:2], out)
	assert.Len(t, msgs, 3, "input is not modified")

	out, stale = Reconcile(msgs[:2])
	assert.False(t, stale)
	assert.Equal(t, msgs[:2], out)
}

func TestRestore(t *testing.T) {
	s := New(DefaultCap)
	stale := s.Restore([]models.Message{
		{ID: "1", Type: models.TypeResponse},
		{ID: "2", Type: models.TypeLoading},
	})
	assert.True(t, stale)
	assert.Equal(t, 1, s.Len())
}

func TestFeedbackSetOnce(t *testing.T) {
	s := New(DefaultCap)
	msg := s.Append(models.Message{Role: models.RoleModel, Text: "answer", Type: models.TypeResponse})

	require.NoError(t, s.SetFeedback(msg.ID, models.FeedbackUp, "thanks"))
	assert.ErrorIs(t, s.SetFeedback(msg.ID, models.FeedbackDown, "again"), ErrFeedbackSet)
	assert.ErrorIs(t, s.SetFeedback("missing", models.FeedbackUp, ""), ErrMessageNotFound)
	assert.ErrorIs(t, s.SetFeedback(msg.ID, "meh", ""), ErrInvalidFeedback)

	got, ok := s.Find(msg.ID)
	require.True(t, ok)
	assert.Equal(t, models.FeedbackUp, got.Feedback)
	assert.Equal(t, "thanks", got.FeedbackResponse.Text)
}
