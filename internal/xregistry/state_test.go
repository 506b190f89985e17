package xregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSeedsOnFirstObservation(t *testing.T) {
	s := NewStateStore()

	st := s.Get("/noderegistries/npmjs.org/packages/react")
	assert.Equal(t, 1, st.Epoch)
	assert.Equal(t, st.CreatedAt, st.ModifiedAt)

	again := s.Get("/noderegistries/npmjs.org/packages/react")
	assert.Equal(t, st, again, "repeated observation is stable")
	assert.Equal(t, 1, s.Len())
}

func TestTouchBumpsEpochMonotonically(t *testing.T) {
	s := NewStateStore()
	path := "/noderegistries/npmjs.org"

	first := s.Get(path)
	second := s.Touch(path)
	third := s.Touch(path)

	assert.Equal(t, 1, first.Epoch)
	assert.Equal(t, 2, second.Epoch)
	assert.Equal(t, 3, third.Epoch)
	assert.Equal(t, first.CreatedAt, third.CreatedAt)
	assert.False(t, third.ModifiedAt.Before(first.ModifiedAt))
}

func TestTouchSeedsUnknownPath(t *testing.T) {
	s := NewStateStore()
	st := s.Touch("/fresh")
	assert.Equal(t, 1, st.Epoch)
}
