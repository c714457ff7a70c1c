package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_SortsByCreation(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := NewAt(base)
	second := NewAt(base)
	later := NewAt(base.Add(time.Second))

	assert.True(t, Valid(first))
	assert.Less(t, first, second, "monotonic entropy orders IDs within the same millisecond")
	assert.Less(t, second, later)
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("not-a-ulid"))
	assert.True(t, Valid(New()))
}
