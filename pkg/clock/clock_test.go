package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockAdvance(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	m := NewMock(start)

	assert.Equal(t, start, m.Now())
	m.Advance(2 * time.Hour)
	assert.Equal(t, start.Add(2*time.Hour), m.Now())

	m.Set(start)
	assert.Equal(t, start, m.Now())
}

func TestRealIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Real().Now().Location())
}
