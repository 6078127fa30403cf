package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetronomeWarmupCounting(t *testing.T) {
	m := NewMetronome()
	assert.Equal(t, 0, m.CurrentStep())
	assert.Equal(t, 0, m.TotalSteps())

	// before reset the counter grows without bound
	for i := 0; i < 5; i++ {
		m.Tick()
	}
	assert.Equal(t, 5, m.CurrentStep())
	assert.Panics(t, func() { m.NextStep() })
}

func TestMetronomeResetAndWrap(t *testing.T) {
	m := NewMetronome()
	for i := 0; i < 3; i++ {
		m.Tick()
	}
	m.Reset()
	assert.Equal(t, 3, m.TotalSteps())
	assert.Equal(t, 0, m.CurrentStep())

	// NextStep always lands in [0, totalSteps)
	for i := 0; i < 10; i++ {
		next := m.NextStep()
		assert.GreaterOrEqual(t, next, 0)
		assert.Less(t, next, m.TotalSteps())
		assert.Equal(t, (m.CurrentStep()+1)%3, next)
		m.Tick()
	}
	// 10 ticks over period 3
	assert.Equal(t, 1, m.CurrentStep())

	assert.Panics(t, func() { m.Reset() })
}

func TestMetronomeResetBeforeTick(t *testing.T) {
	m := NewMetronome()
	assert.Panics(t, func() { m.Reset() })
}
