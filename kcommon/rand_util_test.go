package kcommon

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetRandomAlwaysSeeded(t *testing.T) {
	ctx := context.Background()
	// the source handed to op must never be nil, regardless of how seeding went
	GetRandom(ctx, func(r *rand.Rand) {
		assert.NotNil(t, r)
	})
}

func TestRandomInt(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		v := RandomInt(ctx, 10)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 10)
	}
}

func TestRandomlizeValueByRatio(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		v := RandomlizeValueByRatio(ctx, 100, 0.1)
		assert.GreaterOrEqual(t, v, 90)
		assert.Less(t, v, 110)
	}
}
