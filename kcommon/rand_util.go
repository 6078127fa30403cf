package kcommon

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/xinkaiwang/chunkmgr/klogging"
)

type SafeRand struct {
	mu         sync.Mutex
	seededRand *rand.Rand
}

var safeRand SafeRand

type OpGetRand func(*rand.Rand)

func GetRandom(ctx context.Context, op OpGetRand) {
	safeRand.mu.Lock()
	defer func() {
		safeRand.mu.Unlock()
	}()
	if safeRand.seededRand == nil {
		buf := make([]byte, 8)
		_, err := crypto_rand.Read(buf)
		if err != nil {
			// fall back to a wall-clock seed, callers still get a usable source
			safeRand.seededRand = rand.New(rand.NewSource(time.Now().UnixNano()))
			klogging.Warning(ctx).WithError(err).Log("CryptoRandSeedFailed", "")
		} else {
			seed := int64(binary.BigEndian.Uint64(buf))
			safeRand.seededRand = rand.New(rand.NewSource(seed))
			klogging.Info(ctx).With("seed", strconv.FormatInt(seed, 16)).Log("CryptoRandSeedSucc", "")
		}
	}
	op(safeRand.seededRand)
}

// pseudo-random number in [0,n)
func RandomInt(ctx context.Context, max int) (ret int) {
	GetRandom(ctx, func(r *rand.Rand) {
		ret = r.Intn(max)
	})
	return
}

// For example, val=100 ratio=0.1 means return a random value between [90-110)
func RandomlizeValueByRatio(ctx context.Context, value int, ratio float32) int {
	min := int(float32(value) * (1. - ratio))
	max := int(float32(value) * (1. + ratio))
	return RandomInt(ctx, max-min) + min
}
