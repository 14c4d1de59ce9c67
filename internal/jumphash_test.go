package internal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"
)

func TestJumpHash_Bounds(t *testing.T) {
	for buckets := 1; buckets <= 32; buckets++ {
		for key := uint64(0); key < 1000; key++ {
			b := JumpHash(key, buckets)
			require.GreaterOrEqual(t, b, 0)
			require.Less(t, b, buckets)
		}
	}
}

func TestJumpHash_Deterministic(t *testing.T) {
	for key := uint64(0); key < 100; key++ {
		assert.Equal(t, JumpHash(key, 10), JumpHash(key, 10))
	}
}

func TestJumpHash_NoBuckets(t *testing.T) {
	assert.Equal(t, 0, JumpHash(42, 0))
	assert.Equal(t, 0, JumpHash(42, -1))
}

func TestJumpHash_SingleBucket(t *testing.T) {
	for key := uint64(0); key < 100; key++ {
		assert.Equal(t, 0, JumpHash(key, 1))
	}
}

// Growing the bucket count by one should move only a small fraction of keys.
func TestJumpHash_Stability(t *testing.T) {
	const keys = 10_000
	moved := 0
	for i := 0; i < keys; i++ {
		h := xxh3.HashString(fmt.Sprintf("key-%d", i))
		if JumpHash(h, 10) != JumpHash(h, 11) {
			moved++
		}
	}
	// Expected movement is about keys/11; allow generous slack.
	assert.Less(t, moved, keys/5)
}
