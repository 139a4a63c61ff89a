package persistence

import (
	"fmt"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
)

func TestBucket(t *testing.T) {
	const n = 64
	seen := make(map[int]bool)
	for i := 0; i < 10000; i++ {
		topic := fmt.Sprintf("devices/%d/state", i)
		b := Bucket(topic, n)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, n)
		assert.Equal(t, b, Bucket(topic, n), "bucket must be deterministic")
		seen[b] = true
	}
	assert.Len(t, seen, n, "every bucket should be used")
}

func TestBucket_Stable(t *testing.T) {
	for _, topic := range []string{"", "topic", "$SYS/broker", "a/b/c"} {
		assert.Equal(t, int(xxhash.Sum64String(topic)%64), Bucket(topic, 64))
	}
	assert.Equal(t, 0, Bucket("anything", 1))
}
