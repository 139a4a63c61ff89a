package persistence

import (
	"github.com/cespare/xxhash/v2"
)

// Bucket maps a topic to its partition in [0, bucketCount).
// The mapping only depends on the topic bytes, so it is stable across processes.
func Bucket(topic string, bucketCount int) int {
	return int(xxhash.Sum64String(topic) % uint64(bucketCount))
}

// Backend is a storage engine able to hold retained messages.
// Close releases what the backend owns beyond its buckets, such as a client connection.
type Backend interface {
	Local() RetainedLocal
	Payloads() PayloadStore
	Close() error
}
