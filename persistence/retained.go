package persistence

import (
	"github.com/gojekfarm/xtools/generic"

	"github.com/zhimiaox/zmqx-retained/models"
)

// RetainedIterateFn is the callback function used by iterate()
// Return false means to stop the iteration.
type RetainedIterateFn func(message *models.RetainedMessage) bool

// RetainedLocal is the partitioned store of retained message records.
// Every call names the bucket it belongs to. Calls for the same bucket are
// issued one at a time by the single writer lane owning that bucket, so an
// implementation only has to guard state shared between buckets.
// Records are stored without payload bytes, the payload is referenced by PayloadID.
type RetainedLocal interface {
	// Get returns the record stored for topic, nil when absent or expired.
	Get(topic string, bucket int) (*models.RetainedMessage, error)
	// Put stores msg for topic and returns the record it replaced, if any.
	Put(msg *models.RetainedMessage, topic string, bucket int) (*models.RetainedMessage, error)
	// Remove deletes the record of topic and returns it, nil when there was none.
	Remove(topic string, bucket int) (*models.RetainedMessage, error)
	// GetAllTopics returns the topics of non-expired records matching filter.
	GetAllTopics(filter string, bucket int) (generic.Set[string], error)
	// Size returns the number of stored records over all buckets. Expired records
	// count until CleanUp purges them, so the result never needs a full scan.
	Size() (int64, error)
	// CleanUp purges expired records and returns the payload ids they referenced.
	CleanUp(bucket int) ([]uint64, error)
	// Clear removes every record of bucket and returns the payload ids they referenced.
	Clear(bucket int) ([]uint64, error)
	// CloseDB releases the resources of bucket.
	CloseDB(bucket int) error
}

// PayloadStore keeps payload bytes with a reference count.
// Implementations are safe for concurrent use from every lane.
type PayloadStore interface {
	// Add stores payload under payloadID with referenceCount references,
	// or adds referenceCount to an existing entry.
	Add(payload []byte, referenceCount int64, payloadID uint64) error
	// Get returns the payload bytes, errors.ErrPayloadNotFound when absent.
	Get(payloadID uint64) ([]byte, error)
	// Decrement drops one reference and reclaims the entry at zero.
	// Unknown ids are ignored.
	Decrement(payloadID uint64) error
	// ReferenceCount returns the current count, 0 for unknown ids.
	ReferenceCount(payloadID uint64) (int64, error)
	Close() error
}
