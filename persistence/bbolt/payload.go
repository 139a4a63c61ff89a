package bbolt

import (
	"encoding/binary"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/zhimiaox/zmqx-retained/common"
	"github.com/zhimiaox/zmqx-retained/errors"
	"github.com/zhimiaox/zmqx-retained/persistence"
)

var _ persistence.PayloadStore = (*payloads)(nil)

var (
	payloadBucket = []byte("payloads")
	refsBucket    = []byte("refs")
)

// payloads keeps the bytes and the reference count of a payload side by side.
// bbolt runs one write transaction at a time, which serializes the counters.
type payloads struct {
	mu sync.RWMutex
	db *bolt.DB
}

func openPayloads(path string, opts *bolt.Options) (*payloads, error) {
	db, err := open(path, opts, payloadBucket, refsBucket)
	if err != nil {
		return nil, err
	}
	return &payloads{db: db}, nil
}

func (p *payloads) tx(writable bool, fn func(data, refs *bolt.Bucket) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return errors.ErrClosed
	}
	txFn := func(tx *bolt.Tx) error {
		return fn(tx.Bucket(payloadBucket), tx.Bucket(refsBucket))
	}
	if writable {
		return p.db.Update(txFn)
	}
	return p.db.View(txFn)
}

func readCount(refs *bolt.Bucket, key []byte) int64 {
	v := refs.Get(key)
	if len(v) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(v))
}

func (p *payloads) Add(payload []byte, referenceCount int64, payloadID uint64) error {
	key := common.Uint64Key(payloadID)
	return p.tx(true, func(data, refs *bolt.Bucket) error {
		count := readCount(refs, key)
		if count == 0 {
			if err := data.Put(key, payload); err != nil {
				return err
			}
		}
		return refs.Put(key, common.Uint64Key(uint64(count+referenceCount)))
	})
}

func (p *payloads) Get(payloadID uint64) (payload []byte, err error) {
	key := common.Uint64Key(payloadID)
	err = p.tx(false, func(data, refs *bolt.Bucket) error {
		if readCount(refs, key) == 0 {
			return errors.ErrPayloadNotFound
		}
		payload = append([]byte{}, data.Get(key)...)
		return nil
	})
	return payload, err
}

func (p *payloads) Decrement(payloadID uint64) error {
	key := common.Uint64Key(payloadID)
	return p.tx(true, func(data, refs *bolt.Bucket) error {
		count := readCount(refs, key)
		if count == 0 {
			return nil
		}
		if count > 1 {
			return refs.Put(key, common.Uint64Key(uint64(count-1)))
		}
		if err := refs.Delete(key); err != nil {
			return err
		}
		return data.Delete(key)
	})
}

func (p *payloads) ReferenceCount(payloadID uint64) (count int64, err error) {
	key := common.Uint64Key(payloadID)
	err = p.tx(false, func(_, refs *bolt.Bucket) error {
		count = readCount(refs, key)
		return nil
	})
	return count, err
}

func (p *payloads) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
