package bbolt

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gojekfarm/xtools/generic"
	bolt "go.etcd.io/bbolt"

	"github.com/zhimiaox/zmqx-retained/common"
	"github.com/zhimiaox/zmqx-retained/errors"
	"github.com/zhimiaox/zmqx-retained/models"
	"github.com/zhimiaox/zmqx-retained/persistence"
)

var _ persistence.RetainedLocal = (*retained)(nil)

var retainedBucket = []byte("retained")

// recordKey returns the key of topic. Topics too long for a bbolt key are keyed
// by their digest behind a 0x00 byte, which valid topics never start with.
// The record keeps the full topic, so readers compare it against the one asked for.
func recordKey(topic string) []byte {
	if len(topic) < bolt.MaxKeySize {
		return []byte(topic)
	}
	return append([]byte{0}, common.Uint64Key(xxhash.Sum64String(topic))...)
}

// lookup decodes the record stored for topic, nil when there is none.
func lookup(b *bolt.Bucket, key []byte, topic string) (*models.RetainedMessage, error) {
	v := b.Get(key)
	if v == nil {
		return nil, nil
	}
	msg, err := models.UnmarshalRetained(v)
	if err != nil {
		return nil, err
	}
	if msg.Topic != topic {
		return nil, nil
	}
	return msg, nil
}

type partition struct {
	// mu guards db against CloseDB, transactions bring their own locking.
	mu sync.RWMutex
	db *bolt.DB
}

type retained struct {
	buckets []*partition
	now     func() time.Time
}

func openRetained(dir string, bucketCount int, opts *bolt.Options, now func() time.Time) (*retained, error) {
	r := &retained{buckets: make([]*partition, bucketCount), now: now}
	for i := range r.buckets {
		db, err := open(filepath.Join(dir, fmt.Sprintf("retained-%02d.db", i)), opts, retainedBucket)
		if err != nil {
			for _, p := range r.buckets[:i] {
				_ = p.db.Close()
			}
			return nil, err
		}
		r.buckets[i] = &partition{db: db}
	}
	return r, nil
}

func (r *retained) view(i int, fn func(b *bolt.Bucket) error) error {
	return r.tx(i, false, fn)
}

func (r *retained) update(i int, fn func(b *bolt.Bucket) error) error {
	return r.tx(i, true, fn)
}

func (r *retained) tx(i int, writable bool, fn func(b *bolt.Bucket) error) error {
	if i < 0 || i >= len(r.buckets) {
		return errors.ErrInvalidBucket
	}
	p := r.buckets[i]
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.db == nil {
		return errors.ErrClosed
	}
	txFn := func(tx *bolt.Tx) error {
		return fn(tx.Bucket(retainedBucket))
	}
	if writable {
		return p.db.Update(txFn)
	}
	return p.db.View(txFn)
}

func (r *retained) Get(topic string, i int) (msg *models.RetainedMessage, err error) {
	err = r.view(i, func(b *bolt.Bucket) error {
		msg, err = lookup(b, recordKey(topic), topic)
		return err
	})
	if err != nil || msg.Expired(r.now()) {
		return nil, err
	}
	return msg, nil
}

func (r *retained) Put(msg *models.RetainedMessage, topic string, i int) (prev *models.RetainedMessage, err error) {
	record := msg.Copy()
	record.Topic = topic
	record.Payload = nil
	err = r.update(i, func(b *bolt.Bucket) error {
		key := recordKey(topic)
		if b.Get(key) != nil {
			if prev, err = lookup(b, key, topic); err != nil {
				return err
			}
			if prev == nil {
				return fmt.Errorf("topic digest collides with a stored topic")
			}
		}
		return b.Put(key, models.MarshalRetained(record))
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

func (r *retained) Remove(topic string, i int) (removed *models.RetainedMessage, err error) {
	err = r.update(i, func(b *bolt.Bucket) error {
		key := recordKey(topic)
		if removed, err = lookup(b, key, topic); err != nil || removed == nil {
			return err
		}
		return b.Delete(key)
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (r *retained) GetAllTopics(filter string, i int) (generic.Set[string], error) {
	now := r.now()
	topics := generic.NewSet[string]()
	err := r.view(i, func(b *bolt.Bucket) error {
		return b.ForEach(func(_, v []byte) error {
			msg, err := models.UnmarshalRetained(v)
			if err != nil {
				return err
			}
			if common.MatchTopic(filter, msg.Topic) && !msg.Expired(now) {
				topics.Add(msg.Topic)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return topics, nil
}

// Size counts the keys of every open bucket file.
func (r *retained) Size() (int64, error) {
	var total int64
	for i, p := range r.buckets {
		p.mu.RLock()
		if p.db == nil {
			p.mu.RUnlock()
			continue
		}
		err := p.db.View(func(tx *bolt.Tx) error {
			total += int64(tx.Bucket(retainedBucket).Stats().KeyN)
			return nil
		})
		p.mu.RUnlock()
		if err != nil {
			return 0, fmt.Errorf("size of bucket %d: %w", i, err)
		}
	}
	return total, nil
}

func (r *retained) CleanUp(i int) ([]uint64, error) {
	now := r.now()
	return r.deleteWhere(i, func(msg *models.RetainedMessage) bool {
		return msg.Expired(now)
	})
}

func (r *retained) Clear(i int) ([]uint64, error) {
	return r.deleteWhere(i, func(*models.RetainedMessage) bool {
		return true
	})
}

// deleteWhere removes the records matched by fn and returns their payload ids.
func (r *retained) deleteWhere(i int, fn func(msg *models.RetainedMessage) bool) (released []uint64, err error) {
	err = r.update(i, func(b *bolt.Bucket) error {
		var keys [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			msg, err := models.UnmarshalRetained(v)
			if err != nil {
				return err
			}
			if fn(msg) {
				keys = append(keys, append([]byte(nil), k...))
				released = append(released, msg.PayloadID)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// CloseDB closes the file of bucket i. Closing it again does nothing.
func (r *retained) CloseDB(i int) error {
	if i < 0 || i >= len(r.buckets) {
		return errors.ErrInvalidBucket
	}
	p := r.buckets[i]
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
