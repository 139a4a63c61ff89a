package memory

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gojekfarm/xtools/generic"

	"github.com/zhimiaox/zmqx-retained/common"
	"github.com/zhimiaox/zmqx-retained/errors"
	"github.com/zhimiaox/zmqx-retained/models"
	"github.com/zhimiaox/zmqx-retained/persistence"
)

var _ persistence.RetainedLocal = (*retained)(nil)

// bucket keeps the retained messages of one partition in two tries,
// so that filters starting with a wildcard never reach '$' topics.
type bucket struct {
	sync.RWMutex
	userTrie   *retainTrie
	systemTrie *retainTrie
	closed     bool
}

func newBucket() *bucket {
	return &bucket{
		userTrie:   newRetainTrie(),
		systemTrie: newRetainTrie(),
	}
}

func (b *bucket) getTrie(topicName string) *retainTrie {
	if common.IsSystemTopic(topicName) {
		return b.systemTrie
	}
	return b.userTrie
}

// retained implements persistence.RetainedLocal with one pair of tries per bucket.
type retained struct {
	buckets []*bucket
	size    atomic.Int64
	now     func() time.Time
}

func newRetained(bucketCount int, now func() time.Time) *retained {
	r := &retained{
		buckets: make([]*bucket, bucketCount),
		now:     now,
	}
	for i := range r.buckets {
		r.buckets[i] = newBucket()
	}
	return r
}

func (r *retained) bucket(i int) (*bucket, error) {
	if i < 0 || i >= len(r.buckets) {
		return nil, errors.ErrInvalidBucket
	}
	return r.buckets[i], nil
}

func (r *retained) Get(topic string, i int) (*models.RetainedMessage, error) {
	b, err := r.bucket(i)
	if err != nil {
		return nil, err
	}
	b.RLock()
	defer b.RUnlock()
	if b.closed {
		return nil, errors.ErrClosed
	}
	n := b.getTrie(topic).find(topic)
	if n == nil || n.msg.Expired(r.now()) {
		return nil, nil
	}
	return n.msg.Copy(), nil
}

func (r *retained) Put(msg *models.RetainedMessage, topic string, i int) (*models.RetainedMessage, error) {
	b, err := r.bucket(i)
	if err != nil {
		return nil, err
	}
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return nil, errors.ErrClosed
	}
	record := msg.Copy()
	record.Topic = topic
	record.Payload = nil
	prev := b.getTrie(topic).addRetainMsg(topic, record)
	if prev == nil {
		r.size.Add(1)
	}
	return prev, nil
}

func (r *retained) Remove(topic string, i int) (*models.RetainedMessage, error) {
	b, err := r.bucket(i)
	if err != nil {
		return nil, err
	}
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return nil, errors.ErrClosed
	}
	removed := b.getTrie(topic).remove(topic)
	if removed != nil {
		r.size.Add(-1)
	}
	return removed, nil
}

func (r *retained) GetAllTopics(filter string, i int) (generic.Set[string], error) {
	b, err := r.bucket(i)
	if err != nil {
		return nil, err
	}
	b.RLock()
	defer b.RUnlock()
	if b.closed {
		return nil, errors.ErrClosed
	}
	now := r.now()
	topics := generic.NewSet[string]()
	b.getTrie(filter).matchTopic(strings.Split(filter, "/"), func(msg *models.RetainedMessage) bool {
		if !msg.Expired(now) {
			topics.Add(msg.Topic)
		}
		return true
	})
	return topics, nil
}

func (r *retained) Size() (int64, error) {
	return r.size.Load(), nil
}

func (r *retained) CleanUp(i int) ([]uint64, error) {
	b, err := r.bucket(i)
	if err != nil {
		return nil, err
	}
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return nil, errors.ErrClosed
	}
	now := r.now()
	var released []uint64
	for _, trie := range []*retainTrie{b.userTrie, b.systemTrie} {
		var expired []string
		trie.preOrderTraverse(func(msg *models.RetainedMessage) bool {
			if msg.Expired(now) {
				expired = append(expired, msg.Topic)
			}
			return true
		})
		for _, topic := range expired {
			if msg := trie.remove(topic); msg != nil {
				released = append(released, msg.PayloadID)
				r.size.Add(-1)
			}
		}
	}
	return released, nil
}

func (r *retained) Clear(i int) ([]uint64, error) {
	b, err := r.bucket(i)
	if err != nil {
		return nil, err
	}
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return nil, errors.ErrClosed
	}
	released := b.payloadIDs()
	b.userTrie = newRetainTrie()
	b.systemTrie = newRetainTrie()
	r.size.Add(-int64(len(released)))
	return released, nil
}

// CloseDB drops the content of the bucket. Memory holds nothing to flush.
func (r *retained) CloseDB(i int) error {
	b, err := r.bucket(i)
	if err != nil {
		return err
	}
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return nil
	}
	r.size.Add(-int64(len(b.payloadIDs())))
	b.userTrie = newRetainTrie()
	b.systemTrie = newRetainTrie()
	b.closed = true
	return nil
}

func (b *bucket) payloadIDs() []uint64 {
	var ids []uint64
	collect := func(msg *models.RetainedMessage) bool {
		ids = append(ids, msg.PayloadID)
		return true
	}
	b.userTrie.preOrderTraverse(collect)
	b.systemTrie.preOrderTraverse(collect)
	return ids
}
