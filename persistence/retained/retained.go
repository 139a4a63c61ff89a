// Package retained stores the last retained message of every topic.
//
// Persistence routes each topic to one of a fixed number of buckets and runs all
// work of a bucket on that bucket's single writer lane, so operations on the same
// topic are applied in the order they were submitted. Payload bytes are kept apart
// from the records in a reference counted store shared by all buckets.
package retained

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gojekfarm/xtools/generic"
	"github.com/hashicorp/go-multierror"

	"github.com/zhimiaox/zmqx-retained/common"
	"github.com/zhimiaox/zmqx-retained/consts"
	"github.com/zhimiaox/zmqx-retained/errors"
	"github.com/zhimiaox/zmqx-retained/models"
	"github.com/zhimiaox/zmqx-retained/persistence"
	"github.com/zhimiaox/zmqx-retained/persistence/singlewriter"
)

type Option func(*Persistence)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Persistence) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock replaces time.Now, used to decide message expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Persistence) {
		if now != nil {
			p.now = now
		}
	}
}

// Persistence is the retained message orchestrator.
// Every method validates its arguments before scheduling anything; an invalid
// call returns an already failed future and never reaches the stores.
type Persistence struct {
	local    persistence.RetainedLocal
	payloads persistence.PayloadStore
	writer   *singlewriter.Service
	logger   *slog.Logger
	now      func() time.Time
	closed   atomic.Bool
}

// New creates the orchestrator. The writer must be started by the caller,
// its lane count is the bucket count.
func New(local persistence.RetainedLocal, payloads persistence.PayloadStore, writer *singlewriter.Service, opts ...Option) *Persistence {
	p := &Persistence{
		local:    local,
		payloads: payloads,
		writer:   writer,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("persistence", "retained")
	return p
}

// BucketCount returns the number of buckets topics are spread over.
func (p *Persistence) BucketCount() int {
	return p.writer.BucketCount()
}

func (p *Persistence) bucket(topic string) int {
	return persistence.Bucket(topic, p.writer.BucketCount())
}

func validTopic(topic string) error {
	if topic == "" {
		return errors.ErrNullInput
	}
	if len(topic) > consts.MaxTopicLength {
		return errors.ErrTopicTooLong
	}
	if common.ContainsWildcard(topic) {
		return errors.ErrInvalidTopicFilter
	}
	return nil
}

// Get returns the retained message of topic with its payload loaded, nil when there is none.
func (p *Persistence) Get(topic string) *common.Future[*models.RetainedMessage] {
	if err := validTopic(topic); err != nil {
		return common.Failed[*models.RetainedMessage](err)
	}
	if p.closed.Load() {
		return common.Failed[*models.RetainedMessage](errors.ErrClosed)
	}
	bucket := p.bucket(topic)
	return singlewriter.Submit(p.writer, bucket, func() (*models.RetainedMessage, error) {
		msg, err := p.local.Get(topic, bucket)
		if err != nil {
			return nil, errors.Collaborator("get", bucket, err)
		}
		if msg == nil || msg.Expired(p.now()) {
			return nil, nil
		}
		payload, err := p.payloads.Get(msg.PayloadID)
		if errors.Is(err, errors.ErrPayloadNotFound) {
			p.logger.Warn("retained message without payload", "topic", topic, "bucket", bucket, "payload_id", msg.PayloadID)
			return nil, nil
		}
		if err != nil {
			return nil, errors.Collaborator("payload get", bucket, err)
		}
		msg.Payload = payload
		return msg, nil
	})
}

// GetWithWildcards returns the topics of every retained message matching filter.
// Every bucket is scanned; the first bucket failure fails the result.
func (p *Persistence) GetWithWildcards(filter string) *common.Future[generic.Set[string]] {
	if filter == "" {
		return common.Failed[generic.Set[string]](errors.ErrNullInput)
	}
	if len(filter) > consts.MaxTopicLength {
		return common.Failed[generic.Set[string]](errors.ErrTopicTooLong)
	}
	if !common.ContainsWildcard(filter) || !common.ValidTopicFilter(filter) {
		return common.Failed[generic.Set[string]](errors.ErrInvalidTopicFilter)
	}
	if p.closed.Load() {
		return common.Failed[generic.Set[string]](errors.ErrClosed)
	}
	scans := make([]*common.Future[generic.Set[string]], p.BucketCount())
	for bucket := range scans {
		scans[bucket] = singlewriter.Submit(p.writer, bucket, func() (generic.Set[string], error) {
			topics, err := p.local.GetAllTopics(filter, bucket)
			return topics, errors.Collaborator("get all topics", bucket, err)
		})
	}
	return common.Map(common.All(scans), func(parts []generic.Set[string]) (generic.Set[string], error) {
		topics := generic.NewSet[string]()
		for _, part := range parts {
			for topic := range part {
				topics.Add(topic)
			}
		}
		return topics, nil
	})
}

// Persist stores msg as the retained message of topic.
// The payload reference is registered before the record is written, and the
// reference held by a replaced record is released after it.
func (p *Persistence) Persist(topic string, msg *models.RetainedMessage) *common.Future[struct{}] {
	if msg == nil {
		return common.Failed[struct{}](errors.ErrNullInput)
	}
	if err := validTopic(topic); err != nil {
		return common.Failed[struct{}](err)
	}
	if p.closed.Load() {
		return common.Failed[struct{}](errors.ErrClosed)
	}
	bucket := p.bucket(topic)
	record := msg.Copy()
	record.Topic = topic
	record.Payload = nil
	payload := msg.Payload
	return singlewriter.Submit(p.writer, bucket, func() (struct{}, error) {
		if err := p.payloads.Add(payload, 1, record.PayloadID); err != nil {
			return struct{}{}, errors.Collaborator("payload add", bucket, err)
		}
		prev, err := p.local.Put(record, topic, bucket)
		if err != nil {
			p.release(bucket, record.PayloadID)
			return struct{}{}, errors.Collaborator("put", bucket, err)
		}
		if prev != nil {
			p.release(bucket, prev.PayloadID)
		}
		return struct{}{}, nil
	})
}

// Remove deletes the retained message of topic. Removing an absent topic succeeds.
func (p *Persistence) Remove(topic string) *common.Future[struct{}] {
	if err := validTopic(topic); err != nil {
		return common.Failed[struct{}](err)
	}
	if p.closed.Load() {
		return common.Failed[struct{}](errors.ErrClosed)
	}
	bucket := p.bucket(topic)
	return singlewriter.Submit(p.writer, bucket, func() (struct{}, error) {
		removed, err := p.local.Remove(topic, bucket)
		if err != nil {
			return struct{}{}, errors.Collaborator("remove", bucket, err)
		}
		if removed != nil {
			p.release(bucket, removed.PayloadID)
		}
		return struct{}{}, nil
	})
}

// Size returns the number of retained messages over all buckets.
// It is a single query to the local store and does not go through the lanes,
// so writes still queued are not counted. Expired messages are counted until
// CleanUp, usually driven by the Sweeper, purges their bucket.
func (p *Persistence) Size() (int64, error) {
	if p.closed.Load() {
		return 0, errors.ErrClosed
	}
	n, err := p.local.Size()
	if err != nil {
		return 0, errors.Collaborator("size", -1, err)
	}
	return n, nil
}

// CleanUp purges the expired messages of one bucket.
func (p *Persistence) CleanUp(bucket int) *common.Future[struct{}] {
	if bucket < 0 || bucket >= p.BucketCount() {
		return common.Failed[struct{}](errors.ErrInvalidBucket)
	}
	if p.closed.Load() {
		return common.Failed[struct{}](errors.ErrClosed)
	}
	return singlewriter.Submit(p.writer, bucket, func() (struct{}, error) {
		released, err := p.local.CleanUp(bucket)
		if err != nil {
			return struct{}{}, errors.Collaborator("clean up", bucket, err)
		}
		if len(released) > 0 {
			p.logger.Debug("expired retained messages purged", "bucket", bucket, "count", len(released))
		}
		return struct{}{}, errors.Collaborator("clean up", bucket, p.releaseAll(released))
	})
}

// Clear removes every retained message.
func (p *Persistence) Clear() *common.Future[struct{}] {
	if p.closed.Load() {
		return common.Failed[struct{}](errors.ErrClosed)
	}
	return p.fanOut(func(bucket int) error {
		released, err := p.local.Clear(bucket)
		if err != nil {
			return errors.Collaborator("clear", bucket, err)
		}
		return errors.Collaborator("clear", bucket, p.releaseAll(released))
	})
}

// CloseDB closes every bucket after the work already queued on it.
// Every later call fails with errors.ErrClosed, including a second CloseDB.
func (p *Persistence) CloseDB() *common.Future[struct{}] {
	if !p.closed.CompareAndSwap(false, true) {
		return common.Failed[struct{}](errors.ErrClosed)
	}
	p.logger.Info("closing retained persistence", "buckets", p.BucketCount())
	return p.fanOut(func(bucket int) error {
		return errors.Collaborator("close", bucket, p.local.CloseDB(bucket))
	})
}

// fanOut runs fn once on every lane and resolves when all of them did,
// or as soon as one of them failed.
func (p *Persistence) fanOut(fn func(bucket int) error) *common.Future[struct{}] {
	tasks := make([]*common.Future[struct{}], p.BucketCount())
	for bucket := range tasks {
		tasks[bucket] = singlewriter.Submit(p.writer, bucket, func() (struct{}, error) {
			return struct{}{}, fn(bucket)
		})
	}
	return common.Discard(common.All(tasks))
}

// release drops one payload reference. A failure leaves a leaked reference
// behind but does not undo the record change it follows, so it is only logged.
func (p *Persistence) release(bucket int, payloadID uint64) {
	if err := p.payloads.Decrement(payloadID); err != nil {
		p.logger.Error("release payload reference", "bucket", bucket, "payload_id", payloadID, "err", err)
	}
}

func (p *Persistence) releaseAll(ids []uint64) error {
	var result *multierror.Error
	for _, id := range ids {
		if err := p.payloads.Decrement(id); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
