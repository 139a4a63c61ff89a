package redis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gojekfarm/xtools/generic"
	"github.com/redis/go-redis/v9"

	"github.com/zhimiaox/zmqx-retained/common"
	"github.com/zhimiaox/zmqx-retained/errors"
	"github.com/zhimiaox/zmqx-retained/models"
	"github.com/zhimiaox/zmqx-retained/persistence"
)

var _ persistence.RetainedLocal = (*retained)(nil)

// swapScript stores ARGV[2] under field ARGV[1], or deletes the field when ARGV[2] is absent,
// and returns the previous value.
var swapScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[1], ARGV[1])
if ARGV[2] then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
else
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return prev
`)

const scanCount = 256

// retained keeps each bucket in its own hash, topic => encoded record.
type retained struct {
	s      *store
	logger *slog.Logger
	mu     sync.RWMutex
	closed []bool
}

func (s *store) newRetained(bucketCount int) *retained {
	return &retained{
		s:      s,
		logger: s.logger.With("persistence", "retained"),
		closed: make([]bool, bucketCount),
	}
}

func (t *retained) key(bucket int) (string, error) {
	if bucket < 0 || bucket >= len(t.closed) {
		return "", errors.ErrInvalidBucket
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed[bucket] {
		return "", errors.ErrClosed
	}
	return t.s.bucketKey(bucket), nil
}

func decode(data string) (*models.RetainedMessage, error) {
	return models.UnmarshalRetained([]byte(data))
}

// swap runs swapScript, returning the decoded previous record.
func (t *retained) swap(key, topic string, record []byte) (*models.RetainedMessage, error) {
	args := []any{topic}
	if record != nil {
		args = append(args, record)
	}
	prev, err := swapScript.Run(context.Background(), t.s.rdb, []string{key}, args...).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(prev)
}

func (t *retained) Get(topic string, bucket int) (*models.RetainedMessage, error) {
	key, err := t.key(bucket)
	if err != nil {
		return nil, err
	}
	data, err := t.s.rdb.HGet(context.Background(), key, topic).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	msg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if msg.Expired(t.s.now()) {
		return nil, nil
	}
	return msg, nil
}

func (t *retained) Put(msg *models.RetainedMessage, topic string, bucket int) (*models.RetainedMessage, error) {
	key, err := t.key(bucket)
	if err != nil {
		return nil, err
	}
	record := msg.Copy()
	record.Topic = topic
	record.Payload = nil
	return t.swap(key, topic, models.MarshalRetained(record))
}

func (t *retained) Remove(topic string, bucket int) (*models.RetainedMessage, error) {
	key, err := t.key(bucket)
	if err != nil {
		return nil, err
	}
	return t.swap(key, topic, nil)
}

// scan calls fn for every record of the bucket hash.
func (t *retained) scan(key string, fn func(msg *models.RetainedMessage)) error {
	ctx := context.Background()
	iter := t.s.rdb.HScan(ctx, key, 0, "", scanCount).Iterator()
	for iter.Next(ctx) {
		// HSCAN yields field, value pairs
		if !iter.Next(ctx) {
			break
		}
		msg, err := decode(iter.Val())
		if err != nil {
			t.logger.Warn("skip undecodable retained record", "key", key, "err", err)
			continue
		}
		fn(msg)
	}
	return iter.Err()
}

func (t *retained) GetAllTopics(filter string, bucket int) (generic.Set[string], error) {
	key, err := t.key(bucket)
	if err != nil {
		return nil, err
	}
	now := t.s.now()
	topics := generic.NewSet[string]()
	err = t.scan(key, func(msg *models.RetainedMessage) {
		if common.MatchTopic(filter, msg.Topic) && !msg.Expired(now) {
			topics.Add(msg.Topic)
		}
	})
	if err != nil {
		return nil, err
	}
	return topics, nil
}

// Size sums the hash lengths of every bucket in one pipeline.
func (t *retained) Size() (int64, error) {
	ctx := context.Background()
	cmds, err := t.s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for bucket := range t.closed {
			pipe.HLen(ctx, t.s.bucketKey(bucket))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, cmd := range cmds {
		total += cmd.(*redis.IntCmd).Val()
	}
	return total, nil
}

func (t *retained) CleanUp(bucket int) ([]uint64, error) {
	now := t.s.now()
	return t.deleteWhere(bucket, func(msg *models.RetainedMessage) bool {
		return msg.Expired(now)
	})
}

func (t *retained) Clear(bucket int) ([]uint64, error) {
	return t.deleteWhere(bucket, func(*models.RetainedMessage) bool {
		return true
	})
}

func (t *retained) deleteWhere(bucket int, fn func(msg *models.RetainedMessage) bool) ([]uint64, error) {
	key, err := t.key(bucket)
	if err != nil {
		return nil, err
	}
	var (
		topics   []string
		released []uint64
	)
	err = t.scan(key, func(msg *models.RetainedMessage) {
		if fn(msg) {
			topics = append(topics, msg.Topic)
			released = append(released, msg.PayloadID)
		}
	})
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, nil
	}
	if err := t.s.rdb.HDel(context.Background(), key, topics...).Err(); err != nil {
		return nil, err
	}
	return released, nil
}

// CloseDB stops serving the bucket. The data stays in redis.
func (t *retained) CloseDB(bucket int) error {
	if bucket < 0 || bucket >= len(t.closed) {
		return errors.ErrInvalidBucket
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed[bucket] = true
	return nil
}
