package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/zhimiaox/zmqx-retained/errors"
	"github.com/zhimiaox/zmqx-retained/persistence"
)

var _ persistence.PayloadStore = (*payloads)(nil)

// addScript creates the payload on its first reference and adds ARGV[3] references.
var addScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 0 then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
end
return redis.call('HINCRBY', KEYS[2], ARGV[1], ARGV[3])
`)

// decrementScript drops one reference and deletes the payload when none is left.
var decrementScript = redis.NewScript(`
local count = tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '0')
if count <= 0 then
	return 0
end
if count == 1 then
	redis.call('HDEL', KEYS[2], ARGV[1])
	redis.call('HDEL', KEYS[1], ARGV[1])
	return 0
end
return redis.call('HINCRBY', KEYS[2], ARGV[1], -1)
`)

// payloads is shared by every bucket; the scripts keep each counter update atomic
// for all brokers using the same redis.
type payloads struct {
	rdb  redis.UniversalClient
	keys []string
}

func (s *store) newPayloads() *payloads {
	return &payloads{
		rdb:  s.rdb,
		keys: []string{fmt.Sprintf(payloadDataKey, s.prefix), fmt.Sprintf(payloadRefsKey, s.prefix)},
	}
}

func field(payloadID uint64) string {
	return strconv.FormatUint(payloadID, 10)
}

func (p *payloads) Add(payload []byte, referenceCount int64, payloadID uint64) error {
	return addScript.Run(context.Background(), p.rdb, p.keys, field(payloadID), payload, referenceCount).Err()
}

func (p *payloads) Get(payloadID uint64) ([]byte, error) {
	payload, err := p.rdb.HGet(context.Background(), p.keys[0], field(payloadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.ErrPayloadNotFound
	}
	return payload, err
}

func (p *payloads) Decrement(payloadID uint64) error {
	return decrementScript.Run(context.Background(), p.rdb, p.keys, field(payloadID)).Err()
}

func (p *payloads) ReferenceCount(payloadID uint64) (int64, error) {
	n, err := p.rdb.HGet(context.Background(), p.keys[1], field(payloadID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (p *payloads) Close() error {
	return p.rdb.Close()
}
