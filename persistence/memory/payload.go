package memory

import (
	"sync"

	"github.com/zhimiaox/zmqx-retained/errors"
	"github.com/zhimiaox/zmqx-retained/persistence"
)

var _ persistence.PayloadStore = (*payloads)(nil)

type payloadEntry struct {
	payload []byte
	refs    int64
}

// payloads is shared by every bucket, its own mutex guards the counters.
type payloads struct {
	sync.Mutex
	entries map[uint64]*payloadEntry
}

func newPayloads() *payloads {
	return &payloads{entries: make(map[uint64]*payloadEntry)}
}

func (p *payloads) Add(payload []byte, referenceCount int64, payloadID uint64) error {
	p.Lock()
	defer p.Unlock()
	if e, ok := p.entries[payloadID]; ok {
		e.refs += referenceCount
		return nil
	}
	p.entries[payloadID] = &payloadEntry{
		payload: append([]byte(nil), payload...),
		refs:    referenceCount,
	}
	return nil
}

func (p *payloads) Get(payloadID uint64) ([]byte, error) {
	p.Lock()
	defer p.Unlock()
	e, ok := p.entries[payloadID]
	if !ok {
		return nil, errors.ErrPayloadNotFound
	}
	return append([]byte(nil), e.payload...), nil
}

func (p *payloads) Decrement(payloadID uint64) error {
	p.Lock()
	defer p.Unlock()
	e, ok := p.entries[payloadID]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs <= 0 {
		delete(p.entries, payloadID)
	}
	return nil
}

func (p *payloads) ReferenceCount(payloadID uint64) (int64, error) {
	p.Lock()
	defer p.Unlock()
	if e, ok := p.entries[payloadID]; ok {
		return e.refs, nil
	}
	return 0, nil
}

func (p *payloads) Close() error {
	p.Lock()
	defer p.Unlock()
	p.entries = make(map[uint64]*payloadEntry)
	return nil
}
