package common

import (
	"bufio"
	"io"
	"sync"
)

var (
	ioPoolInstance IOPool
	ioPoolOnce     sync.Once
)

// IOPool recycles buffered readers between inbound connections.
type IOPool interface {
	GetReader(r io.Reader, size int) *bufio.Reader
	PutReader(br *bufio.Reader)
}

type poolImpl struct {
	reader sync.Pool
}

func (p *poolImpl) GetReader(r io.Reader, size int) *bufio.Reader {
	if v := p.reader.Get(); v != nil {
		br := v.(*bufio.Reader)
		br.Reset(r)
		return br
	}
	return bufio.NewReaderSize(r, size)
}

func (p *poolImpl) PutReader(br *bufio.Reader) {
	br.Reset(nil)
	p.reader.Put(br)
}

func GetIOPool() IOPool {
	ioPoolOnce.Do(func() {
		ioPoolInstance = &poolImpl{}
	})
	return ioPoolInstance
}
