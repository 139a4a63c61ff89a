package packets

import (
	"io"

	"github.com/zhimiaox/zmqx-retained/errors"
)

// Decoder reads PUBLISH packets from an inbound stream.
// Any error it returns means the stream is no longer usable and the connection must be closed.
type Decoder struct {
	Version Version
	// RetainAvailable mirrors the retain_available setting. When false a retained publish is refused.
	RetainAvailable bool
	// MaxPacketSize bounds the remaining length, 0 means MaxSize.
	MaxPacketSize uint32
}

// ReadPublish reads exactly one PUBLISH packet from r.
func (d *Decoder) ReadPublish(r io.Reader) (*Publish, error) {
	fh, err := ReadFixHeader(r)
	if err != nil {
		return nil, err
	}
	if fh.PacketType != PUBLISH {
		return nil, errors.ErrProtocol
	}
	if d.MaxPacketSize != 0 && fh.RemainLength > int(d.MaxPacketSize) {
		return nil, errors.ErrPacketTooLarge
	}
	pub, err := NewPublishPacket(fh, d.Version, r)
	if err != nil {
		return nil, err
	}
	if pub.Retain && !d.RetainAvailable {
		return nil, errors.ErrRetainNotSupported
	}
	return pub, nil
}
