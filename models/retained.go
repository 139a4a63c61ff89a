package models

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/zhimiaox/zmqx-retained/common"
	"github.com/zhimiaox/zmqx-retained/packets"
)

// RetainedMessage is the last retained publish stored for a topic.
// The payload bytes live in the payload store and are referenced by PayloadID.
type RetainedMessage struct {
	Dup      bool
	QoS      uint8
	Retained bool
	Topic    string
	// Payload is filled on read and never encoded with the record.
	Payload     []byte
	PayloadID   uint64
	PayloadSize uint32
	// Timestamp is the unix time in milliseconds the message was received.
	Timestamp int64
	// ExpiryInterval is the message lifetime in seconds, 0 never expires.
	ExpiryInterval uint32
	// The following fields are introduced in v5 specification.
	ContentType     string
	CorrelationData []byte
	PayloadFormat   packets.PayloadFormat
	ResponseTopic   string
	UserProperties  []packets.UserProperty
}

// PayloadID returns the content address of payload.
// Identical payloads share one entry in the payload store.
func PayloadID(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// NewRetainedMessage builds a record for topic and stamps it with now.
func NewRetainedMessage(topic string, qos uint8, payload []byte, now time.Time) *RetainedMessage {
	return &RetainedMessage{
		QoS:         qos,
		Retained:    true,
		Topic:       topic,
		Payload:     payload,
		PayloadID:   PayloadID(payload),
		PayloadSize: uint32(len(payload)),
		Timestamp:   now.UnixMilli(),
	}
}

// Expired reports whether the message lifetime has elapsed at now.
func (m *RetainedMessage) Expired(now time.Time) bool {
	if m == nil || m.ExpiryInterval == 0 {
		return false
	}
	deadline := time.UnixMilli(m.Timestamp).Add(time.Duration(m.ExpiryInterval) * time.Second)
	return !now.Before(deadline)
}

// Copy deep copies the record and returns the new one
func (m *RetainedMessage) Copy() *RetainedMessage {
	if m == nil {
		return nil
	}
	n := *m
	if m.Payload != nil {
		n.Payload = append([]byte(nil), m.Payload...)
	}
	if m.CorrelationData != nil {
		n.CorrelationData = append([]byte(nil), m.CorrelationData...)
	}
	if len(m.UserProperties) != 0 {
		n.UserProperties = make([]packets.UserProperty, len(m.UserProperties))
		for k, u := range m.UserProperties {
			n.UserProperties[k] = packets.UserProperty{
				K: append([]byte(nil), u.K...),
				V: append([]byte(nil), u.V...),
			}
		}
	}
	return &n
}

// RetainedFromPublish creates the record for a retained publish packet received at now.
func RetainedFromPublish(p *packets.Publish, now time.Time) *RetainedMessage {
	m := NewRetainedMessage(string(p.TopicName), p.Qos, p.Payload, now)
	m.Dup = p.Dup
	if packets.IsVersion5(p.Version) && p.Properties != nil {
		if p.Properties.PayloadFormat != nil {
			m.PayloadFormat = *p.Properties.PayloadFormat
		}
		if l := len(p.Properties.ContentType); l != 0 {
			m.ContentType = string(p.Properties.ContentType)
		}
		if l := len(p.Properties.CorrelationData); l != 0 {
			m.CorrelationData = p.Properties.CorrelationData
		}
		if p.Properties.MessageExpiry != nil {
			m.ExpiryInterval = *p.Properties.MessageExpiry
		}
		if l := len(p.Properties.ResponseTopic); l != 0 {
			m.ResponseTopic = string(p.Properties.ResponseTopic)
		}
		m.UserProperties = p.Properties.User
	}
	return m
}

// EncodeRetained encodes the record, without its payload bytes, and writes it to the buffer
func EncodeRetained(msg *RetainedMessage, b *bytes.Buffer) {
	if msg == nil {
		return
	}
	common.WriteBool(b, msg.Dup)
	b.WriteByte(msg.QoS)
	common.WriteBool(b, msg.Retained)
	common.WriteString(b, msg.Topic)
	common.WriteUint64(b, msg.PayloadID)
	common.WriteUint32(b, msg.PayloadSize)
	common.WriteUint64(b, uint64(msg.Timestamp))

	if len(msg.ContentType) != 0 {
		b.WriteByte(packets.PropContentType)
		common.WriteString(b, msg.ContentType)
	}
	if len(msg.CorrelationData) != 0 {
		b.WriteByte(packets.PropCorrelationData)
		common.WriteBytes(b, msg.CorrelationData)
	}
	if msg.ExpiryInterval != 0 {
		b.WriteByte(packets.PropMessageExpiry)
		common.WriteUint32(b, msg.ExpiryInterval)
	}
	b.WriteByte(packets.PropPayloadFormat)
	b.WriteByte(msg.PayloadFormat)

	if len(msg.ResponseTopic) != 0 {
		b.WriteByte(packets.PropResponseTopic)
		common.WriteString(b, msg.ResponseTopic)
	}
	for _, v := range msg.UserProperties {
		b.WriteByte(packets.PropUser)
		common.WriteBytes(b, v.K)
		common.WriteBytes(b, v.V)
	}
}

// DecodeRetained decodes a record from buffer. Payload is left empty.
func DecodeRetained(b *bytes.Buffer) (msg *RetainedMessage, err error) {
	msg = &RetainedMessage{}
	if msg.Dup, err = common.ReadBool(b); err != nil {
		return nil, err
	}
	if msg.QoS, err = b.ReadByte(); err != nil {
		return nil, err
	}
	if msg.Retained, err = common.ReadBool(b); err != nil {
		return nil, err
	}
	if msg.Topic, err = common.ReadString(b); err != nil {
		return nil, err
	}
	if msg.PayloadID, err = common.ReadUint64(b); err != nil {
		return nil, err
	}
	if msg.PayloadSize, err = common.ReadUint32(b); err != nil {
		return nil, err
	}
	ts, err := common.ReadUint64(b)
	if err != nil {
		return nil, err
	}
	msg.Timestamp = int64(ts)
	for {
		pt, err := b.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return msg, nil
			}
			return nil, err
		}
		switch pt {
		case packets.PropContentType:
			if msg.ContentType, err = common.ReadString(b); err != nil {
				return nil, err
			}
		case packets.PropCorrelationData:
			if msg.CorrelationData, err = common.ReadBytes(b); err != nil {
				return nil, err
			}
		case packets.PropMessageExpiry:
			if msg.ExpiryInterval, err = common.ReadUint32(b); err != nil {
				return nil, err
			}
		case packets.PropPayloadFormat:
			if msg.PayloadFormat, err = b.ReadByte(); err != nil {
				return nil, err
			}
		case packets.PropResponseTopic:
			if msg.ResponseTopic, err = common.ReadString(b); err != nil {
				return nil, err
			}
		case packets.PropUser:
			k, err := common.ReadBytes(b)
			if err != nil {
				return nil, err
			}
			v, err := common.ReadBytes(b)
			if err != nil {
				return nil, err
			}
			msg.UserProperties = append(msg.UserProperties, packets.UserProperty{K: k, V: v})
		default:
			return nil, errors.New("unknown retained record property")
		}
	}
}

// MarshalRetained returns the encoded form of msg.
func MarshalRetained(msg *RetainedMessage) []byte {
	b := &bytes.Buffer{}
	EncodeRetained(msg, b)
	return b.Bytes()
}

// UnmarshalRetained decodes a record previously produced by MarshalRetained.
func UnmarshalRetained(data []byte) (*RetainedMessage, error) {
	return DecodeRetained(bytes.NewBuffer(data))
}
