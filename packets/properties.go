package packets

import (
	"bytes"
	"fmt"

	"github.com/zhimiaox/zmqx-retained/consts"
	"github.com/zhimiaox/zmqx-retained/errors"
)

const (
	PropPayloadFormat          byte = 0x01
	PropMessageExpiry          byte = 0x02
	PropContentType            byte = 0x03
	PropResponseTopic          byte = 0x08
	PropCorrelationData        byte = 0x09
	PropSubscriptionIdentifier byte = 0x0B
	PropTopicAlias             byte = 0x23
	PropUser                   byte = 0x26
)

type PayloadFormat = byte

const (
	PayloadFormatBytes  PayloadFormat = 0
	PayloadFormatString PayloadFormat = 1
)

type UserProperty struct {
	K []byte
	V []byte
}

// Properties holds the v5 properties a PUBLISH packet may carry.
type Properties struct {
	// PayloadFormat indicates the format of the payload of the message
	// 0 is unspecified bytes
	// 1 is UTF8 encoded character data
	PayloadFormat *byte
	// MessageExpiry is the lifetime of the message in seconds
	MessageExpiry *uint32
	// ContentType is a UTF8 string describing the content of the message
	ContentType []byte
	// ResponseTopic is the topic name to which any response should be sent
	ResponseTopic []byte
	// CorrelationData associates a response with its request
	CorrelationData []byte
	// SubscriptionIdentifier is only sent from server to client
	SubscriptionIdentifier []uint32
	TopicAlias             *uint16
	User                   []UserProperty
}

func (p *Properties) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("PayloadFormat: %v, MessageExpiry: %v, ContentType: %s, ResponseTopic: %s, TopicAlias: %v, User: %d",
		p.PayloadFormat, p.MessageExpiry, p.ContentType, p.ResponseTopic, p.TopicAlias, len(p.User))
}

func errMoreThanOnce(property byte) error {
	return errors.NewErrorf(consts.ProtocolError, "property %v presents more than once", property)
}

// Pack encodes the properties with their variable byte integer length prefix.
func (p *Properties) Pack(w *bytes.Buffer) error {
	buf := &bytes.Buffer{}
	if p != nil {
		if p.PayloadFormat != nil {
			buf.WriteByte(PropPayloadFormat)
			buf.WriteByte(*p.PayloadFormat)
		}
		if p.MessageExpiry != nil {
			buf.WriteByte(PropMessageExpiry)
			writeUint32(buf, *p.MessageExpiry)
		}
		if p.ContentType != nil {
			buf.WriteByte(PropContentType)
			writeBinary(buf, p.ContentType)
		}
		if p.ResponseTopic != nil {
			buf.WriteByte(PropResponseTopic)
			writeBinary(buf, p.ResponseTopic)
		}
		if p.CorrelationData != nil {
			buf.WriteByte(PropCorrelationData)
			writeBinary(buf, p.CorrelationData)
		}
		for _, id := range p.SubscriptionIdentifier {
			buf.WriteByte(PropSubscriptionIdentifier)
			b, err := EncodeRemainLength(int(id))
			if err != nil {
				return err
			}
			buf.Write(b)
		}
		if p.TopicAlias != nil {
			buf.WriteByte(PropTopicAlias)
			writeUint16(buf, *p.TopicAlias)
		}
		for _, u := range p.User {
			buf.WriteByte(PropUser)
			writeBinary(buf, u.K)
			writeBinary(buf, u.V)
		}
	}
	l, err := EncodeRemainLength(buf.Len())
	if err != nil {
		return err
	}
	w.Write(l)
	_, err = buf.WriteTo(w)
	return err
}

// Unpack reads the properties of a PUBLISH packet from r.
func (p *Properties) Unpack(r *bytes.Buffer) error {
	length, err := DecodeRemainLength(r)
	if err != nil {
		return err
	}
	if length > r.Len() {
		return errors.ErrMalformed
	}
	props := bytes.NewBuffer(r.Next(length))
	for props.Len() > 0 {
		id, err := DecodeRemainLength(props)
		if err != nil {
			return err
		}
		switch byte(id) {
		case PropPayloadFormat:
			if p.PayloadFormat != nil {
				return errMoreThanOnce(PropPayloadFormat)
			}
			b, err := props.ReadByte()
			if err != nil {
				return errors.ErrMalformed
			}
			if b != PayloadFormatBytes && b != PayloadFormatString {
				return errors.ErrProtocol
			}
			p.PayloadFormat = &b
		case PropMessageExpiry:
			if p.MessageExpiry != nil {
				return errMoreThanOnce(PropMessageExpiry)
			}
			v, err := readUint32(props)
			if err != nil {
				return err
			}
			p.MessageExpiry = &v
		case PropContentType:
			if p.ContentType != nil {
				return errMoreThanOnce(PropContentType)
			}
			if p.ContentType, err = readUTF8String(true, props); err != nil {
				return err
			}
		case PropResponseTopic:
			if p.ResponseTopic != nil {
				return errMoreThanOnce(PropResponseTopic)
			}
			if p.ResponseTopic, err = readUTF8String(true, props); err != nil {
				return err
			}
			if !ValidTopicName(true, p.ResponseTopic) {
				return errors.ErrProtocol
			}
		case PropCorrelationData:
			if p.CorrelationData != nil {
				return errMoreThanOnce(PropCorrelationData)
			}
			if p.CorrelationData, err = readBinary(props); err != nil {
				return err
			}
		case PropSubscriptionIdentifier:
			// only valid from server to client
			return errors.ErrProtocol
		case PropTopicAlias:
			if p.TopicAlias != nil {
				return errMoreThanOnce(PropTopicAlias)
			}
			v, err := readUint16(props)
			if err != nil {
				return err
			}
			p.TopicAlias = &v
		case PropUser:
			k, err := readUTF8String(true, props)
			if err != nil {
				return err
			}
			v, err := readUTF8String(true, props)
			if err != nil {
				return err
			}
			p.User = append(p.User, UserProperty{K: k, V: v})
		default:
			return errors.ErrMalformed
		}
	}
	return nil
}
