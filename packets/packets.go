package packets

import (
	"bytes"
	"encoding/binary"
	"io"
	"unicode/utf8"

	"github.com/zhimiaox/zmqx-retained/errors"
)

// Version is the MQTT protocol level carried in CONNECT.
type Version = byte

const (
	Version31  Version = 0x03
	Version311 Version = 0x04
	Version5   Version = 0x05
)

func IsVersion3X(v Version) bool {
	return v == Version31 || v == Version311
}

func IsVersion5(v Version) bool {
	return v == Version5
}

// PacketID is the packet identifier of QoS 1 and QoS 2 publishes.
type PacketID = uint16

// MinPacketID is the lowest packet identifier a QoS 1 or QoS 2 publish may carry.
const MinPacketID PacketID = 1

const (
	Qos0 uint8 = 0x00
	Qos1 uint8 = 0x01
	Qos2 uint8 = 0x02
)

// Control packet types.
const (
	RESERVED = iota
	CONNECT
	CONNACK
	PUBLISH
	PUBACK
	PUBREC
	PUBREL
	PUBCOMP
	SUBSCRIBE
	SUBACK
	UNSUBSCRIBE
	UNSUBACK
	PINGREQ
	PINGRESP
	DISCONNECT
	AUTH
)

const (
	// MaxSize is the largest remaining length a variable byte integer can carry.
	MaxSize = 268435455
	// maxRemainLengthBytes bounds the continuation bytes of the remaining length field.
	maxRemainLengthBytes = 4
)

// FixHeader represents the FixHeader of the MQTT packet
type FixHeader struct {
	PacketType   byte
	Flags        byte
	RemainLength int
}

// Pack encodes the FixHeader into bytes and writes it into io.Writer.
func (fh *FixHeader) Pack(w io.Writer) error {
	var err error
	b := make([]byte, 1)
	b[0] = fh.PacketType<<4 | fh.Flags
	packetLen, err := EncodeRemainLength(fh.RemainLength)
	if err != nil {
		return err
	}
	b = append(b, packetLen...)
	_, err = w.Write(b)
	return err
}

// ReadFixHeader reads the first byte and the remaining length of a packet.
func ReadFixHeader(r io.Reader) (*FixHeader, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, err
	}
	fh := &FixHeader{
		PacketType: first[0] >> 4,
		Flags:      first[0] & 0x0F,
	}
	length, err := DecodeRemainLength(byteReader{r})
	if err != nil {
		return nil, err
	}
	fh.RemainLength = length
	return fh, nil
}

type byteReader struct {
	io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var one [1]byte
	if _, err := io.ReadFull(b.Reader, one[:]); err != nil {
		return 0, err
	}
	return one[0], nil
}

// EncodeRemainLength returns the variable byte integer form of length.
func EncodeRemainLength(length int) ([]byte, error) {
	if length < 0 || length > MaxSize {
		return nil, errors.ErrMalformed
	}
	result := make([]byte, 0, maxRemainLengthBytes)
	for {
		digit := byte(length % 128)
		length /= 128
		if length > 0 {
			digit |= 0x80
		}
		result = append(result, digit)
		if length == 0 {
			return result, nil
		}
	}
}

// DecodeRemainLength reads a variable byte integer of at most four bytes.
func DecodeRemainLength(r io.ByteReader) (int, error) {
	var (
		length     int
		multiplier = 1
	)
	for i := 0; i < maxRemainLengthBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, errors.ErrMalformed
		}
		length += int(b&127) * multiplier
		if b&128 == 0 {
			return length, nil
		}
		multiplier *= 128
	}
	return 0, errors.ErrMalformed
}

func writeUint16(w *bytes.Buffer, i uint16) {
	w.WriteByte(byte(i >> 8))
	w.WriteByte(byte(i))
}

func writeUint32(w *bytes.Buffer, i uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], i)
	w.Write(b[:])
}

func writeBinary(w *bytes.Buffer, b []byte) {
	writeUint16(w, uint16(len(b)))
	w.Write(b)
}

func readUint16(r *bytes.Buffer) (uint16, error) {
	if r.Len() < 2 {
		return 0, errors.ErrMalformed
	}
	return binary.BigEndian.Uint16(r.Next(2)), nil
}

func readUint32(r *bytes.Buffer) (uint32, error) {
	if r.Len() < 4 {
		return 0, errors.ErrMalformed
	}
	return binary.BigEndian.Uint32(r.Next(4)), nil
}

// readBinary reads a two byte length prefixed field. A declared length
// exceeding the remaining bytes is malformed.
func readBinary(r *bytes.Buffer) ([]byte, error) {
	l, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	if int(l) > r.Len() {
		return nil, errors.ErrMalformed
	}
	b := make([]byte, l)
	copy(b, r.Next(int(l)))
	return b, nil
}

// readUTF8String reads a length prefixed UTF-8 string and checks it with ValidUTF8.
func readUTF8String(mustUTF8 bool, r *bytes.Buffer) ([]byte, error) {
	b, err := readBinary(r)
	if err != nil {
		return nil, err
	}
	if mustUTF8 && !ValidUTF8(b) {
		return nil, errors.ErrMalformed
	}
	return b, nil
}

// ValidUTF8 reports whether p is well-formed UTF-8 free of control characters
// and Unicode non-characters. utf8.Valid already refuses overlong forms and surrogates.
func ValidUTF8(p []byte) bool {
	if !utf8.Valid(p) {
		return false
	}
	for len(p) > 0 {
		r, size := utf8.DecodeRune(p)
		p = p[size:]
		if r <= 0x1F || (r >= 0x7F && r <= 0x9F) {
			return false
		}
		if isNonCharacter(r) {
			return false
		}
	}
	return true
}

func isNonCharacter(r rune) bool {
	if r >= 0xFDD0 && r <= 0xFDEF {
		return true
	}
	return r&0xFFFE == 0xFFFE
}

// ValidTopicName reports whether p is a usable topic name.
// Topic names must be non-empty and must not contain wildcard characters.
func ValidTopicName(mustUTF8 bool, p []byte) bool {
	if len(p) == 0 {
		return false
	}
	if bytes.ContainsAny(p, "#+") {
		return false
	}
	return !mustUTF8 || ValidUTF8(p)
}
