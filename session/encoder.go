package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionCurrent = 1

const maxUserAgentBytes = 1024

// ErrCorruptRecord is returned when a stored blob cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt session record")

// Encode serializes s into the versioned binary format. Oversized user agents
// are truncated.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	if err := writeShort(&buf, s.ID, "session id"); err != nil {
		return nil, err
	}
	if err := writeShort(&buf, s.UserID, "user id"); err != nil {
		return nil, err
	}
	buf.Write(s.SecretHash[:])

	for _, v := range []int64{s.CreatedAt, s.ExpiresAt, s.Lifetime} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	if s.Active {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	if err := writeShort(&buf, s.IPAddress, "ip address"); err != nil {
		return nil, err
	}

	ua := s.UserAgent
	if len(ua) > maxUserAgentBytes {
		ua = ua[:maxUserAgentBytes]
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(ua))); err != nil {
		return nil, err
	}
	buf.WriteString(ua)

	return buf.Bytes(), nil
}

// Decode parses a blob written by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrCorruptRecord
	}
	if version != sessionFormatVersionCurrent {
		return nil, ErrCorruptRecord
	}

	s := &Session{}
	if s.ID, err = readShort(reader); err != nil {
		return nil, ErrCorruptRecord
	}
	if s.UserID, err = readShort(reader); err != nil {
		return nil, ErrCorruptRecord
	}
	if _, err := io.ReadFull(reader, s.SecretHash[:]); err != nil {
		return nil, ErrCorruptRecord
	}
	for _, dst := range []*int64{&s.CreatedAt, &s.ExpiresAt, &s.Lifetime} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, ErrCorruptRecord
		}
	}

	active, err := reader.ReadByte()
	if err != nil || active > 1 {
		return nil, ErrCorruptRecord
	}
	s.Active = active == 1

	if s.IPAddress, err = readShort(reader); err != nil {
		return nil, ErrCorruptRecord
	}

	var uaLen uint16
	if err := binary.Read(reader, binary.BigEndian, &uaLen); err != nil {
		return nil, ErrCorruptRecord
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, ErrCorruptRecord
	}
	s.UserAgent = string(ua)

	if reader.Len() != 0 {
		return nil, ErrCorruptRecord
	}
	return s, nil
}

func writeShort(buf *bytes.Buffer, v, field string) error {
	if len(v) > 255 {
		return errors.New(field + " too long")
	}
	buf.WriteByte(byte(len(v)))
	buf.WriteString(v)
	return nil
}

func readShort(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
