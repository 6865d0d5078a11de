package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/janael-pinheiro/lora-sensor-node/pkg/entities"
	"github.com/pkg/errors"
)

// Retained record layout, all multi-byte fields big endian:
//
//	magic "RS" (2) | version (1) | flags (1) | blob length (2) | blob | crc32 (4)
//
// The CRC covers every byte before it.
const (
	retainedVersion    = 1
	retainedHeaderSize = 6
	retainedCRCSize    = 4
	retainedMaxBlob    = 0xFFFF

	flagSessionValid = 1 << 0
)

var retainedMagic = [2]byte{'R', 'S'}

var (
	errRetainedEmpty   = errors.New("retained record empty")
	errRetainedInvalid = errors.New("retained record invalid")
)

func encodeRetained(session entities.Session) ([]byte, error) {
	if len(session.Blob) > retainedMaxBlob {
		return nil, errors.Errorf("session blob of %d bytes does not fit the retained record", len(session.Blob))
	}
	out := make([]byte, retainedHeaderSize, retainedHeaderSize+len(session.Blob)+retainedCRCSize)
	out[0], out[1] = retainedMagic[0], retainedMagic[1]
	out[2] = retainedVersion
	if session.Valid {
		out[3] |= flagSessionValid
	}
	binary.BigEndian.PutUint16(out[4:6], uint16(len(session.Blob)))
	out = append(out, session.Blob...)
	out = binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out))
	return out, nil
}

func decodeRetained(data []byte) (entities.Session, error) {
	if len(data) == 0 {
		return entities.Session{}, errRetainedEmpty
	}
	if len(data) < retainedHeaderSize+retainedCRCSize {
		return entities.Session{}, errors.Wrap(errRetainedInvalid, "short record")
	}
	if data[0] != retainedMagic[0] || data[1] != retainedMagic[1] {
		return entities.Session{}, errors.Wrap(errRetainedInvalid, "bad magic")
	}
	if data[2] != retainedVersion {
		return entities.Session{}, errors.Wrapf(errRetainedInvalid, "unsupported version %d", data[2])
	}
	blobLen := int(binary.BigEndian.Uint16(data[4:6]))
	end := retainedHeaderSize + blobLen
	if len(data) != end+retainedCRCSize {
		return entities.Session{}, errors.Wrap(errRetainedInvalid, "length mismatch")
	}
	if crc32.ChecksumIEEE(data[:end]) != binary.BigEndian.Uint32(data[end:]) {
		return entities.Session{}, errors.Wrap(errRetainedInvalid, "crc mismatch")
	}
	return entities.Session{
		Valid: data[3]&flagSessionValid != 0,
		Blob:  append([]byte(nil), data[retainedHeaderSize:end]...),
	}, nil
}
