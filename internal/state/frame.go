package state

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"time"

	"alats/internal/model"
	"alats/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

const (
	frameVersion      uint16 = 1
	frameHeaderSize          = 16
	frameChecksumSize        = 4
)

var (
	frameMagic = [4]byte{'A', 'C', 'K', 'P'}
	crcTable   = crc32.MakeTable(crc32.Castagnoli)
)

// Checkpoint is a point-in-time copy of everything needed to resume trading.
type Checkpoint struct {
	Seq       uint64          `json:"seq"`
	CreatedAt time.Time       `json:"createdAt"`
	Reason    string          `json:"reason"`
	Risk      model.RiskState `json:"risk"`
	Orders    []model.Order   `json:"orders"`
}

// Encode frames a checkpoint: a 16-byte header (magic, version, header size,
// body length, reserved), the JSON body and a CRC32-C trailer over both.
func Encode(cp Checkpoint) ([]byte, error) {
	body, err := sonic.Marshal(cp)
	if err != nil {
		return nil, errors.Wrap(err, "marshal checkpoint")
	}

	buf := make([]byte, frameHeaderSize+len(body)+frameChecksumSize)
	copy(buf[0:4], frameMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], frameVersion)
	binary.LittleEndian.PutUint16(buf[6:8], frameHeaderSize)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(body)))
	binary.LittleEndian.PutUint32(buf[12:16], 0)
	copy(buf[frameHeaderSize:], body)

	end := frameHeaderSize + len(body)
	binary.LittleEndian.PutUint32(buf[end:], crc32.Checksum(buf[:end], crcTable))
	return buf, nil
}

// Decode verifies the frame and unmarshals the checkpoint.
func Decode(data []byte) (Checkpoint, error) {
	if len(data) < frameHeaderSize+frameChecksumSize {
		return Checkpoint{}, exception.ErrTruncated
	}
	if !bytes.Equal(data[0:4], frameMagic[:]) {
		return Checkpoint{}, exception.ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(data[4:6]); ver != frameVersion {
		return Checkpoint{}, exception.ErrUnsupportedVer
	}
	if size := binary.LittleEndian.Uint16(data[6:8]); size != frameHeaderSize {
		return Checkpoint{}, exception.ErrUnsupportedVer
	}
	bodyLen := int(binary.LittleEndian.Uint32(data[8:12]))
	end := frameHeaderSize + bodyLen
	if len(data) != end+frameChecksumSize {
		return Checkpoint{}, exception.ErrTruncated
	}
	if binary.LittleEndian.Uint32(data[end:]) != crc32.Checksum(data[:end], crcTable) {
		return Checkpoint{}, exception.ErrChecksumMismatch
	}

	var cp Checkpoint
	if err := sonic.Unmarshal(data[frameHeaderSize:end], &cp); err != nil {
		return Checkpoint{}, errors.Wrap(err, "unmarshal checkpoint")
	}
	return cp, nil
}
