package archive

import (
	"encoding/binary"
	"fmt"
	"io"
)

// On-disk frame layout. Every frame starts with a signed 32-bit length
// followed by the rest of the fixed header; frames are padded out to
// FrameAlignment so the length field of the next frame is always aligned.
const (
	FrameAlignment = 32
	HeaderLength   = 32

	// DataOffset is where a data frame's payload begins.
	DataOffset = HeaderLength

	FrameTypePadding = 0x00
	FrameTypeData    = 0x01
)

// Reserved length values written by the recording writer. A zero length is an
// unwritten (zero-filled) region, which reads the same as the end-of-data
// marker: nothing here yet, retry later.
const (
	endOfRecordingLength int32 = -1
	endOfDataLength      int32 = -2
)

const (
	lengthFieldOffset = 0
	typeFieldOffset   = 6
)

// FrameKind is the decoded classification of the bytes at a frame offset.
// Sentinel lengths never escape the decode boundary as raw integers.
type FrameKind uint8

const (
	FrameData FrameKind = iota
	FramePadding
	FrameEndOfData
	FrameEndOfRecording
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "data"
	case FramePadding:
		return "padding"
	case FrameEndOfData:
		return "end-of-data"
	case FrameEndOfRecording:
		return "end-of-recording"
	}
	return "unknown"
}

// FrameHeader is the fixed 32-byte header preceding every frame's payload.
type FrameHeader struct {
	Length     int32
	Version    uint8
	Flags      uint8
	Type       uint16
	TermOffset int32
	SessionID  int32
	StreamID   int32
	TermID     int32
	Reserved   int64
}

// MarshalTo encodes the header into buf, which must be at least HeaderLength bytes.
func (h FrameHeader) MarshalTo(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.Length))
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], h.Type)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.TermOffset))
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.SessionID))
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.StreamID))
	binary.BigEndian.PutUint32(buf[20:24], uint32(h.TermID))
	binary.BigEndian.PutUint64(buf[24:32], uint64(h.Reserved))
}

// UnmarshalFrameHeader decodes a fixed header from buf.
func UnmarshalFrameHeader(buf []byte) FrameHeader {
	return FrameHeader{
		Length:     int32(binary.BigEndian.Uint32(buf[0:4])),
		Version:    buf[4],
		Flags:      buf[5],
		Type:       binary.BigEndian.Uint16(buf[6:8]),
		TermOffset: int32(binary.BigEndian.Uint32(buf[8:12])),
		SessionID:  int32(binary.BigEndian.Uint32(buf[12:16])),
		StreamID:   int32(binary.BigEndian.Uint32(buf[16:20])),
		TermID:     int32(binary.BigEndian.Uint32(buf[20:24])),
		Reserved:   int64(binary.BigEndian.Uint64(buf[24:32])),
	}
}

// FrameInfo is the tagged result of peeking at a frame offset. Length and
// AlignedLength are only meaningful for data and padding frames.
type FrameInfo struct {
	Kind          FrameKind
	Length        int32
	AlignedLength int32
}

// PeekFrame classifies the frame beginning at offset without consuming it.
func PeekFrame(r io.ReaderAt, offset int64) (FrameInfo, error) {
	var lenBuf [4]byte
	if _, err := r.ReadAt(lenBuf[:], offset+lengthFieldOffset); err != nil {
		return FrameInfo{}, fmt.Errorf("read frame length at %d: %w", offset, err)
	}

	frameLength := int32(binary.BigEndian.Uint32(lenBuf[:]))
	switch frameLength {
	case endOfRecordingLength:
		return FrameInfo{Kind: FrameEndOfRecording}, nil
	case endOfDataLength, 0:
		return FrameInfo{Kind: FrameEndOfData}, nil
	}

	if frameLength < HeaderLength {
		return FrameInfo{}, fmt.Errorf("corrupt frame length %d at offset %d", frameLength, offset)
	}

	var typeBuf [2]byte
	if _, err := r.ReadAt(typeBuf[:], offset+typeFieldOffset); err != nil {
		return FrameInfo{}, fmt.Errorf("read frame type at %d: %w", offset, err)
	}

	kind := FrameData
	if binary.BigEndian.Uint16(typeBuf[:]) == FrameTypePadding {
		kind = FramePadding
	}

	return FrameInfo{
		Kind:          kind,
		Length:        frameLength,
		AlignedLength: AlignFrame(frameLength),
	}, nil
}

// AlignFrame rounds length up to the next FrameAlignment boundary.
func AlignFrame(length int32) int32 {
	return (length + FrameAlignment - 1) &^ (FrameAlignment - 1)
}

// IsPowerOfTwo reports whether v is a positive power of two.
func IsPowerOfTwo(v int32) bool {
	return v > 0 && v&(v-1) == 0
}
