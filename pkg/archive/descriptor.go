package archive

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Descriptor is the fixed-format metadata record persisted alongside a
// recording's segment files. A reader loads it once at construction; for a
// recording still being written the stop position is a snapshot and only a
// lower bound on the eventual recorded length.
type Descriptor struct {
	RecordingID       int64
	TermBufferLength  int32
	SegmentFileLength int32
	StartTimestamp    int64
	StopTimestamp     int64
	JoinPosition      int64
	StopPosition      int64
	SessionID         int32
	StreamID          int32
}

const (
	descriptorMagic   uint32 = 0x474F4152 // "GOAR"
	descriptorVersion uint32 = 1
	descriptorLength         = 64
)

// NullTimestamp marks a recording that has not stopped yet.
const NullTimestamp int64 = -1

// RecordingLength returns the recorded byte count covered by this snapshot.
func (d Descriptor) RecordingLength() int64 {
	return d.StopPosition - d.JoinPosition
}

// IsLive reports whether the recording had not been stopped when the
// descriptor was written.
func (d Descriptor) IsLive() bool {
	return d.StopTimestamp == NullTimestamp
}

func (d Descriptor) validate() error {
	if !IsPowerOfTwo(d.TermBufferLength) {
		return fmt.Errorf("recording %d: term buffer length %d is not a power of two", d.RecordingID, d.TermBufferLength)
	}
	if d.SegmentFileLength <= 0 || d.SegmentFileLength%d.TermBufferLength != 0 {
		return fmt.Errorf("recording %d: segment file length %d is not a multiple of term length %d",
			d.RecordingID, d.SegmentFileLength, d.TermBufferLength)
	}
	if d.JoinPosition < 0 || d.JoinPosition%FrameAlignment != 0 {
		return fmt.Errorf("recording %d: join position %d is not frame aligned", d.RecordingID, d.JoinPosition)
	}
	if d.StopPosition < d.JoinPosition {
		return fmt.Errorf("recording %d: stop position %d before join position %d",
			d.RecordingID, d.StopPosition, d.JoinPosition)
	}
	return nil
}

func (d Descriptor) marshal() []byte {
	buf := make([]byte, descriptorLength)
	binary.BigEndian.PutUint32(buf[0:4], descriptorMagic)
	binary.BigEndian.PutUint32(buf[4:8], descriptorVersion)
	binary.BigEndian.PutUint64(buf[8:16], uint64(d.RecordingID))
	binary.BigEndian.PutUint32(buf[16:20], uint32(d.TermBufferLength))
	binary.BigEndian.PutUint32(buf[20:24], uint32(d.SegmentFileLength))
	binary.BigEndian.PutUint64(buf[24:32], uint64(d.StartTimestamp))
	binary.BigEndian.PutUint64(buf[32:40], uint64(d.StopTimestamp))
	binary.BigEndian.PutUint64(buf[40:48], uint64(d.JoinPosition))
	binary.BigEndian.PutUint64(buf[48:56], uint64(d.StopPosition))
	binary.BigEndian.PutUint32(buf[56:60], uint32(d.SessionID))
	binary.BigEndian.PutUint32(buf[60:64], uint32(d.StreamID))
	return buf
}

func unmarshalDescriptor(buf []byte) (Descriptor, error) {
	if len(buf) < descriptorLength {
		return Descriptor{}, fmt.Errorf("descriptor record too short: %d bytes", len(buf))
	}
	if magic := binary.BigEndian.Uint32(buf[0:4]); magic != descriptorMagic {
		return Descriptor{}, fmt.Errorf("bad descriptor magic 0x%08x", magic)
	}
	if version := binary.BigEndian.Uint32(buf[4:8]); version != descriptorVersion {
		return Descriptor{}, fmt.Errorf("unsupported descriptor version %d", version)
	}

	return Descriptor{
		RecordingID:       int64(binary.BigEndian.Uint64(buf[8:16])),
		TermBufferLength:  int32(binary.BigEndian.Uint32(buf[16:20])),
		SegmentFileLength: int32(binary.BigEndian.Uint32(buf[20:24])),
		StartTimestamp:    int64(binary.BigEndian.Uint64(buf[24:32])),
		StopTimestamp:     int64(binary.BigEndian.Uint64(buf[32:40])),
		JoinPosition:      int64(binary.BigEndian.Uint64(buf[40:48])),
		StopPosition:      int64(binary.BigEndian.Uint64(buf[48:56])),
		SessionID:         int32(binary.BigEndian.Uint32(buf[56:60])),
		StreamID:          int32(binary.BigEndian.Uint32(buf[60:64])),
	}, nil
}

// Store rewrites the descriptor file in place and syncs it.
func (d Descriptor) Store(archiveDir string) error {
	path := DescriptorFilePath(archiveDir, d.RecordingID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open descriptor %s: %w", path, err)
	}

	if _, err := f.WriteAt(d.marshal(), 0); err != nil {
		f.Close()
		return fmt.Errorf("write descriptor %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync descriptor %s: %w", path, err)
	}
	return f.Close()
}

// LoadDescriptor reads and validates the descriptor record for a recording.
func LoadDescriptor(archiveDir string, recordingID int64) (Descriptor, error) {
	path := DescriptorFilePath(archiveDir, recordingID)
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("load descriptor for recording %d: %w", recordingID, err)
	}

	d, err := unmarshalDescriptor(data)
	if err != nil {
		return Descriptor{}, fmt.Errorf("descriptor %s: %w", path, err)
	}
	if d.RecordingID != recordingID {
		return Descriptor{}, fmt.Errorf("descriptor %s holds recording %d", path, d.RecordingID)
	}
	if err := d.validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
