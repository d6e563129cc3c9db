package archive

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/downfa11-org/go-archive/util"
)

// RecordingWriter appends a live message stream to pre-allocated segment
// files as aligned frames. It is the producing counterpart of ReplayReader:
// it lays down padding frames at term boundaries, keeps an end-of-data marker
// at the tail while the recording is active and seals the recording with the
// end-of-recording marker on Stop.
type RecordingWriter struct {
	descriptor   Descriptor
	archiveDir   string
	syncOnAppend bool

	file             *os.File
	segmentFileIndex int
	termStartOffset  int32
	termOffset       int32
	position         int64
	stopped          bool

	scratch []byte
}

// NewRecordingWriter starts a recording described by d. d.JoinPosition may be
// non-zero when recording begins mid-stream; the gap between the enclosing
// term's start and the join offset is filled with a padding frame so readers
// can always walk the first term from its start.
func NewRecordingWriter(archiveDir string, d Descriptor, syncOnAppend bool) (*RecordingWriter, error) {
	if d.StartTimestamp == 0 {
		d.StartTimestamp = time.Now().UnixMilli()
	}
	d.StopTimestamp = NullTimestamp
	d.StopPosition = d.JoinPosition
	if err := d.validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", archiveDir, err)
	}

	w := &RecordingWriter{
		descriptor:   d,
		archiveDir:   archiveDir,
		syncOnAppend: syncOnAppend,
		position:     d.JoinPosition,
		scratch:      make([]byte, HeaderLength),
	}

	segmentOffset := SegmentOffset(d.JoinPosition, d.SegmentFileLength)
	w.termStartOffset = TermStartOffset(segmentOffset, d.TermBufferLength)
	w.termOffset = TermOffset(segmentOffset, d.TermBufferLength)

	if err := w.openSegment(); err != nil {
		return nil, err
	}

	if w.termOffset > 0 {
		if err := w.writePadding(0, w.termOffset); err != nil {
			w.file.Close()
			return nil, err
		}
	}
	if err := w.writeSentinel(endOfDataLength); err != nil {
		w.file.Close()
		return nil, err
	}

	if err := d.Store(archiveDir); err != nil {
		w.file.Close()
		return nil, err
	}

	util.Debug("recording %d started at position %d (term=%d segment=%d)",
		d.RecordingID, d.JoinPosition, d.TermBufferLength, d.SegmentFileLength)
	return w, nil
}

// Position returns the absolute stream position after the last append.
func (w *RecordingWriter) Position() int64 {
	return w.position
}

// Descriptor returns a snapshot of the recording's metadata.
func (w *RecordingWriter) Descriptor() Descriptor {
	d := w.descriptor
	d.StopPosition = w.position
	return d
}

// Append writes one message as a data frame, padding out the current term
// first if the frame does not fit. Returns the stream position after the
// frame.
func (w *RecordingWriter) Append(payload []byte) (int64, error) {
	if w.stopped {
		return w.position, fmt.Errorf("recording %d already stopped", w.descriptor.RecordingID)
	}

	frameLength := int32(HeaderLength + len(payload))
	aligned := AlignFrame(frameLength)
	if aligned > w.descriptor.TermBufferLength {
		return w.position, fmt.Errorf("message of %d bytes exceeds term capacity %d",
			len(payload), w.descriptor.TermBufferLength-HeaderLength)
	}

	if remaining := w.descriptor.TermBufferLength - w.termOffset; aligned > remaining {
		if err := w.writePadding(w.termOffset, remaining); err != nil {
			return w.position, err
		}
		w.termOffset += remaining
		w.position += int64(remaining)
		if err := w.rollTerm(); err != nil {
			return w.position, err
		}
	}

	header := FrameHeader{
		Length:     frameLength,
		Version:    1,
		Type:       FrameTypeData,
		TermOffset: w.termOffset,
		SessionID:  w.descriptor.SessionID,
		StreamID:   w.descriptor.StreamID,
		TermID:     int32(w.position / int64(w.descriptor.TermBufferLength)),
	}
	header.MarshalTo(w.scratch)

	writeOffset := int64(w.termStartOffset + w.termOffset)
	if _, err := w.file.WriteAt(w.scratch, writeOffset); err != nil {
		return w.position, fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.file.WriteAt(payload, writeOffset+DataOffset); err != nil {
		return w.position, fmt.Errorf("write frame payload: %w", err)
	}

	w.termOffset += aligned
	w.position += int64(aligned)

	if w.termOffset == w.descriptor.TermBufferLength {
		if err := w.rollTerm(); err != nil {
			return w.position, err
		}
	}

	if err := w.writeSentinel(endOfDataLength); err != nil {
		return w.position, err
	}

	if w.syncOnAppend {
		if err := w.file.Sync(); err != nil {
			return w.position, fmt.Errorf("sync segment: %w", err)
		}
	}
	return w.position, nil
}

// Sync flushes the segment file and persists a fresh descriptor snapshot so
// readers see the current recorded length.
func (w *RecordingWriter) Sync() error {
	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("sync segment: %w", err)
		}
	}
	d := w.descriptor
	d.StopPosition = w.position
	return d.Store(w.archiveDir)
}

// Stop seals the recording: the end-of-recording marker replaces the
// end-of-data marker at the tail and the descriptor is finalized.
func (w *RecordingWriter) Stop() error {
	if w.stopped {
		return nil
	}

	if err := w.writeSentinel(endOfRecordingLength); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync segment: %w", err)
	}

	w.descriptor.StopPosition = w.position
	w.descriptor.StopTimestamp = time.Now().UnixMilli()
	if err := w.descriptor.Store(w.archiveDir); err != nil {
		return err
	}

	w.stopped = true
	util.Debug("recording %d stopped at position %d", w.descriptor.RecordingID, w.position)
	return nil
}

// Close releases the open segment file. A recording closed without Stop
// remains live on disk: its tail still reads as end-of-data.
func (w *RecordingWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RecordingWriter) openSegment() error {
	path := SegmentFilePath(w.archiveDir, w.descriptor.RecordingID, w.segmentFileIndex)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open segment file %s: %w", path, err)
	}
	if err := f.Truncate(int64(w.descriptor.SegmentFileLength)); err != nil {
		f.Close()
		return fmt.Errorf("preallocate segment file %s: %w", path, err)
	}

	adviseSequential(f)
	w.file = f
	return nil
}

func (w *RecordingWriter) rollTerm() error {
	w.termStartOffset += w.descriptor.TermBufferLength
	w.termOffset = 0

	if w.termStartOffset == w.descriptor.SegmentFileLength {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("sync segment on rollover: %w", err)
		}
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("close segment on rollover: %w", err)
		}
		w.segmentFileIndex++
		w.termStartOffset = 0
		if err := w.openSegment(); err != nil {
			return err
		}
	}
	return nil
}

func (w *RecordingWriter) writePadding(termOffset, length int32) error {
	header := FrameHeader{
		Length:     length,
		Version:    1,
		Type:       FrameTypePadding,
		TermOffset: termOffset,
		SessionID:  w.descriptor.SessionID,
		StreamID:   w.descriptor.StreamID,
	}
	header.MarshalTo(w.scratch)

	if _, err := w.file.WriteAt(w.scratch, int64(w.termStartOffset+termOffset)); err != nil {
		return fmt.Errorf("write padding frame: %w", err)
	}
	return nil
}

// writeSentinel places a reserved length value at the current tail offset.
func (w *RecordingWriter) writeSentinel(length int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(length))
	if _, err := w.file.WriteAt(buf[:], int64(w.termStartOffset+w.termOffset)); err != nil {
		return fmt.Errorf("write tail sentinel: %w", err)
	}
	return nil
}
