package archive

import (
	"fmt"

	"golang.org/x/exp/mmap"
)

// SegmentMapper owns at most one read-only memory-mapped segment file at a
// time. Opening a segment releases the previous mapping first, so rollover
// never holds two mappings at once.
type SegmentMapper struct {
	archiveDir        string
	recordingID       int64
	segmentFileLength int32

	index  int
	reader *mmap.ReaderAt
}

func NewSegmentMapper(archiveDir string, recordingID int64, segmentFileLength int32) *SegmentMapper {
	return &SegmentMapper{
		archiveDir:        archiveDir,
		recordingID:       recordingID,
		segmentFileLength: segmentFileLength,
		index:             -1,
	}
}

// Open maps segment file index read-only, unmapping any previous segment.
// A missing or truncated segment file is a hard error; the previous mapping
// is gone either way.
func (m *SegmentMapper) Open(index int) error {
	if m.reader != nil {
		if err := m.reader.Close(); err != nil {
			m.reader = nil
			return fmt.Errorf("unmap segment %d: %w", m.index, err)
		}
		m.reader = nil
	}

	path := SegmentFilePath(m.archiveDir, m.recordingID, index)
	reader, err := mmap.Open(path)
	if err != nil {
		return fmt.Errorf("map segment file %s: %w", path, err)
	}
	if int32(reader.Len()) < m.segmentFileLength {
		reader.Close()
		return fmt.Errorf("segment file %s truncated: %d bytes, want %d", path, reader.Len(), m.segmentFileLength)
	}

	m.reader = reader
	m.index = index
	return nil
}

// Index returns the index of the currently mapped segment, or -1.
func (m *SegmentMapper) Index() int {
	if m.reader == nil {
		return -1
	}
	return m.index
}

// ReadAt reads from the mapped segment at the given file offset.
func (m *SegmentMapper) ReadAt(p []byte, off int64) (int, error) {
	if m.reader == nil {
		return 0, fmt.Errorf("no segment mapped for recording %d", m.recordingID)
	}
	return m.reader.ReadAt(p, off)
}

// Close unmaps the current segment unconditionally.
func (m *SegmentMapper) Close() error {
	if m.reader == nil {
		return nil
	}
	err := m.reader.Close()
	m.reader = nil
	if err != nil {
		return fmt.Errorf("unmap segment %d: %w", m.index, err)
	}
	return nil
}
