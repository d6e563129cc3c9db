package archive

// Locator math translating an absolute stream position into the segment file
// that holds it and the offsets inside that file. Segment and term boundaries
// are aligned to absolute stream positions. Segment lengths may be any
// multiple of the term length, so the segment mappings divide rather than
// mask; the term length is a power of two and keeps mask arithmetic.

// SegmentFileIndex returns the index of the segment file containing position,
// counted from the segment that contains the recording's join position.
func SegmentFileIndex(joinPosition, position int64, segmentFileLength int32) int {
	segLen := int64(segmentFileLength)
	return int(position/segLen - joinPosition/segLen)
}

// SegmentOffset returns the byte offset of position within its segment file.
func SegmentOffset(position int64, segmentFileLength int32) int32 {
	return int32(position % int64(segmentFileLength))
}

// TermStartOffset returns the offset within the segment file of the start of
// the term region containing segmentOffset.
func TermStartOffset(segmentOffset, termBufferLength int32) int32 {
	return segmentOffset - (segmentOffset & (termBufferLength - 1))
}

// TermOffset returns the offset within its term region of segmentOffset.
func TermOffset(segmentOffset, termBufferLength int32) int32 {
	return segmentOffset & (termBufferLength - 1)
}
