package archive

import (
	"fmt"
	"math"
)

// NullPosition and NullLength request the defaults: replay from the join
// position, for the full recorded length of a stopped recording or until a
// live recording stops.
const (
	NullPosition int64 = -1
	NullLength   int64 = -1
)

// FragmentHandler receives one data frame per call: buf holds the whole
// frame, offset is where the payload starts and length is the payload size.
// Returning false rejects the fragment; the reader rolls back and offers the
// same fragment again on the next poll.
type FragmentHandler func(buf []byte, offset int32, length int32) bool

// ReplayReader replays a byte range of a recording frame by frame. It maps
// one segment file at a time and walks term regions within it, resuming at
// exact frame boundaries across calls. A reader is single-owner: poll calls
// must not be issued concurrently.
type ReplayReader struct {
	recordingID       int64
	termBufferLength  int32
	segmentFileLength int32
	replayLength      int64
	fromPosition      int64

	mapper           *SegmentMapper
	segmentFileIndex int
	termStartOffset  int32
	termOffset       int32
	transmitted      int64
	done             bool

	frame []byte
}

// NewReplayReader opens a replay session over recordingID in archiveDir.
// position and length may be NullPosition/NullLength to replay the whole
// recording as of the descriptor snapshot. If position lands inside a frame's
// alignment padding the session snaps forward to the next frame boundary and
// shortens the replay length by the same amount; FromPosition reports the
// effective start. A length ending inside a frame is extended to that frame's
// aligned end, since frames are never split.
func NewReplayReader(archiveDir string, recordingID int64, position, length int64) (*ReplayReader, error) {
	desc, err := LoadDescriptor(archiveDir, recordingID)
	if err != nil {
		return nil, err
	}

	fromPosition := position
	if fromPosition == NullPosition {
		fromPosition = desc.JoinPosition
	}
	replayLength := length
	if replayLength == NullLength {
		if desc.IsLive() {
			// The descriptor snapshot is only a lower bound while the writer
			// is active; tail until the end-of-recording marker appears.
			replayLength = math.MaxInt64 - fromPosition
		} else {
			replayLength = desc.StopPosition - fromPosition
		}
	}

	if fromPosition < desc.JoinPosition {
		return nil, fmt.Errorf("recording %d: replay position %d before join position %d",
			recordingID, fromPosition, desc.JoinPosition)
	}
	// The snapshot position of a live recording is only a lower bound; a
	// position past it is checked against the written frames below instead.
	if !desc.IsLive() && fromPosition > desc.StopPosition {
		return nil, fmt.Errorf("recording %d: replay position %d outside [%d, %d]",
			recordingID, fromPosition, desc.JoinPosition, desc.StopPosition)
	}
	if replayLength < 0 {
		return nil, fmt.Errorf("recording %d: negative replay length %d", recordingID, replayLength)
	}
	if !desc.IsLive() && fromPosition+replayLength > desc.StopPosition {
		return nil, fmt.Errorf("recording %d: replay range [%d, %d) past end of stopped recording at %d",
			recordingID, fromPosition, fromPosition+replayLength, desc.StopPosition)
	}

	r := &ReplayReader{
		recordingID:       recordingID,
		termBufferLength:  desc.TermBufferLength,
		segmentFileLength: desc.SegmentFileLength,
		replayLength:      replayLength,
		fromPosition:      fromPosition,
		mapper:            NewSegmentMapper(archiveDir, recordingID, desc.SegmentFileLength),
		frame:             make([]byte, desc.TermBufferLength),
	}

	r.segmentFileIndex = SegmentFileIndex(desc.JoinPosition, fromPosition, desc.SegmentFileLength)
	if err := r.mapper.Open(r.segmentFileIndex); err != nil {
		return nil, err
	}

	segmentOffset := SegmentOffset(fromPosition, desc.SegmentFileLength)
	r.termStartOffset = TermStartOffset(segmentOffset, desc.TermBufferLength)
	r.termOffset = TermOffset(segmentOffset, desc.TermBufferLength)

	// Walk frames from the term start until the requested offset to find the
	// frame boundary at or after it.
	frameOffset := int32(0)
	for frameOffset < r.termOffset {
		info, err := PeekFrame(r.mapper, int64(r.termStartOffset+frameOffset))
		if err != nil {
			r.mapper.Close()
			return nil, err
		}
		if info.Kind == FrameEndOfData || info.Kind == FrameEndOfRecording {
			r.mapper.Close()
			return nil, fmt.Errorf("recording %d: replay position %d beyond recorded frames",
				recordingID, fromPosition)
		}
		frameOffset += info.AlignedLength
	}

	if frameOffset != r.termOffset {
		gap := int64(frameOffset - r.termOffset)
		r.fromPosition += gap
		r.replayLength -= gap
	}

	if frameOffset >= desc.TermBufferLength {
		r.termOffset = 0
		if err := r.nextTerm(); err != nil {
			r.mapper.Close()
			return nil, err
		}
	} else {
		r.termOffset = frameOffset
	}

	return r, nil
}

// FromPosition returns the effective replay start after boundary snapping.
func (r *ReplayReader) FromPosition() int64 {
	return r.fromPosition
}

// Remaining returns the bytes still to deliver before the session is done.
// Frames are delivered whole: a replay length ending inside a frame extends
// to that frame's aligned end, so Remaining reaches exactly zero rather than
// going negative.
func (r *ReplayReader) Remaining() int64 {
	if r.transmitted >= r.replayLength {
		return 0
	}
	return r.replayLength - r.transmitted
}

// IsDone reports whether the session has delivered its full replay length or
// hit the end-of-recording marker. Running out of written data on a live
// recording does not make the session done; polling may resume later.
func (r *ReplayReader) IsDone() bool {
	return r.done
}

// ControlledPoll delivers up to fragmentLimit data fragments to handler and
// returns the number accepted. A rejected fragment is rolled back exactly and
// re-offered on the next call. A zero return with IsDone false means the
// reader caught up with the writer; the caller decides when to retry.
func (r *ReplayReader) ControlledPoll(handler FragmentHandler, fragmentLimit int) (int, error) {
	if r.done {
		return 0, nil
	}

	polled := 0

	for r.termOffset < r.termBufferLength && r.transmitted < r.replayLength && polled < fragmentLimit {
		frameOffset := r.termOffset
		info, err := PeekFrame(r.mapper, int64(r.termStartOffset+frameOffset))
		if err != nil {
			return polled, err
		}

		switch info.Kind {
		case FrameEndOfRecording:
			r.done = true
			return polled, nil
		case FrameEndOfData:
			return polled, nil
		case FramePadding:
			r.transmitted += int64(info.AlignedLength)
			r.termOffset += info.AlignedLength
			continue
		}

		aligned := info.AlignedLength
		r.transmitted += int64(aligned)
		r.termOffset += aligned

		frame := r.frame[:aligned]
		if _, err := r.mapper.ReadAt(frame, int64(r.termStartOffset+frameOffset)); err != nil {
			r.transmitted -= int64(aligned)
			r.termOffset -= aligned
			return polled, fmt.Errorf("recording %d: read frame at segment %d offset %d: %w",
				r.recordingID, r.segmentFileIndex, r.termStartOffset+frameOffset, err)
		}

		if !handler(frame, DataOffset, info.Length-HeaderLength) {
			r.transmitted -= int64(aligned)
			r.termOffset -= aligned
			return polled, nil
		}

		polled++
	}

	if r.transmitted >= r.replayLength {
		r.done = true
	} else if r.termOffset == r.termBufferLength {
		r.termOffset = 0
		if err := r.nextTerm(); err != nil {
			return polled, err
		}
	}

	return polled, nil
}

func (r *ReplayReader) nextTerm() error {
	r.termStartOffset += r.termBufferLength

	if r.termStartOffset == r.segmentFileLength {
		r.segmentFileIndex++
		r.termStartOffset = 0
		if err := r.mapper.Open(r.segmentFileIndex); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the mapped segment. The reader must not be used afterwards.
func (r *ReplayReader) Close() error {
	return r.mapper.Close()
}
