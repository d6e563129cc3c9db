package archive

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Archive files are named deterministically from the recording id so readers
// and writers agree without a shared catalog service.

func DescriptorFileName(recordingID int64) string {
	return fmt.Sprintf("recording_%d.meta", recordingID)
}

func SegmentFileName(recordingID int64, segmentIndex int) string {
	return fmt.Sprintf("recording_%d_segment_%d.log", recordingID, segmentIndex)
}

func DescriptorFilePath(archiveDir string, recordingID int64) string {
	return filepath.Join(archiveDir, DescriptorFileName(recordingID))
}

func SegmentFilePath(archiveDir string, recordingID int64, segmentIndex int) string {
	return filepath.Join(archiveDir, SegmentFileName(recordingID, segmentIndex))
}

// NextRecordingID scans the archive directory for descriptor files and
// returns one past the highest recording id found, or 0 for an empty archive.
func NextRecordingID(archiveDir string) (int64, error) {
	pattern := filepath.Join(archiveDir, "recording_*.meta")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("scan archive dir %s: %w", archiveDir, err)
	}

	next := int64(0)
	for _, m := range matches {
		name := filepath.Base(m)
		idStr := strings.TrimSuffix(strings.TrimPrefix(name, "recording_"), ".meta")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		if id >= next {
			next = id + 1
		}
	}
	return next, nil
}

// ListRecordingIDs returns the ids of all recordings in the archive
// directory in ascending order.
func ListRecordingIDs(archiveDir string) ([]int64, error) {
	pattern := filepath.Join(archiveDir, "recording_*.meta")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("scan archive dir %s: %w", archiveDir, err)
	}

	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		idStr := strings.TrimSuffix(strings.TrimPrefix(name, "recording_"), ".meta")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
