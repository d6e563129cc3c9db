package archive_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/downfa11-org/go-archive/pkg/archive"
)

func TestAlignFrame(t *testing.T) {
	tests := []struct {
		length int32
		want   int32
	}{
		{0, 0},
		{1, 32},
		{32, 32},
		{33, 64},
		{100, 128},
		{1024, 1024},
	}

	for _, tt := range tests {
		if got := archive.AlignFrame(tt.length); got != tt.want {
			t.Errorf("AlignFrame(%d) = %d; want %d", tt.length, got, tt.want)
		}
	}
}

func TestPeekFrameClassification(t *testing.T) {
	buf := make([]byte, 4*archive.FrameAlignment)

	write := func(offset int64, length int32, frameType uint16) {
		h := archive.FrameHeader{Length: length, Type: frameType}
		h.MarshalTo(buf[offset:])
	}

	tests := []struct {
		name      string
		setup     func()
		wantKind  archive.FrameKind
		wantAlign int32
	}{
		{
			"data frame",
			func() { write(0, archive.HeaderLength+10, archive.FrameTypeData) },
			archive.FrameData, 64,
		},
		{
			"padding frame",
			func() { write(0, 96, archive.FrameTypePadding) },
			archive.FramePadding, 96,
		},
		{
			"zero filled region reads as end of data",
			func() { copy(buf, make([]byte, len(buf))) },
			archive.FrameEndOfData, 0,
		},
	}

	for _, tt := range tests {
		tt.setup()
		info, err := archive.PeekFrame(bytes.NewReader(buf), 0)
		if err != nil {
			t.Fatalf("%s: PeekFrame: %v", tt.name, err)
		}
		if info.Kind != tt.wantKind {
			t.Errorf("%s: kind = %s; want %s", tt.name, info.Kind, tt.wantKind)
		}
		if info.AlignedLength != tt.wantAlign {
			t.Errorf("%s: aligned length = %d; want %d", tt.name, info.AlignedLength, tt.wantAlign)
		}
	}
}

func TestPeekFrameSentinels(t *testing.T) {
	buf := make([]byte, archive.FrameAlignment)

	lenEOR := int32(-1)
	binary.BigEndian.PutUint32(buf[:4], uint32(lenEOR))
	info, err := archive.PeekFrame(bytes.NewReader(buf), 0)
	if err != nil {
		t.Fatalf("PeekFrame: %v", err)
	}
	if info.Kind != archive.FrameEndOfRecording {
		t.Errorf("length -1 decoded as %s; want end-of-recording", info.Kind)
	}

	lenEOD := int32(-2)
	binary.BigEndian.PutUint32(buf[:4], uint32(lenEOD))
	info, err = archive.PeekFrame(bytes.NewReader(buf), 0)
	if err != nil {
		t.Fatalf("PeekFrame: %v", err)
	}
	if info.Kind != archive.FrameEndOfData {
		t.Errorf("length -2 decoded as %s; want end-of-data", info.Kind)
	}
}

func TestPeekFrameCorruptLength(t *testing.T) {
	buf := make([]byte, archive.FrameAlignment)
	binary.BigEndian.PutUint32(buf[:4], 5) // shorter than a header

	if _, err := archive.PeekFrame(bytes.NewReader(buf), 0); err == nil {
		t.Fatal("expected error for frame length below header size")
	}
}

func TestFrameHeaderRoundTrip(t *testing.T) {
	h := archive.FrameHeader{
		Length:     200,
		Version:    1,
		Flags:      0x80,
		Type:       archive.FrameTypeData,
		TermOffset: 4096,
		SessionID:  -3,
		StreamID:   10,
		TermID:     7,
		Reserved:   1 << 40,
	}

	buf := make([]byte, archive.HeaderLength)
	h.MarshalTo(buf)
	if got := archive.UnmarshalFrameHeader(buf); got != h {
		t.Errorf("header round trip: got %+v want %+v", got, h)
	}
}
