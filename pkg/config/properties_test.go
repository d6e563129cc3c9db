package config_test

import (
	"testing"

	"github.com/downfa11-org/go-archive/pkg/config"
	"github.com/downfa11-org/go-archive/util"
	"gopkg.in/yaml.v3"
)

func TestNormalizeDefaults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Normalize()

	if cfg.ControlPort != 9500 {
		t.Errorf("ControlPort default incorrect: %d", cfg.ControlPort)
	}
	if cfg.ArchiveDir != "archive-data" {
		t.Errorf("ArchiveDir default incorrect: %s", cfg.ArchiveDir)
	}
	if cfg.TermBufferLength != 64*1024 {
		t.Errorf("TermBufferLength default incorrect: %d", cfg.TermBufferLength)
	}
	if cfg.SegmentFileLength != 16*cfg.TermBufferLength {
		t.Errorf("SegmentFileLength default incorrect: %d", cfg.SegmentFileLength)
	}
	if cfg.FragmentLimit != 128 {
		t.Errorf("FragmentLimit default incorrect: %d", cfg.FragmentLimit)
	}
}

func TestNormalizeRejectsBadGeometry(t *testing.T) {
	cfg := &config.Config{
		TermBufferLength:  3000, // not a power of two
		SegmentFileLength: 9999,
	}
	cfg.Normalize()

	if cfg.TermBufferLength != 64*1024 {
		t.Errorf("bad term length not reset: %d", cfg.TermBufferLength)
	}
	if cfg.SegmentFileLength%cfg.TermBufferLength != 0 {
		t.Errorf("segment length %d not a term multiple", cfg.SegmentFileLength)
	}

	cfg = &config.Config{
		TermBufferLength:  8192,
		SegmentFileLength: 8192 * 3,
	}
	cfg.Normalize()
	if cfg.TermBufferLength != 8192 || cfg.SegmentFileLength != 8192*3 {
		t.Errorf("valid geometry rewritten: term=%d segment=%d", cfg.TermBufferLength, cfg.SegmentFileLength)
	}
}

func TestConfigYAMLUnmarshal(t *testing.T) {
	raw := `
control_port: 7000
archive_dir: /var/lib/recordings
term_buffer_length: 8192
segment_file_length: 32768
sync_on_append: true
log_level: debug
`
	cfg := &config.Config{}
	if err := yaml.Unmarshal([]byte(raw), cfg); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	cfg.Normalize()

	if cfg.ControlPort != 7000 {
		t.Errorf("ControlPort = %d; want 7000", cfg.ControlPort)
	}
	if cfg.ArchiveDir != "/var/lib/recordings" {
		t.Errorf("ArchiveDir = %s", cfg.ArchiveDir)
	}
	if cfg.TermBufferLength != 8192 || cfg.SegmentFileLength != 32768 {
		t.Errorf("geometry = %d/%d", cfg.TermBufferLength, cfg.SegmentFileLength)
	}
	if !cfg.SyncOnAppend {
		t.Error("SyncOnAppend not parsed")
	}
	if cfg.LogLevel != util.LogLevelDebug {
		t.Errorf("LogLevel = %v; want debug", cfg.LogLevel)
	}
}
