package config

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/downfa11-org/go-archive/util"
	"gopkg.in/yaml.v3"
)

// Config represents the archive service configuration including tunable
// recording and replay options
type Config struct {
	// Server settings
	ControlPort    int           `yaml:"control_port" json:"control.port"`
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`

	// Archive storage
	ArchiveDir        string `yaml:"archive_dir" json:"archive.dir"`
	TermBufferLength  int    `yaml:"term_buffer_length" json:"term.buffer.length"`
	SegmentFileLength int    `yaml:"segment_file_length" json:"segment.file.length"`
	SyncOnAppend      bool   `yaml:"sync_on_append" json:"sync.on.append"`

	// Replay delivery
	FragmentLimit     int `yaml:"fragment_limit" json:"fragment.limit"`
	ReplayIdleMS      int `yaml:"replay_idle_ms" json:"replay.idle.ms"`
	MaxReplaySessions int `yaml:"max_replay_sessions" json:"max.replay.sessions"`

	// Recording progress notifications
	ProgressIntervalMS int `yaml:"progress_interval_ms" json:"progress.interval.ms"`
	EventBufferSize    int `yaml:"event_buffer_size" json:"event.buffer.size"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	configPath := flag.String("config", "", "Path to YAML/JSON config file")
	portStr := flag.String("port", "9500", "Control server port")
	archiveDirStr := flag.String("archive-dir", "archive-data", "Path for recording files")
	exporterStr := flag.String("exporter", "true", "Enable Prometheus exporter")
	exporterPortStr := flag.String("exporter-port", "9100", "Exporter port")
	logLevelStr := flag.String("log-level", "info", "Log Level (debug, info, warn, error)")

	termLengthStr := flag.String("term-length", "65536", "Term buffer length in bytes (power of two)")
	segmentLengthStr := flag.String("segment-length", "1048576", "Segment file length in bytes (multiple of term length)")
	syncStr := flag.String("sync-on-append", "false", "fsync the segment file after every append")

	fragmentLimitStr := flag.String("fragment-limit", "128", "Maximum fragments delivered per replay poll")
	replayIdleStr := flag.String("replay-idle-ms", "10", "Idle wait when a replay caught up with the writer (ms)")
	maxSessionsStr := flag.String("max-replay-sessions", "128", "Maximum concurrent replay sessions")

	progressIntervalStr := flag.String("progress-interval-ms", "1000", "Recording progress notification interval (ms)")
	eventBufferStr := flag.String("event-buffer", "256", "Recording events channel buffer size")

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	flag.Parse()

	applyDefaults(cfg, portStr, archiveDirStr, exporterStr, exporterPortStr, logLevelStr,
		termLengthStr, segmentLengthStr, syncStr, fragmentLimitStr, replayIdleStr,
		maxSessionsStr, progressIntervalStr, eventBufferStr)

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, err
		}

		if strings.HasSuffix(*configPath, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyExplicitFlags(cfg, portStr, archiveDirStr, exporterStr, exporterPortStr, logLevelStr,
		termLengthStr, segmentLengthStr, syncStr, fragmentLimitStr, replayIdleStr,
		maxSessionsStr, progressIntervalStr, eventBufferStr)

	cfg.Normalize()
	util.SetLevel(cfg.LogLevel)

	return cfg, nil
}

func applyDefaults(cfg *Config, portStr, archiveDirStr, exporterStr, exporterPortStr, logLevelStr,
	termLengthStr, segmentLengthStr, syncStr, fragmentLimitStr, replayIdleStr,
	maxSessionsStr, progressIntervalStr, eventBufferStr *string) {

	cfg.ControlPort = util.ParseInt(*portStr, 9500)
	cfg.ArchiveDir = *archiveDirStr
	cfg.EnableExporter = util.ParseBool(*exporterStr, true)
	cfg.ExporterPort = util.ParseInt(*exporterPortStr, 9100)
	cfg.LogLevel = parseLogLevel(*logLevelStr)

	cfg.TermBufferLength = util.ParseInt(*termLengthStr, 65536)
	cfg.SegmentFileLength = util.ParseInt(*segmentLengthStr, 1<<20)
	cfg.SyncOnAppend = util.ParseBool(*syncStr, false)

	cfg.FragmentLimit = util.ParseInt(*fragmentLimitStr, 128)
	cfg.ReplayIdleMS = util.ParseInt(*replayIdleStr, 10)
	cfg.MaxReplaySessions = util.ParseInt(*maxSessionsStr, 128)

	cfg.ProgressIntervalMS = util.ParseInt(*progressIntervalStr, 1000)
	cfg.EventBufferSize = util.ParseInt(*eventBufferStr, 256)
}

func applyExplicitFlags(cfg *Config, portStr, archiveDirStr, exporterStr, exporterPortStr, logLevelStr,
	termLengthStr, segmentLengthStr, syncStr, fragmentLimitStr, replayIdleStr,
	maxSessionsStr, progressIntervalStr, eventBufferStr *string) {

	if *portStr != "9500" {
		if port, err := strconv.Atoi(*portStr); err == nil {
			cfg.ControlPort = port
		}
	}
	if *archiveDirStr != "archive-data" {
		cfg.ArchiveDir = *archiveDirStr
	}
	if *exporterStr != "true" {
		if exporter, err := strconv.ParseBool(*exporterStr); err == nil {
			cfg.EnableExporter = exporter
		}
	}
	if *exporterPortStr != "9100" {
		if exporterPort, err := strconv.Atoi(*exporterPortStr); err == nil {
			cfg.ExporterPort = exporterPort
		}
	}
	if *logLevelStr != "info" {
		cfg.LogLevel = parseLogLevel(*logLevelStr)
	}
	if *termLengthStr != "65536" {
		if termLength, err := strconv.Atoi(*termLengthStr); err == nil {
			cfg.TermBufferLength = termLength
		}
	}
	if *segmentLengthStr != "1048576" {
		if segmentLength, err := strconv.Atoi(*segmentLengthStr); err == nil {
			cfg.SegmentFileLength = segmentLength
		}
	}
	if *syncStr != "false" {
		if sync, err := strconv.ParseBool(*syncStr); err == nil {
			cfg.SyncOnAppend = sync
		}
	}
	if *fragmentLimitStr != "128" {
		if fragmentLimit, err := strconv.Atoi(*fragmentLimitStr); err == nil {
			cfg.FragmentLimit = fragmentLimit
		}
	}
	if *replayIdleStr != "10" {
		if replayIdle, err := strconv.Atoi(*replayIdleStr); err == nil {
			cfg.ReplayIdleMS = replayIdle
		}
	}
	if *maxSessionsStr != "128" {
		if maxSessions, err := strconv.Atoi(*maxSessionsStr); err == nil {
			cfg.MaxReplaySessions = maxSessions
		}
	}
	if *progressIntervalStr != "1000" {
		if progressInterval, err := strconv.Atoi(*progressIntervalStr); err == nil {
			cfg.ProgressIntervalMS = progressInterval
		}
	}
	if *eventBufferStr != "256" {
		if eventBuffer, err := strconv.Atoi(*eventBufferStr); err == nil {
			cfg.EventBufferSize = eventBuffer
		}
	}
}

func parseLogLevel(s string) util.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return util.LogLevelDebug
	case "info":
		return util.LogLevelInfo
	case "warn", "warning":
		return util.LogLevelWarn
	case "error":
		return util.LogLevelError
	}
	return util.LogLevelInfo
}

func (cfg *Config) Normalize() {
	if cfg.ControlPort <= 0 {
		cfg.ControlPort = 9500
	}
	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}

	if strings.TrimSpace(cfg.ArchiveDir) == "" {
		cfg.ArchiveDir = "archive-data"
	}

	// Recording geometry: the term must be a power of two and the segment a
	// whole number of terms.
	if cfg.TermBufferLength < 4096 || cfg.TermBufferLength&(cfg.TermBufferLength-1) != 0 {
		util.Warn("Invalid term_buffer_length (%d), defaulting to 64KiB", cfg.TermBufferLength)
		cfg.TermBufferLength = 64 * 1024
	}
	if cfg.SegmentFileLength < cfg.TermBufferLength || cfg.SegmentFileLength%cfg.TermBufferLength != 0 {
		util.Warn("Invalid segment_file_length (%d), defaulting to 16 terms", cfg.SegmentFileLength)
		cfg.SegmentFileLength = 16 * cfg.TermBufferLength
	}

	if cfg.FragmentLimit <= 0 {
		cfg.FragmentLimit = 128
	}
	if cfg.ReplayIdleMS <= 0 {
		cfg.ReplayIdleMS = 10
	}
	if cfg.MaxReplaySessions <= 0 {
		cfg.MaxReplaySessions = 128
	}

	if cfg.ProgressIntervalMS <= 0 {
		cfg.ProgressIntervalMS = 1000
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 256
	}
}
