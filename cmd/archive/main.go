package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/downfa11-org/go-archive/pkg/config"
	"github.com/downfa11-org/go-archive/pkg/events"
	"github.com/downfa11-org/go-archive/pkg/recording"
	"github.com/downfa11-org/go-archive/pkg/replay"
	"github.com/downfa11-org/go-archive/pkg/server"
	"github.com/downfa11-org/go-archive/util"
)

func main() {
	// Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	util.SetLevel(cfg.LogLevel)

	fmt.Printf("🚀 Starting archive on port %d\n", cfg.ControlPort)
	fmt.Printf("🗂️ Dir: %s | 📊 Exporter: %v\n", cfg.ArchiveDir, cfg.EnableExporter)

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		log.Fatalf("❌ Failed to create archive directory: %v", err)
	}

	// Initialization
	dispatcher := events.NewDispatcher(cfg.EventBufferSize)
	rm := recording.NewManager(cfg, dispatcher)
	pm := replay.NewManager(cfg.ArchiveDir, cfg.FragmentLimit, cfg.FragmentLimit,
		cfg.MaxReplaySessions, time.Duration(cfg.ReplayIdleMS)*time.Millisecond)

	if err := server.RunServer(cfg, rm, pm, dispatcher); err != nil {
		log.Fatalf("❌ Archive failed: %v", err)
	}
}
