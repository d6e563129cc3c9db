package server

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/downfa11-org/go-archive/pkg/config"
	"github.com/downfa11-org/go-archive/pkg/controller"
	"github.com/downfa11-org/go-archive/pkg/events"
	"github.com/downfa11-org/go-archive/pkg/metrics"
	"github.com/downfa11-org/go-archive/pkg/recording"
	"github.com/downfa11-org/go-archive/pkg/replay"
)

const maxWorkers = 256

// RunServer starts the archive control server on the configured port.
func RunServer(cfg *config.Config, rm *recording.Manager, pm *replay.Manager, dispatcher *events.Dispatcher) error {
	if cfg.EnableExporter {
		metrics.StartMetricsServer(cfg.ExporterPort)
		log.Printf("📈 Prometheus exporter started on port %d", cfg.ExporterPort)
	} else {
		log.Println("📉 Exporter disabled")
	}

	addr := fmt.Sprintf(":%d", cfg.ControlPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	log.Printf("🗄️ Archive listening on %s (dir=%s)", addr, cfg.ArchiveDir)

	workerCh := make(chan net.Conn, maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go func() {
			for conn := range workerCh {
				HandleConnection(conn, rm, pm, dispatcher, cfg)
			}
		}()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("⚠️ Accept error: %v", err)
			continue
		}
		workerCh <- conn
	}
}

// HandleConnection processes a single client connection
func HandleConnection(conn net.Conn, rm *recording.Manager, pm *replay.Manager, dispatcher *events.Dispatcher, cfg *config.Config) {
	defer conn.Close()

	cmdHandler := controller.NewCommandHandler(rm, pm, dispatcher, cfg)

	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			if err != io.EOF {
				log.Printf("⚠️ Read length error: %v", err)
			}
			return
		}

		msgLen := binary.BigEndian.Uint32(lenBuf)
		msgBuf := make([]byte, msgLen)
		if _, err := io.ReadFull(conn, msgBuf); err != nil {
			log.Printf("⚠️ Read message error: %v", err)
			return
		}

		if isAppend(msgBuf) {
			writeResponse(conn, cmdHandler.HandleAppend(msgBuf))
			continue
		}

		cmdStr := strings.TrimSpace(string(msgBuf))
		resp := cmdHandler.HandleCommand(cmdStr)

		switch resp {
		case controller.REPLAY_DATA_SIGNAL:
			conn.SetReadDeadline(time.Time{})
			if err := cmdHandler.HandleReplayCommand(conn, cmdStr, writeResponseErr); err != nil {
				writeResponse(conn, fmt.Sprintf("ERROR: %v", err))
			}
		case controller.EVENT_STREAM_SIGNAL:
			conn.SetReadDeadline(time.Time{})
			if err := cmdHandler.HandleEventsCommand(conn, writeResponseErr); err != nil {
				return
			}
		default:
			writeResponse(conn, resp)
		}
	}
}

// isAppend matches APPEND data messages, whose payload after the command
// line may be arbitrary bytes and must not go through string trimming.
func isAppend(data []byte) bool {
	const prefix = "APPEND"
	return len(data) >= len(prefix) && strings.EqualFold(string(data[:len(prefix)]), prefix)
}

func writeResponse(conn net.Conn, msg string) {
	writeResponseErr(conn, msg)
}

func writeResponseErr(conn net.Conn, msg string) error {
	resp := []byte(msg)
	respLen := make([]byte, 4)
	binary.BigEndian.PutUint32(respLen, uint32(len(resp)))
	if _, err := conn.Write(respLen); err != nil {
		return err
	}
	_, err := conn.Write(resp)
	return err
}
