package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

const endOfReplayMarker = uint32(0xFFFFFFFF)

func main() {
	addr := flag.String("addr", "localhost:9500", "archive address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Println("❌ Failed to connect:", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println("🔹 Archive ready. Type HELP for commands.")
	fmt.Println("")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "EXIT") {
			break
		}

		if err := sendMessage(conn, encodeCommand(line)); err != nil {
			fmt.Println("❌ Send failed:", err)
			return
		}

		resp, err := readMessage(conn)
		if err != nil {
			fmt.Println("❌ Read failed:", err)
			return
		}
		fmt.Println(string(resp))

		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "REPLAY") && strings.HasPrefix(string(resp), "OK"):
			if err := drainReplay(conn); err != nil {
				fmt.Println("❌ Replay failed:", err)
				return
			}
		case strings.EqualFold(line, "EVENTS"):
			streamEvents(conn)
			return
		}
	}
}

// encodeCommand rewrites "APPEND recording=<id> <payload>" into the wire
// form with the payload after a newline; everything else passes through.
func encodeCommand(line string) []byte {
	if !strings.HasPrefix(strings.ToUpper(line), "APPEND ") {
		return []byte(line)
	}
	rest := line[7:]
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		return []byte("APPEND " + rest[:i] + "\n" + rest[i+1:])
	}
	return []byte(line)
}

func drainReplay(conn net.Conn) error {
	for i := 0; ; i++ {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return err
		}
		frameLen := binary.BigEndian.Uint32(lenBuf)
		if frameLen == endOfReplayMarker {
			fmt.Printf("✅ Replay complete (%d fragments)\n", i)
			return nil
		}
		payload := make([]byte, frameLen)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return err
		}
		fmt.Printf("fragment %d (%d bytes): %s\n", i, frameLen, printable(payload))
	}
}

func streamEvents(conn net.Conn) {
	for {
		resp, err := readMessage(conn)
		if err != nil {
			return
		}
		fmt.Println(string(resp))
	}
}

func printable(b []byte) string {
	for _, c := range b {
		if c < 0x20 && c != '\t' {
			return fmt.Sprintf("%x", b)
		}
	}
	return string(b)
}

func sendMessage(conn net.Conn, msg []byte) error {
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(msg)))
	if _, err := conn.Write(lenBuf); err != nil {
		return err
	}
	_, err := conn.Write(msg)
	return err
}

func readMessage(conn net.Conn) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(conn, lenBuf); err != nil {
		return nil, err
	}
	msg := make([]byte, binary.BigEndian.Uint32(lenBuf))
	if _, err := io.ReadFull(conn, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
