// Package admin serves a JSON snapshot of a running display worker's
// state over a Unix domain socket, for cmd/displayctl to poll. Listener
// setup follows the usual Unix-socket-server idiom: remove a stale
// socket file before listening, MkdirAll the parent directory,
// net.Listen("unix", ...), then accept in a loop.
package admin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Report is the snapshot returned for every admin connection.
type Report struct {
	Surfaces       int              `json:"surfaces"`
	Pipes          map[uint32]int   `json:"pipes"` // client id -> queued item count
	Counters       map[string]int64 `json:"counters"`
	GLZBytes       int              `json:"glz_bytes"`
	Pixmap         int              `json:"pixmap_entries"`
	Palette        int              `json:"palette_entries"`
	ActiveClients  int              `json:"active_clients"`
	ReconnectGrace int              `json:"reconnect_grace_entries"`
}

// Server listens on SocketPath and writes a fresh Snapshot() as a
// single JSON line per accepted connection, then closes it — a
// request/response protocol, not a stream, since displayctl only ever
// wants the current state.
type Server struct {
	SocketPath string
	Snapshot   func() Report

	ln net.Listener
}

func (s *Server) ListenAndServe() error {
	if err := os.Remove(s.SocketPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("socket", s.SocketPath).Msg("admin: failed to remove stale socket")
	}
	if err := os.MkdirAll(filepath.Dir(s.SocketPath), 0755); err != nil {
		return fmt.Errorf("admin: mkdir socket dir: %w", err)
	}

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("admin: listen %s: %w", s.SocketPath, err)
	}
	s.ln = ln

	log.Info().Str("socket", s.SocketPath).Msg("admin socket listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	report := s.Snapshot()
	w := bufio.NewWriter(conn)
	defer w.Flush()
	if err := json.NewEncoder(w).Encode(report); err != nil {
		log.Warn().Err(err).Msg("admin: failed to encode report")
	}
}

func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Query dials socketPath and decodes one Report, for displayctl.
func Query(socketPath string) (Report, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return Report{}, fmt.Errorf("admin: dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	var report Report
	if err := json.NewDecoder(conn).Decode(&report); err != nil {
		return Report{}, fmt.Errorf("admin: decode report: %w", err)
	}
	return report, nil
}
