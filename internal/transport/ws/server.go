// Package ws streams tracker status to admin dashboards over websocket.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"beaconranger.dev/internal/beacons"
	"beaconranger.dev/internal/protocol"
)

// StatusSource is the read side of the tracker.
type StatusSource interface {
	Status() beacons.Status
}

type Server struct {
	src StatusSource
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[uint64]chan []byte
}

func NewServer(src StatusSource, logger *log.Logger) *Server {
	return &Server{
		src: src,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
		clients: map[uint64]chan []byte{},
	}
}

// Clients reports how many streams are open.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// PublishPass sends pass stats followed by a fresh status to every client.
// Slow clients lose older frames.
func (s *Server) PublishPass(p beacons.PassStats) {
	pass, err := json.Marshal(protocol.NewPass(p))
	if err != nil {
		return
	}
	status, err := s.statusFrame()
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range s.clients {
		sendLatest(out, pass)
		sendLatest(out, status)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, ok := s.handshake(conn)
		if !ok {
			return
		}

		id := s.nextID.Add(1)
		out := make(chan []byte, 16)
		s.mu.Lock()
		s.clients[id] = out
		s.mu.Unlock()
		s.logf("client %d connected remote=%s interval_ms=%d", id, r.RemoteAddr, hello.IntervalMS)
		defer func() {
			s.mu.Lock()
			delete(s.clients, id)
			s.mu.Unlock()
			s.logf("client %d disconnected", id)
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			var tick <-chan time.Time
			if hello.IntervalMS > 0 {
				t := time.NewTicker(time.Duration(hello.IntervalMS) * time.Millisecond)
				defer t.Stop()
				tick = t.C
			}
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					if err := writeFrame(conn, b); err != nil {
						cancel()
						return
					}
				case <-tick:
					b, err := s.statusFrame()
					if err != nil {
						continue
					}
					if err := writeFrame(conn, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: only watches for close.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				break
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return protocol.HelloMsg{}, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return protocol.HelloMsg{}, false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return protocol.HelloMsg{}, false
	}
	if hello.IntervalMS < 0 {
		hello.IntervalMS = 0
	}
	if hello.IntervalMS > 0 && hello.IntervalMS < 100 {
		hello.IntervalMS = 100
	}

	// Current status immediately.
	b, err := s.statusFrame()
	if err != nil {
		return protocol.HelloMsg{}, false
	}
	if err := writeFrame(conn, b); err != nil {
		return protocol.HelloMsg{}, false
	}
	return hello, true
}

func (s *Server) statusFrame() ([]byte, error) {
	return json.Marshal(protocol.NewStatus(s.src.Status(), time.Now()))
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeFrame(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
