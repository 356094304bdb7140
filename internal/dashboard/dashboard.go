// Package dashboard is the WebSocket transport that pushes the ingest
// loop's snapshot cell out to connected browser clients, adapted from the
// teacher's broadcast/client-registry server.
package dashboard

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pires/go-proxyproto"
	"github.com/rs/zerolog"

	"github.com/ba-nh/canmonitor/internal/sink"
)

// Config controls the dashboard transport's listener.
type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	ProxyProtocol bool   `yaml:"proxy_protocol"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// wireFrame is the JSON message pushed to every client on each tick.
type wireFrame struct {
	Time             float64        `json:"time"`
	Signals          map[string]any `json:"signals"`
	Event            string         `json:"event"`
	Trigger          string         `json:"trigger"`
	Speed            float64        `json:"speed"`
	LoggingStartTime int64          `json:"logging_start_time"` // unix ms
	LoggingDuration  float64        `json:"logging_duration"`   // seconds
}

// Server is the dashboard WebSocket transport.
type Server struct {
	cfg  Config
	cell *sink.SnapshotCell
	log  zerolog.Logger

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
	upgrader  websocket.Upgrader

	lastSentTime  float64
	haveSentFrame bool
}

// New creates a dashboard transport pulling frames from cell.
func New(cfg Config, cell *sink.SnapshotCell, log zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		cell:    cell,
		log:     log,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run serves the WebSocket endpoint and polls the snapshot cell at up to
// 20Hz until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	httpSrv := &http.Server{Addr: s.cfg.ListenAddr, Handler: mux}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	if s.cfg.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}

	go s.pollLoop(ctx)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("dashboard transport listening")
	err = httpSrv.Serve(ln)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// pollLoop reads the snapshot cell on a fixed tick and broadcasts whenever a
// genuinely new frame (by Time) has arrived, per the "never re-send the same
// Time" rule.
func (s *Server) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond) // 20Hz
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := s.cell.Read()
			if frame == nil || !s.shouldSend(frame) {
				continue
			}
			s.broadcast(toWireFrame(frame))
		}
	}
}

// shouldSend reports whether frame is new enough to broadcast, and records
// it as sent if so. A frame with the same Time as the last one sent is
// never re-sent, per the dashboard snapshot contract.
func (s *Server) shouldSend(frame *sink.DashboardFrame) bool {
	if s.haveSentFrame && frame.Record.Time == s.lastSentTime {
		return false
	}
	s.lastSentTime = frame.Record.Time
	s.haveSentFrame = true
	return true
}

func toWireFrame(f *sink.DashboardFrame) wireFrame {
	signals := make(map[string]any)
	for _, name := range f.Record.Signals.Names() {
		v, ok := f.Record.Signals.Get(name)
		if !ok {
			continue
		}
		if v.IsNumber {
			signals[name] = v.Number
		} else {
			signals[name] = v.Text
		}
	}
	return wireFrame{
		Time:             f.Record.Time,
		Signals:          signals,
		Event:            f.Record.Event,
		Trigger:          f.Record.Trigger,
		Speed:            f.Speed,
		LoggingStartTime: f.LoggingStartTime.UnixMilli(),
		LoggingDuration:  f.LoggingDuration.Seconds(),
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("dashboard: ws upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Info().Int("clients", count).Msg("dashboard: client connected")

	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			remaining := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			s.log.Info().Int("clients", remaining).Msg("dashboard: client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) broadcast(frame wireFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// client too slow, skip this tick for it
		}
	}
}
