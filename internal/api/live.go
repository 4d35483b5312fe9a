package api

import (
	"net/http"
	"time"

	"Go2NetMonitor/internal/correlator"
	"Go2NetMonitor/internal/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	subscribeQueue = 64
)

// frame is one message on the live feed.
type frame struct {
	Type      string               `json:"type"` // "hello", "snapshots" or "dns"
	ClientID  string               `json:"client_id,omitempty"`
	Snapshots *model.SnapshotBatch `json:"snapshots,omitempty"`
	DNS       *model.DNSRecord     `json:"dns,omitempty"`
}

func frameFor(ev correlator.Event) frame {
	f := frame{Type: string(ev.Kind)}
	switch ev.Kind {
	case correlator.EventSnapshots:
		b := ev.Batch
		f.Snapshots = &b
	case correlator.EventDNS:
		rec := ev.Record
		f.DNS = &rec
	}
	return f
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, o := range s.cfg.AllowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

// handleLive streams every correlator event to one WebSocket client until
// either side goes away.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	events, unsubscribe, err := s.deps.Orchestrator.Subscribe(r.Context(), subscribeQueue)
	if err != nil {
		writeError(w, statusFor(err), 0, err)
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed.", "err", err)
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	logger := s.logger.With("client_id", clientID)
	logger.Info("Live client connected.")
	defer logger.Info("Live client disconnected.")

	// The read side only handles control frames; its exit means the peer is gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if err := writeFrame(conn, frame{Type: "hello", ClientID: clientID}); err != nil {
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := writeFrame(conn, frameFor(ev)); err != nil {
				logger.Debug("Live write failed.", "err", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, f frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}
