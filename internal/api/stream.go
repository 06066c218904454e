package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"mongo-query-top/internal/logging"
	"mongo-query-top/internal/render"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second

	minStreamInterval = 100 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleStream pushes the /api/currentOp payload to the client once per
// refresh interval until it disconnects. Fetch failures are sent as error
// frames and do not close the connection. While paused the last payload is
// repeated.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	s.Metrics.StreamClients.Inc()
	defer s.Metrics.StreamClients.Dec()

	log := logging.Logger.WithField("remote", r.RemoteAddr)
	log.Info("Stream client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readPump(conn, cancel, log)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	next := time.NewTimer(0)
	defer next.Stop()
	var last interface{}

	for {
		select {
		case <-ctx.Done():
			log.Info("Stream client disconnected")
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-next.C:
			if err := s.pushUpdate(ctx, conn, &last); err != nil {
				log.WithError(err).Info("Stream client gone")
				return
			}
			next.Reset(max(s.Prefs.Get().Refresh(), minStreamInterval))
		}
	}
}

// pushUpdate sends a fresh payload and keeps it in last. While paused the
// database is not queried and last is sent again.
func (s *Server) pushUpdate(ctx context.Context, conn *websocket.Conn, last *interface{}) error {
	st := s.Prefs.Get()
	if !st.Paused || *last == nil {
		if res, err := s.poll(ctx, st); err != nil {
			*last = render.ErrorResponse{Success: false, Error: "Failed to fetch current operations", Message: err.Error()}
		} else {
			s.Store.AutoLog(ctx, res.Kept, st)
			*last = s.Renderer.Render(res, st, s.Prefs.Notice())
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(*last)
}

// readPump drains client frames so control messages are processed, and
// cancels the stream when the connection closes.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc, log *logrus.Entry) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Warn("Stream read error")
			}
			return
		}
	}
}
