package display

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/reactive-labs/internal/logging"
)

const writeWait = 5 * time.Second

// streamLab upgrades to a websocket and pushes a snapshot now and after every
// change. Bursts of changes collapse into one frame.
func (s *Server) streamLab(w http.ResponseWriter, r *http.Request) {
	m, ok := s.machine(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	dirty := make(chan struct{}, 1)
	mark := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}
	sub := m.Subscribe(mark)
	defer sub.Unsubscribe()
	mark()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Warn(r.Context(), "websocket read failed", logging.Err(err))
				}
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-dirty:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m.Snapshot()); err != nil {
				s.log.Debug(r.Context(), "websocket write failed", logging.Err(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
