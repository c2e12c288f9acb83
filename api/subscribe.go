package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"node.town/parley/live"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type notification struct {
	Resource string `json:"resource"`
	Event    string `json:"event"`
}

func knownResource(resource string) bool {
	switch resource {
	case live.TranscriptResource, live.SegmentsResource, live.UsageResource:
		return true
	}
	return false
}

// handleSubscribe streams one message per change of the requested
// resource until the client goes away.
func (s *Server) handleSubscribe(w http.ResponseWriter, req *http.Request) {
	resource := req.URL.Query().Get("resource")
	if !knownResource(resource) {
		writeError(w, http.StatusBadRequest, "unknown resource")
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Warn("upgrade", "err", err)
		return
	}
	defer conn.Close()

	var connMu sync.Mutex
	unsubscribe := s.meeting.Subscribe(resource, func() error {
		connMu.Lock()
		defer connMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(notification{Resource: resource, Event: "updated"})
	})
	defer unsubscribe()

	s.logger.Debug("subscribed", "resource", resource, "remote", req.RemoteAddr)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("subscriber gone", "resource", resource, "err", err)
			}
			return
		}
	}
}
