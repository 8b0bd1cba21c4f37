package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams engine status heartbeats and trade events to a UI
// client. Each connection gets its own bus subscriptions.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	statuses, unsubStatus := s.Bus.Subscribe(events.ChanBotStatus, 100)
	defer unsubStatus()
	trades, unsubTrades := s.Bus.Subscribe(events.ChanTrade, 100)
	defer unsubTrades()

	for {
		select {
		case msg, ok := <-statuses:
			if !ok {
				return
			}
			if err := conn.WriteJSON(gin.H{"type": "status", "data": msg}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case msg, ok := <-trades:
			if !ok {
				return
			}
			if err := conn.WriteJSON(gin.H{"type": "trade", "data": msg}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}
}
