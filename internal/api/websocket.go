package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"signal-engine/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocketEvents streams engine events: generated signals, pending
// approvals, executions, cycle summaries.
func (s *Server) websocketEvents(c *gin.Context) {
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

	topics := []events.Event{
		events.EventSignalGenerated,
		events.EventApprovalPending,
		events.EventApprovalDecided,
		events.EventTradeExecuted,
		events.EventTradeFailed,
		events.EventCycleCompleted,
	}
	merged := make(chan envelope, 100)
	for _, topic := range topics {
		stream, unsub := s.Bus.Subscribe(topic, 100)
		defer unsub()
		go func(topic events.Event, stream <-chan any) {
			for msg := range stream {
				select {
				case merged <- envelope{Event: string(topic), Data: msg}:
				default:
				}
			}
		}(topic, stream)
	}

	for msg := range merged {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// websocketNotifications streams the authenticated user's notifications
// from the hub.
func (s *Server) websocketNotifications(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	stream, unregister := s.Hub.Register(CurrentUserID(c), 100)
	defer unregister()

	for msg := range stream {
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
