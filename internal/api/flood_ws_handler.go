package api

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-vms/internal/flood"
)

var floodUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // dev default: every origin is accepted
	},
}

// FloodWsHandler bridges one websocket connection to a flood.Supervisor
// run: a reader goroutine feeds inbox, a writer goroutine drains outbox.
type FloodWsHandler struct {
	Supervisor *flood.Supervisor
}

func NewFloodWsHandler(sv *flood.Supervisor) *FloodWsHandler {
	return &FloodWsHandler{Supervisor: sv}
}

func (h *FloodWsHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := floodUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("flood WS upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbox := make(chan []byte, 8)
	outbox := make(chan []byte, 64)

	go func() {
		defer close(inbox)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case inbox <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbox {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				cancel()
				return
			}
		}
	}()

	h.Supervisor.Run(ctx, inbox, outbox)

	close(outbox)
	<-writerDone
}
