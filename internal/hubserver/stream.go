package hubserver

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"intercom/internal/events"
)

// TelemetryFrame is the wire format of one message pushed to a mission
// viewer, adapted from the teacher's addons.TelemetryFrame.
type TelemetryFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StreamHub fans out mission feedback/status events to WebSocket
// viewers subscribed to a specific mission id, grounded on
// internal/addons/websocket.go's WebSocketHub connection-registry shape.
type StreamHub struct {
	bus      *events.Bus
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string][]*websocket.Conn // mission_id -> viewers
}

func NewStreamHub(bus *events.Bus) *StreamHub {
	h := &StreamHub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string][]*websocket.Conn),
	}
	bus.Subscribe(h.broadcast, events.FeedbackAppended, events.MissionCompleted, events.MissionFailed)
	return h
}

// HandleConnection upgrades GET /api/missions/{id}/stream and registers
// the connection as a viewer of that mission until it disconnects.
func (h *StreamHub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	missionID := r.PathValue("id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hubserver: stream upgrade failed for mission %s: %v", missionID, err)
		return
	}

	h.mu.Lock()
	h.conns[missionID] = append(h.conns[missionID], conn)
	h.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	go h.pingLoop(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(missionID, conn)
	conn.Close()
}

func (h *StreamHub) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
			return
		}
	}
}

func (h *StreamHub) remove(missionID string, target *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	viewers := h.conns[missionID]
	for i, c := range viewers {
		if c == target {
			h.conns[missionID] = append(viewers[:i], viewers[i+1:]...)
			break
		}
	}
}

func (h *StreamHub) broadcast(e events.Event) {
	if e.MissionID == "" {
		return
	}
	h.mu.Lock()
	viewers := append([]*websocket.Conn(nil), h.conns[e.MissionID]...)
	h.mu.Unlock()
	if len(viewers) == 0 {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	frame := TelemetryFrame{Type: string(e.Type), Payload: payload}
	msg, err := json.Marshal(frame)
	if err != nil {
		return
	}

	for _, c := range viewers {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(e.MissionID, c)
		}
	}
}
