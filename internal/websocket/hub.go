package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/framelight/api/internal/model"
)

// Client represents a WebSocket client
type Client struct {
	BatchID string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub maintains active WebSocket connections grouped by upload batch
type Hub struct {
	// Clients grouped by batch ID
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to batch subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	BatchID string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.BatchID] == nil {
				h.clients[client.BatchID] = make(map[*Client]bool)
			}
			h.clients[client.BatchID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for batch %s", client.BatchID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.BatchID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.BatchID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unregistered from batch %s", client.BatchID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.BatchID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastTasks sends the current upload task list to all batch subscribers
func (h *Hub) BroadcastTasks(batchID string, tasks []model.UploadTaskView) {
	msg := model.WSTasksMessage{
		Type:    model.WSMessageTypeTasks,
		BatchID: batchID,
		Tasks:   tasks,
	}
	h.send(batchID, msg)
}

// BroadcastProgress sends a tagging progress snapshot to all batch subscribers
func (h *Hub) BroadcastProgress(batchID string, snapshot model.ProgressSnapshot) {
	msg := model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		BatchID:  batchID,
		Snapshot: snapshot,
	}
	h.send(batchID, msg)
}

// BroadcastWarning sends a non-fatal warning to all batch subscribers
func (h *Hub) BroadcastWarning(batchID, code, message string) {
	msg := model.WSWarningMessage{
		Type:    model.WSMessageTypeWarning,
		BatchID: batchID,
		Code:    code,
		Message: message,
	}
	h.send(batchID, msg)
}

// BroadcastDismissed signals that the progress view for a batch was dismissed
func (h *Hub) BroadcastDismissed(batchID string) {
	msg := model.WSDismissedMessage{
		Type:    model.WSMessageTypeDismissed,
		BatchID: batchID,
	}
	h.send(batchID, msg)
}

func (h *Hub) send(batchID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal broadcast message: %v", err)
		return
	}

	h.broadcast <- &BroadcastMessage{
		BatchID: batchID,
		Message: data,
	}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, batchID string) {
	client := &Client{
		BatchID: batchID,
		Conn:    c,
		Send:    make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.Send <- data
		}
	}
}
