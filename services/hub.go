package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"emojiparty/models"
	"emojiparty/store"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// Hub pushes game events to connected websocket clients. It implements
// Publisher; clients that fall behind are dropped and resync by long-poll.
type Hub struct {
	repo *store.Repository

	games      map[string]map[*Client]bool
	broadcast  chan *models.Event
	register   chan *Client
	unregister chan *Client
	direct     chan directMessage
	done       chan struct{}
	mutex      sync.RWMutex
	wg         sync.WaitGroup
}

type Client struct {
	hub      *Hub
	id       string
	socket   *websocket.Conn
	send     chan []byte
	gameID   string
	playerID string
	username string
}

type directMessage struct {
	client *Client
	data   []byte
}

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func NewHub(repo *store.Repository) *Hub {
	return &Hub{
		repo:       repo,
		games:      make(map[string]map[*Client]bool),
		broadcast:  make(chan *models.Event, sendBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan directMessage, sendBufferSize),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			if h.games[client.gameID] == nil {
				h.games[client.gameID] = make(map[*Client]bool)
			}
			h.games[client.gameID][client] = true
			total := len(h.games[client.gameID])
			h.mutex.Unlock()
			log.Printf("[Hub] client %s registered for game %s (%s) - %d connected", client.id, client.gameID, client.username, total)

		case client := <-h.unregister:
			h.remove(client)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("[Hub] failed to marshal event %d: %v", event.ID, err)
				continue
			}
			h.mutex.RLock()
			var slow []*Client
			for client := range h.games[event.GameID] {
				select {
				case client.send <- data:
				default:
					slow = append(slow, client)
				}
			}
			h.mutex.RUnlock()
			for _, client := range slow {
				log.Printf("[Hub] client %s send buffer full, closing connection", client.id)
				h.remove(client)
			}

		case msg := <-h.direct:
			h.mutex.RLock()
			if h.games[msg.client.gameID][msg.client] {
				select {
				case msg.client.send <- msg.data:
				default:
				}
			}
			h.mutex.RUnlock()

		case <-h.done:
			h.mutex.Lock()
			for gameID, clients := range h.games {
				for client := range clients {
					close(client.send)
				}
				delete(h.games, gameID)
			}
			h.mutex.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	clients := h.games[client.gameID]
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.games, client.gameID)
	}
	log.Printf("[Hub] client %s unregistered from game %s (%s)", client.id, client.gameID, client.username)
}

// Publish queues an event for fan-out without blocking the caller.
func (h *Hub) Publish(event *models.Event) {
	select {
	case h.broadcast <- event:
	case <-h.done:
	default:
		log.Printf("[Hub] broadcast queue full, dropping event %d of game %s", event.ID, event.GameID)
	}
}

// ConnectedCount returns the number of sockets open for a game.
func (h *Hub) ConnectedCount(gameID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.games[gameID])
}

// RegisterClient attaches a socket to a game. Events after lastEventID are
// replayed before live delivery starts.
func (h *Hub) RegisterClient(ctx context.Context, conn *websocket.Conn, gameID, playerID, username string, lastEventID int64) *Client {
	client := &Client{
		hub:      h,
		id:       uuid.NewString(),
		socket:   conn,
		send:     make(chan []byte, sendBufferSize),
		gameID:   gameID,
		playerID: playerID,
		username: username,
	}

	events, err := h.repo.EventsSince(ctx, gameID, lastEventID, sendBufferSize/2)
	if err != nil {
		log.Printf("[Hub] replay for game %s failed: %v", gameID, err)
	}
	for i := range events {
		if data, err := json.Marshal(&events[i]); err == nil {
			client.send <- data
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return client
	}

	h.wg.Add(2)
	go client.writePump()
	go client.readPump()
	return client
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	h.wg.Wait()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.socket.Close()
		c.hub.wg.Done()
	}()

	c.socket.SetReadLimit(4096)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Hub] read error from %s: %v", c.id, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("[Hub] invalid message from %s: %v", c.id, err)
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage answers client pings. Game actions go through the HTTP API.
func (c *Client) handleMessage(msg Message) {
	switch msg.Type {
	case "ping":
		data, _ := json.Marshal(Message{Type: "pong", Payload: time.Now().UnixMilli()})
		select {
		case c.hub.direct <- directMessage{client: c, data: data}:
		default:
		}
	default:
		log.Printf("[Hub] unknown message type %q from %s in game %s", msg.Type, c.username, c.gameID)
	}
}
