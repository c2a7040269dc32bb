package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// MessageType represents the type of WebSocket control message
type MessageType string

const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeEvent       MessageType = "event"
	MessageTypeAck         MessageType = "ack"
	MessageTypeError       MessageType = "error"
)

// WSMessage represents a WebSocket message in either direction
type WSMessage struct {
	Type      MessageType `json:"type"`
	AccountID uint        `json:"account_id,omitempty"`
	Event     *Event      `json:"event,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Hub maintains the set of connected clients and fans tracking events out to
// the clients subscribed to each account. It implements Sink.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Account subscriptions: accountID -> set of clients
	subscriptions map[uint]map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest
	broadcast   chan *broadcastMessage
	stop        chan struct{}

	mu sync.RWMutex

	logger *slog.Logger
}

type subscriptionRequest struct {
	client    *Client
	accountID uint
}

type broadcastMessage struct {
	accountID uint
	message   []byte
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[uint]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscribe:     make(chan *subscriptionRequest),
		unsubscribe:   make(chan *subscriptionRequest),
		broadcast:     make(chan *broadcastMessage, 256),
		stop:          make(chan struct{}),
		logger:        logger,
	}
}

// Run starts the hub's main loop. It returns when Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]bool)
			h.subscriptions = make(map[uint]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("event client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for accountID, subscribers := range h.subscriptions {
					delete(subscribers, client)
					if len(subscribers) == 0 {
						delete(h.subscriptions, accountID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Debug("event client unregistered")

		case req := <-h.subscribe:
			h.mu.Lock()
			if h.subscriptions[req.accountID] == nil {
				h.subscriptions[req.accountID] = make(map[*Client]bool)
			}
			h.subscriptions[req.accountID][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed to account events", slog.Uint64("account_id", uint64(req.accountID)))

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if subscribers, ok := h.subscriptions[req.accountID]; ok {
				delete(subscribers, req.client)
				if len(subscribers) == 0 {
					delete(h.subscriptions, req.accountID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			subscribers := h.subscriptions[msg.accountID]
			for client := range subscribers {
				select {
				case client.send <- msg.message:
				default:
					// Client buffer full, skip
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop terminates the hub loop and disconnects all clients
func (h *Hub) Stop() {
	close(h.stop)
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// Subscribe subscribes a client to an account's events
func (h *Hub) Subscribe(client *Client, accountID uint) {
	h.subscribe <- &subscriptionRequest{client: client, accountID: accountID}
}

// Unsubscribe removes a client's subscription to an account
func (h *Hub) Unsubscribe(client *Client, accountID uint) {
	h.unsubscribe <- &subscriptionRequest{client: client, accountID: accountID}
}

// Publish broadcasts the event to every client subscribed to its account.
// Delivery is best-effort; slow clients are skipped.
func (h *Hub) Publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	msg := WSMessage{Type: MessageTypeEvent, AccountID: event.AccountID, Event: &event}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal event", slog.Any("error", err))
		return
	}

	select {
	case h.broadcast <- &broadcastMessage{accountID: event.AccountID, message: data}:
	default:
		h.logger.Warn("event broadcast buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}
