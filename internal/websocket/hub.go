package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/globalchat/backend/internal/logger"
	"github.com/globalchat/backend/internal/metrics"
)

// Event names on the wire.
const (
	EventUpdateMessages = "updateMessages"
	EventNewMessage     = "newMessage"
)

// Event is the envelope of every frame exchanged with clients.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// EncodeEvent builds the wire form of an event.
func EncodeEvent(name string, data any) ([]byte, error) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Event{Name: name, Data: raw})
}

// Hub maintains the set of active clients and broadcasts events to all of
// them. Only the Run goroutine touches the client set.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu      sync.RWMutex
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewHub creates a new Hub instance.
func NewHub(m *metrics.Metrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        logger.Default().WithComponent("websocket"),
		metrics:    m,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()

			h.metrics.IncWSConnections()
			h.log.Debug(h.ctx, "client registered", map[string]interface{}{"addr": client.addr, "clients": count})

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.remove(client)

		case payload := <-h.broadcast:
			h.fanOut(payload)
		}
	}
}

func (h *Hub) fanOut(payload []byte) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	h.metrics.IncCounter(metrics.CounterBroadcastsSent)
	for _, client := range slow {
		h.metrics.IncCounter(metrics.CounterBroadcastsDropped)
		h.log.Warn(h.ctx, "dropping slow client", map[string]interface{}{"addr": client.addr})
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	h.mu.Unlock()

	if ok {
		close(client.send)
		h.metrics.DecWSConnections()
	}
}

// Register hands a new client to the hub. It reports false once the hub is
// shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Broadcast queues an encoded event for every connected client. It never
// blocks past hub shutdown.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) shutdownClients() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		close(client.send)
		client.conn.Close()
		h.metrics.DecWSConnections()
	}

	h.log.Info(context.Background(), "closed websocket clients", map[string]interface{}{"count": len(clients)})
}

// Shutdown stops the hub, closes every client and waits for their pumps.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
