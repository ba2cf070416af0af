package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// Hub broadcasts market-data snapshots to every connected subscriber. A
// subscriber whose send buffer is full is dropped rather than allowed to
// stall the broadcaster.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	mu         sync.RWMutex
	log        zerolog.Logger
}

// NewHub creates a market-data hub. Run must be started in a goroutine
// before subscribers connect.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		log:        log.With().Str("component", "ws-market-hub").Logger(),
	}
}

// Run is the hub's event loop; call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish marshals snapshot and fans it out to every connected
// subscriber. It never blocks: a full broadcast buffer drops the update.
func (h *Hub) Publish(snapshot interface{}) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal market-data snapshot")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn().Msg("market-data broadcast buffer full, dropping snapshot")
	}
}

// ServeHTTP upgrades r to a websocket connection and registers the new
// subscriber. initial is sent immediately after registration, mirroring
// the "initial message is the current snapshot on connect" contract.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, initial interface{}) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("market-data websocket upgrade failed")
		return
	}

	c := newClient(conn, h.log)
	h.register <- c
	go c.writePump()
	go c.readPump(func() { h.unregister <- c })

	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}
