package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

type fillRegistration struct {
	clientID string
	client   *client
}

type fillPush struct {
	clientID string
	message  []byte
}

// FillHub delivers each fill exactly once to every live subscriber of
// that fill's client_id. Subscribers for different clients never see
// each other's fills; a slow subscriber is dropped on its next send
// rather than allowed to block the writer.
type FillHub struct {
	subscribers map[string]map[*client]bool
	register    chan fillRegistration
	unregister  chan fillRegistration
	push        chan fillPush
	mu          sync.RWMutex
	log         zerolog.Logger
}

// NewFillHub creates a fill hub. Run must be started in a goroutine
// before subscribers connect.
func NewFillHub(log zerolog.Logger) *FillHub {
	return &FillHub{
		subscribers: make(map[string]map[*client]bool),
		register:    make(chan fillRegistration),
		unregister:  make(chan fillRegistration),
		push:        make(chan fillPush, 256),
		log:         log.With().Str("component", "ws-fill-hub").Logger(),
	}
}

// Run is the hub's event loop; call it in its own goroutine.
func (h *FillHub) Run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			set, ok := h.subscribers[reg.clientID]
			if !ok {
				set = make(map[*client]bool)
				h.subscribers[reg.clientID] = set
			}
			set[reg.client] = true
			h.mu.Unlock()

		case reg := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.subscribers[reg.clientID]; ok {
				if _, ok := set[reg.client]; ok {
					delete(set, reg.client)
					close(reg.client.send)
				}
				if len(set) == 0 {
					delete(h.subscribers, reg.clientID)
				}
			}
			h.mu.Unlock()

		case p := <-h.push:
			h.mu.RLock()
			set := h.subscribers[p.clientID]
			for c := range set {
				select {
				case c.send <- p.message:
				default:
					close(c.send)
					delete(set, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish delivers fill to every subscriber currently watching clientID.
func (h *FillHub) Publish(clientID string, fill interface{}) {
	data, err := json.Marshal(fill)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal fill event")
		return
	}
	select {
	case h.push <- fillPush{clientID: clientID, message: data}:
	default:
		h.log.Warn().Str("client_id", clientID).Msg("fill push buffer full, dropping event")
	}
}

// ServeHTTP upgrades r to a websocket connection and registers it as a
// subscriber for clientID, first replaying backlog (the last N fills for
// that client, oldest first).
func (h *FillHub) ServeHTTP(w http.ResponseWriter, r *http.Request, clientID string, backlog []interface{}) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("fill websocket upgrade failed")
		return
	}

	c := newClient(conn, h.log)
	h.register <- fillRegistration{clientID: clientID, client: c}
	go c.writePump()
	go c.readPump(func() { h.unregister <- fillRegistration{clientID: clientID, client: c} })

	for _, fill := range backlog {
		if data, err := json.Marshal(fill); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}
