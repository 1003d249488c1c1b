package dashboard

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"habitflow/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// hub fans refresh notifications out to the connected websocket clients. The
// run loop owns the client set; a client whose send buffer is full is dropped
// rather than allowed to stall the broadcast.
type hub struct {
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan interface{}
	clients    map[*wsClient]struct{}
	done       chan struct{}

	mu     sync.RWMutex
	latest interface{}

	count atomic.Int64
	log   *logger.Log
}

func newHub(log *logger.Log) *hub {
	return &hub{
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan interface{}, 16),
		clients:    make(map[*wsClient]struct{}),
		done:       make(chan struct{}),
		log:        log,
	}
}

// run processes client registrations and broadcasts until the context is
// cancelled. It must be started before the first websocket upgrade.
func (h *hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.count.Store(0)
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			// A newly connected client gets the latest refresh message
			// immediately instead of waiting for the next broadcast.
			if latest := h.latestMessage(); latest != nil {
				select {
				case client.send <- latest:
				default:
				}
			}
			h.log.WithComponent("dashboard_ws").WithFields(logger.Fields{
				"clients": len(h.clients),
			}).Debug("websocket client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.count.Store(int64(len(h.clients)))
				h.log.WithComponent("dashboard_ws").WithFields(logger.Fields{
					"clients": len(h.clients),
				}).Debug("websocket client disconnected")
			}

		case message := <-h.broadcast:
			h.setLatest(message)
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
					h.log.WithComponent("dashboard_ws").Warn("dropping slow websocket client")
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

// publish queues a message for broadcast without blocking the caller. When
// the hub is saturated or stopped the message is dropped; clients resync from
// the REST API on their next poll.
func (h *hub) publish(message interface{}) {
	if message == nil {
		return
	}
	select {
	case h.broadcast <- message:
	default:
	}
}

func (h *hub) latestMessage() interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

func (h *hub) setLatest(message interface{}) {
	h.mu.Lock()
	h.latest = message
	h.mu.Unlock()
}

func (h *hub) clientCount() int {
	return int(h.count.Load())
}

// serve upgrades an HTTP request to a websocket connection and attaches it to
// the hub.
func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithComponent("dashboard_ws").WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{hub: h, conn: conn, send: make(chan interface{}, 16)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
