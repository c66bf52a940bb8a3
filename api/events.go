/*
events.go - Websocket change feed

PURPOSE:
  Every committed allocation write is published to the Hub, which fans it
  out to the websocket subscribers of GET /api/allocations/events. Planner
  clients use the feed only as an invalidation signal: they re-fetch their
  visible week on any event.

DELIVERY:
  Publish never blocks the writer. Each subscriber has a bounded queue; a
  subscriber that falls behind is disconnected and must reconnect (and
  re-fetch). A single goroutine per connection owns all writes.

SEE ALSO:
  - allocation/service.go: Publisher interface, Event
  - client/watch.go:       The consuming side
*/
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/canteiro/planner/allocation"
)

const (
	subscriberQueue = 32
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
)

type subscriber struct {
	conn       *websocket.Conn
	send       chan EventDTO
	workSiteID string // empty = all work sites
}

// Hub fans change events out to websocket subscribers. It implements
// allocation.Publisher.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:  log,
		subs: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by the CORS layer for browsers; the feed
			// carries IDs only.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Publish queues e for every interested subscriber.
func (h *Hub) Publish(e allocation.Event) {
	eventCount.WithLabelValues(string(e.Type)).Inc()
	dto := toEventDTO(e)

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.workSiteID != "" && s.workSiteID != e.WorkSiteID {
			continue
		}
		select {
		case s.send <- dto:
		default:
			h.log.Warn().Str("remote", s.conn.RemoteAddr().String()).Msg("feed subscriber too slow, disconnecting")
			h.removeLocked(s)
		}
	}
}

// Subscribers is the number of open connections.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		h.removeLocked(s)
	}
}

// ServeWS upgrades the request and streams events until the client goes
// away. Optional query parameter work_site_id narrows the feed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug().Err(err).Msg("feed upgrade failed")
		return
	}

	s := &subscriber{
		conn:       conn,
		send:       make(chan EventDTO, subscriberQueue),
		workSiteID: r.URL.Query().Get("work_site_id"),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	feedSubscribers.Inc()
	h.log.Debug().Str("remote", conn.RemoteAddr().String()).Str("work_site", s.workSiteID).Msg("feed subscriber connected")

	go h.writeLoop(s)
	h.readLoop(s)
}

// readLoop discards client messages; it exists to notice disconnects and
// to process pongs.
func (h *Hub) readLoop(s *subscriber) {
	defer h.remove(s)

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteJSON(ev); err != nil {
				h.remove(s)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(s)
				return
			}
		}
	}
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *subscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	feedSubscribers.Dec()
	close(s.send)
}
