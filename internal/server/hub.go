package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/gorilla/websocket"

	"podcast-timeline/internal/app"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	clientQueue = 32
)

type pushMessage struct {
	playerResponse
	Fragments fragments `json:"fragments"`
}

// hub fans rendered state out to connected websocket clients.
type hub struct {
	upgrader websocket.Upgrader
	logger   lgr.L

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub(logger lgr.L) *hub {
	return &hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// serve upgrades the request, queues initial and passes every received
// message to onMessage. A non-nil reply is sent back to that client only.
func (h *hub) serve(w http.ResponseWriter, r *http.Request, initial []byte, onMessage func(ctx context.Context, data []byte) []byte) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Logf("[WARN] websocket upgrade: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientQueue)}
	if initial != nil {
		c.send <- initial
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(r.Context(), c, onMessage)
}

// broadcast queues data for every client, dropping clients that fall behind.
func (h *hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Logf("[WARN] websocket client %s too slow, disconnecting", c.conn.RemoteAddr())
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) readPump(ctx context.Context, c *wsClient, onMessage func(ctx context.Context, data []byte) []byte) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxEventBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Logf("[DEBUG] websocket read: %v", err)
			}
			return
		}
		if onMessage == nil {
			continue
		}
		if reply := onMessage(ctx, data); reply != nil {
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				select {
				case c.send <- reply:
				default:
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleSocket streams panel updates and accepts events from the page.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	initial, err := json.Marshal(s.pushMessage(s.app.Snapshot(), true))
	if err != nil {
		s.logger.Logf("[ERROR] failed to encode initial push: %v", err)
		initial = nil
	}
	s.hub.serve(w, r, initial, s.handleSocketEvent)
}

func (s *Server) handleSocketEvent(ctx context.Context, data []byte) []byte {
	var ev app.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return errorMessage("invalid event: " + err.Error())
	}
	if _, err := s.dispatch(ctx, ev); err != nil {
		return errorMessage(err.Error())
	}
	return nil
}

// publish runs under the app lock for every dispatch.
func (s *Server) publish(r app.Render) {
	if s.hub.count() == 0 {
		s.lastTimeline = ""
		return
	}
	data, err := json.Marshal(s.pushMessage(r, false))
	if err != nil {
		s.logger.Logf("[ERROR] failed to encode push: %v", err)
		return
	}
	s.hub.broadcast(data)
}

// pushMessage carries the panel and toasts, plus the timeline when it
// changed since the last push or full is set.
func (s *Server) pushMessage(r app.Render, full bool) pushMessage {
	msg := pushMessage{
		playerResponse: playerView(r),
		Fragments: fragments{
			Panel:  s.fragment("panel", r.Player),
			Toasts: s.fragment("toasts", r.Notifications),
		},
	}

	timeline := s.fragment("timeline", r.Timeline)
	if timeline == nil {
		return msg
	}
	if full {
		msg.Fragments.Timeline = timeline
		return msg
	}
	if *timeline != s.lastTimeline {
		s.lastTimeline = *timeline
		msg.Fragments.Timeline = timeline
	}
	return msg
}

func errorMessage(text string) []byte {
	data, _ := json.Marshal(map[string]string{"error": text})
	return data
}
