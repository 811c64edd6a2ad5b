package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sweeney/bark-door/internal/logger"
	"github.com/sweeney/bark-door/internal/status"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient owns one websocket connection. Only writeLoop writes to conn.
type wsClient struct {
	conn *websocket.Conn
	addr string
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// hub tracks websocket clients and fans messages out to them.
type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	log     *logger.Logger
}

func newHub(log *logger.Logger) *hub {
	if log == nil {
		log = logger.Discard()
	}
	return &hub{clients: make(map[*wsClient]struct{}), log: log}
}

func (h *hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast queues msg for every client, skipping clients whose queue is full.
func (h *hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Warnf("ws client %s is slow, dropping update", c.addr)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("ws upgrade: %v", err)
		return
	}

	c := &wsClient{conn: conn, addr: conn.RemoteAddr().String(), send: make(chan []byte, sendBuffer)}
	c.send <- status.FormatStatusEvent(s.tracker.Snapshot(), "STATUS", "")
	s.hub.add(c)
	s.log.Debugf("ws client connected: %s", c.addr)

	go s.writeLoop(c)
	s.readLoop(c)
}

// readLoop discards inbound messages and unregisters the client on error.
func (s *Server) readLoop(c *wsClient) {
	defer s.hub.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugf("ws read: %v", err)
			}
			return
		}
	}
}

func (s *Server) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.log.Debugf("ws write: %v", err)
			s.hub.remove(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
