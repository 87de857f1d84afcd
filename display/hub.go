package display

import (
	"bytes"
	"image"
	"image/png"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// clientBuffer is the number of frames queued per client before frames are dropped.
const clientBuffer = 2

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is a Surface that streams frames as PNG images to websocket clients. A client that
// falls behind misses frames rather than slowing the display tick.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	latest  []byte
	dropped uint64
}

// NewHub creates a hub with no clients.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// Present implements Surface.
func (h *Hub) Present(img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	frame := buf.Bytes()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = frame
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.dropped++
			if glog.V(2) {
				glog.Infof("client %p is behind, frame dropped", c.conn)
			}
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Latest returns the most recent frame as PNG, or nil before the first frame.
func (h *Hub) Latest() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	if h.latest != nil {
		c.send <- h.latest
	}
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	glog.Infof("display client connected, %d total", n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
		glog.Infof("display client disconnected, %d total", len(h.clients))
	}
}

// ServeHTTP upgrades the request to a websocket and streams frames to it as binary
// messages until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected a websocket upgrade", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("websocket upgrade: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.register(c)

	go func() {
		defer conn.Close()
		for frame := range c.send {
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				glog.Errorf("websocket write: %v", err)
				h.unregister(c)
				return
			}
		}
	}()

	// the read loop only notices disconnects
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					glog.Errorf("websocket: %v", err)
				}
				h.unregister(c)
				return
			}
		}
	}()
}

// ServePNG responds with the most recent frame.
func (h *Hub) ServePNG(w http.ResponseWriter, r *http.Request) {
	frame := h.Latest()
	if frame == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(frame)
}
