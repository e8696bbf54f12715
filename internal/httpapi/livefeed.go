package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/janus-bridge/janus/internal/dbstore"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// bridgeEvent is the JSON shape pushed to every connected admin client
// whenever BridgeStore mutates a bridge.
type bridgeEvent struct {
	Kind   string             `json:"kind"` // created|deleted|toggled|repaired
	Bridge dbstore.BridgePair `json:"bridge"`
}

// feedClient is one connected websocket admin session.
type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// LiveFeed broadcasts bridge lifecycle events to connected admin websocket
// clients, adapted from a hub/client broadcast pattern with the
// chat-room fan-out generalized to a single admin broadcast topic and
// Redis pub/sub dropped since a single janusbridge process owns every
// worker directly (no multi-instance fan-out to coordinate).
type LiveFeed struct {
	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

func NewLiveFeed() *LiveFeed {
	return &LiveFeed{clients: make(map[*feedClient]struct{})}
}

func (f *LiveFeed) broadcast(evt bridgeEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(f.clients, c)
		}
	}
}

func (f *LiveFeed) OnBridgeCreated(bp dbstore.BridgePair)  { f.broadcast(bridgeEvent{"created", bp}) }
func (f *LiveFeed) OnBridgeDeleted(bp dbstore.BridgePair)  { f.broadcast(bridgeEvent{"deleted", bp}) }
func (f *LiveFeed) OnBridgeToggled(bp dbstore.BridgePair)  { f.broadcast(bridgeEvent{"toggled", bp}) }
func (f *LiveFeed) OnBridgeRepaired(bp dbstore.BridgePair) { f.broadcast(bridgeEvent{"repaired", bp}) }

// ServeWS upgrades the connection and starts the client's pumps.
func (f *LiveFeed) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, 32)}

	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	go f.writePump(c)
	go f.readPump(c)
}

// readPump only exists to notice disconnects and enforce the read
// deadline/pong handshake; the admin feed is one-directional.
func (f *LiveFeed) readPump(c *feedClient) {
	defer f.remove(c)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *LiveFeed) writePump(c *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *LiveFeed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}
