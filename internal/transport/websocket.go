// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"soundscope/internal/log"
)

const (
	broadcastBuffer = 256
	clientBuffer    = 64
	writeTimeout    = 2 * time.Second
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("websocket transport closed")

// client is one connected browser. Slow clients lose messages rather than
// stalling the broadcast.
type client struct {
	conn *websocket.Conn
	send chan Message
	done chan struct{}
}

// WebSocketTransport broadcasts bus events as JSON to every client
// connected on /ws.
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*client]struct{}
	clientsMu sync.RWMutex
	broadcast chan Message
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	server    *http.Server
	log       *log.Logger
}

// NewWebSocketTransport creates the transport and its broadcast loop. Call
// Start to listen on addr, or mount Handler on an existing server.
func NewWebSocketTransport(addr string) *WebSocketTransport {
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // dashboards are served from anywhere
			},
		},
		clients:   make(map[*client]struct{}),
		broadcast: make(chan Message, broadcastBuffer),
		quit:      make(chan struct{}),
		log:       log.Named("WebSocketTransport"),
	}
	wst.wg.Add(1)
	go wst.handleBroadcasts()
	return wst
}

// Handler serves the WebSocket endpoint.
func (wst *WebSocketTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wst.handleWebSocket)
	return mux
}

// Start listens on the configured address. Listen errors are returned;
// serve errors after that are logged.
func (wst *WebSocketTransport) Start() error {
	ln, err := net.Listen("tcp", wst.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", wst.addr, err)
	}
	wst.server = &http.Server{
		Handler:           wst.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		wst.log.Infof("serving on ws://%s/ws", ln.Addr())
		if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wst.log.Errorf("server error: %v", err)
		}
	}()
	return nil
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.log.Warnf("upgrade error: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan Message, clientBuffer), done: make(chan struct{})}
	wst.clientsMu.Lock()
	wst.clients[c] = struct{}{}
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	wst.log.Infof("client %s connected, total: %d", conn.RemoteAddr(), total)

	go wst.writeLoop(c)
	go func() {
		// Clients never send; a read error means they went away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.drop(c)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) writeLoop(c *client) {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				wst.log.Debugf("write to %s failed: %v", c.conn.RemoteAddr(), err)
				wst.drop(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (wst *WebSocketTransport) drop(c *client) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[c]
	delete(wst.clients, c)
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	if !ok {
		return
	}
	close(c.done)
	c.conn.Close()
	wst.log.Infof("client disconnected, total: %d", total)
}

// handleBroadcasts fans messages out to every client.
func (wst *WebSocketTransport) handleBroadcasts() {
	defer wst.wg.Done()
	for {
		select {
		case msg := <-wst.broadcast:
			wst.clientsMu.RLock()
			for c := range wst.clients {
				select {
				case c.send <- msg:
				default:
					// client too slow, drop message to keep broadcast moving
				}
			}
			wst.clientsMu.RUnlock()
		case <-wst.quit:
			return
		}
	}
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.RLock()
	defer wst.clientsMu.RUnlock()
	return len(wst.clients)
}

// Send queues msg for broadcast. It drops the message when the queue is
// full.
func (wst *WebSocketTransport) Send(msg Message) error {
	select {
	case <-wst.quit:
		return ErrClosed
	default:
	}
	select {
	case wst.broadcast <- msg:
	default:
	}
	return nil
}

// Close disconnects every client and shuts the server down.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		close(wst.quit)
		wst.wg.Wait()

		wst.clientsMu.Lock()
		clients := wst.clients
		wst.clients = make(map[*client]struct{})
		wst.clientsMu.Unlock()
		for c := range clients {
			close(c.done)
			c.conn.Close()
		}

		if wst.server != nil {
			err = wst.server.Close()
		}
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
