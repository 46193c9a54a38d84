package render

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	WebsocketPath = "/frames"

	websocketWriteTimeout = 100 * time.Millisecond
)

type websocketMessage struct {
	Surface   string             `json:"surface"`
	Frame     FrameID            `json:"frame"`
	Kind      string             `json:"kind"`
	Timestamp time.Time          `json:"timestamp"`
	Width     int                `json:"width,omitempty"`
	Height    int                `json:"height,omitempty"`
	FromHz    float64            `json:"fromHz,omitempty"`
	ToHz      float64            `json:"toHz,omitempty"`
	Values    []float64          `json:"values,omitempty"`
	Rows      [][]float64        `json:"rows,omitempty"`
	Markers   map[string]float64 `json:"markers,omitempty"`
	Source    string             `json:"source,omitempty"`
}

// WebsocketBackend broadcasts every frame as JSON message to all connected websocket clients.
type WebsocketBackend struct {
	surface  string
	size     Size
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	clientsLock sync.Mutex
	clients     map[*websocket.Conn]bool
}

// WebsocketBackendFactory returns a factory for websocket backends that listen on the given address. The
// backend is not available if it cannot listen on the address.
func WebsocketBackendFactory(address string) BackendFactory {
	return func(surface string, size Size) (Backend, error) {
		return NewWebsocketBackend(surface, size, address)
	}
}

func NewWebsocketBackend(surface string, size Size, address string) (*WebsocketBackend, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("cannot listen on address %s: %w", address, err)
	}

	result := &WebsocketBackend{
		surface:  surface,
		size:     size,
		listener: listener,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*websocket.Conn]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebsocketPath, result.handleWebsocket)
	result.server = &http.Server{Handler: mux}
	go func() {
		err := result.server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			log.Printf("render: %s: websocket server failed: %v", surface, err)
		}
	}()

	return result, nil
}

func (b *WebsocketBackend) Name() string {
	return "websocket"
}

func (b *WebsocketBackend) Addr() net.Addr {
	return b.listener.Addr()
}

func (b *WebsocketBackend) ClientCount() int {
	b.clientsLock.Lock()
	defer b.clientsLock.Unlock()
	return len(b.clients)
}

func (b *WebsocketBackend) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("render: %s: websocket upgrade failed: %v", b.surface, err)
		return
	}

	b.clientsLock.Lock()
	b.clients[conn] = true
	b.clientsLock.Unlock()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				b.removeClient(conn)
				return
			}
		}
	}()
}

func (b *WebsocketBackend) removeClient(conn *websocket.Conn) {
	b.clientsLock.Lock()
	defer b.clientsLock.Unlock()
	if b.clients[conn] {
		delete(b.clients, conn)
		conn.Close()
	}
}

func (b *WebsocketBackend) Resize(size Size) error {
	b.size = size
	return nil
}

func (b *WebsocketBackend) Render(frame Frame) error {
	msg := websocketMessage{
		Surface:   b.surface,
		Frame:     frame.ID,
		Kind:      PayloadKind(frame.Payload),
		Timestamp: frame.Timestamp,
		Width:     b.size.Width,
		Height:    b.size.Height,
	}
	switch p := frame.Payload.(type) {
	case Samples:
		msg.Source = p.Source
		msg.Values = make([]float64, len(p.Values))
		for i, v := range p.Values {
			msg.Values[i] = float64(v)
		}
	case Spectrum:
		msg.FromHz = p.FromHz
		msg.ToHz = p.ToHz
		msg.Values = p.Magnitude
		msg.Markers = p.Markers
	case Waterfall:
		msg.FromHz = p.FromHz
		msg.ToHz = p.ToHz
		msg.Rows = p.Rows
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPayload, PayloadKind(frame.Payload))
	}

	b.clientsLock.Lock()
	defer b.clientsLock.Unlock()
	for conn := range b.clients {
		conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("render: %s: dropping websocket client: %v", b.surface, err)
			delete(b.clients, conn)
			conn.Close()
		}
	}
	return nil
}

func (b *WebsocketBackend) Close() error {
	b.clientsLock.Lock()
	for conn := range b.clients {
		conn.Close()
	}
	b.clients = make(map[*websocket.Conn]bool)
	b.clientsLock.Unlock()

	return b.server.Close()
}
