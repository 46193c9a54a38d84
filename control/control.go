// Package control provides a line based console to control the VFOs of a running receiver. Everybody who
// connects, e.g. with telnet, gets the VFO events and can enter commands.
package control

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/ftl/multirx/vfo"
)

const (
	newConnectionDeadline     = 100 * time.Millisecond
	connectionKeepAlivePeriod = 30 * time.Second
	readBufferSize            = 1024
	eventBufferSize           = 32
	prompt                    = "> "
)

// Controller executes the commands.
type Controller interface {
	AddVFO(cfg vfo.Config) (vfo.State, error)
	RemoveVFO(id vfo.ID) bool
	UpdateVFO(id vfo.ID, patch vfo.Patch) (bool, error)
	SetAudioEnabled(id vfo.ID, enabled bool) (bool, error)
	VFOs() []vfo.State
}

type Server struct {
	listener   *net.TCPListener
	version    string
	controller Controller

	connections []*Connection

	msg    chan []byte
	close  chan struct{}
	closed chan struct{}
}

func NewServer(address string, version string, controller Controller) (*Server, error) {
	localAddress, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("invalid control address: %w", err)
	}

	listener, err := net.ListenTCP("tcp", localAddress)
	if err != nil {
		return nil, err
	}

	result := &Server{
		listener:   listener,
		version:    version,
		controller: controller,
		msg:        make(chan []byte, eventBufferSize),
		close:      make(chan struct{}),
		closed:     make(chan struct{}),
	}

	go result.run()

	return result, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) run() {
	defer close(s.closed)
	defer s.listener.Close()
	welcome := fmt.Sprintf("multirx Version %s, enter help for a list of commands\n", s.version)

	removeConnections := make([]int, 0, 10)
	for {
		select {
		case <-s.close:
			for _, conn := range s.connections {
				conn.Close()
			}
			return
		case bytes := <-s.msg:
			removeConnections = removeConnections[:0]
			for i, conn := range s.connections {
				_, err := conn.Write(bytes)
				if err != nil {
					log.Printf("control: found closed connection %s", conn.String())
					removeConnections = append(removeConnections, i)
				}
			}
			for i, index := range removeConnections {
				s.removeConnection(index - i)
			}
		default:
			err := s.listener.SetDeadline(time.Now().Add(newConnectionDeadline))
			if err != nil {
				log.Printf("control: setting the listener deadline failed: %v", err)
				return
			}
			conn, err := s.listener.AcceptTCP()
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			} else if err != nil {
				log.Printf("control: %v", err)
				continue
			}

			log.Printf("control: new incoming connection: %v", conn.RemoteAddr())
			conn.SetKeepAlivePeriod(connectionKeepAlivePeriod)
			conn.SetKeepAlive(true)
			connection := NewConnection(conn, welcome, s.controller)
			s.connections = append(s.connections, connection)
		}
	}
}

func (s *Server) removeConnection(index int) {
	if index < 0 || index >= len(s.connections) {
		return
	}
	log.Printf("control: removing connection %s", s.connections[index].String())
	last := len(s.connections) - 1
	if index < last {
		copy(s.connections[index:], s.connections[index+1:])
	}
	s.connections[last] = nil
	s.connections = s.connections[:last]
}

func (s *Server) Stop() {
	select {
	case <-s.closed:
		return
	default:
		close(s.close)
		<-s.closed
	}
}

// broadcast never blocks, the events are dropped if the connections cannot keep up.
func (s *Server) broadcast(format string, args ...any) {
	select {
	case s.msg <- []byte(fmt.Sprintf(format, args...)):
	default:
		log.Print("control: event dropped")
	}
}

func (s *Server) VFOAdded(state vfo.State) {
	s.broadcast("* added %s\n", formatState(state))
}

func (s *Server) VFOUpdated(state vfo.State) {
	s.broadcast("* updated %s\n", formatState(state))
}

func (s *Server) VFORemoved(id vfo.ID) {
	s.broadcast("* removed vfo %d\n", id)
}

func (s *Server) VFOWarning(warning vfo.Warning) {
	s.broadcast("* warning: %s\n", warning.Message)
}

var ErrClosed = errors.New("connection already closed")

type Connection struct {
	conn       io.ReadWriteCloser
	controller Controller
	msg        chan []byte
	input      chan []byte

	currentLine string
	user        string

	close  chan struct{}
	closed chan struct{}
}

func NewConnection(conn io.ReadWriteCloser, welcome string, controller Controller) *Connection {
	result := &Connection{
		conn:       conn,
		controller: controller,
		msg:        make(chan []byte, eventBufferSize),
		input:      make(chan []byte, 1),

		close:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	if addressable, ok := conn.(interface{ RemoteAddr() net.Addr }); ok {
		result.user = addressable.RemoteAddr().String()
	}

	result.writeAll([]byte(welcome + prompt))

	go result.run()
	go result.readLoop()

	return result
}

func (c *Connection) run() {
	defer close(c.closed)
	defer func() {
		err := c.conn.Close()
		if err != nil {
			log.Printf("control: close %s: %v", c.user, err)
		}
	}()

	for {
		select {
		case <-c.close:
			return
		case bytes := <-c.msg:
			err := c.writeAll(bytes)
			if err != nil {
				log.Printf("control: %s: %v", c.user, err)
				return
			}
		case bytes, ok := <-c.input:
			if !ok {
				return
			}
			for _, b := range bytes {
				response, done := c.parseByte(b)
				if response == "" {
					continue
				}
				if done {
					c.writeAll([]byte(response))
					return
				}
				err := c.writeAll([]byte(response + prompt))
				if err != nil {
					log.Printf("control: %s: %v", c.user, err)
					return
				}
			}
		}
	}
}

func (c *Connection) readLoop() {
	defer close(c.input)
	readBuffer := make([]byte, readBufferSize)
	for {
		n, err := c.conn.Read(readBuffer)
		if errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			return
		} else if err != nil {
			log.Printf("control: %s: %v", c.user, err)
			return
		}

		if n == 0 {
			continue
		}

		bytes := make([]byte, n)
		copy(bytes, readBuffer[:n])
		select {
		case c.input <- bytes:
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) writeAll(bytes []byte) error {
	buffer := bytes
	for len(buffer) > 0 {
		n, err := c.conn.Write(buffer)
		if err != nil {
			return err
		}
		buffer = buffer[n:]
	}
	return nil
}

// parseByte collects the input until the end of the line and executes the complete line.
func (c *Connection) parseByte(b byte) (string, bool) {
	switch b {
	case '\n', '\r':
		line := c.currentLine
		c.currentLine = ""
		if line == "" {
			return "", false
		}
		return Execute(c.controller, line)
	default:
		c.currentLine += string(b)
		return "", false
	}
}

func (c *Connection) Close() {
	select {
	case <-c.closed:
		return
	default:
		close(c.close)
		<-c.closed
	}
}

// Write hands the event over to the connection. Events are dropped if the connection cannot keep up.
func (c *Connection) Write(bytes []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, ErrClosed
	case c.msg <- bytes:
		return len(bytes), nil
	default:
		log.Printf("control: %s: event dropped", c.user)
		return len(bytes), nil
	}
}

func (c *Connection) String() string {
	return c.user
}
