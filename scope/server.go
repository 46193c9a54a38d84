package scope

import (
	"fmt"
	"log"
	"net"
	"sync"
)

// Server serves frames over a network connection to remote clients.
type Server struct {
	address string

	server     *grpcServer
	serverLock *sync.Mutex
}

// NewServer creates a new scope server that listens on the given address.
func NewServer(address string) *Server {
	return &Server{
		address:    address,
		server:     nil,
		serverLock: &sync.Mutex{},
	}
}

func (s *Server) Active() bool {
	s.serverLock.Lock()
	defer s.serverLock.Unlock()
	return s.server != nil
}

func (s *Server) Addr() net.Addr {
	s.serverLock.Lock()
	defer s.serverLock.Unlock()
	if s.server != nil {
		return s.server.Addr()
	}
	return nil
}

// Start listens on the address of the server and serves frames in the background. It fails if the
// server cannot listen on its address.
func (s *Server) Start() error {
	s.serverLock.Lock()
	defer s.serverLock.Unlock()
	if s.server != nil {
		return fmt.Errorf("scope was already started")
	}

	server, err := newGRPCServer(s.address, defaultOutBufferSize)
	if err != nil {
		return err
	}
	s.server = server

	go func() {
		err := server.Serve()
		if err != nil {
			log.Printf("scope: server failed: %v", err)
		}

		s.serverLock.Lock()
		if s.server == server {
			s.server = nil
		}
		s.serverLock.Unlock()
	}()

	return nil
}

func (s *Server) Stop() {
	s.serverLock.Lock()
	server := s.server
	s.server = nil
	s.serverLock.Unlock()

	if server != nil {
		server.Stop()
	}
}

func (s *Server) activeServer() *grpcServer {
	s.serverLock.Lock()
	defer s.serverLock.Unlock()
	return s.server
}

func (s *Server) ShowTimeFrame(frame *TimeFrame) {
	server := s.activeServer()
	if server == nil {
		return
	}
	server.SendFrame(encodeTimeFrame(frame))
}

func (s *Server) ShowSpectralFrame(frame *SpectralFrame) {
	server := s.activeServer()
	if server == nil {
		return
	}
	server.SendFrame(encodeSpectralFrame(frame))
}

func (s *Server) ShowWaterfallFrame(frame *WaterfallFrame) {
	server := s.activeServer()
	if server == nil {
		return
	}
	server.SendFrame(encodeWaterfallFrame(frame))
}
