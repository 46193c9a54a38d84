package scope

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultOutBufferSize = 10

	serviceName     = "multirx.scope.Scope"
	getFramesMethod = "/" + serviceName + "/GetFrames"
)

type frameService interface {
	GetFrames(*emptypb.Empty, grpc.ServerStream) error
}

var scopeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*frameService)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "GetFrames",
			Handler:       getFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "scope",
}

func getFramesHandler(srv any, stream grpc.ServerStream) error {
	request := new(emptypb.Empty)
	if err := stream.RecvMsg(request); err != nil {
		return err
	}
	return srv.(frameService).GetFrames(request, stream)
}

type grpcServer struct {
	listener net.Listener
	server   *grpc.Server

	outBufferSize int
	in            chan *structpb.Struct
	register      chan chan *structpb.Struct
	out           []chan *structpb.Struct
	shutdown      chan struct{}
	shutdownOnce  sync.Once
}

func newGRPCServer(address string, outBufferSize int) (*grpcServer, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("cannot listen on address %s: %w", address, err)
	}

	result := &grpcServer{
		listener:      listener,
		server:        grpc.NewServer(),
		outBufferSize: outBufferSize,
		in:            make(chan *structpb.Struct),
		register:      make(chan chan *structpb.Struct),
		shutdown:      make(chan struct{}),
	}
	result.server.RegisterService(&scopeServiceDesc, result)
	go result.run()

	return result, nil
}

func (s *grpcServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *grpcServer) run() {
	for {
		select {
		case <-s.shutdown:
			for _, out := range s.out {
				close(out)
			}
			s.out = nil
			return
		case out := <-s.register:
			s.out = append(s.out, out)
		case frame := <-s.in:
			s.sendFrameToStreams(frame)
		}
	}
}

// sendFrameToStreams never blocks, streams that cannot keep up are closed.
func (s *grpcServer) sendFrameToStreams(frame *structpb.Struct) {
	open := s.out[:0]
	for _, out := range s.out {
		select {
		case out <- frame:
			open = append(open, out)
		default:
			close(out)
		}
	}
	clear(s.out[len(open):])
	s.out = open
}

func (s *grpcServer) getFrameStream() chan *structpb.Struct {
	result := make(chan *structpb.Struct, s.outBufferSize)
	select {
	case s.register <- result:
	case <-s.shutdown:
		close(result)
	}
	return result
}

// Serve blocks until the server is stopped.
func (s *grpcServer) Serve() error {
	err := s.server.Serve(s.listener)
	s.close()
	return err
}

func (s *grpcServer) Stop() {
	s.server.Stop()
	s.listener.Close()
	s.close()
}

func (s *grpcServer) close() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
}

func (s *grpcServer) GetFrames(_ *emptypb.Empty, stream grpc.ServerStream) error {
	frames := s.getFrameStream()
	for {
		select {
		case frame, open := <-frames:
			if !open {
				return nil
			}
			if err := stream.SendMsg(frame); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *grpcServer) SendFrame(frame *structpb.Struct) {
	select {
	case s.in <- frame:
	case <-s.shutdown:
	}
}
