package scope

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client allows to connect to a scope server and receive frames.
type Client struct {
	address string

	conn *grpc.ClientConn
}

// Frames provides the received frames per type. All channels are closed when the stream ends.
type Frames struct {
	Time      chan *TimeFrame
	Spectral  chan *SpectralFrame
	Waterfall chan *WaterfallFrame
}

// NewClient creates a new client for the given address.
func NewClient(address string) *Client {
	return &Client{
		address: address,
	}
}

// Open the connection to the scope server.
func (c *Client) Open() error {
	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, err := grpc.NewClient(c.address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("cannot connect to scope server: %v", err)
	}
	c.conn = conn

	return nil
}

// Close the connection to the scope server.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// GetFrames opens a frame stream and provides the received frames.
func (c *Client) GetFrames(ctx context.Context) (*Frames, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	stream, err := c.conn.NewStream(ctx, &scopeServiceDesc.Streams[0], getFramesMethod)
	if err != nil {
		return nil, fmt.Errorf("cannot open frame stream: %v", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, fmt.Errorf("cannot request frames: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("cannot request frames: %v", err)
	}

	result := &Frames{
		Time:      make(chan *TimeFrame, 1),
		Spectral:  make(chan *SpectralFrame, 1),
		Waterfall: make(chan *WaterfallFrame, 1),
	}
	go func() {
		defer close(result.Time)
		defer close(result.Spectral)
		defer close(result.Waterfall)

		for {
			raw := new(structpb.Struct)
			err := stream.RecvMsg(raw)
			if err != nil {
				return
			}
			if err := result.dispatch(raw); err != nil {
				log.Printf("scope: %v", err)
			}
		}
	}()

	return result, nil
}

func (f *Frames) dispatch(raw *structpb.Struct) error {
	kind := raw.Fields["kind"].GetStringValue()
	switch kind {
	case timeFrameKind:
		frame, err := readTimeFrame(raw)
		if err != nil {
			return err
		}
		f.Time <- frame
	case spectralFrameKind:
		frame, err := readSpectralFrame(raw)
		if err != nil {
			return err
		}
		f.Spectral <- frame
	case waterfallFrameKind:
		frame, err := readWaterfallFrame(raw)
		if err != nil {
			return err
		}
		f.Waterfall <- frame
	default:
		return fmt.Errorf("unknown frame kind %q", kind)
	}
	return nil
}
