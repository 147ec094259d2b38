package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/mattjoyce/testworker/internal/protocol"
)

const (
	grpcServiceName   = "testworker.channel.v1.Channel"
	grpcConnectMethod = "/" + grpcServiceName + "/Connect"

	// codecName is the gRPC content-subtype frames travel under.
	codecName = "testworker-json"
)

func init() {
	encoding.RegisterCodec(frameCodec{})
}

// frameCodec encodes protocol frames as JSON on the gRPC stream.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (frameCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (frameCodec) Name() string                       { return codecName }

var connectStreamDesc = grpc.StreamDesc{
	StreamName:    "Connect",
	ServerStreams: true,
	ClientStreams: true,
}

// ChannelServer is the host side of the gRPC channel service.
type ChannelServer interface {
	Connect(stream grpc.ServerStream) error
}

var channelServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*ChannelServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    connectStreamDesc.StreamName,
		Handler:       connectHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ChannelServer).Connect(stream)
}

// frameStream is the subset of grpc.ClientStream and grpc.ServerStream used.
type frameStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// GRPCTransport carries frames over one bidirectional gRPC stream.
type GRPCTransport struct {
	stream frameStream

	// client side
	closeSend func() error
	cancel    context.CancelFunc
	cc        *grpc.ClientConn

	// server side: closing done ends the handler and with it the stream.
	done chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// DialGRPC connects to a host serving the channel service at target. The
// stream lives until Close, independent of ctx.
func DialGRPC(ctx context.Context, target string, opts ...grpc.DialOption) (*GRPCTransport, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := cc.NewStream(sctx, &connectStreamDesc, grpcConnectMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		cancel()
		_ = cc.Close()
		return nil, fmt.Errorf("open channel stream: %w", err)
	}

	return &GRPCTransport{
		stream:    stream,
		closeSend: stream.CloseSend,
		cancel:    cancel,
		cc:        cc,
	}, nil
}

// RegisterGRPCHost registers the channel service on s. accept is called, and
// must not block, with a transport for each worker that connects; the stream
// stays open until that transport is closed or the worker goes away.
func RegisterGRPCHost(s *grpc.Server, accept func(t *GRPCTransport)) {
	s.RegisterService(&channelServiceDesc, &hostServer{accept: accept})
}

type hostServer struct {
	accept func(t *GRPCTransport)
}

func (h *hostServer) Connect(stream grpc.ServerStream) error {
	t := &GRPCTransport{stream: stream, done: make(chan struct{})}
	h.accept(t)
	select {
	case <-t.done:
	case <-stream.Context().Done():
	}
	return nil
}

func (t *GRPCTransport) ReadFrame(f *protocol.Frame) error {
	if err := t.stream.RecvMsg(f); err != nil {
		return err
	}
	return protocol.Validate(f)
}

func (t *GRPCTransport) WriteFrame(f *protocol.Frame) error {
	if err := protocol.Validate(f); err != nil {
		return err
	}
	return t.stream.SendMsg(f)
}

func (t *GRPCTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.done != nil {
			close(t.done)
			return
		}
		if err := t.closeSend(); err != nil {
			t.closeErr = err
		}
		t.cancel()
		if err := t.cc.Close(); err != nil && t.closeErr == nil {
			t.closeErr = err
		}
	})
	return t.closeErr
}
