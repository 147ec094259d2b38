package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/testworker/internal/channel"
	"github.com/mattjoyce/testworker/internal/protocol"
	"github.com/mattjoyce/testworker/internal/testrun"
)

// NewReceiver exposes w as the RemoteTestClassProcessor the host calls.
func NewReceiver(w *Worker) channel.Receiver {
	return channel.ReceiverFunc(func(ctx context.Context, method string, payload json.RawMessage) error {
		switch method {
		case protocol.MethodStartProcessing:
			return w.StartProcessing(ctx)
		case protocol.MethodProcessTestClass:
			var info testrun.ClassRunInfo
			if err := protocol.Unmarshal(payload, &info); err != nil {
				return err
			}
			return w.ProcessTestClass(ctx, info)
		case protocol.MethodStop:
			return w.Stop(ctx)
		default:
			return fmt.Errorf("unknown method %q", method)
		}
	})
}

// Caller issues calls over a channel. *channel.Conn implements it.
type Caller interface {
	Call(ctx context.Context, kind, method string, args any) error
}

// Client is the host-side stub of a remote worker.
type Client struct {
	c Caller
}

func NewClient(c Caller) *Client {
	return &Client{c: c}
}

func (c *Client) StartProcessing(ctx context.Context) error {
	return c.c.Call(ctx, protocol.KindRemoteProcessor, protocol.MethodStartProcessing, nil)
}

func (c *Client) ProcessTestClass(ctx context.Context, info testrun.ClassRunInfo) error {
	return c.c.Call(ctx, protocol.KindRemoteProcessor, protocol.MethodProcessTestClass, info)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.c.Call(ctx, protocol.KindRemoteProcessor, protocol.MethodStop, nil)
}
