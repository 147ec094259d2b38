// Package channel is the bidirectional typed channel between host and worker.
//
// A Conn sits on a Transport that moves protocol frames. It offers the two
// primitives the worker needs (RegisterReceiver, OpenSender) plus Call for
// the side that issues requests.
//
// Concurrency model:
//   - Serve is the dispatch loop. It reads frames and hands calls and messages
//     to receivers one at a time, on the goroutine that runs Serve.
//   - All writes go through a single writer goroutine fed by a FIFO queue. A
//     reply is queued behind every message its receiver sent, so the peer sees
//     a call's side effects before its reply.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/testworker/internal/log"
	"github.com/mattjoyce/testworker/internal/protocol"
)

const defaultSendBuffer = 1024

var (
	// ErrClosed is returned for operations on a closed or broken channel.
	ErrClosed = errors.New("channel closed")

	// ErrNoReceiver is reported to the caller when a frame names a kind
	// nobody registered.
	ErrNoReceiver = errors.New("no receiver registered")
)

// Transport moves frames. ReadFrame is only called from Serve and WriteFrame
// only from the writer goroutine, so implementations need not lock.
type Transport interface {
	ReadFrame(f *protocol.Frame) error
	WriteFrame(f *protocol.Frame) error
	Close() error
}

// Receiver handles incoming calls and messages of one kind.
type Receiver interface {
	Receive(ctx context.Context, method string, payload json.RawMessage) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, method string, payload json.RawMessage) error

func (f ReceiverFunc) Receive(ctx context.Context, method string, payload json.RawMessage) error {
	return f(ctx, method, payload)
}

// Sender delivers fire-and-forget messages of one kind, in call order.
type Sender interface {
	Send(method string, args any) error
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithSendBuffer sets the outgoing queue length. Senders block only when the
// queue is full.
func WithSendBuffer(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.sendBuffer = n
		}
	}
}

// Conn is one end of a channel.
type Conn struct {
	transport  Transport
	logger     *slog.Logger
	sendBuffer int

	// mu guards receivers, closed and sends on out.
	mu        sync.RWMutex
	receivers map[string]Receiver
	closed    bool
	out       chan *protocol.Frame

	pendingMu sync.Mutex
	pending   map[uint64]chan error
	broken    error
	nextID    atomic.Uint64

	// dispatchMu is held while a frame is being dispatched, reply included.
	dispatchMu sync.Mutex

	writeErr   atomic.Pointer[error]
	writerDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps t and starts the writer goroutine.
func NewConn(t Transport, opts ...Option) *Conn {
	c := &Conn{
		transport:  t,
		logger:     log.WithComponent("channel"),
		sendBuffer: defaultSendBuffer,
		receivers:  make(map[string]Receiver),
		pending:    make(map[uint64]chan error),
		writerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.out = make(chan *protocol.Frame, c.sendBuffer)
	go c.writeLoop()
	return c
}

// RegisterReceiver marks r as the target of incoming frames of kind.
func (c *Conn) RegisterReceiver(kind string, r Receiver) error {
	if kind == "" {
		return fmt.Errorf("receiver kind is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.receivers[kind]; ok {
		return fmt.Errorf("receiver for kind %q already registered", kind)
	}
	c.receivers[kind] = r
	return nil
}

// OpenSender returns a Sender whose messages are delivered to the peer's
// receiver of kind.
func (c *Conn) OpenSender(kind string) (Sender, error) {
	if kind == "" {
		return nil, fmt.Errorf("sender kind is empty")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	return &sender{conn: c, kind: kind}, nil
}

// Call invokes method on the peer's receiver of kind and waits for its reply.
// A failure raised by the remote receiver is returned as *protocol.RemoteError.
func (c *Conn) Call(ctx context.Context, kind, method string, args any) error {
	payload, err := protocol.Marshal(args)
	if err != nil {
		return err
	}

	id := c.nextID.Add(1)
	done := make(chan error, 1)

	c.pendingMu.Lock()
	if c.broken != nil {
		err := c.broken
		c.pendingMu.Unlock()
		return err
	}
	c.pending[id] = done
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.enqueue(&protocol.Frame{
		Type:    protocol.TypeCall,
		ID:      id,
		Kind:    kind,
		Method:  method,
		Payload: payload,
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("call %s.%s: %w", kind, method, ctx.Err())
	}
}

// Serve runs the dispatch loop until the transport fails or ends. Calls still
// waiting for a reply fail with ErrClosed. Serve returns an error wrapping
// ErrClosed when the channel ends, and ctx.Err() after ctx is done and the
// next frame has been handled.
func (c *Conn) Serve(ctx context.Context) error {
	for {
		var f protocol.Frame
		if err := c.transport.ReadFrame(&f); err != nil {
			c.failPending()
			if errors.Is(err, io.EOF) || c.isClosed() {
				return fmt.Errorf("%w: %w", ErrClosed, err)
			}
			return fmt.Errorf("%w: read frame: %w", ErrClosed, err)
		}

		switch f.Type {
		case protocol.TypeReply:
			c.resolve(&f)
		case protocol.TypeCall, protocol.TypeMessage:
			c.dispatch(ctx, &f)
		}

		if err := ctx.Err(); err != nil {
			c.failPending()
			return err
		}
	}
}

// Close waits for an in-flight dispatch to queue its reply, flushes the
// outgoing queue and closes the transport. It must not be called from inside
// a Receiver.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.dispatchMu.Lock()
		c.mu.Lock()
		c.closed = true
		close(c.out)
		c.mu.Unlock()
		c.dispatchMu.Unlock()

		<-c.writerDone
		c.closeErr = c.transport.Close()
		c.failPending()
	})
	return c.closeErr
}

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Conn) enqueue(f *protocol.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if p := c.writeErr.Load(); p != nil {
		return fmt.Errorf("%w: %w", ErrClosed, *p)
	}
	c.out <- f
	return nil
}

func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	for f := range c.out {
		if c.writeErr.Load() != nil {
			continue // transport broken, drain
		}
		if err := c.transport.WriteFrame(f); err != nil {
			c.writeErr.Store(&err)
			c.logger.Error("write frame failed, dropping further output", "error", err)
		}
	}
}

func (c *Conn) dispatch(ctx context.Context, f *protocol.Frame) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	err := c.invoke(ctx, f)

	if f.Type == protocol.TypeMessage {
		if err != nil {
			c.logger.Warn("message handler failed", "kind", f.Kind, "method", f.Method, "error", err)
		}
		return
	}

	reply := &protocol.Frame{
		Type:  protocol.TypeReply,
		ID:    f.ID,
		Error: protocol.NewRemoteError(err),
	}
	if err := c.enqueue(reply); err != nil {
		c.logger.Warn("dropping reply", "kind", f.Kind, "method", f.Method, "id", f.ID, "error", err)
	}
}

// invoke runs the receiver and turns a panic into an error so the dispatch
// loop survives receiver bugs.
func (c *Conn) invoke(ctx context.Context, f *protocol.Frame) (err error) {
	c.mu.RLock()
	r, ok := c.receivers[f.Kind]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w for kind %q", ErrNoReceiver, f.Kind)
	}

	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("receiver panicked", "kind", f.Kind, "method", f.Method, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("%s.%s panicked: %v", f.Kind, f.Method, p)
		}
	}()
	return r.Receive(ctx, f.Method, f.Payload)
}

func (c *Conn) resolve(f *protocol.Frame) {
	c.pendingMu.Lock()
	done, ok := c.pending[f.ID]
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Warn("reply for unknown call", "id", f.ID)
		return
	}
	var err error
	if f.Error != nil {
		err = f.Error
	}
	select {
	case done <- err:
	default:
		c.logger.Warn("duplicate reply", "id", f.ID)
	}
}

func (c *Conn) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.broken == nil {
		c.broken = ErrClosed
	}
	for id, done := range c.pending {
		select {
		case done <- ErrClosed:
		default:
		}
		delete(c.pending, id)
	}
}

type sender struct {
	conn *Conn
	kind string
}

func (s *sender) Send(method string, args any) error {
	payload, err := protocol.Marshal(args)
	if err != nil {
		return err
	}
	return s.conn.enqueue(&protocol.Frame{
		Type:    protocol.TypeMessage,
		Kind:    s.kind,
		Method:  method,
		Payload: payload,
	})
}
