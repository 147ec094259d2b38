// Package worker is the worker side of the test-execution protocol.
//
// A Worker is driven by three remote calls from the host: StartProcessing,
// ProcessTestClass and Stop. Calls arrive on the channel's dispatch
// goroutine; test classes run on an isolate.Isolator so nothing they do to
// their goroutine or OS thread reaches the dispatch loop. Run blocks the
// process's main goroutine from Connected until Stop releases it.
//
// Lifecycle:
//
//	Initializing -> Connected -> Processing -> Stopping -> Stopped
//	                    \_____________________/
//	                     Stop is accepted from Connected too
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/testworker/internal/channel"
	"github.com/mattjoyce/testworker/internal/events"
	"github.com/mattjoyce/testworker/internal/idgen"
	"github.com/mattjoyce/testworker/internal/isolate"
	"github.com/mattjoyce/testworker/internal/log"
	"github.com/mattjoyce/testworker/internal/protocol"
	"github.com/mattjoyce/testworker/internal/testrun"
)

const tracerName = "github.com/mattjoyce/testworker/internal/worker"

var (
	ErrInvalidState = errors.New("operation not allowed in current worker state")
	ErrUnitInFlight = errors.New("a test class is already being processed")
	ErrInterrupted  = errors.New("worker interrupted")
)

// Config is the launch configuration of one worker process.
type Config struct {
	// ID is the host-assigned worker identity. It scopes every generated id.
	ID string
	// DisplayName names the worker suite and the executor. Defaults to
	// "Test Executor <ID>".
	DisplayName string
	Isolation   isolate.Mode
}

// Endpoint is the part of a channel the worker consumes.
type Endpoint interface {
	RegisterReceiver(kind string, r channel.Receiver) error
	OpenSender(kind string) (channel.Sender, error)
}

// Recorder persists what the worker did. Failures to record are logged and
// never affect the protocol.
type Recorder interface {
	RecordState(ctx context.Context, state string) error
	RecordUnit(ctx context.Context, class string, started, finished time.Time, outcome error) error
}

// Option configures a Worker.
type Option func(*Worker)

func WithTracer(t trace.Tracer) Option {
	return func(w *Worker) { w.tracer = t }
}

// WithRecorder adds r to the recorders notified of every transition and unit.
func WithRecorder(r Recorder) Option {
	return func(w *Worker) { w.recorders = append(w.recorders, r) }
}

func WithEvents(h *events.Hub) Option {
	return func(w *Worker) { w.hub = h }
}

// Worker runs test classes on behalf of a host.
type Worker struct {
	cfg       Config
	factory   testrun.ProcessorFactory
	logger    *slog.Logger
	tracer    trace.Tracer
	recorders []Recorder
	hub       *events.Hub

	// ctrl serializes StartProcessing and Stop.
	ctrl sync.Mutex

	mu        sync.Mutex
	state     State
	results   testrun.ResultProcessor
	processor testrun.ClassProcessor
	isolator  *isolate.Isolator
	pending   *pendingUnit
	processed int64
	failed    int64

	released    chan struct{}
	releaseOnce sync.Once
}

// pendingUnit is the one test class allowed in flight.
type pendingUnit struct {
	class   string
	started time.Time
	// done is closed once the unit has finished and its caller has been
	// handed the outcome or has given up waiting.
	done chan struct{}
}

// New returns a worker in the Initializing state.
func New(cfg Config, factory testrun.ProcessorFactory, opts ...Option) (*Worker, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("processor factory is required")
	}
	mode, err := isolate.ParseMode(string(cfg.Isolation))
	if err != nil {
		return nil, err
	}
	cfg.Isolation = mode
	if cfg.DisplayName == "" {
		cfg.DisplayName = "Test Executor " + cfg.ID
	}

	w := &Worker{
		cfg:      cfg,
		factory:  factory,
		logger:   log.WithWorker(cfg.ID).With("component", "worker"),
		tracer:   otel.Tracer(tracerName),
		released: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Config returns the effective configuration.
func (w *Worker) Config() Config {
	return w.cfg
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Run connects the worker to ep and blocks until Stop has been called or ctx
// ends. The latter returns an error wrapping ErrInterrupted.
func (w *Worker) Run(ctx context.Context, ep Endpoint) error {
	if err := w.Connect(ep); err != nil {
		return err
	}
	return w.Wait(ctx)
}

// Connect opens the result sender, builds the inner processor and registers
// the remote surface on ep. A factory failure fails start-up and leaves the
// worker Initializing.
func (w *Worker) Connect(ep Endpoint) error {
	w.mu.Lock()
	if w.state != StateInitializing {
		s := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w: connect in state %s", ErrInvalidState, s)
	}
	w.mu.Unlock()

	out, err := ep.OpenSender(protocol.KindResultProcessor)
	if err != nil {
		return fmt.Errorf("open result sender: %w", err)
	}

	ids := idgen.NewComposite(w.cfg.ID, idgen.NewSequence())
	inner, err := w.factory.Create(ids)
	if err != nil {
		return fmt.Errorf("create test processor: %w", err)
	}
	proc := testrun.NewWorkerSuite(inner, ids, w.cfg.DisplayName)
	iso := isolate.New(w.cfg.DisplayName+" test executor", w.cfg.Isolation)

	w.mu.Lock()
	w.results = testrun.NewResultSender(out)
	w.processor, w.isolator = proc, iso
	w.mu.Unlock()

	if err := ep.RegisterReceiver(protocol.KindRemoteProcessor, NewReceiver(w)); err != nil {
		iso.Close()
		w.mu.Lock()
		w.processor, w.isolator = nil, nil
		w.mu.Unlock()
		return fmt.Errorf("register remote processor: %w", err)
	}

	w.transition(StateConnected)
	w.logger.Info("executing tests", "display_name", w.cfg.DisplayName, "isolation", w.cfg.Isolation)
	return nil
}

// Wait blocks until the completion signal is released by Stop or ctx ends.
// A released signal wins over a context that ended at the same time.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.released:
	case <-ctx.Done():
		select {
		case <-w.released:
		default:
			return fmt.Errorf("%w: waiting for stop: %w", ErrInterrupted, ctx.Err())
		}
	}
	w.logger.Info("finished executing tests")
	return nil
}

// Released reports whether the completion signal has been released.
func (w *Worker) Released() <-chan struct{} {
	return w.released
}

// StartProcessing starts the inner processor and moves the worker to
// Processing. On failure the worker stays Connected.
func (w *Worker) StartProcessing(ctx context.Context) (err error) {
	_, span := w.tracer.Start(ctx, "worker.startProcessing", trace.WithAttributes(
		attribute.String("worker.id", w.cfg.ID),
	))
	defer func() { endSpan(span, err) }()

	w.ctrl.Lock()
	defer w.ctrl.Unlock()

	w.mu.Lock()
	state, results, proc := w.state, w.results, w.processor
	w.mu.Unlock()
	if state != StateConnected {
		return fmt.Errorf("%w: start processing in state %s", ErrInvalidState, state)
	}

	if err := proc.StartProcessing(results); err != nil {
		return fmt.Errorf("start test processor: %w", err)
	}
	w.transition(StateProcessing)
	return nil
}

// ProcessTestClass runs one class on the isolator and blocks until it is
// done. A failure inside the class, panics and runtime.Goexit included, is
// returned with its cause chain intact, and the worker stays ready for the
// next class. If ctx ends first the error wraps ErrInterrupted; the class
// keeps running and Stop waits for it.
func (w *Worker) ProcessTestClass(ctx context.Context, info testrun.ClassRunInfo) (err error) {
	ctx, span := w.tracer.Start(ctx, "worker.processTestClass", trace.WithAttributes(
		attribute.String("worker.id", w.cfg.ID),
		attribute.String("test.class", info.ClassName),
	))
	defer func() { endSpan(span, err) }()

	w.mu.Lock()
	if w.state != StateProcessing {
		s := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w: process test class in state %s", ErrInvalidState, s)
	}
	if w.pending != nil {
		inFlight := w.pending.class
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnitInFlight, inFlight)
	}
	p := &pendingUnit{class: info.ClassName, started: time.Now(), done: make(chan struct{})}
	w.pending = p
	proc, iso := w.processor, w.isolator
	w.mu.Unlock()

	logger := log.WithClass(w.logger, info.ClassName)
	logger.Debug("processing test class")
	w.publish(events.TypeUnitStarted, map[string]string{"class": info.ClassName})

	err = iso.Run(ctx, func(ctx context.Context) error {
		return proc.ProcessTestClass(ctx, info)
	})

	if errors.Is(err, isolate.ErrInterrupted) {
		logger.Warn("interrupted while waiting for test class", "error", err)
		go func() {
			// Admission is serial, so this returns once the abandoned class
			// has finished on the isolator.
			_ = iso.Run(context.Background(), func(context.Context) error { return nil })
			w.finish(p, err)
		}()
		return fmt.Errorf("%w: %s: %w", ErrInterrupted, info.ClassName, err)
	}

	w.finish(p, err)
	if err != nil {
		logger.Warn("test class failed", "error", err)
		return fmt.Errorf("process test class %s: %w", info.ClassName, err)
	}
	logger.Info("test class processed", "duration", time.Since(p.started))
	return nil
}

func (w *Worker) finish(p *pendingUnit, outcome error) {
	finished := time.Now()

	w.mu.Lock()
	if w.pending == p {
		w.pending = nil
	}
	w.processed++
	if outcome != nil {
		w.failed++
	}
	w.mu.Unlock()
	close(p.done)

	data := map[string]any{"class": p.class, "duration_ms": finished.Sub(p.started).Milliseconds()}
	if outcome != nil {
		data["error"] = outcome.Error()
	}
	w.publish(events.TypeUnitFinished, data)

	for _, r := range w.recorders {
		if err := r.RecordUnit(context.Background(), p.class, p.started, finished, outcome); err != nil {
			w.logger.Warn("failed to record unit", "test_class", p.class, "error", err)
		}
	}
}

// Stop stops the inner processor and releases the completion signal. A class
// in flight is not interrupted; Stop waits for it first. The signal is
// released even if the inner stop fails, and that failure is still returned.
// Calling Stop again stops the inner processor again but releases nothing.
func (w *Worker) Stop(ctx context.Context) (err error) {
	_, span := w.tracer.Start(ctx, "worker.stop", trace.WithAttributes(
		attribute.String("worker.id", w.cfg.ID),
	))
	defer func() { endSpan(span, err) }()

	w.ctrl.Lock()
	defer w.ctrl.Unlock()

	// Stopping is set under the lock that reads pending, so no class can
	// start unseen.
	w.mu.Lock()
	state := w.state
	if state == StateInitializing {
		w.mu.Unlock()
		return fmt.Errorf("%w: stop in state %s", ErrInvalidState, state)
	}
	p, proc, iso := w.pending, w.processor, w.isolator
	if state != StateStopped {
		w.state = StateStopping
	}
	w.mu.Unlock()

	if state != StateStopped {
		w.announce(state, StateStopping)
	}
	defer func() {
		if state != StateStopped {
			w.transition(StateStopped)
		}
		w.release()
	}()

	if p != nil {
		w.logger.Info("waiting for in-flight test class before stopping", "test_class", p.class)
		<-p.done
	}

	if proc != nil {
		if serr := proc.Stop(); serr != nil {
			w.logger.Error("test processor failed to stop", "error", serr)
			err = fmt.Errorf("stop test processor: %w", serr)
		}
	}
	if iso != nil {
		iso.Close()
	}
	return err
}

func (w *Worker) release() {
	w.releaseOnce.Do(func() { close(w.released) })
}

func (w *Worker) transition(to State) {
	w.mu.Lock()
	from := w.state
	w.state = to
	w.mu.Unlock()
	w.announce(from, to)
}

func (w *Worker) announce(from, to State) {
	w.logger.Info("worker state changed", "from", from.String(), "to", to.String())
	w.publish(events.TypeStateChanged, map[string]string{"from": from.String(), "to": to.String()})
	for _, r := range w.recorders {
		if err := r.RecordState(context.Background(), to.String()); err != nil {
			w.logger.Warn("failed to record state", "state", to.String(), "error", err)
		}
	}
}

func (w *Worker) publish(eventType string, data any) {
	if w.hub != nil {
		w.hub.Publish(eventType, data)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
