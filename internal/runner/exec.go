// Package runner provides a ClassProcessor that runs each test class as a
// subprocess built from an argv template.
//
// The template may use {class} and {worker}, which are replaced by the class
// name and the worker id. A non-zero exit or a timeout is a failing test, not
// an execution failure: it is reported as a Failure followed by a FAILURE
// completion. Only a process that cannot be started fails the unit of work.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/testworker/internal/idgen"
	"github.com/mattjoyce/testworker/internal/log"
	"github.com/mattjoyce/testworker/internal/testrun"
)

const (
	defaultTerminationGrace = 5 * time.Second

	// outputDrainDelay bounds how long output is read after the test process
	// has exited.
	outputDrainDelay = time.Second

	// stderrTailLines is how much stderr is attached to a failure.
	stderrTailLines = 20
)

var (
	ErrNotStarted = errors.New("processor not started")
	ErrStopped    = errors.New("processor stopped")
)

// Config describes how a class is turned into a process.
type Config struct {
	Command          []string
	Dir              string
	Env              []string
	Timeout          time.Duration // zero means no limit
	TerminationGrace time.Duration
	WorkerID         string
}

// Factory creates ExecProcessors. It implements testrun.ProcessorFactory.
type Factory struct {
	cfg Config
}

func NewFactory(cfg Config) (*Factory, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, fmt.Errorf("runner command is empty")
	}
	if cfg.TerminationGrace <= 0 {
		cfg.TerminationGrace = defaultTerminationGrace
	}
	return &Factory{cfg: cfg}, nil
}

func (f *Factory) Create(ids idgen.Generator) (testrun.ClassProcessor, error) {
	return &ExecProcessor{
		cfg:    f.cfg,
		ids:    ids,
		logger: log.WithComponent("runner"),
	}, nil
}

// ExecProcessor runs one subprocess per test class.
type ExecProcessor struct {
	cfg    Config
	ids    idgen.Generator
	logger *slog.Logger

	mu      sync.Mutex
	results testrun.ResultProcessor
	stopped bool
}

func (p *ExecProcessor) StartProcessing(results testrun.ResultProcessor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = results
	return nil
}

// Stop refuses further classes. It does not interrupt a class that is running.
func (p *ExecProcessor) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return nil
}

// ProcessTestClass runs the class to completion. The class's process group
// is killed once the test process exits, so a background child cannot hold
// its output open.
func (p *ExecProcessor) ProcessTestClass(_ context.Context, info testrun.ClassRunInfo) error {
	p.mu.Lock()
	results, stopped := p.results, p.stopped
	p.mu.Unlock()
	switch {
	case stopped:
		return ErrStopped
	case results == nil:
		return ErrNotStarted
	}

	logger := log.WithClass(p.logger, info.ClassName)
	argv := Render(p.cfg.Command, info.ClassName, p.cfg.WorkerID)

	test := testrun.TestDescriptor{
		Name:      info.ClassName,
		ClassName: info.ClassName,
		Composite: true,
	}
	emit := &serialResults{rp: results}
	tail := newLineTail(stderrTailLines)
	started := make(chan struct{})
	stdout := &lineWriter{ready: started, fn: func(line string) {
		emit.Output(test.ID, testrun.OutputEvent{Destination: testrun.StdOut, Message: line})
	}}
	stderr := &lineWriter{ready: started, fn: func(line string) {
		tail.add(line)
		emit.Output(test.ID, testrun.OutputEvent{Destination: testrun.StdErr, Message: line})
	}}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = p.cfg.Dir
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = outputDrainDelay
	setProcessGroup(cmd)

	logger.Debug("spawning test process", "argv0", argv[0], "args", len(argv)-1, "timeout", p.cfg.Timeout)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start test process for %s: %w", info.ClassName, err)
	}

	test.ID = p.ids.Next()
	emit.Started(test, testrun.StartEvent{StartTime: time.Now()})
	close(started)

	var timeout <-chan time.Time
	if p.cfg.Timeout > 0 {
		timer := time.NewTimer(p.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var (
		failure *testrun.Failure
		err     error
	)
	select {
	case err = <-waitErr:
		if kerr := killGroup(cmd); kerr == nil {
			logger.Debug("killed processes left behind by test process")
		}
		failure, err = waitFailure(info.ClassName, err)
		if failure != nil {
			logger.Info("test process failed", "failure", failure.Message)
		}
	case <-timeout:
		logger.Warn("test process timed out, sending SIGTERM")
		p.terminate(cmd, waitErr, logger)
		failure = &testrun.Failure{
			Message: fmt.Sprintf("%s timed out after %s", info.ClassName, p.cfg.Timeout),
			Type:    "Timeout",
		}
	}
	stdout.flush()
	stderr.flush()

	result := testrun.ResultSuccess
	if failure != nil {
		failure.Stack = tail.String()
		emit.Failure(test.ID, *failure)
		result = testrun.ResultFailure
	}
	emit.Completed(test.ID, testrun.CompleteEvent{EndTime: time.Now(), Result: result})
	if err != nil {
		return fmt.Errorf("wait for test process %s: %w", info.ClassName, err)
	}
	return nil
}

// waitFailure turns the result of cmd.Wait into a test failure. A non-zero
// exit is a failing test. Output still open after the process exited is not a
// failure. Anything else fails the test and is returned as well.
func waitFailure(class string, err error) (*testrun.Failure, error) {
	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
		return nil, nil
	case errors.As(err, &exitErr):
		return &testrun.Failure{
			Message: fmt.Sprintf("%s exited with status %d", class, exitErr.ExitCode()),
			Type:    "ExitError",
		}, nil
	default:
		return &testrun.Failure{
			Message: fmt.Sprintf("waiting for %s: %v", class, err),
			Type:    "WaitError",
		}, err
	}
}

func (p *ExecProcessor) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if err := signalGroup(cmd, terminateSignal); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(p.cfg.TerminationGrace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("test process exited after SIGTERM")
	case <-grace.C:
		logger.Warn("test process did not exit after SIGTERM, sending SIGKILL")
		if err := killGroup(cmd); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

// Render substitutes {class} and {worker} in every argument of template.
func Render(template []string, class, worker string) []string {
	r := strings.NewReplacer("{class}", class, "{worker}", worker)
	argv := make([]string, len(template))
	for i, arg := range template {
		argv[i] = r.Replace(arg)
	}
	return argv
}

// lineWriter hands each complete line written to it to fn, newline
// included. Writes block until ready is closed.
type lineWriter struct {
	ready <-chan struct{}
	fn    func(line string)
	buf   []byte
}

func (w *lineWriter) Write(b []byte) (int, error) {
	<-w.ready
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.fn(string(w.buf[:i+1]))
		w.buf = w.buf[i+1:]
	}
	return len(b), nil
}

// flush hands over a trailing line that has no newline. Call it only after
// cmd.Wait has returned.
func (w *lineWriter) flush() {
	if len(w.buf) > 0 {
		w.fn(string(w.buf))
		w.buf = nil
	}
}

// serialResults keeps events from the stdout and stderr readers from
// interleaving inside the result processor.
type serialResults struct {
	mu sync.Mutex
	rp testrun.ResultProcessor
}

func (s *serialResults) Started(test testrun.TestDescriptor, ev testrun.StartEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rp.Started(test, ev)
}

func (s *serialResults) Completed(id idgen.ID, ev testrun.CompleteEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rp.Completed(id, ev)
}

func (s *serialResults) Output(id idgen.ID, ev testrun.OutputEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rp.Output(id, ev)
}

func (s *serialResults) Failure(id idgen.ID, f testrun.Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rp.Failure(id, f)
}

// lineTail keeps the last n lines written to it.
type lineTail struct {
	mu    sync.Mutex
	lines []string
	n     int
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == t.n {
		t.lines = t.lines[1:]
	}
	t.lines = append(t.lines, line)
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "")
}
