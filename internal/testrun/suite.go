package testrun

import (
	"context"
	"time"

	"github.com/mattjoyce/testworker/internal/idgen"
)

// WorkerSuite wraps the inner processor so that everything one worker runs is
// reported under a single composite suite named after the worker.
type WorkerSuite struct {
	inner ClassProcessor
	ids   idgen.Generator
	name  string
	now   func() time.Time

	suite   TestDescriptor
	results ResultProcessor
}

func NewWorkerSuite(inner ClassProcessor, ids idgen.Generator, displayName string) *WorkerSuite {
	return &WorkerSuite{
		inner: inner,
		ids:   ids,
		name:  displayName,
		now:   time.Now,
	}
}

// Suite returns the suite descriptor. It is zero until StartProcessing.
func (s *WorkerSuite) Suite() TestDescriptor {
	return s.suite
}

// StartProcessing announces the suite and starts the inner processor with a
// result processor that parents root-level tests to it.
func (s *WorkerSuite) StartProcessing(results ResultProcessor) error {
	s.suite = TestDescriptor{ID: s.ids.Next(), Name: s.name, Composite: true}
	s.results = results
	results.Started(s.suite, StartEvent{StartTime: s.now()})
	return s.inner.StartProcessing(AttachParent(results, s.suite.ID))
}

func (s *WorkerSuite) ProcessTestClass(ctx context.Context, info ClassRunInfo) error {
	return s.inner.ProcessTestClass(ctx, info)
}

// Stop stops the inner processor and then completes the suite, even when the
// inner stop fails.
func (s *WorkerSuite) Stop() error {
	err := s.inner.Stop()
	if s.results != nil {
		s.results.Completed(s.suite.ID, CompleteEvent{EndTime: s.now()})
		s.results = nil
	}
	return err
}

type attachParent struct {
	ResultProcessor
	parent idgen.ID
}

// AttachParent returns a ResultProcessor that sets parent on Started events
// that have no parent of their own.
func AttachParent(rp ResultProcessor, parent idgen.ID) ResultProcessor {
	return &attachParent{ResultProcessor: rp, parent: parent}
}

func (a *attachParent) Started(test TestDescriptor, event StartEvent) {
	if event.ParentID == nil {
		p := a.parent
		event.ParentID = &p
	}
	a.ResultProcessor.Started(test, event)
}
