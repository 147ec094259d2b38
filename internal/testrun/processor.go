package testrun

import (
	"context"

	"github.com/mattjoyce/testworker/internal/idgen"
)

//go:generate mockgen -destination=mocks/mock_testrun.go -package=mocks github.com/mattjoyce/testworker/internal/testrun ResultProcessor,ClassProcessor,ProcessorFactory

// ResultProcessor receives test result events. Events are fire-and-forget;
// implementations report delivery problems themselves.
type ResultProcessor interface {
	Started(test TestDescriptor, event StartEvent)
	Completed(testID idgen.ID, event CompleteEvent)
	Output(testID idgen.ID, event OutputEvent)
	Failure(testID idgen.ID, failure Failure)
}

// ClassProcessor runs test classes and reports their results.
//
// StartProcessing is called once before any ProcessTestClass. ProcessTestClass
// returns an error only when the class could not be executed at all; failing
// tests are reported through the ResultProcessor.
type ClassProcessor interface {
	StartProcessing(results ResultProcessor) error
	ProcessTestClass(ctx context.Context, info ClassRunInfo) error
	Stop() error
}

// ProcessorFactory builds the inner processor for a worker. ids is the
// worker-scoped generator the processor must use for every descriptor it
// creates.
type ProcessorFactory interface {
	Create(ids idgen.Generator) (ClassProcessor, error)
}

// FactoryFunc adapts a function to ProcessorFactory.
type FactoryFunc func(ids idgen.Generator) (ClassProcessor, error)

func (f FactoryFunc) Create(ids idgen.Generator) (ClassProcessor, error) {
	return f(ids)
}
