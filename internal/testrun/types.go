// Package testrun holds the test-execution domain shared by the worker, its
// inner processors and the host: the unit of work, test descriptors, result
// events, and the processor contracts.
package testrun

import (
	"time"

	"github.com/mattjoyce/testworker/internal/idgen"
)

// ClassRunInfo is one unit of work: a test class to run.
type ClassRunInfo struct {
	ClassName string `json:"class_name"`
}

// ResultType is the outcome of a test or suite.
type ResultType string

const (
	ResultSuccess ResultType = "SUCCESS"
	ResultFailure ResultType = "FAILURE"
	ResultSkipped ResultType = "SKIPPED"
)

// TestDescriptor identifies a test or a composite of tests.
type TestDescriptor struct {
	ID        idgen.ID `json:"id"`
	Name      string   `json:"name"`
	ClassName string   `json:"class_name,omitempty"`
	Composite bool     `json:"composite,omitempty"`
}

type StartEvent struct {
	StartTime time.Time `json:"start_time"`
	ParentID  *idgen.ID `json:"parent_id,omitempty"`
}

type CompleteEvent struct {
	EndTime time.Time  `json:"end_time"`
	Result  ResultType `json:"result,omitempty"`
}

// Destination is the stream a test wrote output to.
type Destination string

const (
	StdOut Destination = "StdOut"
	StdErr Destination = "StdErr"
)

type OutputEvent struct {
	Destination Destination `json:"destination"`
	Message     string      `json:"message"`
}

// Failure describes why a test failed.
type Failure struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Stack   string `json:"stack,omitempty"`
}
