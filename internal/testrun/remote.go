package testrun

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/testworker/internal/channel"
	"github.com/mattjoyce/testworker/internal/idgen"
	"github.com/mattjoyce/testworker/internal/log"
	"github.com/mattjoyce/testworker/internal/protocol"
)

// Payloads of the TestResultProcessor methods.
type (
	StartedArgs struct {
		Test  TestDescriptor `json:"test"`
		Event StartEvent     `json:"event"`
	}
	CompletedArgs struct {
		TestID idgen.ID      `json:"test_id"`
		Event  CompleteEvent `json:"event"`
	}
	OutputArgs struct {
		TestID idgen.ID    `json:"test_id"`
		Event  OutputEvent `json:"event"`
	}
	FailureArgs struct {
		TestID  idgen.ID `json:"test_id"`
		Failure Failure  `json:"failure"`
	}
)

type resultSender struct {
	out    channel.Sender
	logger *slog.Logger
}

// NewResultSender returns a ResultProcessor that forwards every event to the
// host through out. Send failures are logged; results are never acknowledged.
func NewResultSender(out channel.Sender) ResultProcessor {
	return &resultSender{out: out, logger: log.WithComponent("results")}
}

func (r *resultSender) send(method string, args any) {
	if err := r.out.Send(method, args); err != nil {
		r.logger.Warn("result event not delivered", "method", method, "error", err)
	}
}

func (r *resultSender) Started(test TestDescriptor, event StartEvent) {
	r.send(protocol.MethodStarted, StartedArgs{Test: test, Event: event})
}

func (r *resultSender) Completed(testID idgen.ID, event CompleteEvent) {
	r.send(protocol.MethodCompleted, CompletedArgs{TestID: testID, Event: event})
}

func (r *resultSender) Output(testID idgen.ID, event OutputEvent) {
	r.send(protocol.MethodOutput, OutputArgs{TestID: testID, Event: event})
}

func (r *resultSender) Failure(testID idgen.ID, failure Failure) {
	r.send(protocol.MethodFailure, FailureArgs{TestID: testID, Failure: failure})
}

// NewResultReceiver decodes TestResultProcessor messages arriving on the host
// side of a channel and hands them to rp.
func NewResultReceiver(rp ResultProcessor) channel.Receiver {
	return channel.ReceiverFunc(func(_ context.Context, method string, payload json.RawMessage) error {
		switch method {
		case protocol.MethodStarted:
			var a StartedArgs
			if err := protocol.Unmarshal(payload, &a); err != nil {
				return err
			}
			rp.Started(a.Test, a.Event)
		case protocol.MethodCompleted:
			var a CompletedArgs
			if err := protocol.Unmarshal(payload, &a); err != nil {
				return err
			}
			rp.Completed(a.TestID, a.Event)
		case protocol.MethodOutput:
			var a OutputArgs
			if err := protocol.Unmarshal(payload, &a); err != nil {
				return err
			}
			rp.Output(a.TestID, a.Event)
		case protocol.MethodFailure:
			var a FailureArgs
			if err := protocol.Unmarshal(payload, &a); err != nil {
				return err
			}
			rp.Failure(a.TestID, a.Failure)
		default:
			return fmt.Errorf("unknown result method %q", method)
		}
		return nil
	})
}
