package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// FrameType discriminates channel frames.
type FrameType string

const (
	// TypeCall is a request that expects exactly one reply with the same ID.
	TypeCall FrameType = "call"
	// TypeReply answers a call.
	TypeReply FrameType = "reply"
	// TypeMessage is fire-and-forget.
	TypeMessage FrameType = "message"
)

// Receiver kinds exchanged between host and worker.
const (
	KindRemoteProcessor = "RemoteTestClassProcessor"
	KindResultProcessor = "TestResultProcessor"
)

// Methods of KindRemoteProcessor (host → worker calls).
const (
	MethodStartProcessing  = "startProcessing"
	MethodProcessTestClass = "processTestClass"
	MethodStop             = "stop"
)

// Methods of KindResultProcessor (worker → host messages).
const (
	MethodStarted   = "started"
	MethodCompleted = "completed"
	MethodOutput    = "output"
	MethodFailure   = "failure"
)

// Frame is the envelope for every unit of traffic on a channel.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *RemoteError    `json:"error,omitempty"` // only for reply
}

// RemoteError is a failure that crossed the channel. Causes holds the
// messages of the original error chain, outermost first.
type RemoteError struct {
	Message string   `json:"message"`
	Causes  []string `json:"causes,omitempty"`
}

func (e *RemoteError) Error() string {
	return e.Message
}

// NewRemoteError flattens err and its unwrap chain. Joined errors contribute
// each branch in order.
func NewRemoteError(err error) *RemoteError {
	if err == nil {
		return nil
	}
	re := &RemoteError{Message: err.Error()}
	var walk func(error)
	walk = func(e error) {
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				re.Causes = append(re.Causes, inner.Error())
				walk(inner)
			}
		case interface{ Unwrap() error }:
			if inner := u.Unwrap(); inner != nil {
				re.Causes = append(re.Causes, inner.Error())
				walk(inner)
			}
		}
	}
	walk(err)
	return re
}

// HasCause reports whether msg is the message of the error or of any cause.
func (e *RemoteError) HasCause(msg string) bool {
	if e.Message == msg {
		return true
	}
	for _, c := range e.Causes {
		if c == msg {
			return true
		}
	}
	return false
}

// Is lets errors.Is match two remote errors with the same message.
func (e *RemoteError) Is(target error) bool {
	var re *RemoteError
	if !errors.As(target, &re) {
		return false
	}
	return re.Message == e.Message
}

// String renders the error with its chain, for logs.
func (e *RemoteError) String() string {
	if len(e.Causes) == 0 {
		return e.Message
	}
	return e.Message + " (caused by: " + strings.Join(e.Causes, " <- ") + ")"
}
