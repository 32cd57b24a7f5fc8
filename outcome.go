package redistasks

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
)

// OutcomeKind classifies the result of one execution attempt. The set is
// closed: anything that is not a success and not a deliberate abort is a
// failure.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeAborted OutcomeKind = "aborted"
	OutcomeFailed  OutcomeKind = "failure"
)

// Outcome is the classified result of one execution attempt. It is
// constructed exactly once per attempt, after the middleware
// outcome-processing phase, and is immutable afterwards. The message is
// empty exactly when the kind is OutcomeSuccess.
type Outcome struct {
	Kind    OutcomeKind `json:"outcome"`
	Message string      `json:"message,omitempty"`
}

// Fault is the captured "what went wrong" state threaded through the
// middleware outcome-processing phase: the kind name used for
// classification, the originating error, and the stack trace captured when
// the fault materialized.
//
// Fault implements error so recorded faults, such as a middleware
// instantiation failure, can travel through the chain as ordinary error
// values.
type Fault struct {
	Kind  string
	Err   error
	Trace string
}

// NewFault captures err together with the current stack trace. Middleware
// replacing the fault state from ProcessOutcome must build the replacement
// with NewFault so the trace reflects the override site. A nil err yields a
// nil fault.
func NewFault(err error) *Fault {
	if err == nil {
		return nil
	}
	return &Fault{
		Kind:  faultKind(err),
		Err:   err,
		Trace: strings.TrimRight(string(debug.Stack()), "\n"),
	}
}

func (f *Fault) Error() string { return f.Kind + ": " + f.Err.Error() }

func (f *Fault) Unwrap() error { return f.Err }

// asFault reuses a fault already travelling inside err, or captures a fresh
// one at the call site.
func asFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return NewFault(err)
}

// faultKind derives the classification name for an error: an explicit
// FaultKind override if the error provides one, otherwise the concrete
// type name with pointers stripped. The name forms the final
// "<FaultKind>: <detail>" line of failure messages, which log tooling
// buckets failures on.
func faultKind(err error) string {
	var k interface{ FaultKind() string }
	if errors.As(err, &k) {
		return k.FaultKind()
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return fmt.Sprintf("%T", err)
	}
	return t.Name()
}

// Classify maps a captured fault to its terminal Outcome. It is a pure
// function over already-captured state: classifying the same fault twice
// yields identical outcomes, so the outcome-processing phase can re-enter
// it freely as middleware mutate the fault state.
//
// A nil fault is a success with an empty message. Abort faults produce an
// aborted outcome carrying the abort's literal text ("Worker shutdown" for
// the drain signal). Everything else is a failure whose message is the
// captured trace with the final line exactly "<FaultKind>: <detail>".
func Classify(f *Fault) Outcome {
	if f == nil {
		return Outcome{Kind: OutcomeSuccess}
	}
	if IsAborted(f.Err) {
		return Outcome{Kind: OutcomeAborted, Message: f.Err.Error()}
	}
	var b strings.Builder
	if f.Trace != "" {
		b.WriteString(f.Trace)
		b.WriteByte('\n')
	}
	b.WriteString(f.Kind)
	b.WriteString(": ")
	b.WriteString(f.Err.Error())
	return Outcome{Kind: OutcomeFailed, Message: b.String()}
}
