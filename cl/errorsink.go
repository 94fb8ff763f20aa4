package cl

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"
)

// ErrorReport is an error delivered asynchronously through an ErrorSink: context level errors reported by the driver,
// kernel build diagnostics and failed commands.
type ErrorReport struct {
	Kind ErrorKind

	// Source identifies the object reporting: "context", "build" or "event".
	Source string

	// Handle is the native handle of the object the report refers to: the context, the program being built or the
	// event of the failed command.
	Handle uintptr

	// ContextID identifies the Context (see Context.ID).
	ContextID string

	// Message is the driver error message or build log.
	Message string

	Time time.Time
}

// String implements fmt.Stringer.
func (r ErrorReport) String() string {
	return fmt.Sprintf("[%s] %s#%d in context %s: %s", r.Kind, r.Source, r.Handle, r.ContextID, r.Message)
}

// ErrorSink receives asynchronous error reports.
//
// ReportError may be called from any goroutine, including driver goroutines, and must not block.
type ErrorSink interface {
	ReportError(report ErrorReport)
}

// ErrorSinkFunc adapts a function to an ErrorSink.
type ErrorSinkFunc func(report ErrorReport)

// ReportError implements ErrorSink.
func (fn ErrorSinkFunc) ReportError(report ErrorReport) {
	fn(report)
}

// klogSink is the default ErrorSink.
type klogSink struct{}

// ReportError implements ErrorSink.
func (klogSink) ReportError(report ErrorReport) {
	klog.Errorf("cl: %s", report)
}

// ErrorChannel is an ErrorSink that delivers reports to a buffered channel.
// Reports are dropped, with a warning, when the channel is full.
type ErrorChannel struct {
	C chan ErrorReport
}

// NewErrorChannel creates an ErrorChannel with the given capacity.
func NewErrorChannel(capacity int) *ErrorChannel {
	return &ErrorChannel{C: make(chan ErrorReport, capacity)}
}

// ReportError implements ErrorSink.
func (ch *ErrorChannel) ReportError(report ErrorReport) {
	select {
	case ch.C <- report:
	default:
		klog.Warningf("cl: ErrorChannel full (capacity %d), dropped report %s", cap(ch.C), report)
	}
}
