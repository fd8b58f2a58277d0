package metrics

import "time"

// ResultLabel enumerates outcome categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultSkipped  ResultLabel = "skipped"
	ResultCanceled ResultLabel = "canceled"
)

// ResultFor maps an error to success or failed.
func ResultFor(err error) ResultLabel {
	if err != nil {
		return ResultFailed
	}
	return ResultSuccess
}

// Recorder defines observability hooks for publishing and consuming.
type Recorder interface {
	IncPublished(stream string, result ResultLabel)
	AddDelivered(stream string, n int)
	IncHandled(stream string, result ResultLabel)
	ObserveHandlerDuration(stream string, d time.Duration)
	AddAcked(stream string, n int64)
	IncReadError()
	AddReclaimed(stream string, n int)
	IncDeadLettered(stream string)
	IncRelayed(result ResultLabel)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncPublished(string, ResultLabel)             {}
func (NoopRecorder) AddDelivered(string, int)                     {}
func (NoopRecorder) IncHandled(string, ResultLabel)               {}
func (NoopRecorder) ObserveHandlerDuration(string, time.Duration) {}
func (NoopRecorder) AddAcked(string, int64)                       {}
func (NoopRecorder) IncReadError()                                {}
func (NoopRecorder) AddReclaimed(string, int)                     {}
func (NoopRecorder) IncDeadLettered(string)                       {}
func (NoopRecorder) IncRelayed(ResultLabel)                       {}
