package metrics

import (
	"time"
)

// Row outcomes for RecordRow.
const (
	RowAccepted = "accepted"
	RowInvalid  = "invalid"
	RowFiltered = "filtered"
)

// Submission results for RecordSubmission.
const (
	SubmissionSubmitted = "submitted"
	SubmissionFailed    = "failed"
	SubmissionPartial   = "partial"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordCycle records one completed poll cycle.
func (r *Recorder) RecordCycle(ok bool, duration time.Duration) {
	result := "error"
	if ok {
		result = "ok"
	}
	CyclesTotal.WithLabelValues(result).Inc()
	CycleDuration.Observe(duration.Seconds())
}

// RecordRow records an instruction row outcome.
func (r *Recorder) RecordRow(outcome string) {
	RowsProcessed.WithLabelValues(outcome).Inc()
}

// RecordTrigger records a latched trigger.
func (r *Recorder) RecordTrigger(symbol string) {
	TriggersFired.WithLabelValues(symbol).Inc()
}

// RecordSubmission records a protective pair submission result.
func (r *Recorder) RecordSubmission(symbol, result string) {
	SubmissionsTotal.WithLabelValues(symbol, result).Inc()
}

// RecordCompensation records a compensating cancel outcome.
func (r *Recorder) RecordCompensation(resolved bool) {
	outcome := "uncertain"
	if resolved {
		outcome = "resolved"
	}
	CompensationsTotal.WithLabelValues(outcome).Inc()
}

// RecordOrderEvent records a reconciled gateway event.
func (r *Recorder) RecordOrderEvent(status string) {
	OrderEventsTotal.WithLabelValues(status).Inc()
}

// RecordIntentionState sets the gauge for one lifecycle state.
func (r *Recorder) RecordIntentionState(state string, count int) {
	IntentionsInState.WithLabelValues(state).Set(float64(count))
}

// RecordGatewayStatus records gateway connection status.
func (r *Recorder) RecordGatewayStatus(connected bool) {
	if connected {
		GatewayConnected.Set(1)
	} else {
		GatewayConnected.Set(0)
	}
}

// RecordFeedStatus records instruction feed reachability.
func (r *Recorder) RecordFeedStatus(reachable bool) {
	if reachable {
		FeedReachable.Set(1)
	} else {
		FeedReachable.Set(0)
	}
}

// RecordHeartbeat records a heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveSubmit observes the elapsed time as submission latency.
func (t *Timer) ObserveSubmit() {
	SubmitLatency.Observe(t.Elapsed().Seconds())
}
