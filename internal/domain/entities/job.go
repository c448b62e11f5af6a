package entities

import "time"

// QueueJob wraps an AuditEvent as it travels through the broker and
// the reliable processor (C6), tracking retry bookkeeping that does
// not belong on the event itself.
type QueueJob struct {
	JobID         string      `json:"jobId"`
	Event         *AuditEvent `json:"event"`
	Attempts      int         `json:"attempts"`
	FirstSeenAt   time.Time   `json:"firstSeenAt"`
	NextEligibleAt time.Time  `json:"nextEligibleAt"`
	LastError     string      `json:"lastError,omitempty"`
	Priority      int         `json:"priority"`
}

// Eligible reports whether the job may be claimed at t.
func (j *QueueJob) Eligible(t time.Time) bool {
	return !t.Before(j.NextEligibleAt)
}

// RetryAttempt is one entry in a DeadLetterRecord's retry history.
type RetryAttempt struct {
	AttemptNumber int       `json:"attemptNumber"`
	AttemptedAt   time.Time `json:"attemptedAt"`
	Error         string    `json:"error"`
}

// DeadLetterRecord is a QueueJob that has exhausted its retry budget
// or hit a non-retryable failure, parked for operator inspection via
// the dlq CLI subcommand.
type DeadLetterRecord struct {
	QueueJob
	FailedAt      time.Time      `json:"failedAt"`
	TerminalError string         `json:"terminalError"`
	RetryHistory  []RetryAttempt `json:"retryHistory"`
}
