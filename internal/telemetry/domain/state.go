package domain

import "time"

// RetryState governs whether a delivery attempt is currently allowed. It survives restarts.
type RetryState struct {
	Attempts          int       `json:"attempts"`
	NextRetryAt       time.Time `json:"nextRetryAt"`
	LastFailureReason string    `json:"lastFailureReason,omitempty"`
}

// Metrics are aggregate delivery counters persisted for dashboards and diagnostics.
type Metrics struct {
	TotalEvents       int64     `json:"totalEvents"`
	SuccessfulBatches int64     `json:"successfulBatches"`
	FailedBatches     int64     `json:"failedBatches"`
	AverageBatchSize  float64   `json:"averageBatchSize"`
	LastBatchSentAt   time.Time `json:"lastBatchSentAt,omitempty"`
	DroppedEvents     int64     `json:"droppedEvents"`
	ShutdownFlushes   int64     `json:"shutdownFlushes"`
}
