package consumer

import (
	"math"
	"time"
)

// Stats are process-local counters, reset on restart.
type Stats struct {
	Processed        int        `json:"processed"`
	Failed           int        `json:"failed"`
	BatchesProcessed int        `json:"batchesProcessed"`
	AvgBatchSize     int        `json:"avgBatchSize"`
	LastProcessedAt  *time.Time `json:"lastProcessedAt,omitempty"`
	Running          bool       `json:"running"`
	Paused           bool       `json:"paused"`
	Buffered         int        `json:"buffered"`
}

func (s *Stats) record(successful, failed int, at time.Time) {
	s.Processed += successful
	s.Failed += failed
	s.BatchesProcessed++
	s.AvgBatchSize = int(math.Round(float64(s.Processed) / float64(s.BatchesProcessed)))
	s.LastProcessedAt = &at
}
