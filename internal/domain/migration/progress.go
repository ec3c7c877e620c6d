package migration

import "time"

// ProgressSnapshot is the last reported state of the running worker. It is
// overwritten in place on every report.
type ProgressSnapshot struct {
	JobID          string    `json:"jobId,omitempty"`
	Phase          string    `json:"phase"`
	Processed      int64     `json:"processed"`
	Total          int64     `json:"total"`
	TotalEstimated bool      `json:"totalEstimated,omitempty"`
	Rate           float64   `json:"rate"`
	ETASeconds     *float64  `json:"etaSeconds,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
