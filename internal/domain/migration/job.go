package migration

import "time"

type JobKind string

const (
	KindJSONIngest JobKind = "json-ingest"
	KindCSVImport  JobKind = "csv-import"
)

type JobStatus string

const (
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type RecordFailure struct {
	Index  int64  `json:"index"`
	Reason string `json:"reason"`
}

type Stats struct {
	RecordsProcessed int64           `json:"recordsProcessed"`
	RecordsImported  int64           `json:"recordsImported"`
	RecordsUpdated   int64           `json:"recordsUpdated"`
	RecordsFailed    int64           `json:"recordsFailed"`
	BytesRead        int64           `json:"bytesRead"`
	Batches          int64           `json:"batches"`
	Failures         []RecordFailure `json:"failures,omitempty"`
}

const MaxStoredFailures = 100

// AddFailure counts a failed record and keeps its reason while there is room.
func (s *Stats) AddFailure(index int64, reason string) {
	s.RecordsFailed++
	if len(s.Failures) < MaxStoredFailures {
		s.Failures = append(s.Failures, RecordFailure{Index: index, Reason: reason})
	}
}

// AddBatchFailure counts every record of a rejected batch under one reason.
func (s *Stats) AddBatchFailure(start, count int64, reason string) {
	s.RecordsFailed += count
	if len(s.Failures) < MaxStoredFailures {
		s.Failures = append(s.Failures, RecordFailure{Index: start, Reason: reason})
	}
}

type MigrationJob struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	Status      JobStatus  `json:"status"`
	SourcePath  string     `json:"sourcePath"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Stats       Stats      `json:"stats"`
	Error       string     `json:"error,omitempty"`
}

// Clone returns a copy that shares no mutable state with j.
func (j MigrationJob) Clone() MigrationJob {
	out := j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Stats.Failures != nil {
		out.Stats.Failures = append([]RecordFailure(nil), j.Stats.Failures...)
	}
	return out
}
