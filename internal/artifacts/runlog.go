package artifacts

import "time"

// RunLog is the per-run summary record, written as run_log.json and mirrored
// to Postgres when the mirror is enabled.
type RunLog struct {
	RunID         string    `json:"run_id" db:"run_id"`
	StartedAt     time.Time `json:"started_at" db:"started_at"`
	FinishedAt    time.Time `json:"finished_at" db:"finished_at"`
	ConfigHash    string    `json:"config_hash" db:"config_hash"`
	DataThrough   time.Time `json:"data_through" db:"data_through"`
	CutoffsTotal  int       `json:"cutoffs_total" db:"cutoffs_total"`
	CutoffsFailed int       `json:"cutoffs_failed" db:"cutoffs_failed"`
	RowsWritten   int       `json:"rows_written" db:"rows_written"`
	Artifacts     []string  `json:"artifacts"`
	Status        string    `json:"status" db:"status"`
}
