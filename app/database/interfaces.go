package database

type RunRepository interface {
	RecordRun(run Run) error
	GetLastRun() (*Run, error)
	GetRecentRuns(limit int) ([]Run, error)
	GetRunCount() (int, error)
}
