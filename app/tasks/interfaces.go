package tasks

import "github.com/lysyi3m/rss-stitch/app/database"

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by serve mode to rebuild the feed periodically and on demand.
// Example usage:
//
//	scheduler := NewScheduler(newBuildTask, interval)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(newBuildTask())
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	LastRun() *database.Run
}

// RunReporter is implemented by tasks that produce a run summary.
type RunReporter interface {
	Result() *database.Run
}
