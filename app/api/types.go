package api

import (
	"github.com/lysyi3m/rss-stitch/app/database"
	"github.com/lysyi3m/rss-stitch/app/feed"
	"github.com/lysyi3m/rss-stitch/app/tasks"
)

type Handler struct {
	sources    *feed.SourceLoader
	runRepo    database.RunRepository // nil when run history is disabled
	scheduler  tasks.TaskSchedulerInterface
	newTask    func() tasks.TaskInterface
	outputPath string
	version    string
}
