package database

import (
	"time"
)

type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusEmpty   RunStatus = "empty"  // strict mode, nothing written
	RunStatusFailed  RunStatus = "failed" // render or write failure
)

type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	Collected  int // unique links across all sources
	Rendered   int
	OutputPath string
	Error      string
	Sources    []SourceResult
}

type SourceResult struct {
	SourceName string
	URL        string
	Items      int
	Error      string // empty when the endpoint contributed normally
}

func (r Run) FailedSources() int {
	count := 0
	for _, source := range r.Sources {
		if source.Error != "" {
			count++
		}
	}
	return count
}
