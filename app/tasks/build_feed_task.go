package tasks

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/lysyi3m/rss-stitch/app/database"
	"github.com/lysyi3m/rss-stitch/app/feed"
)

var ErrNoItems = errors.New("no items collected from any source")

type BuildSettings struct {
	OutputPath   string
	RequestDelay time.Duration
	MaxItems     int  // overrides the sources file when positive
	AllowEmpty   bool // write a channel-only feed instead of failing
}

// BuildFeedTask runs one complete pipeline pass: every configured endpoint is
// fetched in order, the merged items are rendered and the document replaces
// the output file.
type BuildFeedTask struct {
	Task
	sources  *feed.SourceLoader
	fetcher  *feed.Fetcher
	filterer *feed.Filterer
	runRepo  database.RunRepository
	settings BuildSettings
	now      func() time.Time
	result   *database.Run
}

func NewBuildFeedTask(sources *feed.SourceLoader, fetcher *feed.Fetcher, filterer *feed.Filterer, runRepo database.RunRepository, settings BuildSettings) *BuildFeedTask {
	return &BuildFeedTask{
		Task:     NewTask(TaskTypeBuildFeed),
		sources:  sources,
		fetcher:  fetcher,
		filterer: filterer,
		runRepo:  runRepo,
		settings: settings,
		now:      time.Now,
	}
}

func (t *BuildFeedTask) Result() *database.Run {
	return t.result
}

func (t *BuildFeedTask) Execute(ctx context.Context) error {
	if t.StartedAt == nil {
		t.Start()
	}

	config, err := t.sources.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to get sources: %w", err)
	}

	run := &database.Run{
		ID:         t.ID,
		StartedAt:  t.now(),
		OutputPath: t.settings.OutputPath,
	}
	t.result = run

	batches, err := t.collect(ctx, config, run)
	if err != nil {
		return t.finish(run, database.RunStatusFailed, err)
	}

	aggregator := feed.NewAggregator(cmp.Or(t.settings.MaxItems, config.MaxItems))
	run.Collected = aggregator.Unique(batches)
	items := aggregator.Run(batches)

	if len(items) == 0 {
		if !t.settings.AllowEmpty {
			return t.finish(run, database.RunStatusEmpty, ErrNoItems)
		}
		slog.Warn("No items collected, writing channel-only feed", "output", t.settings.OutputPath)
	}

	if err := t.render(config, items); err != nil {
		return t.finish(run, database.RunStatusFailed, err)
	}
	run.Rendered = len(items)

	slog.Info("Task completed",
		"type", t.GetType(),
		"duration", t.GetDuration(),
		"sources", len(run.Sources),
		"skipped", run.FailedSources(),
		"collected", run.Collected,
		"rendered", run.Rendered,
		"output", t.settings.OutputPath)

	return t.finish(run, database.RunStatusSuccess, nil)
}

// collect walks the enabled source groups sequentially. A failing endpoint is
// logged and skipped; only cancellation aborts the walk.
func (t *BuildFeedTask) collect(ctx context.Context, config *feed.Config, run *database.Run) ([][]feed.Item, error) {
	parser := feed.NewParser(config.BaseURL)

	var batches [][]feed.Item
	requests := 0

	for _, source := range config.Sources {
		if !source.IsEnabled() {
			slog.Debug("Source disabled, skipping", "source", source.Name)
			continue
		}

		for _, url := range source.URLs {
			if requests > 0 {
				if err := t.wait(ctx); err != nil {
					return nil, err
				}
			}
			requests++

			result := database.SourceResult{SourceName: source.Name, URL: url}

			items, err := t.processEndpoint(ctx, parser, source, url, run.StartedAt)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				slog.Warn("Source skipped", "source", source.Name, "url", url, "error", err)
				result.Error = err.Error()
			} else {
				slog.Debug("Source processed", "source", source.Name, "url", url, "items", len(items))
				result.Items = len(items)
				batches = append(batches, items)
			}

			run.Sources = append(run.Sources, result)
		}
	}

	return batches, nil
}

func (t *BuildFeedTask) processEndpoint(ctx context.Context, parser *feed.Parser, source feed.SourceConfig, url string, now time.Time) ([]feed.Item, error) {
	data, err := t.fetcher.Run(ctx, url)
	if err != nil {
		return nil, err
	}

	items, err := parser.Run(data, source, now)
	if err != nil {
		return nil, err
	}

	return t.filterer.Run(items, source), nil
}

func (t *BuildFeedTask) wait(ctx context.Context) error {
	if t.settings.RequestDelay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(t.settings.RequestDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *BuildFeedTask) render(config *feed.Config, items []feed.Item) error {
	generator := feed.NewGenerator(config.Channel)

	doc, err := generator.Run(items)
	if err != nil {
		return fmt.Errorf("failed to render feed: %w", err)
	}

	if err := generator.Verify(doc, len(items)); err != nil {
		return fmt.Errorf("rendered feed failed verification: %w", err)
	}

	if dir := filepath.Dir(t.settings.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	_, statErr := os.Stat(t.settings.OutputPath)
	created := errors.Is(statErr, os.ErrNotExist)

	if err := atomic.WriteFile(t.settings.OutputPath, strings.NewReader(doc)); err != nil {
		return fmt.Errorf("failed to write feed: %w", err)
	}

	// atomic creates new files 0600; feeds are public documents.
	if created {
		if err := os.Chmod(t.settings.OutputPath, 0o644); err != nil {
			return fmt.Errorf("failed to set feed permissions: %w", err)
		}
	}

	return nil
}

func (t *BuildFeedTask) finish(run *database.Run, status database.RunStatus, err error) error {
	run.FinishedAt = t.now()
	run.Status = status
	if err != nil {
		run.Error = err.Error()
	}

	if t.runRepo != nil {
		if recordErr := t.runRepo.RecordRun(*run); recordErr != nil {
			slog.Error("Failed to record run history", "run_id", run.ID, "error", recordErr)
		}
	}

	return err
}
