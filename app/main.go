package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/rss-stitch/app/api"
	"github.com/lysyi3m/rss-stitch/app/cfg"
	"github.com/lysyi3m/rss-stitch/app/database"
	"github.com/lysyi3m/rss-stitch/app/feed"
	"github.com/lysyi3m/rss-stitch/app/tasks"
)

func main() {
	os.Exit(run())
}

func run() int {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if appCfg == nil {
		// Help was shown
		return 0
	}

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting RSS Stitch", "version", appCfg.Version)

	sources := feed.NewSourceLoader(appCfg.SourcesFile)
	if err := sources.Run(); err != nil {
		slog.Error("Failed to load sources", "path", sources.Path(), "error", err)
		return 1
	}

	config, _ := sources.GetConfig()
	slog.Info("Sources loaded", "groups", len(config.Sources), "endpoints", config.EndpointCount())

	var runRepo database.RunRepository
	if appCfg.HistoryDB != "" {
		db, err := database.NewConnection(appCfg.HistoryDB)
		if err != nil {
			slog.Error("Failed to open history database", "path", appCfg.HistoryDB, "error", err)
			return 1
		}
		defer db.Close()

		version, dirty, err := database.RunMigrations(db)
		if err != nil {
			slog.Error("Failed to run migrations", "error", err)
			return 1
		}
		slog.Info("History database ready", "path", appCfg.HistoryDB, "schema_version", version, "dirty", dirty)

		runRepo = database.NewRunRepository(db)
	}

	fetcher := feed.NewFetcher(&http.Client{}, appCfg.UserAgent, appCfg.Timeout)
	filterer := feed.NewFilterer()
	settings := tasks.BuildSettings{
		OutputPath:   appCfg.OutputPath,
		RequestDelay: appCfg.RequestDelay,
		MaxItems:     appCfg.MaxItems,
		AllowEmpty:   appCfg.AllowEmpty,
	}

	newTask := func() tasks.TaskInterface {
		return tasks.NewBuildFeedTask(sources, fetcher, filterer, runRepo, settings)
	}

	if appCfg.Serve {
		return serve(appCfg, sources, runRepo, newTask)
	}

	return buildOnce(newTask)
}

func buildOnce(newTask func() tasks.TaskInterface) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	task := newTask()
	task.Start()

	if err := task.Execute(ctx); err != nil {
		if errors.Is(err, tasks.ErrNoItems) {
			slog.Error("Feed not written", "reason", err)
		} else {
			slog.Error("Feed build failed", "error", err)
		}
		return 1
	}

	slog.Info("Feed build finished", "duration", task.GetDuration())
	return 0
}

func serve(appCfg *cfg.Cfg, sources *feed.SourceLoader, runRepo database.RunRepository, newTask func() tasks.TaskInterface) int {
	slog.Info("Starting scheduler", "interval", appCfg.Interval)
	scheduler := tasks.NewScheduler(newTask, appCfg.Interval)
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(sources, runRepo, scheduler, newTask, appCfg.OutputPath, appCfg.Version)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig)
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
		exitCode = 1
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler is stopped via defer
	slog.Info("Shutdown complete")
	return exitCode
}
