package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"golang.org/x/sync/errgroup"

	"github.com/knowyourrights/knowyourrights/internal/alert"
	"github.com/knowyourrights/knowyourrights/internal/archive"
	"github.com/knowyourrights/knowyourrights/internal/capture"
	"github.com/knowyourrights/knowyourrights/internal/config"
	"github.com/knowyourrights/knowyourrights/internal/content"
	"github.com/knowyourrights/knowyourrights/internal/gdrive"
	"github.com/knowyourrights/knowyourrights/internal/llm"
	"github.com/knowyourrights/knowyourrights/internal/location"
	"github.com/knowyourrights/knowyourrights/internal/profile"
	"github.com/knowyourrights/knowyourrights/internal/server"
	"github.com/knowyourrights/knowyourrights/internal/storage"
)

//go:embed static/*
var staticFiles embed.FS

const journalSyncInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(*configPath); err != nil {
		slog.Error("knowyourrights: fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		slog.Warn("config: " + w)
	}
	slog.Info("knowyourrights: starting", "listen", cfg.ListenAddr, "capture", cfg.CaptureBackend, "location", cfg.LocationMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	prof := profile.New(store, cfg.DefaultRegion)
	if err := prof.Load(ctx); err != nil {
		return err
	}

	generator := content.NewGenerator(newLLMClient(cfg), content.WithTimeout(cfg.ParsedGenerationTimeout()))
	journal := storage.NewWriter(cfg.JournalDir)
	locator := newLocator(cfg)
	hub := server.NewHub()

	var syncer *gdrive.Syncer
	if cfg.GDriveFolderID != "" {
		syncer, err = gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			slog.Warn("gdrive: backup disabled", "error", err)
			warnings = append(warnings, "Google Drive backup disabled: "+err.Error())
			syncer = nil
		}
	}

	archiveOpts := []archive.Option{archive.WithJournal(journal)}
	if syncer != nil {
		archiveOpts = append(archiveOpts, archive.WithUploader(syncer))
	}
	recordings := archive.New(cfg.RecordingsDir, store, archiveOpts...)

	source, cleanup, err := newCaptureSource(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	recorder := capture.NewController(source,
		capture.OnStart(func(kind capture.Kind) {
			appendJournal(journal, "recording", "Started "+string(kind)+" recording")
		}),
		capture.OnState(hub.BroadcastRecordingState),
		capture.OnFinish(func(rec capture.Recording) {
			saveCtx, cancel := context.WithTimeout(context.Background(), cfg.ParsedLocationTimeout()+5*time.Second)
			defer cancel()
			entry, err := recordings.Save(saveCtx, rec, location.Describe(saveCtx, locator), "")
			if err != nil {
				slog.Warn("archive: save failed", "error", err, "bytes", len(rec.Data))
				return
			}
			hub.BroadcastRecordingSaved(entry)
			recordings.BackupAsync(entry)
		}),
	)

	alerts := alert.NewController(prof,
		alert.Notifiers{
			hub.AlertNotifier(),
			alert.StoreNotifier{Store: store},
			alert.JournalNotifier{Journal: journal},
			alert.LogNotifier{},
		},
		alert.WithCountdown(cfg.AlertCountdown),
		alert.WithLocator(locator),
		alert.OnEvent(hub.BroadcastAlertEvent),
	)

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return err
	}

	handler, err := server.Handler(assets, hub, server.Deps{
		Profile:  prof,
		Content:  generator,
		Recorder: recorder,
		Alert:    alerts,
		Logs:     store,
		Media:    recordings,
		History:  store,
		Warnings: func() []string { return warnings },
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, cfg.ListenAddr, handler)
	})
	if syncer != nil {
		g.Go(func() error {
			syncJournal(gctx, syncer, journal)
			return nil
		})
	}

	err = g.Wait()

	slog.Info("knowyourrights: shutting down")
	alerts.Close()
	// Keep whatever was captured before the process exits.
	if _, err := recorder.Stop(); err != nil && !errors.Is(err, capture.ErrInvalidTransition) {
		slog.Warn("capture: stop during shutdown failed", "error", err)
	}
	recorder.Close()
	recordings.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLLMClient(cfg config.Config) llm.Client {
	if cfg.LLMAPIKey == "" {
		return nil
	}
	provider, model, err := llm.ParseModel(cfg.Model)
	if err != nil {
		slog.Warn("llm: disabled", "error", err)
		return nil
	}
	var opts []llm.Option
	if cfg.LLMBaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.LLMBaseURL))
	}
	client, err := llm.NewClient(provider, cfg.LLMAPIKey, model, opts...)
	if err != nil {
		slog.Warn("llm: disabled", "error", err)
		return nil
	}
	slog.Info("llm: configured", "provider", provider, "model", model)
	return client
}

func newLocator(cfg config.Config) location.Locator {
	switch cfg.LocationMode {
	case config.LocationStatic:
		return location.Static{Coordinates: location.Coordinates{Latitude: cfg.Latitude, Longitude: cfg.Longitude}}
	case config.LocationIP:
		return location.NewIPLocator(cfg.LocationURL, cfg.ParsedLocationTimeout())
	default:
		return nil
	}
}

func newCaptureSource(cfg config.Config) (capture.Source, func(), error) {
	if cfg.CaptureBackend == config.CapturePortAudio {
		if err := portaudio.Initialize(); err != nil {
			return nil, nil, err
		}
		return capture.NewPortAudioSource(cfg.MicSampleRate, 0), func() { _ = portaudio.Terminate() }, nil
	}
	return capture.NewFFmpegSource(capture.FFmpegConfig{
		Command:     cfg.FFmpegCommand,
		AudioFormat: cfg.AudioFormat,
		AudioDevice: cfg.AudioDevice,
		VideoFormat: cfg.VideoFormat,
		VideoDevice: cfg.VideoDevice,
	}), func() {}, nil
}

func appendJournal(journal *storage.Writer, kind, text string) {
	if err := journal.Append(storage.JournalEntry{Time: time.Now(), Kind: kind, Text: text}); err != nil {
		slog.Warn("journal: append failed", "error", err)
	}
}

func syncJournal(ctx context.Context, syncer *gdrive.Syncer, journal *storage.Writer) {
	ticker := time.NewTicker(journalSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			path := journal.CurrentPath()
			if _, err := os.Stat(path); err != nil {
				continue
			}
			date := filepath.Base(path)
			date = date[:len(date)-len(filepath.Ext(date))]
			if err := syncer.SyncJournal(ctx, path, date); err != nil {
				slog.Warn("gdrive: journal sync failed", "error", err)
			}
		}
	}
}
