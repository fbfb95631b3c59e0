package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"podcast-timeline/internal/app"
	"podcast-timeline/internal/catalog"
	"podcast-timeline/internal/config"
	"podcast-timeline/internal/locale"
	"podcast-timeline/internal/models"
	"podcast-timeline/internal/mpv"
	"podcast-timeline/internal/notify"
	"podcast-timeline/internal/playback"
	"podcast-timeline/internal/server"
)

var opts struct {
	Catalog  string        `short:"c" long:"catalog" env:"PODCAST_CATALOG" default:"data/episodes.json" description:"episode catalog file or http(s) URL (JSON or RSS)"`
	Listen   string        `short:"l" long:"listen" env:"PODCAST_LISTEN_ADDR" default:"127.0.0.1:8080" description:"listen address, localhost only"`
	AudioDir string        `short:"a" long:"audio-dir" env:"PODCAST_AUDIO_DIR" description:"local audio directory served under /audio/"`
	Config   string        `long:"config" env:"PODCAST_CONFIG" description:"player metadata file (yml)"`
	Timezone string        `long:"timezone" env:"PODCAST_TIMEZONE" default:"Local" description:"time zone for date groups"`
	Debounce time.Duration `long:"debounce" env:"PODCAST_REFRESH_DEBOUNCE" default:"500ms" description:"catalog reload debounce"`

	MPV struct {
		Binary string `long:"binary" env:"BINARY" default:"mpv" description:"mpv executable, empty to attach to a running mpv"`
		Socket string `long:"socket" env:"SOCKET" description:"mpv IPC socket path"`
	} `group:"mpv" namespace:"mpv" env-namespace:"PODCAST_MPV"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"show debug info"`
}

func main() {
	p := flags.NewParser(&opts, flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			p.WriteHelp(os.Stderr)
			os.Exit(2)
		}
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	setupLog(opts.Dbg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		lgr.Fatalf("[ERROR] %v", err)
	}
	lgr.Printf("[INFO] shutdown complete")
}

func run(ctx context.Context) error {
	logger := lgr.Default()

	if err := config.ValidateListenAddr(opts.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", opts.Listen, err)
	}

	source, err := config.ResolveCatalogSource(opts.Catalog)
	if err != nil {
		return fmt.Errorf("resolve catalog source: %w", err)
	}
	audioRoot, err := config.ResolveAudioRoot(opts.AudioDir)
	if err != nil {
		return fmt.Errorf("resolve audio directory: %w", err)
	}
	loc, err := config.ResolveLocation(opts.Timezone)
	if err != nil {
		return fmt.Errorf("resolve time zone: %w", err)
	}
	meta, err := config.ResolvePlayerMetadata(opts.Config)
	if err != nil {
		return fmt.Errorf("resolve player metadata: %w", err)
	}
	l := locale.New(meta.Language)

	loader := catalog.NewLoader(source, catalog.Options{
		Location:  loc,
		AudioRoot: audioRoot,
		Client:    &http.Client{Timeout: 30 * time.Second},
		Logger:    logger,
	})
	store, err := catalog.NewStore(ctx, loader, opts.Debounce, logger)
	if err != nil {
		return fmt.Errorf("initialise catalog store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Logf("[WARN] error closing catalog store: %v", err)
		}
	}()

	engine, err := mpv.Start(ctx, mpv.Options{Binary: opts.MPV.Binary, Socket: opts.MPV.Socket, Logger: logger})
	if err != nil {
		return fmt.Errorf("start audio engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Logf("[WARN] error closing audio engine: %v", err)
		}
	}()

	board := notify.NewBoard(notify.DefaultTTL, nil)
	session := app.NewSession()
	controller := playback.NewController(engine, playback.Options{
		Session:  session,
		Notifier: board,
		Locale:   l,
		Location: loc,
		Album:    meta.Album,
		Logger:   logger,
	})

	current, loadErr := store.Snapshot()
	state := app.New(controller, app.Options{
		Session:  session,
		Board:    board,
		Locale:   l,
		Location: loc,
		Reload: func(ctx context.Context) (models.Catalog, error) {
			err := store.Reload(ctx)
			c, _ := store.Snapshot()
			return c, err
		},
		Catalog:    current,
		CatalogErr: loadErr,
		Logger:     logger,
	})

	store.OnChange(func(c models.Catalog, err error) {
		if _, derr := state.Dispatch(ctx, app.Event{Type: app.EventCatalog, Catalog: &c, CatalogErr: err}); derr != nil {
			logger.Logf("[WARN] apply catalog change: %v", derr)
		}
	})

	go forwardEngineEvents(ctx, engine, state, logger)

	assetRoot := ""
	if !source.Remote {
		assetRoot = filepath.Dir(source.Location)
	}
	srv := server.New(state, server.Options{
		AudioRoot: audioRoot,
		AssetRoot: assetRoot,
		Feed: server.FeedMetadata{
			Title:       meta.Title,
			Description: meta.Description,
			Language:    meta.Language,
			Author:      meta.Author,
		},
		Locale: l,
		Logger: logger,
	})
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              opts.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		srv.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logf("[WARN] graceful shutdown error: %v", err)
		}
	}()

	logger.Logf("[INFO] listening on %s (catalog: %s, audio directory: %s)", opts.Listen, source.Location, audioRoot)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// forwardEngineEvents dispatches engine notifications until the engine
// closes its event channel.
func forwardEngineEvents(ctx context.Context, engine playback.EventSource, state *app.App, logger lgr.L) {
	for ev := range engine.Events() {
		if _, err := state.Dispatch(ctx, app.Event{Type: app.EventEngine, Engine: ev}); err != nil {
			logger.Logf("[WARN] engine event %s: %v", ev.Type, err)
		}
	}
}

func setupLog(dbg bool) {
	if dbg {
		lgr.Setup(lgr.Debug, lgr.CallerFile, lgr.Msec, lgr.LevelBraces)
		return
	}
	lgr.Setup(lgr.Msec, lgr.LevelBraces)
}
