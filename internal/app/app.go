package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"echoes/internal/config"
	"echoes/internal/handler"
	"echoes/internal/logger"
	"echoes/internal/params"
	"echoes/internal/repository/sqlite"
	"echoes/internal/route"
	"echoes/internal/service"
	"echoes/internal/service/render"
	"echoes/internal/service/source"
	"echoes/internal/service/storage"
	"echoes/internal/service/vision"
	"echoes/internal/service/websocket"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config    *config.Config
	logger    *logger.Logger
	db        *sqlite.DB
	source    source.Source
	remote    *source.Remote
	segmenter *vision.Segmenter
	canvas    *vision.Canvas
	loop      *render.Loop
	archive   *storage.ArchiveService
	hub       *websocket.HubService
	manager   *service.Manager
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)
	for _, w := range cfg.Warnings {
		log.Warning("Config: %s", w)
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	snapshotsRepo := sqlite.NewSnapshotRepository(db)

	src, remote, err := source.New(cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	segmenter := vision.NewSegmenter(cfg, log)
	canvas := vision.NewCanvas(cfg, src, segmenter)
	archive := storage.NewArchiveService(cfg, log, snapshotsRepo)
	hub := websocket.NewHubService(log)

	loop := render.NewLoop(render.Options{
		Params: params.Params{
			OpacityLevel: cfg.OpacityLevel,
			IntervalRate: cfg.IntervalRate,
			Active:       true,
		},
		MaxEchoes: cfg.MaxEchoes,
		Lifetime:  cfg.EchoLifetime,
		QueueSize: cfg.ControlQueueSize,
	}, canvas, hub, archive, log)

	// A nil *Remote must not become a non-nil FrameSink.
	var frames service.FrameSink
	if remote != nil {
		frames = remote
	}
	mng := service.NewManager(loop, canvas, frames, hub, archive, snapshotsRepo, log)

	return &App{
		config:    cfg,
		logger:    log,
		db:        db,
		source:    src,
		remote:    remote,
		segmenter: segmenter,
		canvas:    canvas,
		loop:      loop,
		archive:   archive,
		hub:       hub,
		manager:   mng,
	}, nil
}

// Run serves HTTP and drives the render loop until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	background := func(run func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run()
		}()
	}

	// The render loop outlives the HTTP server so uploads still in flight
	// during Shutdown are drained by the loop's Close.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	// Start background services
	background(func() { a.hub.Run(ctx.Done()) })
	background(func() { a.archive.Run(ctx.Done()) })
	background(func() { a.segmenter.Run(loopCtx) })
	background(func() { a.loop.Run(loopCtx, a.config.TickInterval()) })
	if a.remote != nil {
		background(func() { handler.UDPCameraHandler(a.manager, a.logger, a.config, ctx.Done()) })
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: route.SetupRoutes(a.manager, a.config, a.logger),
	}

	fmt.Printf("🚀 Echoes Server\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("🎥 Source: %s\n", a.config.FrameSource)
	fmt.Printf("🖼️  Canvas: %dx%d @ %d fps\n", a.config.CanvasWidth, a.config.CanvasHeight, a.config.FrameRate)
	fmt.Printf("📁 Snapshots: %s\n", a.config.SnapshotDirectory)
	fmt.Printf("🤖 Segmentation model: %s\n", a.config.SegmentationModel)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("🛑 Shutdown requested")
	case runErr = <-serveErr:
		a.logger.Error("HTTP server failed: %v", runErr)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown: %v", err)
	}
	stopLoop()

	wg.Wait()
	return errors.Join(runErr, a.Close())
}

// Close releases OpenCV resources and the database. The render loop must
// have stopped.
func (a *App) Close() error {
	return errors.Join(
		a.canvas.Close(),
		a.segmenter.Close(),
		a.source.Close(),
		a.db.Close(),
	)
}
