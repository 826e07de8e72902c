package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hbomb79/Lyre/internal/api"
	"github.com/hbomb79/Lyre/internal/database"
	"github.com/hbomb79/Lyre/internal/download"
	"github.com/hbomb79/Lyre/internal/event"
	"github.com/hbomb79/Lyre/internal/ffmpeg"
	"github.com/hbomb79/Lyre/internal/history"
	"github.com/hbomb79/Lyre/internal/library"
	"github.com/hbomb79/Lyre/internal/youtube"
	"github.com/hbomb79/Lyre/pkg/docker"
	"github.com/hbomb79/Lyre/pkg/logger"
)

var log = logger.Get("Core")

const dockerShutdownTimeout = time.Second * 10

type (
	RunnableService interface {
		Run(context.Context) error
	}

	RestGateway interface {
		RunnableService
		broadcaster
	}
)

// lyreImpl represents the top-level object for the server, and is responsible
// for initialising embedded support services, services, stores and event
// handling.
type lyreImpl struct {
	config        LyreConfig
	eventBus      event.EventCoordinator
	dockerManager docker.DockerManager
	db            database.Manager
}

func New(config LyreConfig) *lyreImpl {
	return &lyreImpl{config: config, eventBus: event.New()}
}

// Run will start all of Lyre by bringing up all required services and connections, such as:
// - Docker services
// - Database connection
// - Service instances
//
// This function will not return until Lyre is stopped.
// To stop Lyre, the provided context must be cancelled. Errors from which Lyre cannot recover
// will also cause Lyre to stop.
func (lyre *lyreImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel(fmt.Errorf("service %s crashed: %w", label, err))
	}

	defer lyre.shutdownSupportServices()
	store, err := lyre.initialiseHistory(crashHandler)
	if err != nil {
		return err
	}

	cookieFile, err := youtube.DecodeCookies(lyre.config.YouTube.CookiesB64, lyre.config.YouTube.CookieFilePath)
	if err != nil {
		return err
	}
	if cookieFile == "" {
		log.Emit(logger.WARNING, "No YouTube cookies configured (YT_COOKIES_B64), age or region restricted videos may fail\n")
	}

	lib, err := library.New(lyre.config.Download.OutputPath)
	if err != nil {
		return err
	}
	log.Emit(logger.INFO, "Downloads will be written to %s\n", lib.BasePath())

	ytClient := youtube.NewClient(lyre.config.YouTube, cookieFile, lyre.config.Ffmpeg.FfmpegBinaryPath, nil)
	downloadService, err := download.New(lyre.config.Download, lyre.eventBus, ytClient, ffmpeg.NewSplitter(lyre.config.Ffmpeg), lib, store)
	if err != nil {
		return fmt.Errorf("failed to construct download service: %w", err)
	}

	var gateway RestGateway = api.NewRestGateway(
		&api.RestConfig{HostAddr: lyre.config.HostAddr, Port: lyre.config.Port},
		downloadService,
		lib,
		store,
		ytClient,
	)
	history.PruneRemovedFolders(store, lyre.eventBus)

	wg := &sync.WaitGroup{}
	lyre.spawnAsyncService(ctx, wg, downloadService, "download-service", crashHandler)
	lyre.spawnAsyncService(ctx, wg, newActivityService(gateway, lyre.eventBus), "activity-service", crashHandler)
	lyre.spawnAsyncService(ctx, wg, library.NewWatcher(lib, lyre.eventBus), "library-watcher", crashHandler)
	lyre.spawnAsyncService(ctx, wg, gateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Lyre services spawned!\n")

	wg.Wait()
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the Lyre service waitgroup is updated correctly
func (lyre *lyreImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

// initialiseHistory returns the store used to persist completed downloads. When
// history is disabled an in-memory store is used, otherwise Lyre connects to
// PostgreSQL (spawning it in docker first if the embedded service is enabled).
func (lyre *lyreImpl) initialiseHistory(crashHandler func(string, error)) (history.Store, error) {
	if !lyre.config.History.Enabled {
		log.Emit(logger.INFO, "Download history is disabled, results will not survive a restart\n")
		return history.NewMemoryStore(), nil
	}

	if lyre.config.Services.EnablePostgres {
		if err := lyre.initialiseDockerDatabase(crashHandler); err != nil {
			return nil, err
		}
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	db := database.New()
	if err := db.Connect(lyre.config.Database); err != nil {
		return nil, err
	}
	lyre.db = db

	return history.NewPostgresStore(db), nil
}

// initialiseDockerDatabase spawns the embedded PostgreSQL container, forwarding
// any crash of the container to the crash handler provided.
func (lyre *lyreImpl) initialiseDockerDatabase(crashHandler func(string, error)) error {
	log.Emit(logger.INFO, "Initialising embedded database...\n")
	manager, err := docker.NewDockerManager()
	if err != nil {
		return fmt.Errorf("failed to connect to docker for embedded database: %w", err)
	}
	lyre.dockerManager = manager

	errChannel := make(chan error, 1)
	if _, err := database.InitialiseDockerDatabase(manager, lyre.config.Database, errChannel); err != nil {
		return err
	}

	go func() {
		if err, ok := <-errChannel; ok {
			crashHandler("docker-postgres", err)
		}
	}()

	return nil
}

func (lyre *lyreImpl) shutdownSupportServices() {
	if lyre.db != nil {
		if err := lyre.db.Close(); err != nil {
			log.Emit(logger.WARNING, "Failed to close database connection: %v\n", err)
		}
	}

	if lyre.dockerManager != nil {
		lyre.dockerManager.Shutdown(dockerShutdownTimeout)
	}
}
