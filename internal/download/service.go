package download

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hbomb79/Lyre/internal/event"
	"github.com/hbomb79/Lyre/internal/ffmpeg"
	"github.com/hbomb79/Lyre/internal/history"
	"github.com/hbomb79/Lyre/internal/library"
	"github.com/hbomb79/Lyre/internal/youtube"
	"github.com/hbomb79/Lyre/pkg/logger"
	"github.com/hbomb79/Lyre/pkg/sync"
	"github.com/hbomb79/Lyre/pkg/worker"
)

var (
	log = logger.Get("DownloadServ")

	ErrTaskNotFound    = errors.New("no task found")
	ErrTaskNotComplete = errors.New("task not complete")
)

type (
	// Downloader fetches video information and audio from YouTube.
	Downloader interface {
		Version(ctx context.Context) (string, error)
		HasCookies() bool
		FetchInfo(ctx context.Context, url string) (*youtube.Info, error)
		DownloadAudio(ctx context.Context, url string, folder string, name string, onProgress func(youtube.Progress)) (string, error)
	}

	Service interface {
		Run(ctx context.Context) error
		NewTask(url string) (uuid.UUID, error)
		Task(id uuid.UUID) *DownloadTask
		AllTasks() []*DownloadTask
		CancelTask(id uuid.UUID) error
		Result(id uuid.UUID) (*Result, error)
	}

	// downloadService is Lyre's solution to fetching and splitting the audio
	// of YouTube videos. It is responsible for:
	//   - Accepting new download requests and queueing them for the worker pool
	//   - Live-tracking and reporting of ongoing downloads over the event bus
	//   - Persistence of completed downloads to the history store
	downloadService struct {
		config     Config
		tasks      sync.TypedSyncMap[uuid.UUID, *DownloadTask]
		taskSeq    atomic.Uint64
		workerPool *worker.WorkerPool

		eventBus   event.EventDispatcher
		downloader Downloader
		splitter   ffmpeg.Splitter
		library    *library.Library
		history    history.Store
	}
)

// New creates a new downloadService, injecting all required dependencies. An error is
// returned if the configuration provided is not valid.
func New(config Config, eventBus event.EventDispatcher, downloader Downloader, splitter ffmpeg.Splitter, lib *library.Library, store history.Store) (*downloadService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &downloadService{
		config:     config,
		workerPool: worker.NewWorkerPool(),
		eventBus:   eventBus,
		downloader: downloader,
		splitter:   splitter,
		library:    lib,
		history:    store,
	}, nil
}

// Run is the main entry point for this service. This method will block
// until the provided context is cancelled.
// Note: when context is cancelled this method will not immediately return as it
// will wait for it's running tasks to cancel.
func (service *downloadService) Run(ctx context.Context) error {
	for i := 0; i < service.config.Concurrency; i++ {
		label := fmt.Sprintf("download-worker-%d", i)
		if err := service.workerPool.PushWorker(worker.NewWorker(label, &downloadWorker{ctx: ctx, service: service})); err != nil {
			return err
		}
	}

	if err := service.workerPool.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Emit(logger.STOP, "Shutting down (context cancelled). Waiting for download tasks to cancel.\n")
	service.workerPool.Close()

	return nil
}

// NewTask validates the URL provided and queues a new download task for it,
// returning the ID of the task.
func (service *downloadService) NewTask(rawURL string) (uuid.UUID, error) {
	url, err := youtube.ValidateURL(rawURL)
	if err != nil {
		return uuid.Nil, err
	}

	task := newDownloadTask(url, service.taskSeq.Add(1))
	service.tasks.Store(task.ID(), task)
	log.Emit(logger.NEW, "Queued %s\n", task)

	service.eventBus.Dispatch(event.DownloadUpdateEvent, task.ID())
	if err := service.workerPool.WakeupWorkers(); err != nil {
		log.Debugf("Task %s will be picked up once the worker pool starts: %v\n", task.ID(), err)
	}

	return task.ID(), nil
}

// Task returns the task with the ID provided, or nil if no such task exists.
func (service *downloadService) Task(id uuid.UUID) *DownloadTask {
	if task, ok := service.tasks.Load(id); ok {
		return task
	}

	return nil
}

// AllTasks returns every task known to this service, ordered by creation.
func (service *downloadService) AllTasks() []*DownloadTask {
	tasks := service.tasks.Values()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].seq < tasks[j].seq })

	return tasks
}

// CancelTask will find the task with the ID provided and cancel it. Tasks which have
// already finished are left untouched.
func (service *downloadService) CancelTask(id uuid.UUID) error {
	task := service.Task(id)
	if task == nil {
		return ErrTaskNotFound
	}

	if !task.requestCancel() {
		log.Debugf("Ignoring cancellation of %s as it has already finished\n", task)
		return nil
	}

	log.Emit(logger.STOP, "Cancelled %s\n", task)
	service.eventBus.Dispatch(event.DownloadUpdateEvent, id)
	return nil
}

// Result returns the result of the completed task with the ID provided. Tasks
// which are no longer held in memory (e.g. from before a restart) are looked
// up in the history store.
func (service *downloadService) Result(id uuid.UUID) (*Result, error) {
	if task := service.Task(id); task != nil {
		if task.Status() != DONE {
			return nil, ErrTaskNotComplete
		}

		return task.Result(), nil
	}

	record, err := service.history.GetDownload(id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return nil, ErrTaskNotFound
		}

		return nil, err
	}

	return resultFromRecord(record), nil
}

// claimQueuedTask finds the oldest task which is waiting to be started and
// claims it. Returns nil if there are no claimable tasks.
func (service *downloadService) claimQueuedTask(cancel context.CancelFunc) *DownloadTask {
	for _, task := range service.AllTasks() {
		if task.isClaimable() && task.claim(cancel) {
			return task
		}
	}

	return nil
}

// downloadWorker is the work performed by each worker in the
// services pool: claim and run queued tasks until there are none
// left, then sleep until woken.
type downloadWorker struct {
	ctx     context.Context
	service *downloadService
}

func (w *downloadWorker) Execute(wrk worker.Worker) error {
	for {
		for w.ctx.Err() == nil && w.service.runNextTask(w.ctx) {
		}

		if !wrk.Sleep() {
			return nil
		}
	}
}

func resultFromRecord(record *history.Record) *Result {
	return &Result{
		VideoTitle: record.Title,
		Path:       record.Folder,
		TotalTime:  fmt.Sprintf("%.2f", record.TotalTime),
		TotalSpace: fmt.Sprintf("%.2f", record.TotalSpaceMB),
		Files:      record.Files,
	}
}
