package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hbomb79/Lyre/internal/event"
	"github.com/hbomb79/Lyre/internal/ffmpeg"
	"github.com/hbomb79/Lyre/internal/history"
	"github.com/hbomb79/Lyre/internal/library"
	"github.com/hbomb79/Lyre/internal/youtube"
	"github.com/hbomb79/Lyre/pkg/logger"
)

const (
	downloadStartPercent = 5.0
	downloadSpanPercent  = 45.0
	downloadedPercent    = 50.0
	splitSpanPercent     = 45.0
)

// runNextTask claims the next queued task and runs it to completion. Returns
// false if there was no task to run.
func (service *downloadService) runNextTask(ctx context.Context) bool {
	taskCtx, cancel := context.WithTimeout(ctx, time.Duration(service.config.TaskTimeoutSeconds)*time.Second)
	defer cancel()

	task := service.claimQueuedTask(cancel)
	if task == nil {
		return false
	}

	log.Emit(logger.INFO, "Starting %s\n", task)
	err := service.runPipeline(taskCtx, task)
	switch {
	case err == nil:
		log.Emit(logger.SUCCESS, "Completed %s\n", task)
		service.eventBus.Dispatch(event.DownloadCompleteEvent, task.ID())
		return true
	case task.wasCancelRequested() || ctx.Err() != nil:
		log.Emit(logger.STOP, "Task %s was cancelled\n", task)
		task.markCancelled()
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		task.fail(fmt.Errorf("download timed out after %ds: %w", service.config.TaskTimeoutSeconds, err))
		log.Emit(logger.ERROR, "Task %s timed out: %v\n", task, err)
	default:
		task.fail(err)
		log.Emit(logger.ERROR, "Task %s failed: %v\n", task, err)
	}

	service.eventBus.Dispatch(event.DownloadUpdateEvent, task.ID())
	return true
}

func (service *downloadService) runPipeline(ctx context.Context, task *DownloadTask) error {
	startTime := time.Now()
	if version, err := service.downloader.Version(ctx); err != nil {
		log.Warnf("Unable to determine yt-dlp version: %v\n", err)
	} else {
		log.Debugf("Using yt-dlp %s (cookies configured: %v)\n", version, service.downloader.HasCookies())
	}

	info, err := service.downloader.FetchInfo(ctx, task.URL())
	if err != nil {
		return err
	}
	task.setTitle(info.Title)

	folder, err := service.library.EnsureFolder(info.Title)
	if err != nil {
		return err
	}

	service.updateProgress(task, DOWNLOADING, downloadStartPercent)
	audioPath, err := service.downloader.DownloadAudio(ctx, task.URL(), folder, intermediateAudioName(task), func(p youtube.Progress) {
		service.updateProgress(task, DOWNLOADING, p.Fraction()*downloadSpanPercent+downloadStartPercent)
	})
	if err != nil {
		return err
	}
	service.updateProgress(task, DOWNLOADED, downloadedPercent)

	var files []string
	if len(info.Chapters) == 0 {
		files, err = service.renameAudio(audioPath, folder, info.Title)
	} else {
		files, err = service.splitChapters(ctx, task, audioPath, folder, info)
	}
	if err != nil {
		return err
	}

	size, err := library.FolderSizeMB(folder)
	if err != nil {
		return err
	}

	elapsed := time.Since(startTime).Seconds()
	result := &Result{
		VideoTitle: info.Title,
		Path:       filepath.Base(folder),
		TotalTime:  fmt.Sprintf("%.2f", elapsed),
		TotalSpace: fmt.Sprintf("%.2f", size),
		Files:      files,
	}
	task.complete(result)

	record := &history.Record{
		ID:           task.ID(),
		URL:          task.URL(),
		Title:        info.Title,
		Folder:       result.Path,
		Files:        files,
		TotalTime:    elapsed,
		TotalSpaceMB: size,
		CreatedAt:    task.CreatedAt(),
		CompletedAt:  time.Now(),
	}
	if err := service.history.SaveDownload(record); err != nil {
		log.Errorf("Failed to save %s to history: %v\n", task, err)
	}

	return nil
}

// renameAudio moves the full audio file to a file named after the video.
func (service *downloadService) renameAudio(audioPath string, folder string, title string) ([]string, error) {
	final := library.SanitizeFilename(title) + ".mp3"
	if err := os.Rename(audioPath, filepath.Join(folder, final)); err != nil {
		return nil, fmt.Errorf("failed to rename downloaded audio: %w", err)
	}

	return []string{final}, nil
}

// splitChapters cuts the full audio in to one file per chapter, before removing
// the full audio file.
func (service *downloadService) splitChapters(ctx context.Context, task *DownloadTask, audioPath string, folder string, info *youtube.Info) ([]string, error) {
	total := len(info.Chapters)
	used := make(map[string]int, total+1)
	used[strings.ToLower(filepath.Base(audioPath))] = 1 // never overwrite the input
	files := make([]string, 0, total)

	for i, chapter := range info.Chapters {
		name := library.UniqueName(used, library.SanitizeFilename(chapterTitle(chapter, i))+".mp3")
		segment := ffmpeg.Segment{
			Start:  chapter.StartTime,
			End:    service.chapterEnd(chapter, info, audioPath),
			Output: filepath.Join(folder, name),
		}

		if err := service.splitter.Split(ctx, audioPath, segment, nil); err != nil {
			return nil, fmt.Errorf("failed to split chapter %d (%s): %w", i+1, name, err)
		}

		files = append(files, name)
		service.updateProgress(task, SPLITTING, downloadedPercent+(float64(i+1)/float64(total))*splitSpanPercent)
	}

	if err := os.Remove(audioPath); err != nil {
		return nil, fmt.Errorf("failed to remove full audio after splitting: %w", err)
	}

	return files, nil
}

// chapterEnd returns the end of the chapter provided. Chapters without a usable end
// time run to the end of the video.
func (service *downloadService) chapterEnd(chapter youtube.Chapter, info *youtube.Info, audioPath string) float64 {
	if chapter.EndTime > chapter.StartTime {
		return chapter.EndTime
	}
	if info.Duration > chapter.StartTime {
		return info.Duration
	}

	duration, err := service.splitter.Duration(audioPath)
	if err != nil {
		log.Warnf("Failed to probe duration of %s: %v\n", audioPath, err)
		return chapter.EndTime
	}

	return duration
}

func (service *downloadService) updateProgress(task *DownloadTask, status TaskStatus, percent float64) {
	previous := task.Status()
	task.setProgress(status, percent)

	if previous != status {
		service.eventBus.Dispatch(event.DownloadUpdateEvent, task.ID())
	} else {
		service.eventBus.Dispatch(event.DownloadProgressEvent, task.ID())
	}
}

// intermediateAudioName is the name (without extension) of the full audio
// download for the task. Tasks for the same video share a folder, so the
// name is unique to the task.
func intermediateAudioName(task *DownloadTask) string {
	return youtube.FullAudioName + "-" + task.ID().String()
}

func chapterTitle(chapter youtube.Chapter, index int) string {
	if chapter.Title != "" {
		return chapter.Title
	}

	return "Chapter " + strconv.Itoa(index+1)
}
