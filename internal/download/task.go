package download

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type TaskStatus int

const (
	QUEUED TaskStatus = iota
	DOWNLOADING
	DOWNLOADED
	SPLITTING
	DONE
	ERROR
	CANCELLED
)

func (s TaskStatus) String() string {
	switch s {
	case QUEUED:
		return "queued"
	case DOWNLOADING:
		return "downloading"
	case DOWNLOADED:
		return "downloaded"
	case SPLITTING:
		return "splitting"
	case DONE:
		return "done"
	case ERROR:
		return "error"
	case CANCELLED:
		return "cancelled"
	}

	return fmt.Sprintf("UNKNOWN[%d]", s)
}

func (s TaskStatus) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// Finished returns true if the status is terminal.
func (s TaskStatus) Finished() bool { return s == DONE || s == ERROR || s == CANCELLED }

type (
	// Result describes the output of a completed download.
	Result struct {
		VideoTitle string   `json:"video_title"`
		Path       string   `json:"path"`
		TotalTime  string   `json:"total_time"`
		TotalSpace string   `json:"total_space"`
		Files      []string `json:"files"`
	}

	// DownloadTask represents a single request to download (and possibly split)
	// the audio of a YouTube video. The ID held inside of the task is what should
	// be used to retrieve the task from the service for monitoring.
	DownloadTask struct {
		mu        sync.RWMutex
		id        uuid.UUID
		seq       uint64
		url       string
		title     string
		status    TaskStatus
		percent   float64
		err       string
		result    *Result
		createdAt time.Time

		claimed         bool
		cancelRequested bool
		cancel          context.CancelFunc
	}

	// TaskSnapshot is a point-in-time copy of a tasks state, suitable
	// for serialising.
	TaskSnapshot struct {
		ID        uuid.UUID  `json:"id"`
		URL       string     `json:"url"`
		Title     string     `json:"title,omitempty"`
		Status    TaskStatus `json:"status"`
		Percent   float64    `json:"percent"`
		Error     string     `json:"error,omitempty"`
		Result    *Result    `json:"result,omitempty"`
		CreatedAt time.Time  `json:"created_at"`
	}
)

func newDownloadTask(url string, seq uint64) *DownloadTask {
	return &DownloadTask{
		id:        uuid.New(),
		seq:       seq,
		url:       url,
		status:    QUEUED,
		createdAt: time.Now(),
	}
}

func (task *DownloadTask) ID() uuid.UUID        { return task.id }
func (task *DownloadTask) URL() string          { return task.url }
func (task *DownloadTask) CreatedAt() time.Time { return task.createdAt }

func (task *DownloadTask) Title() string {
	task.mu.RLock()
	defer task.mu.RUnlock()
	return task.title
}

func (task *DownloadTask) Status() TaskStatus {
	task.mu.RLock()
	defer task.mu.RUnlock()
	return task.status
}

func (task *DownloadTask) Percent() float64 {
	task.mu.RLock()
	defer task.mu.RUnlock()
	return task.percent
}

func (task *DownloadTask) Error() string {
	task.mu.RLock()
	defer task.mu.RUnlock()
	return task.err
}

func (task *DownloadTask) Result() *Result {
	task.mu.RLock()
	defer task.mu.RUnlock()
	return task.result
}

func (task *DownloadTask) Snapshot() TaskSnapshot {
	task.mu.RLock()
	defer task.mu.RUnlock()

	return TaskSnapshot{
		ID:        task.id,
		URL:       task.url,
		Title:     task.title,
		Status:    task.status,
		Percent:   task.percent,
		Error:     task.err,
		Result:    task.result,
		CreatedAt: task.createdAt,
	}
}

func (task *DownloadTask) String() string {
	task.mu.RLock()
	defer task.mu.RUnlock()
	return fmt.Sprintf("Task{ID=%s URL=%s Status=%s Percent=%.1f}", task.id, task.url, task.status, task.percent)
}

// claim marks a queued task as owned by a worker. The cancel function
// provided is used to interrupt the task if it is cancelled while running.
// Returns false if the task has already been claimed or cancelled.
func (task *DownloadTask) claim(cancel context.CancelFunc) bool {
	task.mu.Lock()
	defer task.mu.Unlock()

	if task.claimed || task.status != QUEUED {
		return false
	}

	task.claimed = true
	task.cancel = cancel
	return true
}

func (task *DownloadTask) isClaimable() bool {
	task.mu.RLock()
	defer task.mu.RUnlock()
	return !task.claimed && task.status == QUEUED
}

// requestCancel interrupts the task. A task which has not yet been claimed is
// immediately cancelled, otherwise the running pipeline is interrupted and the
// worker marks the task as cancelled. Returns false if the task had already finished.
func (task *DownloadTask) requestCancel() bool {
	task.mu.Lock()
	defer task.mu.Unlock()

	if task.status.Finished() {
		return false
	}

	task.cancelRequested = true
	if !task.claimed {
		task.status = CANCELLED
		return true
	}

	if task.cancel != nil {
		task.cancel()
	}

	return true
}

func (task *DownloadTask) wasCancelRequested() bool {
	task.mu.RLock()
	defer task.mu.RUnlock()
	return task.cancelRequested
}

func (task *DownloadTask) setTitle(title string) {
	task.mu.Lock()
	defer task.mu.Unlock()
	task.title = title
}

// setProgress updates the status and percentage of this task. The percentage
// never decreases.
func (task *DownloadTask) setProgress(status TaskStatus, percent float64) {
	task.mu.Lock()
	defer task.mu.Unlock()

	if task.status.Finished() {
		return
	}

	task.status = status
	task.percent = max(task.percent, min(percent, 100))
}

func (task *DownloadTask) complete(result *Result) {
	task.mu.Lock()
	defer task.mu.Unlock()

	task.status = DONE
	task.percent = 100
	task.result = result
	task.cancel = nil
}

func (task *DownloadTask) fail(err error) {
	task.mu.Lock()
	defer task.mu.Unlock()

	task.status = ERROR
	task.err = err.Error()
	if task.err == "" {
		task.err = "unknown error"
	}
	task.cancel = nil
}

func (task *DownloadTask) markCancelled() {
	task.mu.Lock()
	defer task.mu.Unlock()

	task.status = CANCELLED
	task.cancel = nil
}
