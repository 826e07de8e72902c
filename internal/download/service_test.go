package download_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Lyre/internal/download"
	"github.com/hbomb79/Lyre/internal/event"
	"github.com/hbomb79/Lyre/internal/ffmpeg"
	"github.com/hbomb79/Lyre/internal/history"
	"github.com/hbomb79/Lyre/internal/library"
	"github.com/hbomb79/Lyre/internal/youtube"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const videoURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

type mockDownloader struct{ mock.Mock }

func (m *mockDownloader) Version(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockDownloader) HasCookies() bool { return m.Called().Bool(0) }

func (m *mockDownloader) FetchInfo(ctx context.Context, url string) (*youtube.Info, error) {
	args := m.Called(ctx, url)
	info, _ := args.Get(0).(*youtube.Info)
	return info, args.Error(1)
}

// DownloadAudio reports the path yt-dlp would write for the name given; stubs
// are responsible for creating the file.
func (m *mockDownloader) DownloadAudio(ctx context.Context, url string, folder string, name string, onProgress func(youtube.Progress)) (string, error) {
	args := m.Called(ctx, url, folder, name, onProgress)
	return filepath.Join(folder, name+".mp3"), args.Error(0)
}

type mockSplitter struct{ mock.Mock }

func (m *mockSplitter) Split(ctx context.Context, input string, segment ffmpeg.Segment, onProgress ffmpeg.ProgressCallback) error {
	return m.Called(ctx, input, segment, onProgress).Error(0)
}

func (m *mockSplitter) Duration(path string) (float64, error) {
	args := m.Called(path)
	return args.Get(0).(float64), args.Error(1)
}

type harness struct {
	service    download.Service
	downloader *mockDownloader
	splitter   *mockSplitter
	library    *library.Library
	history    *history.MemoryStore
	events     event.HandlerChannel
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithTimeout(t, 60)
}

func newHarnessWithTimeout(t *testing.T, timeoutSeconds int) *harness {
	lib, err := library.New(t.TempDir())
	require.NoError(t, err)

	bus := event.New()
	events := make(event.HandlerChannel, 256)
	bus.RegisterHandlerChannel(events, event.DownloadUpdateEvent, event.DownloadProgressEvent, event.DownloadCompleteEvent)

	h := &harness{
		downloader: &mockDownloader{},
		splitter:   &mockSplitter{},
		library:    lib,
		history:    history.NewMemoryStore(),
		events:     events,
	}
	h.downloader.On("Version", mock.Anything).Return("2024.05.27", nil).Maybe()
	h.downloader.On("HasCookies").Return(false).Maybe()

	service, err := download.New(download.Config{OutputPath: lib.BasePath(), Concurrency: 2, TaskTimeoutSeconds: timeoutSeconds}, bus, h.downloader, h.splitter, lib, h.history)
	require.NoError(t, err)
	h.service = service

	return h
}

func (h *harness) start(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, h.service.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// expectAudio stubs a successful audio download which writes the full audio
// to the folder for the title given, reporting progress along the way.
func (h *harness) expectAudio(title string) string {
	folder := filepath.Join(h.library.BasePath(), library.SanitizeFilename(title))
	h.downloader.On("DownloadAudio", mock.Anything, videoURL, folder, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			onProgress := args.Get(4).(func(youtube.Progress))
			onProgress(youtube.Progress{Downloaded: 50, Total: 100})
			onProgress(youtube.Progress{Downloaded: 100, Total: 100})
			_ = os.WriteFile(filepath.Join(folder, args.String(3)+".mp3"), make([]byte, 2048), 0o644)
		}).
		Return(nil).
		Once()

	return folder
}

// isFullAudio matches the path of a tasks intermediate full audio download.
func isFullAudio(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, youtube.FullAudioName+"-") && strings.HasSuffix(name, ".mp3")
}

func assertNoFullAudio(t *testing.T, folder string) {
	matches, err := filepath.Glob(filepath.Join(folder, youtube.FullAudioName+"*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func waitForStatus(t *testing.T, service download.Service, id uuid.UUID, status download.TaskStatus) *download.DownloadTask {
	var task *download.DownloadTask
	require.EventuallyWithT(t, func(c *assert.CollectT) {
		task = service.Task(id)
		if assert.NotNil(c, task) {
			assert.Equal(c, status, task.Status())
		}
	}, 5*time.Second, 10*time.Millisecond)

	return task
}

func TestDownload_WithoutChapters(t *testing.T) {
	h := newHarness(t)
	h.downloader.On("FetchInfo", mock.Anything, videoURL).Return(&youtube.Info{Title: "Song: Live?"}, nil).Once()
	folder := h.expectAudio("Song: Live?")
	h.start(t)

	id, err := h.service.NewTask(videoURL)
	require.NoError(t, err)

	task := waitForStatus(t, h.service, id, download.DONE)
	assert.Equal(t, 100.0, task.Percent())

	result, err := h.service.Result(id)
	require.NoError(t, err)
	assert.Equal(t, "Song: Live?", result.VideoTitle)
	assert.Equal(t, "Song_ Live_", result.Path)
	assert.Equal(t, []string{"Song_ Live_.mp3"}, result.Files)
	assert.Regexp(t, `^\d+\.\d{2}$`, result.TotalTime)
	assert.Equal(t, "0.00", result.TotalSpace)

	assert.FileExists(t, filepath.Join(folder, "Song_ Live_.mp3"))
	assertNoFullAudio(t, folder)

	record, err := h.history.GetDownload(id)
	require.NoError(t, err)
	assert.Equal(t, "Song_ Live_", record.Folder)
	h.splitter.AssertNotCalled(t, "Split", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDownload_SplitsChapters(t *testing.T) {
	h := newHarness(t)
	info := &youtube.Info{
		Title:    "Album",
		Duration: 300,
		Chapters: []youtube.Chapter{
			{Title: "Intro", StartTime: 0, EndTime: 60},
			{Title: "Intro", StartTime: 60, EndTime: 120},
			{Title: "Finale/Outro", StartTime: 120, EndTime: 0},
		},
	}
	h.downloader.On("FetchInfo", mock.Anything, videoURL).Return(info, nil).Once()
	folder := h.expectAudio("Album")

	var segments []ffmpeg.Segment
	h.splitter.On("Split", mock.Anything, mock.MatchedBy(isFullAudio), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			seg := args.Get(2).(ffmpeg.Segment)
			segments = append(segments, seg)
			_ = os.WriteFile(seg.Output, []byte("chapter"), 0o644)
		}).
		Return(nil).
		Times(3)
	h.start(t)

	id, err := h.service.NewTask(videoURL)
	require.NoError(t, err)
	waitForStatus(t, h.service, id, download.DONE)

	result, err := h.service.Result(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Intro.mp3", "Intro (2).mp3", "Finale_Outro.mp3"}, result.Files)
	assertNoFullAudio(t, folder)

	require.Len(t, segments, 3)
	assert.Equal(t, 60.0, segments[1].Start)
	assert.Equal(t, 300.0, segments[2].End, "chapters without an end run to the end of the video")
	h.splitter.AssertExpectations(t)
}

func TestDownload_DispatchesCompleteEvent(t *testing.T) {
	h := newHarness(t)
	h.downloader.On("FetchInfo", mock.Anything, videoURL).Return(&youtube.Info{Title: "Song"}, nil).Once()
	h.expectAudio("Song")
	h.start(t)

	id, err := h.service.NewTask(videoURL)
	require.NoError(t, err)
	task := waitForStatus(t, h.service, id, download.DONE)
	assert.Equal(t, 100.0, task.Percent())

	sawComplete := false
	for len(h.events) > 0 {
		ev := <-h.events
		if ev.Event == event.DownloadCompleteEvent {
			sawComplete = true
		}
	}
	assert.True(t, sawComplete)
}

func TestDownload_FailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.downloader.On("FetchInfo", mock.Anything, videoURL).Return(nil, errors.New("video unavailable")).Once()
	h.start(t)

	id, err := h.service.NewTask(videoURL)
	require.NoError(t, err)

	task := waitForStatus(t, h.service, id, download.ERROR)
	assert.Contains(t, task.Error(), "video unavailable")

	_, err = h.service.Result(id)
	assert.ErrorIs(t, err, download.ErrTaskNotComplete)
}

func TestDownload_CancelRunningTask(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.downloader.On("FetchInfo", mock.Anything, videoURL).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled).
		Once()
	h.start(t)

	id, err := h.service.NewTask(videoURL)
	require.NoError(t, err)
	<-started

	require.NoError(t, h.service.CancelTask(id))
	waitForStatus(t, h.service, id, download.CANCELLED)
}

func TestNewTask_RejectsInvalidURL(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.NewTask("https://example.com/watch?v=nope")
	assert.ErrorIs(t, err, youtube.ErrInvalidURL)
	assert.Empty(t, h.service.AllTasks())
}

func TestCancelTask_QueuedAndUnknown(t *testing.T) {
	h := newHarness(t)

	first, err := h.service.NewTask(videoURL)
	require.NoError(t, err)
	second, err := h.service.NewTask("https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)

	tasks := h.service.AllTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, first, tasks[0].ID())
	assert.Equal(t, second, tasks[1].ID())

	require.NoError(t, h.service.CancelTask(first))
	assert.Equal(t, download.CANCELLED, h.service.Task(first).Status())
	assert.ErrorIs(t, h.service.CancelTask(uuid.New()), download.ErrTaskNotFound)
}

func TestResult_FallsBackToHistory(t *testing.T) {
	h := newHarness(t)
	record := &history.Record{ID: uuid.New(), Title: "Old", Folder: "Old", Files: []string{"Old.mp3"}, TotalTime: 1.234, TotalSpaceMB: 5.678}
	require.NoError(t, h.history.SaveDownload(record))

	result, err := h.service.Result(record.ID)
	require.NoError(t, err)
	assert.Equal(t, &download.Result{VideoTitle: "Old", Path: "Old", TotalTime: "1.23", TotalSpace: "5.68", Files: []string{"Old.mp3"}}, result)

	_, err = h.service.Result(uuid.New())
	assert.ErrorIs(t, err, download.ErrTaskNotFound)
}

func TestDownload_TimesOut(t *testing.T) {
	h := newHarnessWithTimeout(t, 1)
	h.downloader.On("FetchInfo", mock.Anything, videoURL).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).
		Once()
	h.start(t)

	id, err := h.service.NewTask(videoURL)
	require.NoError(t, err)

	task := waitForStatus(t, h.service, id, download.ERROR)
	assert.Contains(t, task.Error(), "timed out")
}

func chapteredInfoWithoutDuration() *youtube.Info {
	return &youtube.Info{
		Title: "Live Set",
		Chapters: []youtube.Chapter{
			{Title: "Opener", StartTime: 0, EndTime: 60},
			{Title: "Encore", StartTime: 60},
		},
	}
}

func TestDownload_ProbesDurationOfFinalChapter(t *testing.T) {
	h := newHarness(t)
	h.downloader.On("FetchInfo", mock.Anything, videoURL).Return(chapteredInfoWithoutDuration(), nil).Once()
	folder := h.expectAudio("Live Set")
	h.splitter.On("Duration", mock.MatchedBy(isFullAudio)).Return(245.5, nil).Once()

	var segments []ffmpeg.Segment
	h.splitter.On("Split", mock.Anything, mock.MatchedBy(isFullAudio), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			seg := args.Get(2).(ffmpeg.Segment)
			segments = append(segments, seg)
			_ = os.WriteFile(seg.Output, []byte("chapter"), 0o644)
		}).
		Return(nil).
		Times(2)
	h.start(t)

	id, err := h.service.NewTask(videoURL)
	require.NoError(t, err)
	waitForStatus(t, h.service, id, download.DONE)

	require.Len(t, segments, 2)
	assert.Equal(t, 60.0, segments[0].End)
	assert.Equal(t, 245.5, segments[1].End)
	assertNoFullAudio(t, folder)
	h.splitter.AssertExpectations(t)
}

func TestDownload_FailedDurationProbe(t *testing.T) {
	h := newHarness(t)
	h.downloader.On("FetchInfo", mock.Anything, videoURL).Return(chapteredInfoWithoutDuration(), nil).Once()
	h.expectAudio("Live Set")
	h.splitter.On("Duration", mock.MatchedBy(isFullAudio)).Return(0.0, errors.New("ffprobe: not found")).Once()

	validSegment := func(seg ffmpeg.Segment) bool { return seg.End > seg.Start }
	h.splitter.On("Split", mock.Anything, mock.Anything, mock.MatchedBy(validSegment), mock.Anything).
		Run(func(args mock.Arguments) {
			_ = os.WriteFile(args.Get(2).(ffmpeg.Segment).Output, []byte("chapter"), 0o644)
		}).
		Return(nil).
		Once()
	h.splitter.On("Split", mock.Anything, mock.Anything, mock.MatchedBy(func(seg ffmpeg.Segment) bool { return !validSegment(seg) }), mock.Anything).
		Return(ffmpeg.ErrEmptySegment).
		Once()
	h.start(t)

	id, err := h.service.NewTask(videoURL)
	require.NoError(t, err)

	task := waitForStatus(t, h.service, id, download.ERROR)
	assert.Contains(t, task.Error(), "chapter 2")
	assert.Contains(t, task.Error(), ffmpeg.ErrEmptySegment.Error())
	h.splitter.AssertExpectations(t)
}

func TestDownload_ConcurrentTasksForSameVideo(t *testing.T) {
	h := newHarness(t)
	h.downloader.On("FetchInfo", mock.Anything, videoURL).Return(&youtube.Info{Title: "Song"}, nil).Times(2)

	var (
		mu    sync.Mutex
		names []string
	)
	folder := filepath.Join(h.library.BasePath(), "Song")
	h.downloader.On("DownloadAudio", mock.Anything, videoURL, folder, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			names = append(names, args.String(3))
			mu.Unlock()
			_ = os.WriteFile(filepath.Join(folder, args.String(3)+".mp3"), []byte("audio"), 0o644)
		}).
		Return(nil).
		Times(2)
	h.start(t)

	first, err := h.service.NewTask(videoURL)
	require.NoError(t, err)
	second, err := h.service.NewTask(videoURL)
	require.NoError(t, err)

	waitForStatus(t, h.service, first, download.DONE)
	waitForStatus(t, h.service, second, download.DONE)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{youtube.FullAudioName + "-" + first.String(), youtube.FullAudioName + "-" + second.String()}, names)
	assert.FileExists(t, filepath.Join(folder, "Song.mp3"))
	assertNoFullAudio(t, folder)
}
