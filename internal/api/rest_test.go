package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
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
	"github.com/stretchr/testify/require"
)

const videoURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

type stubDownloader struct {
	title      string
	versionErr error
}

func (d *stubDownloader) Version(context.Context) (string, error) {
	if d.versionErr != nil {
		return "", d.versionErr
	}
	return "2024.05.27", nil
}

func (d *stubDownloader) HasCookies() bool { return false }

func (d *stubDownloader) FetchInfo(_ context.Context, url string) (*youtube.Info, error) {
	return &youtube.Info{ID: youtube.VideoID(url), Title: d.title, Duration: 60}, nil
}

func (d *stubDownloader) DownloadAudio(_ context.Context, _ string, folder string, name string, onProgress func(youtube.Progress)) (string, error) {
	onProgress(youtube.Progress{Downloaded: 50, Total: 100})
	path := filepath.Join(folder, name+".mp3")
	return path, os.WriteFile(path, []byte("ID3 not really an mp3"), 0o644)
}

type unusedSplitter struct{}

func (unusedSplitter) Split(context.Context, string, ffmpeg.Segment, ffmpeg.ProgressCallback) error {
	return errors.New("no chapters expected")
}

func (unusedSplitter) Duration(string) (float64, error) { return 0, errors.New("no chapters expected") }

type harness struct {
	gateway    *RestGateway
	service    download.Service
	library    *library.Library
	history    *history.MemoryStore
	downloader *stubDownloader
}

func newHarness(t *testing.T) *harness {
	lib, err := library.New(t.TempDir())
	require.NoError(t, err)

	store := history.NewMemoryStore()
	downloader := &stubDownloader{title: "Song"}
	service, err := download.New(download.Config{OutputPath: lib.BasePath(), Concurrency: 1, TaskTimeoutSeconds: 30}, event.New(), downloader, unusedSplitter{}, lib, store)
	require.NoError(t, err)

	gateway := NewRestGateway(&RestConfig{HostAddr: "127.0.0.1", Port: "0"}, service, lib, store, downloader)
	return &harness{gateway: gateway, service: service, library: lib, history: store, downloader: downloader}
}

func (h *harness) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.service.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) do(method string, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.gateway.ec.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func startTask(t *testing.T, h *harness) uuid.UUID {
	rec := h.do(http.MethodPost, "/start", `{"youtube_url":"`+videoURL+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	id, err := uuid.Parse(decode[map[string]string](t, rec)["task_id"])
	require.NoError(t, err)
	return id
}

func TestStart_RejectsInvalidURLs(t *testing.T) {
	h := newHarness(t)
	for _, body := range []string{`{"youtube_url":"https://vimeo.com/1234"}`, `{"youtube_url":""}`, `{}`} {
		rec := h.do(http.MethodPost, "/start", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, map[string]string{"error": "Invalid YouTube URL."}, decode[map[string]string](t, rec))
	}

	assert.Empty(t, h.service.AllTasks())
}

func TestStart_AcceptsJSONWithAnyContentType(t *testing.T) {
	h := newHarness(t)
	body := `{"youtube_url":"` + videoURL + `"}`
	for _, contentType := range []string{"", "application/x-www-form-urlencoded", "text/plain", "application/json; charset=utf-8"} {
		req := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader(body))
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		rec := httptest.NewRecorder()
		h.gateway.ec.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code, "content type %q: %s", contentType, rec.Body.String())
	}

	assert.Len(t, h.service.AllTasks(), 4)
}

func TestStart_RejectsMalformedBody(t *testing.T) {
	h := newHarness(t)
	for _, body := range []string{"youtube_url=" + videoURL, "{"} {
		rec := h.do(http.MethodPost, "/start", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, map[string]string{"error": "Invalid YouTube URL."}, decode[map[string]string](t, rec))
	}

	assert.Empty(t, h.service.AllTasks())
}

func TestQueuedTask_ProgressAndResult(t *testing.T) {
	h := newHarness(t)
	id := startTask(t, h)

	rec := h.do(http.MethodGet, "/progress/"+id.String(), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "queued", "percent": 0.0}, decode[map[string]any](t, rec))

	rec = h.do(http.MethodGet, "/result/"+id.String(), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]string{"error": "Task not complete"}, decode[map[string]string](t, rec))

	rec = h.do(http.MethodGet, "/tasks", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	tasks := decode[[]map[string]any](t, rec)
	require.Len(t, tasks, 1)
	assert.Equal(t, id.String(), tasks[0]["id"])
}

func TestUnknownTask_NotFound(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/progress/", "/result/", "/tasks/"} {
		for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
			rec := h.do(http.MethodGet, path+id, "")
			assert.Equal(t, http.StatusNotFound, rec.Code, path+id)
			assert.Equal(t, map[string]string{"error": "Invalid task ID"}, decode[map[string]string](t, rec))
		}
	}

	rec := h.do(http.MethodDelete, "/tasks/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelQueuedTask(t *testing.T) {
	h := newHarness(t)
	id := startTask(t, h)

	rec := h.do(http.MethodDelete, "/tasks/"+id.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodGet, "/progress/"+id.String(), "")
	assert.Equal(t, "cancelled", decode[map[string]any](t, rec)["status"])
}

func TestCompletedDownload_ResultAndFiles(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	id := startTask(t, h)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		rec := h.do(http.MethodGet, "/progress/"+id.String(), "")
		assert.Equal(c, `{"status":"done"}`, strings.TrimSpace(rec.Body.String()))
	}, 5*time.Second, 20*time.Millisecond)

	rec := h.do(http.MethodGet, "/result/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[struct {
		Result download.Result `json:"result"`
	}](t, rec).Result
	assert.Equal(t, "Song", result.VideoTitle)
	assert.Equal(t, "Song", result.Path)
	assert.Equal(t, []string{"Song.mp3"}, result.Files)

	rec = h.do(http.MethodGet, "/download/Song/Song.mp3", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, "ID3 not really an mp3", rec.Body.String())

	rec = h.do(http.MethodGet, "/download/zip/Song", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Song.zip"`, rec.Header().Get("Content-Disposition"))

	archive, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	require.Len(t, archive.File, 1)
	assert.Equal(t, "Song.mp3", archive.File[0].Name)

	rec = h.do(http.MethodGet, "/history", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	records := decode[[]history.Record](t, rec)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
}

func TestFileDownloads_NotFound(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.Mkdir(filepath.Join(h.library.BasePath(), "Album"), 0o755))

	for _, path := range []string{"/download/zip/Missing", "/download/Album/missing.mp3", "/download/Missing/file.mp3", "/download/Album/.."} {
		rec := h.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestFileDownloads_EscapedNames(t *testing.T) {
	h := newHarness(t)
	folder := filepath.Join(h.library.BasePath(), "Rock & Roll, Pt. 2")
	require.NoError(t, os.Mkdir(folder, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "Intro + Outro.mp3"), []byte("intro"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "100% Pure.mp3"), []byte("pure"), 0o644))

	rec := h.do(http.MethodGet, "/download/Rock%20%26%20Roll%2C%20Pt.%202/Intro%20%2B%20Outro.mp3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "intro", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Intro + Outro.mp3")

	rec = h.do(http.MethodGet, "/download/Rock%20%26%20Roll%2C%20Pt.%202/100%25%20Pure.mp3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "pure", rec.Body.String())

	rec = h.do(http.MethodGet, "/download/zip/Rock%20%26%20Roll%2C%20Pt.%202", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename="Rock & Roll, Pt. 2.zip"`, rec.Header().Get("Content-Disposition"))

	archive, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	assert.Len(t, archive.File, 2)

	rec = h.do(http.MethodGet, "/download/Rock%20%26%20Roll%2C%20Pt.%202%2F..%2F/Intro%20%2B%20Outro.mp3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResult_FallsBackToHistory(t *testing.T) {
	h := newHarness(t)
	record := &history.Record{ID: uuid.New(), Title: "Old Song", Folder: "Old Song", Files: []string{"Old Song.mp3"}, TotalTime: 3.14159, TotalSpaceMB: 2.5, CompletedAt: time.Now()}
	require.NoError(t, h.history.SaveDownload(record))

	rec := h.do(http.MethodGet, "/result/"+record.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[map[string]map[string]any](t, rec)["result"]
	assert.Equal(t, "Old Song", result["video_title"])
	assert.Equal(t, "3.14", result["total_time"])
	assert.Equal(t, "2.50", result["total_space"])

	rec = h.do(http.MethodGet, "/history/"+record.ID.String(), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodGet, "/history/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok", "ytdlp_version": "2024.05.27"}, decode[map[string]string](t, rec))

	h.downloader.versionErr = errors.New("yt-dlp: not found")
	rec = h.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[map[string]string](t, rec)["status"])
}

func TestIndexPage(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<title>Lyre")
}

func TestDocumentedRoutes_MatchRegisteredRoutes(t *testing.T) {
	spec, err := LoadSpec()
	require.NoError(t, err)

	h := newHarness(t)
	registered := make(map[string]struct{})
	for _, route := range h.gateway.ec.Routes() {
		registered[route.Method+" "+route.Path] = struct{}{}
	}

	for route := range documentedRoutes(spec) {
		assert.Contains(t, registered, route, "documented route is not served")
	}
}
