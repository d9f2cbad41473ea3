package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingpongshow/audiblez-webui/internal/api/handler"
	"github.com/pingpongshow/audiblez-webui/internal/cleanup"
	"github.com/pingpongshow/audiblez-webui/internal/config"
	"github.com/pingpongshow/audiblez-webui/internal/convert"
	"github.com/pingpongshow/audiblez-webui/internal/jobs"
	"github.com/pingpongshow/audiblez-webui/internal/library"
	"github.com/pingpongshow/audiblez-webui/internal/metrics"
	"github.com/pingpongshow/audiblez-webui/internal/storage"
)

// stubHandle completes immediately unless the runner is blocking, in
// which case it waits for Cancel.
type stubHandle struct {
	done     chan struct{}
	mu       sync.Mutex
	err      error
	finished bool
}

func (h *stubHandle) Poll() convert.Progress { return convert.Progress{Percent: 100} }

func (h *stubHandle) Done() <-chan struct{} { return h.done }

func (h *stubHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *stubHandle) Cancel() error {
	h.finish(context.Canceled)
	return nil
}

func (h *stubHandle) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	h.finished = true
	h.err = err
	close(h.done)
}

// stubRunner stands in for both pipeline stages. It writes the output
// file the engine expects and finishes instantly, or stays running
// until cancelled when block is set.
type stubRunner struct {
	mu    sync.Mutex
	block bool
}

func (r *stubRunner) setBlock(block bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.block = block
}

func (r *stubRunner) Start(ctx context.Context, req convert.Request) (convert.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// synthesis requests carry the epub, compression requests carry
	// explicit input and output paths
	if req.OutputPath != "" {
		if err := os.WriteFile(req.OutputPath, []byte("tiny"), 0o644); err != nil {
			return nil, err
		}
	} else {
		name := strings.TrimSuffix(filepath.Base(req.EpubPath), filepath.Ext(req.EpubPath)) + ".m4b"
		if err := os.WriteFile(filepath.Join(req.OutputDir, name), []byte("audiobook"), 0o644); err != nil {
			return nil, err
		}
	}

	h := &stubHandle{done: make(chan struct{})}

	r.mu.Lock()
	block := r.block
	r.mu.Unlock()
	if !block {
		h.finish(nil)
	}
	return h, nil
}

type apiFixture struct {
	router   *gin.Engine
	store    *jobs.Store
	settings *storage.SettingsStore
	runner   *stubRunner
	ebookDir string
	outDir   string
}

func newAPIFixture(t *testing.T, opts ...func(*handler.Dependencies)) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ebookDir := t.TempDir()
	outDir := t.TempDir()
	uploadDir := filepath.Join(ebookDir, "uploads")

	client, err := storage.NewClient(&storage.Config{Path: filepath.Join(t.TempDir(), "api.db")}, log)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	settings := storage.NewSettingsStore(client, log)
	history := storage.NewHistoryStore(client, 50, log)

	cfg := &config.Config{}
	cfg.Server.Port = 3000
	cfg.Server.MaxUploadMB = 1
	cfg.Paths.EbookFolder = ebookDir
	cfg.Paths.AudiobookFolder = outDir
	cfg.Paths.UploadFolder = uploadDir

	store := jobs.NewStore()
	cleaner := cleanup.NewService(outDir, false, settings, log, nil)
	runner := &stubRunner{}

	engine := convert.NewEngine(convert.Config{
		OutputFolder: outDir,
		DefaultVoice: "af_sky",
		DefaultSpeed: 1.0,
		MinSpeed:     0.5,
		MaxSpeed:     2.0,
		Bitrate:      "64k",
		PollInterval: 5 * time.Millisecond,
	}, convert.Dependencies{
		Store:    store,
		Cleaner:  cleaner,
		Synth:    runner,
		Compress: runner,
		Logger:   log,
		History:  history,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})

	deps := &handler.Dependencies{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Engine:   engine,
		Library:  library.NewService(ebookDir, uploadDir, log),
		Cleanup:  cleaner,
		History:  history,
		DBClient: client,
	}
	for _, opt := range opts {
		opt(deps)
	}

	return &apiFixture{
		router:   SetupRouter(deps),
		store:    store,
		settings: settings,
		runner:   runner,
		ebookDir: ebookDir,
		outDir:   outDir,
	}
}

func (fx *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), target))
}

func (fx *apiFixture) seedEpub(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(fx.ebookDir, name)
	require.NoError(t, os.WriteFile(path, []byte("fake epub"), 0o644))
	return path
}

func (fx *apiFixture) submit(t *testing.T, body gin.H) string {
	t.Helper()

	rec := fx.do(t, http.MethodPost, "/api/convert", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool   `json:"success"`
		JobID   string `json:"job_id"`
	}
	decodeBody(t, rec, &resp)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.JobID)
	return resp.JobID
}

func (fx *apiFixture) waitStatus(t *testing.T, id string, want jobs.Status) *jobs.Job {
	t.Helper()

	var got *jobs.Job
	require.Eventually(t, func() bool {
		job, err := fx.store.Get(id)
		if err != nil {
			return false
		}
		got = job
		return job.Status == want
	}, 2*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return got
}

func TestHealth(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, fx.ebookDir, body["ebook_folder"])
	assert.Equal(t, fx.outDir, body["audiobook_folder"])
	assert.Equal(t, float64(0), body["active_jobs"])
	assert.Equal(t, false, body["auto_cleanup"])
}

func TestVoices(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/voices", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var voices map[string][]string
	decodeBody(t, rec, &voices)
	assert.Len(t, voices, 9)
	assert.Contains(t, voices["American English"], "af_sky")
	assert.Contains(t, voices["British English"], "bm_george")
}

func TestListEbooks(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedEpub(t, "zebra.epub")
	fx.seedEpub(t, "alpha.epub")
	require.NoError(t, os.WriteFile(filepath.Join(fx.ebookDir, "notes.txt"), []byte("x"), 0o644))

	rec := fx.do(t, http.MethodGet, "/api/ebooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var books []struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}
	decodeBody(t, rec, &books)
	require.Len(t, books, 2)
	assert.Equal(t, "alpha.epub", books[0].Name)
	assert.Equal(t, "zebra.epub", books[1].Name)
}

func TestUpload(t *testing.T) {
	t.Run("stores the file", func(t *testing.T) {
		fx := newAPIFixture(t)

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "new book.epub")
		require.NoError(t, err)
		_, err = part.Write([]byte("epub bytes"))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		rec := httptest.NewRecorder()
		fx.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Success  bool   `json:"success"`
			Filename string `json:"filename"`
			Filepath string `json:"filepath"`
		}
		decodeBody(t, rec, &resp)
		assert.True(t, resp.Success)
		assert.Equal(t, "new_book.epub", resp.Filename)

		saved, err := os.ReadFile(resp.Filepath)
		require.NoError(t, err)
		assert.Equal(t, "epub bytes", string(saved))
	})

	t.Run("no file provided", func(t *testing.T) {
		fx := newAPIFixture(t)

		rec := fx.do(t, http.MethodPost, "/api/upload", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]string
		decodeBody(t, rec, &resp)
		assert.Equal(t, "invalid_input", resp["code"])
	})

	t.Run("rejects non-epub", func(t *testing.T) {
		fx := newAPIFixture(t)

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "report.pdf")
		require.NoError(t, err)
		_, err = part.Write([]byte("pdf bytes"))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		rec := httptest.NewRecorder()
		fx.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "only .epub files are allowed")
	})

	t.Run("rejects oversized upload", func(t *testing.T) {
		fx := newAPIFixture(t)

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "huge.epub")
		require.NoError(t, err)
		// fixture caps uploads at 1 MB
		_, err = part.Write(bytes.Repeat([]byte("a"), 2<<20))
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		rec := httptest.NewRecorder()
		fx.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

		var resp map[string]string
		decodeBody(t, rec, &resp)
		assert.Equal(t, "payload_too_large", resp["code"])
	})
}

func TestConvert(t *testing.T) {
	t.Run("starts a job", func(t *testing.T) {
		fx := newAPIFixture(t)
		epub := fx.seedEpub(t, "moby-dick.epub")

		id := fx.submit(t, gin.H{"epub_path": epub, "compress": false})
		_, err := uuid.Parse(id)
		require.NoError(t, err)

		job := fx.waitStatus(t, id, jobs.StatusCompleted)
		assert.Equal(t, 100, job.Progress)
		assert.False(t, job.Compressed)
		assert.FileExists(t, filepath.Join(fx.outDir, "moby-dick.m4b"))
	})

	t.Run("compresses by default", func(t *testing.T) {
		fx := newAPIFixture(t)
		epub := fx.seedEpub(t, "moby-dick.epub")

		id := fx.submit(t, gin.H{"epub_path": epub})

		job := fx.waitStatus(t, id, jobs.StatusCompleted)
		assert.True(t, job.Compressed)
		assert.Equal(t, int64(9), job.OriginalSize)
		assert.Equal(t, int64(4), job.CompressedSize)
	})

	t.Run("missing body", func(t *testing.T) {
		fx := newAPIFixture(t)

		rec := fx.do(t, http.MethodPost, "/api/convert", gin.H{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "No epub file specified")
	})

	t.Run("epub not found", func(t *testing.T) {
		fx := newAPIFixture(t)

		rec := fx.do(t, http.MethodPost, "/api/convert", gin.H{
			"epub_path": filepath.Join(fx.ebookDir, "ghost.epub"),
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]string
		decodeBody(t, rec, &resp)
		assert.Equal(t, "invalid_input", resp["code"])
		assert.Contains(t, resp["error"], "epub file not found")
	})
}

func TestGetStatus(t *testing.T) {
	fx := newAPIFixture(t)
	epub := fx.seedEpub(t, "moby-dick.epub")
	id := fx.submit(t, gin.H{"epub_path": epub, "compress": false})

	rec := fx.do(t, http.MethodGet, "/api/status/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var job map[string]any
	decodeBody(t, rec, &job)
	assert.Equal(t, id, job["job_id"])
	assert.Equal(t, "moby-dick.epub", job["epub_name"])

	rec = fx.do(t, http.MethodGet, "/api/status/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "not_found", resp["code"])
	assert.Equal(t, "Job not found", resp["error"])
}

func TestListJobsNewestFirst(t *testing.T) {
	fx := newAPIFixture(t)
	first := fx.seedEpub(t, "first.epub")
	second := fx.seedEpub(t, "second.epub")

	firstID := fx.submit(t, gin.H{"epub_path": first, "compress": false})
	secondID := fx.submit(t, gin.H{"epub_path": second, "compress": false})

	rec := fx.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []struct {
		ID string `json:"job_id"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list, 2)
	assert.Equal(t, secondID, list[0].ID)
	assert.Equal(t, firstID, list[1].ID)
}

func TestCancel(t *testing.T) {
	fx := newAPIFixture(t)
	fx.runner.setBlock(true)
	epub := fx.seedEpub(t, "moby-dick.epub")

	id := fx.submit(t, gin.H{"epub_path": epub, "compress": false})
	fx.waitStatus(t, id, jobs.StatusRunning)

	rec := fx.do(t, http.MethodPost, "/api/cancel/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	fx.waitStatus(t, id, jobs.StatusCancelled)

	// already terminal
	rec = fx.do(t, http.MethodPost, "/api/cancel/"+id, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp map[string]string
	decodeBody(t, rec, &resp)
	assert.Equal(t, "conflict", resp["code"])

	rec = fx.do(t, http.MethodPost, "/api/cancel/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDelete(t *testing.T) {
	t.Run("removes a finished job", func(t *testing.T) {
		fx := newAPIFixture(t)
		epub := fx.seedEpub(t, "moby-dick.epub")

		id := fx.submit(t, gin.H{"epub_path": epub, "compress": false})
		fx.waitStatus(t, id, jobs.StatusCompleted)

		rec := fx.do(t, http.MethodDelete, "/api/delete/"+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		_, err := fx.store.Get(id)
		assert.ErrorIs(t, err, jobs.ErrNotFound)
	})

	t.Run("refuses an active job", func(t *testing.T) {
		fx := newAPIFixture(t)
		fx.runner.setBlock(true)
		epub := fx.seedEpub(t, "moby-dick.epub")

		id := fx.submit(t, gin.H{"epub_path": epub, "compress": false})
		fx.waitStatus(t, id, jobs.StatusRunning)

		rec := fx.do(t, http.MethodDelete, "/api/delete/"+id, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		fx := newAPIFixture(t)

		rec := fx.do(t, http.MethodDelete, "/api/delete/"+uuid.NewString(), nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHistory(t *testing.T) {
	fx := newAPIFixture(t)
	epub := fx.seedEpub(t, "moby-dick.epub")

	id := fx.submit(t, gin.H{"epub_path": epub, "compress": false})
	fx.waitStatus(t, id, jobs.StatusCompleted)

	// the record lands just after the terminal transition
	require.Eventually(t, func() bool {
		rec := fx.do(t, http.MethodGet, "/api/history", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var entries []map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
			return false
		}
		return len(entries) == 1 && entries[0]["job_id"] == id
	}, 2*time.Second, 10*time.Millisecond)

	rec := fx.do(t, http.MethodGet, "/api/history?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "limit must be a non-negative integer")
}

func TestCleanupStatusAndSweep(t *testing.T) {
	fx := newAPIFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(fx.outDir, "book.m4b"), []byte("final"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.outDir, "book.wav"), bytes.Repeat([]byte("w"), 2048), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.outDir, "cover.jpg"), []byte("img"), 0o644))

	rec := fx.do(t, http.MethodGet, "/api/cleanup/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		AudiobookFiles struct {
			Count int `json:"count"`
		} `json:"audiobook_files"`
		TemporaryFiles struct {
			Count int      `json:"count"`
			Files []string `json:"files"`
		} `json:"temporary_files"`
	}
	decodeBody(t, rec, &status)
	assert.Equal(t, 1, status.AudiobookFiles.Count)
	assert.Equal(t, 2, status.TemporaryFiles.Count)

	rec = fx.do(t, http.MethodPost, "/api/cleanup/all", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var sweep struct {
		Success      bool `json:"success"`
		FilesDeleted int  `json:"files_deleted"`
	}
	decodeBody(t, rec, &sweep)
	assert.True(t, sweep.Success)
	assert.Equal(t, 2, sweep.FilesDeleted)

	assert.FileExists(t, filepath.Join(fx.outDir, "book.m4b"))
	assert.NoFileExists(t, filepath.Join(fx.outDir, "book.wav"))
}

func TestCleanupJob(t *testing.T) {
	fx := newAPIFixture(t)
	epub := fx.seedEpub(t, "moby-dick.epub")

	id := fx.submit(t, gin.H{"epub_path": epub, "compress": false})
	fx.waitStatus(t, id, jobs.StatusCompleted)

	require.NoError(t, os.WriteFile(filepath.Join(fx.outDir, "moby-dick.wav"), []byte("w"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.outDir, "chapters.txt"), []byte("c"), 0o644))

	rec := fx.do(t, http.MethodPost, "/api/cleanup/job/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success      bool `json:"success"`
		FilesDeleted int  `json:"files_deleted"`
	}
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.FilesDeleted)

	job, err := fx.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2, job.CleanupFilesDeleted)
	assert.FileExists(t, filepath.Join(fx.outDir, "moby-dick.m4b"))

	rec = fx.do(t, http.MethodPost, "/api/cleanup/job/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupConfig(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/config/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"auto_cleanup":false`)

	rec = fx.do(t, http.MethodPost, "/api/config/cleanup", gin.H{"auto_cleanup": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"auto_cleanup":true`)

	rec = fx.do(t, http.MethodGet, "/api/config/cleanup", nil)
	assert.Contains(t, rec.Body.String(), `"auto_cleanup":true`)

	// persisted for the next boot
	persisted, err := fx.settings.AutoCleanup(false)
	require.NoError(t, err)
	assert.True(t, persisted)

	rec = fx.do(t, http.MethodPost, "/api/config/cleanup", gin.H{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing auto_cleanup parameter")
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics.New(registry)

	fx := newAPIFixture(t, func(deps *handler.Dependencies) {
		deps.Gatherer = registry
	})

	rec := fx.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "audiblez_jobs_submitted_total")

	bare := newAPIFixture(t)
	rec = bare.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodOptions, "/api/jobs", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
